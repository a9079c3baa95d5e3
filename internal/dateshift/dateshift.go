// Package dateshift moves DICOM dates by a per-patient number of days.
package dateshift

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const layout = "20060102"

// Offset4Date subtracts days from a YYYYMMDD date. A negative days moves the
// date forward. Arithmetic is proleptic Gregorian and exact to the day.
func Offset4Date(date string, days int) (string, error) {
	d, err := parseDate(date)
	if err != nil {
		return "", err
	}
	shifted := d.AddDate(0, 0, -days)
	if y := shifted.Year(); y < 1 || y > 9999 {
		return "", fmt.Errorf("shifting %s by %d days leaves the year range", date, days)
	}
	return shifted.Format(layout), nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYYMMDD", s)
	}
	d, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// ShiftValue shifts one DICOM value of the given VR.
//
// DA values may be a single date or a YYYYMMDD-YYYYMMDD range with either end
// open. DT values have their leading date shifted; the time and any offset
// suffix are kept as is. Empty values stay empty.
func ShiftValue(vr, value string, days int) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", nil
	}

	switch vr {
	case "DA":
		if lo, hi, ok := strings.Cut(v, "-"); ok {
			return shiftRange(lo, hi, days)
		}
		return Offset4Date(v, days)
	case "DT":
		if len(v) < 8 {
			return "", fmt.Errorf("invalid datetime %q: want at least YYYYMMDD", v)
		}
		d, err := Offset4Date(v[:8], days)
		if err != nil {
			return "", err
		}
		return d + v[8:], nil
	}
	return "", fmt.Errorf("VR %s is not a date", vr)
}

func shiftRange(lo, hi string, days int) (string, error) {
	var err error
	if lo != "" {
		if lo, err = Offset4Date(lo, days); err != nil {
			return "", err
		}
	}
	if hi != "" {
		if hi, err = Offset4Date(hi, days); err != nil {
			return "", err
		}
	}
	return lo + "-" + hi, nil
}

// OffsetFor derives the day offset for a patient in [minDays, maxDays]. The
// same key and salt always give the same offset.
func OffsetFor(patientKey, salt string, minDays, maxDays int) int {
	if maxDays < minDays {
		minDays, maxDays = maxDays, minDays
	}
	span := uint64(maxDays-minDays) + 1

	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(patientKey))
	sum := mac.Sum(nil)
	return minDays + int(binary.BigEndian.Uint64(sum[:8])%span)
}
