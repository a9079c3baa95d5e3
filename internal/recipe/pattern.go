package recipe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// PatternKind is the precedence tier of a pattern, most specific first.
type PatternKind int

const (
	KindExact PatternKind = iota
	KindElementRange
	KindGroup
	KindGroupRange
	KindCatchAll
)

func (k PatternKind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindElementRange:
		return "element-range"
	case KindGroup:
		return "group"
	case KindGroupRange:
		return "group-range"
	case KindCatchAll:
		return "catch-all"
	}
	return "unknown"
}

// Pattern matches a rectangle of (group, element) space. Bounds are inclusive.
type Pattern struct {
	GroupLo, GroupHi     uint16
	ElementLo, ElementHi uint16
}

// CatchAll matches every tag.
var CatchAll = Pattern{GroupLo: 0, GroupHi: 0xFFFF, ElementLo: 0, ElementHi: 0xFFFF}

// Exact returns a pattern matching only t.
func Exact(t tag.Tag) Pattern {
	return Pattern{GroupLo: t.Group, GroupHi: t.Group, ElementLo: t.Element, ElementHi: t.Element}
}

// Matches reports whether t falls inside the pattern.
func (p Pattern) Matches(t tag.Tag) bool {
	return t.Group >= p.GroupLo && t.Group <= p.GroupHi &&
		t.Element >= p.ElementLo && t.Element <= p.ElementHi
}

func (p Pattern) groupSpan() uint32   { return uint32(p.GroupHi) - uint32(p.GroupLo) + 1 }
func (p Pattern) elementSpan() uint32 { return uint32(p.ElementHi) - uint32(p.ElementLo) + 1 }

// Kind classifies the pattern into its precedence tier.
func (p Pattern) Kind() PatternKind {
	switch {
	case p == CatchAll:
		return KindCatchAll
	case p.groupSpan() == 1 && p.elementSpan() == 1:
		return KindExact
	case p.groupSpan() == 1 && p.elementSpan() < 0x10000:
		return KindElementRange
	case p.groupSpan() == 1:
		return KindGroup
	default:
		return KindGroupRange
	}
}

// moreSpecific orders patterns: narrower group span first, then narrower
// element span, then lower start values.
func (p Pattern) moreSpecific(o Pattern) bool {
	if gs, ogs := p.groupSpan(), o.groupSpan(); gs != ogs {
		return gs < ogs
	}
	if es, oes := p.elementSpan(), o.elementSpan(); es != oes {
		return es < oes
	}
	if p.GroupLo != o.GroupLo {
		return p.GroupLo < o.GroupLo
	}
	return p.ElementLo < o.ElementLo
}

func (p Pattern) String() string {
	if p == CatchAll {
		return "*"
	}
	return "(" + formatRange(p.GroupLo, p.GroupHi) + "," + formatRange(p.ElementLo, p.ElementHi) + ")"
}

func formatRange(lo, hi uint16) string {
	switch {
	case lo == hi:
		return fmt.Sprintf("%04X", lo)
	case lo == 0 && hi == 0xFFFF:
		return "xxxx"
	}
	return fmt.Sprintf("%04X-%04X", lo, hi)
}

// ParsePattern parses the recipe pattern syntax:
//
//	(0010,0010)        exact
//	0x00100010         exact, packed form
//	(0028,1000-10FF)   element range
//	(0028,10xx)        element mask
//	(0050,xxxx)        whole group, also (0050,*)
//	(6000-60FF,xxxx)   group range, also (60xx,xxxx)
//	*                  catch-all
func ParsePattern(s string) (Pattern, error) {
	raw := strings.TrimSpace(s)
	switch strings.ToUpper(raw) {
	case "*", "ALL", "DEFAULT", "(*,*)":
		return CatchAll, nil
	}

	body := strings.TrimSuffix(strings.TrimPrefix(raw, "("), ")")
	var groupPart, elementPart string
	if i := strings.IndexAny(body, ",|"); i >= 0 {
		groupPart, elementPart = body[:i], body[i+1:]
	} else {
		packed := strings.TrimPrefix(strings.TrimPrefix(body, "0x"), "0X")
		if len(packed) != 8 {
			return Pattern{}, fmt.Errorf("unparsable pattern %q", s)
		}
		groupPart, elementPart = packed[:4], packed[4:]
	}

	glo, ghi, err := parseComponent(groupPart)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: group: %w", s, err)
	}
	elo, ehi, err := parseComponent(elementPart)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: element: %w", s, err)
	}
	return Pattern{GroupLo: glo, GroupHi: ghi, ElementLo: elo, ElementHi: ehi}, nil
}

func parseComponent(s string) (lo, hi uint16, err error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return 0, 0xFFFF, nil
	}
	if a, b, ok := strings.Cut(s, "-"); ok {
		lo, err = parseHex16(a)
		if err != nil {
			return 0, 0, err
		}
		hi, err = parseHex16(b)
		if err != nil {
			return 0, 0, err
		}
		if lo > hi {
			return 0, 0, fmt.Errorf("empty range %s", s)
		}
		return lo, hi, nil
	}

	lower := strings.ToLower(s)
	if strings.ContainsRune(lower, 'x') {
		if len(lower) != 4 {
			return 0, 0, fmt.Errorf("mask %q must have 4 digits", s)
		}
		fixed := strings.TrimRight(lower, "x")
		if strings.ContainsRune(fixed, 'x') {
			return 0, 0, fmt.Errorf("mask %q must only wildcard trailing digits", s)
		}
		wild := 4 - len(fixed)
		base := uint64(0)
		if fixed != "" {
			base, err = strconv.ParseUint(fixed, 16, 16)
			if err != nil {
				return 0, 0, fmt.Errorf("bad hex %q", s)
			}
		}
		lo = uint16(base << (4 * wild))
		hi = lo | uint16((1<<(4*wild))-1)
		return lo, hi, nil
	}

	v, err := parseHex16(s)
	return v, v, err
}

func parseHex16(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) == 0 || len(s) > 4 {
		return 0, fmt.Errorf("bad hex %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("bad hex %q", s)
	}
	return uint16(v), nil
}

// ParseIdentifier normalizes a field identifier written as 0x50ffffff,
// 50ffffff, (50FF,FFFF) or 50ff,ffff.
func ParseIdentifier(s string) (tag.Tag, error) {
	p, err := ParsePattern(s)
	if err != nil {
		return tag.Tag{}, err
	}
	if p.Kind() != KindExact {
		return tag.Tag{}, fmt.Errorf("identifier %q is a pattern, not a single tag", s)
	}
	return tag.Tag{Group: p.GroupLo, Element: p.ElementLo}, nil
}
