package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestRecord_SetPreservesOrder(t *testing.T) {
	r := New("a.dcm")
	r.SetString(tag.PatientName, "PN", "DOE^JANE")
	r.SetString(tag.PatientID, "LO", "123")
	r.SetString(tag.PatientName, "PN", "ROE^JANE")

	fields := r.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, tag.PatientName, fields[0].Tag)
	assert.Equal(t, "ROE^JANE", r.GetString(tag.PatientName))
}

func TestRecord_CloneIsDeep(t *testing.T) {
	item := New("")
	item.SetString(tag.ReferencedSOPInstanceUID, "UI", "1.2.3")

	r := New("a.dcm")
	r.SetString(tag.StudyDate, "DA", "20200101")
	r.Set(tag.ReferencedImageSequence, SequenceValue(item))

	c := r.Clone()
	c.SetString(tag.StudyDate, "DA", "19990101")
	seq, _ := c.Get(tag.ReferencedImageSequence)
	seq.Items[0].SetString(tag.ReferencedSOPInstanceUID, "UI", "9.9.9")

	assert.Equal(t, "20200101", r.GetString(tag.StudyDate))
	orig, _ := r.Get(tag.ReferencedImageSequence)
	assert.Equal(t, "1.2.3", orig.Items[0].GetString(tag.ReferencedSOPInstanceUID))
}

func TestRecord_Walk(t *testing.T) {
	item := New("")
	item.SetString(tag.ReferencedSOPInstanceUID, "UI", "1.2.3")
	r := New("a.dcm")
	r.SetString(tag.PatientName, "PN", "DOE^JANE")
	r.Set(tag.ReferencedImageSequence, SequenceValue(item))

	var seen []tag.Tag
	r.Walk(func(f Field) { seen = append(seen, f.Tag) })
	assert.Equal(t, []tag.Tag{tag.PatientName, tag.ReferencedImageSequence, tag.ReferencedSOPInstanceUID}, seen)
}

func TestKindForVR(t *testing.T) {
	tests := []struct {
		vr   string
		want Kind
	}{
		{"DA", KindDate},
		{"DT", KindDateTime},
		{"UI", KindUID},
		{"PN", KindPersonName},
		{"LO", KindText},
		{"SQ", KindSequence},
		{"CS", KindString},
		{"OB", KindOpaque},
		{"US", KindOpaque},
	}
	for _, tt := range tests {
		if got := KindForVR(tt.vr); got != tt.want {
			t.Errorf("KindForVR(%s) = %d, want %d", tt.vr, got, tt.want)
		}
	}
}
