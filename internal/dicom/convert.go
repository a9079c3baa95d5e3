package dicom

import (
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"mammo-deid/internal/record"
)

// Default file meta values used when a record lost them.
const (
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	fileMetaGroup          = 0x0002
)

// ToRecord converts a dataset into a record. String elements become string
// values, sequences are converted recursively and every other element is
// carried as an opaque payload that ToDataset writes back unchanged.
func ToRecord(source string, ds dicom.Dataset) (*record.Record, error) {
	return elementsToRecord(source, ds.Elements)
}

func elementsToRecord(source string, elems []*dicom.Element) (*record.Record, error) {
	rec := record.New(source)
	for _, elem := range elems {
		v, err := elementValue(elem)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", formatTag(elem.Tag), err)
		}
		rec.Set(elem.Tag, v)
	}
	return rec, nil
}

func elementValue(elem *dicom.Element) (record.Value, error) {
	vr := elem.RawValueRepresentation
	if elem.Value == nil {
		return record.Value{VR: vr, Kind: record.KindOpaque, Opaque: elem}, nil
	}

	switch v := elem.Value.GetValue().(type) {
	case []string:
		val := record.StringValue(vr, v...)
		if val.Kind == record.KindOpaque {
			val.Kind = record.KindString
		}
		return val, nil

	case []*dicom.SequenceItemValue:
		items := make([]*record.Record, 0, len(v))
		for _, item := range v {
			elems, ok := item.GetValue().([]*dicom.Element)
			if !ok {
				return record.Value{}, fmt.Errorf("unexpected sequence item %T", item.GetValue())
			}
			child, err := elementsToRecord("", elems)
			if err != nil {
				return record.Value{}, err
			}
			items = append(items, child)
		}
		return record.SequenceValue(items...), nil
	}

	return record.Value{VR: vr, Kind: record.KindOpaque, Opaque: elem}, nil
}

// ToDataset converts a record back into a writable dataset. Missing file
// meta elements are filled in from the SOP common module.
func ToDataset(rec *record.Record) (dicom.Dataset, error) {
	elems, err := recordToElements(rec)
	if err != nil {
		return dicom.Dataset{}, err
	}
	elems, err = withFileMeta(rec, elems)
	if err != nil {
		return dicom.Dataset{}, err
	}
	return dicom.Dataset{Elements: elems}, nil
}

func recordToElements(rec *record.Record) ([]*dicom.Element, error) {
	fields := rec.Fields()
	elems := make([]*dicom.Element, 0, len(fields))
	for _, f := range fields {
		// The writer computes the group length itself.
		if f.Tag == tag.FileMetaInformationGroupLength {
			continue
		}
		elem, err := fieldElement(f)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", formatTag(f.Tag), err)
		}
		elems = append(elems, elem)
	}
	return elems, nil
}

func fieldElement(f record.Field) (*dicom.Element, error) {
	v := f.Value
	switch v.Kind {
	case record.KindOpaque:
		elem, ok := v.Opaque.(*dicom.Element)
		if !ok {
			return nil, fmt.Errorf("opaque value of type %T cannot be written", v.Opaque)
		}
		return elem, nil

	case record.KindSequence:
		items := make([][]*dicom.Element, 0, len(v.Items))
		for _, item := range v.Items {
			elems, err := recordToElements(item)
			if err != nil {
				return nil, err
			}
			items = append(items, elems)
		}
		value, err := dicom.NewValue(items)
		if err != nil {
			return nil, err
		}
		return &dicom.Element{
			Tag:                    f.Tag,
			ValueRepresentation:    tag.VRSequence,
			RawValueRepresentation: "SQ",
			ValueLength:            tag.VLUndefinedLength,
			Value:                  value,
		}, nil
	}

	return stringElement(f.Tag, v.VR, v.Strings)
}

func stringElement(t tag.Tag, vr string, values []string) (*dicom.Element, error) {
	if values == nil {
		values = []string{}
	}
	value, err := dicom.NewValue(values)
	if err != nil {
		return nil, fmt.Errorf("could not create value: %w", err)
	}
	length := 0
	for i, s := range values {
		if i > 0 {
			length++
		}
		length += len(s)
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, vr),
		RawValueRepresentation: vr,
		ValueLength:            uint32(length),
		Value:                  value,
	}, nil
}

// withFileMeta makes sure the elements the writer needs in group 0002 exist.
func withFileMeta(rec *record.Record, elems []*dicom.Element) ([]*dicom.Element, error) {
	defaults := []struct {
		tag   tag.Tag
		value string
	}{
		{tag.MediaStorageSOPClassUID, rec.GetString(tag.SOPClassUID)},
		{tag.MediaStorageSOPInstanceUID, rec.GetString(tag.SOPInstanceUID)},
		{tag.TransferSyntaxUID, ExplicitVRLittleEndian},
	}

	var meta []*dicom.Element
	for _, d := range defaults {
		if rec.Has(d.tag) || d.value == "" {
			continue
		}
		elem, err := stringElement(d.tag, "UI", []string{d.value})
		if err != nil {
			return nil, err
		}
		meta = append(meta, elem)
	}
	if len(meta) == 0 {
		return elems, nil
	}

	// File meta goes first so the dataset stays in tag order.
	out := make([]*dicom.Element, 0, len(elems)+len(meta))
	i := 0
	for i < len(elems) && elems[i].Tag.Group == fileMetaGroup {
		out = append(out, elems[i])
		i++
	}
	out = append(out, meta...)
	return append(out, elems[i:]...), nil
}

func formatTag(t tag.Tag) string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}
