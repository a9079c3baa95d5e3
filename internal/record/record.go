// Package record holds the format-agnostic view of a DICOM dataset that the
// de-identification engine works on.
package record

import (
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Kind classifies a value by what the engine can do with it.
type Kind int

const (
	KindString Kind = iota
	KindDate
	KindDateTime
	KindUID
	KindText
	KindPersonName
	KindSequence
	KindOpaque
)

// KindForVR maps a value representation onto a Kind.
func KindForVR(vr string) Kind {
	switch vr {
	case "DA":
		return KindDate
	case "DT":
		return KindDateTime
	case "UI":
		return KindUID
	case "ST", "LT", "UT", "LO", "SH":
		return KindText
	case "PN":
		return KindPersonName
	case "SQ":
		return KindSequence
	case "AE", "AS", "CS", "DS", "IS", "TM", "UC", "UR":
		return KindString
	}
	return KindOpaque
}

// Value is the content of one field. String-like values live in Strings,
// sequences in Items. Anything else is carried in Opaque and passed through
// untouched by the engine.
type Value struct {
	VR      string
	Kind    Kind
	Strings []string
	Items   []*Record
	Opaque  any
}

// StringValue builds a string-like value for vr.
func StringValue(vr string, values ...string) Value {
	return Value{VR: vr, Kind: KindForVR(vr), Strings: values}
}

// SequenceValue builds a sequence of items.
func SequenceValue(items ...*Record) Value {
	return Value{VR: "SQ", Kind: KindSequence, Items: items}
}

// IsString reports whether the value holds strings the engine can rewrite.
func (v Value) IsString() bool {
	return v.Kind != KindSequence && v.Kind != KindOpaque
}

// First returns the first string value, or "".
func (v Value) First() string {
	if len(v.Strings) == 0 {
		return ""
	}
	return v.Strings[0]
}

// Clone deep-copies strings and nested items. Opaque payloads are shared.
func (v Value) Clone() Value {
	out := v
	if v.Strings != nil {
		out.Strings = append([]string(nil), v.Strings...)
	}
	if v.Items != nil {
		out.Items = make([]*Record, len(v.Items))
		for i, it := range v.Items {
			out.Items[i] = it.Clone()
		}
	}
	return out
}

// Field is one tag/value slot.
type Field struct {
	Tag   tag.Tag
	Value Value
}

// Record is an ordered set of fields plus a reference to where it came from.
type Record struct {
	Source string
	fields []Field
	index  map[tag.Tag]int
}

// New returns an empty record for source.
func New(source string) *Record {
	return &Record{Source: source, index: make(map[tag.Tag]int)}
}

// Set stores v under t, replacing an existing value in place so field order
// is preserved.
func (r *Record) Set(t tag.Tag, v Value) {
	if r.index == nil {
		r.index = make(map[tag.Tag]int)
	}
	if i, ok := r.index[t]; ok {
		r.fields[i].Value = v
		return
	}
	r.index[t] = len(r.fields)
	r.fields = append(r.fields, Field{Tag: t, Value: v})
}

// SetString is shorthand for Set with a StringValue.
func (r *Record) SetString(t tag.Tag, vr string, values ...string) {
	r.Set(t, StringValue(vr, values...))
}

// Get returns the value stored under t.
func (r *Record) Get(t tag.Tag) (Value, bool) {
	i, ok := r.index[t]
	if !ok {
		return Value{}, false
	}
	return r.fields[i].Value, true
}

// GetString returns the first string stored under t, or "".
func (r *Record) GetString(t tag.Tag) string {
	v, ok := r.Get(t)
	if !ok {
		return ""
	}
	return v.First()
}

// Has reports whether t is present.
func (r *Record) Has(t tag.Tag) bool {
	_, ok := r.index[t]
	return ok
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.fields) }

// Fields returns a copy of the fields in order.
func (r *Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Clone deep-copies the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := New(r.Source)
	for _, f := range r.fields {
		out.Set(f.Tag, f.Value.Clone())
	}
	return out
}

// Walk visits every field depth-first, including fields of sequence items.
func (r *Record) Walk(fn func(f Field)) {
	for _, f := range r.fields {
		fn(f)
		for _, item := range f.Value.Items {
			item.Walk(fn)
		}
	}
}
