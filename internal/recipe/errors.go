package recipe

import (
	"fmt"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// FormatError reports a malformed or ambiguous recipe. It is fatal at load time.
type FormatError struct {
	Source string
	Line   int
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("recipe %s line %d: %s", e.Source, e.Line, e.Msg)
	}
	return fmt.Sprintf("recipe %s: %s", e.Source, e.Msg)
}

// UnmappedFieldError is returned when no rule and no catch-all covers a tag.
type UnmappedFieldError struct {
	Tag tag.Tag
}

func (e *UnmappedFieldError) Error() string {
	return fmt.Sprintf("no recipe rule for field %s", FormatTag(e.Tag))
}

// FormatTag renders a tag as (GGGG,EEEE).
func FormatTag(t tag.Tag) string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}
