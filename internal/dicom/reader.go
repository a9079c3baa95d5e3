// Package dicom reads and writes DICOM files and converts them to and from
// the record model the engine works on.
package dicom

import (
	"fmt"
	"os"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Dataset wraps a DICOM dataset for easier access
type Dataset struct {
	Data     dicom.Dataset
	FilePath string
}

// ReadDicom reads a DICOM file and returns the dataset.
func ReadDicom(path string) (*Dataset, error) {
	return readDicom(path)
}

// ReadDicomMetadataOnly reads only the metadata (no pixel data).
func ReadDicomMetadataOnly(path string) (*Dataset, error) {
	return readDicom(path, dicom.SkipPixelData())
}

func readDicom(path string, opts ...dicom.ParseOption) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat file: %w", err)
	}

	ds, err := dicom.Parse(file, info.Size(), nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not parse DICOM: %w", err)
	}

	return &Dataset{
		Data:     ds,
		FilePath: path,
	}, nil
}

// GetString returns a string value for a tag, or empty string if not found.
func (d *Dataset) GetString(t tag.Tag) string {
	elem, err := d.Data.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}

	switch v := elem.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return v[0]
		}
		return ""
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
