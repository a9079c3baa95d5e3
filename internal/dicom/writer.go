package dicom

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
)

// ErrExists is returned by Save when the output file already exists.
var ErrExists = fs.ErrExist

// Save writes the DICOM dataset to a new file. An existing file is never
// replaced; Save returns an error wrapping fs.ErrExist instead.
func (d *Dataset) Save(outputPath string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	file, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", outputPath, ErrExists)
		}
		return fmt.Errorf("could not create output file: %w", err)
	}

	// Relaxed verification: real-world files often break VR rules.
	werr := dicom.Write(file, d.Data,
		dicom.SkipVRVerification(),
		dicom.SkipValueTypeVerification(),
		dicom.DefaultMissingTransferSyntax(),
	)
	cerr := file.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(outputPath)
		return fmt.Errorf("could not write DICOM: %w", werr)
	}
	d.FilePath = outputPath
	return nil
}
