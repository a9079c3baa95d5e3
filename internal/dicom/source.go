package dicom

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"mammo-deid/internal/anonymizer"
	"mammo-deid/internal/record"
)

// DirSource lists DICOM files under Root. References are slash-separated
// paths relative to Root.
type DirSource struct {
	Root      string
	Recursive bool
	// MetadataOnly skips pixel data. Records read this way are fine for
	// grouping and previews but must not be written back.
	MetadataOnly bool
	// Exclude lists directories that are never scanned.
	Exclude []string
}

// List finds the DICOM files under Root.
func (s *DirSource) List() ([]string, error) {
	info, err := os.Stat(s.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", s.Root)
	}

	files, err := FindDicomFiles(s.Root, s.Recursive, s.Exclude...)
	if err != nil {
		return nil, fmt.Errorf("could not find DICOM files: %w", err)
	}
	refs := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(s.Root, f)
		if err != nil {
			rel = filepath.Base(f)
		}
		refs = append(refs, filepath.ToSlash(rel))
	}
	return refs, nil
}

// Read parses the file behind ref into a record.
func (s *DirSource) Read(ref string) (*record.Record, error) {
	path := s.Path(ref)
	var (
		ds  *Dataset
		err error
	)
	if s.MetadataOnly {
		ds, err = ReadDicomMetadataOnly(path)
	} else {
		ds, err = ReadDicom(path)
	}
	if err != nil {
		return nil, err
	}
	return ToRecord(ref, ds.Data)
}

// Path returns the file path of ref.
func (s *DirSource) Path(ref string) string {
	return filepath.Join(s.Root, filepath.FromSlash(ref))
}

// DirSink writes records to <Root>/<pseudonym>/<source reference>.
type DirSink struct {
	Root   string
	Logger zerolog.Logger
}

// Reset removes everything under Root.
func (s *DirSink) Reset() error {
	root := filepath.Clean(s.Root)
	if s.Root == "" || root == "/" || root == "." {
		return fmt.Errorf("refusing to erase %q", s.Root)
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("could not erase output: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}
	s.Logger.Info().Str("dir", root).Msg("output directory erased")
	return nil
}

// Write stores rec under the patient's folder. It never replaces a file and
// returns anonymizer.ErrOutputExists when the path is taken.
func (s *DirSink) Write(rec *record.Record, patient *anonymizer.PatientContext) (string, error) {
	dest := s.Destination(rec.Source, patient.Pseudonym)

	data, err := ToDataset(rec)
	if err != nil {
		return "", err
	}
	ds := &Dataset{Data: data}
	if err := ds.Save(dest); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return dest, fmt.Errorf("%s: %w", dest, anonymizer.ErrOutputExists)
		}
		return "", err
	}
	return dest, nil
}

// Destination returns where a record from source would be written.
func (s *DirSink) Destination(source, pseudonym string) string {
	rel := filepath.FromSlash(source)
	if !filepath.IsLocal(rel) {
		rel = filepath.Base(rel)
	}
	return filepath.Join(s.Root, pseudonym, rel)
}
