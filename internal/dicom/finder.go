package dicom

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DicomExtensions are common DICOM file extensions
var DicomExtensions = []string{".dcm", ".DCM", ".dicom", ".DICOM"}

// ExcludedNames are filenames to skip
var ExcludedNames = map[string]bool{
	"DICOMDIR":       true,
	".progress.json": true,
	".DS_Store":      true,
	"Thumbs.db":      true,
	"desktop.ini":    true,
	"README":         true,
	"README.md":      true,
	"LICENSE":        true,
}

// ExcludedExtensions are file extensions to skip
var ExcludedExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".xml":  true,
	".txt":  true,
	".md":   true,
	".log":  true,
	".csv":  true,
	".zip":  true,
	".tar":  true,
	".gz":   true,
	".rar":  true,
	".7z":   true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
	".ppt":  true,
	".pptx": true,
	".html": true,
	".htm":  true,
	".css":  true,
	".toml": true,
}

// ExcludedDirs are directory names to skip entirely
var ExcludedDirs = map[string]bool{
	".git":         true,
	"__MACOSX":     true,
	".Trash":       true,
	"$RECYCLE.BIN": true,
}

// FindDicomFiles finds all DICOM files under inputPath. Directories listed
// in exclude, typically the output directory, are skipped with their content.
func FindDicomFiles(inputPath string, recursive bool, exclude ...string) ([]string, error) {
	var files []string
	skip := make(map[string]bool, len(exclude))
	for _, dir := range exclude {
		if abs, err := filepath.Abs(dir); err == nil {
			skip[abs] = true
		}
	}

	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == inputPath {
				return err
			}
			return nil // Skip files we can't access
		}

		if info.IsDir() {
			if path == inputPath {
				return nil
			}
			if ExcludedDirs[info.Name()] || !recursive {
				return filepath.SkipDir
			}
			if abs, err := filepath.Abs(path); err == nil && skip[abs] {
				return filepath.SkipDir
			}
			return nil
		}

		if ExcludedNames[info.Name()] {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ExcludedExtensions[ext] {
			return nil
		}

		isDicom := false
		for _, de := range DicomExtensions {
			if ext == strings.ToLower(de) {
				isDicom = true
				break
			}
		}

		// No recognized extension: look for the DICM preamble
		if !isDicom && hasDicomMagicBytes(path) {
			isDicom = true
		}

		if isDicom {
			files = append(files, path)
		}
		return nil
	}

	if err := filepath.Walk(inputPath, walkFn); err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// hasDicomMagicBytes checks if a file has the DICOM magic bytes ("DICM" at offset 128)
func hasDicomMagicBytes(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	header := make([]byte, 132)
	if _, err := io.ReadFull(file, header); err != nil {
		return false
	}
	return string(header[128:132]) == "DICM"
}
