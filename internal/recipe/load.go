package recipe

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed mammography.csv
var defaultRecipe []byte

// DefaultSource names the embedded mammography recipe.
const DefaultSource = "builtin:mammography"

// Load parses the embedded mammography recipe.
func Load() (*Recipe, error) {
	return Parse(bytes.NewReader(defaultRecipe), DefaultSource)
}

// LoadFile reads a recipe table from disk. Files ending in .yaml or .yml are
// read as YAML, everything else as a semicolon separated table.
func LoadFile(path string) (*Recipe, error) {
	if path == "" {
		return Load()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open recipe: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f, path)
	default:
		return Parse(f, path)
	}
}

// Parse reads a table with columns tag;action;value;name. A first row whose
// first column is "tag" is treated as a header. Lines starting with # are
// comments.
func Parse(in io.Reader, source string) (*Recipe, error) {
	cr := csv.NewReader(in)
	cr.Comma = ';'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var entries []Entry
	first := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, &FormatError{Source: source, Line: perr.Line, Msg: perr.Err.Error()}
			}
			return nil, fmt.Errorf("could not read recipe %s: %w", source, err)
		}
		line, _ := cr.FieldPos(0)

		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(row[0]), "tag") {
				continue
			}
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < 2 {
			return nil, &FormatError{Source: source, Line: line, Msg: "expected at least tag;action"}
		}

		e := Entry{Tag: row[0], Action: row[1], Line: line}
		if len(row) > 2 {
			e.Value = row[2]
		}
		if len(row) > 3 {
			e.Name = row[3]
		}
		entries = append(entries, e)
	}

	return Build(source, entries)
}

type yamlRecipe struct {
	Rules []yaml.Node `yaml:"rules"`
}

// ParseYAML reads a recipe of the form:
//
//	rules:
//	  - {tag: "(0010,0010)", action: REPLACE, value: ANONYMOUS}
func ParseYAML(in io.Reader, source string) (*Recipe, error) {
	var doc yamlRecipe
	dec := yaml.NewDecoder(in)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &FormatError{Source: source, Msg: err.Error()}
	}

	entries := make([]Entry, 0, len(doc.Rules))
	for _, node := range doc.Rules {
		var e Entry
		if err := node.Decode(&e); err != nil {
			return nil, &FormatError{Source: source, Line: node.Line, Msg: err.Error()}
		}
		e.Line = node.Line
		entries = append(entries, e)
	}
	return Build(source, entries)
}
