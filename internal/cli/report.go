package cli

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"

	"mammo-deid/internal/anonymizer"
)

const (
	recordsSheet = "Records"
	runSheet     = "Run"
)

// WriteCSV writes one line per record under anonymizer.Columns.
func WriteCSV(path string, summary *anonymizer.RunSummary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(anonymizer.Columns); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}
	if err := w.WriteAll(summary.Table()); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}
	return f.Close()
}

// WriteXLSX writes the report as a workbook with a Records sheet, one row
// per record, and a Run sheet with the totals.
func WriteXLSX(path string, summary *anonymizer.RunSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(recordsSheet); err != nil {
		return fmt.Errorf("could not create sheet: %w", err)
	}
	if _, err := f.NewSheet(runSheet); err != nil {
		return fmt.Errorf("could not create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("could not delete default sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(recordsSheet); err == nil {
		f.SetActiveSheet(idx)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("could not create style: %w", err)
	}

	header := lo.Map(anonymizer.Columns, func(c string, _ int) any { return strings.ToUpper(c) })
	if err := writeRow(f, recordsSheet, 1, header, headerStyle); err != nil {
		return err
	}
	for i, row := range summary.Rows() {
		c := row.Counts
		failures := lo.Map(c.Failures, func(ff anonymizer.FieldFailure, _ int) string { return ff.String() })
		values := []any{
			row.Source, row.Output, row.Patient,
			c.Removed, c.Kept, c.Replaced, c.Hashed, c.Shifted, c.Scrubbed,
			c.Redactions, c.Unmapped,
			strings.Join(failures, "; "), string(row.Status), row.ErrorText(),
		}
		if err := writeRow(f, recordsSheet, i+2, values, 0); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(recordsSheet, "A", "C", 40); err != nil {
		return fmt.Errorf("could not set column width: %w", err)
	}
	if err := f.SetPanes(recordsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("could not freeze header: %w", err)
	}

	t := summary.Totals()
	info := [][]any{
		{"Run ID", summary.RunID.String()},
		{"Org root", summary.OrgRoot},
		{"Started", summary.Started.Format(time.RFC3339)},
		{"Finished", summary.Finished.Format(time.RFC3339)},
		{"Records", summary.Len()},
		{"Success", t.Success},
		{"Failed", t.Failed},
		{"Collisions", t.Collisions},
		{"Skipped", t.Skipped},
		{"Patients", t.Patients},
		{"Matched by Name+DOB", t.IdentityMatched},
		{"Matched by PatientID", t.PIDMatched},
	}
	for i, values := range info {
		if err := writeRow(f, runSheet, i+1, values, 0); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(runSheet, "A", "B", 30); err != nil {
		return fmt.Errorf("could not set column width: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create report directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("could not save workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any, style int) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("could not write cell %s: %w", cell, err)
		}
		if style != 0 {
			if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
				return fmt.Errorf("could not style cell %s: %w", cell, err)
			}
		}
	}
	return nil
}
