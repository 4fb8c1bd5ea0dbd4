package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX renders wb as an Office Open XML workbook. Header rows are bold.
func WriteXLSX(w io.Writer, wb Workbook) error {
	if len(wb.Sheets) == 0 {
		return errors.New("export: workbook has no sheets")
	}

	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("export: header style: %w", err)
	}

	for i, s := range wb.Sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Name); err != nil {
				return fmt.Errorf("export: rename first sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return fmt.Errorf("export: add sheet %s: %w", s.Name, err)
		}

		header := make([]any, len(s.Header))
		for j, h := range s.Header {
			header[j] = h
		}
		if err := f.SetSheetRow(s.Name, "A1", &header); err != nil {
			return fmt.Errorf("export: %s header: %w", s.Name, err)
		}
		if err := f.SetRowStyle(s.Name, 1, 1, bold); err != nil {
			return fmt.Errorf("export: %s header style: %w", s.Name, err)
		}

		for r, row := range s.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return fmt.Errorf("export: %s row %d: %w", s.Name, r+2, err)
			}
			if err := f.SetSheetRow(s.Name, cell, &row); err != nil {
				return fmt.Errorf("export: %s row %d: %w", s.Name, r+2, err)
			}
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}

// WriteTSV writes one sheet as tab-separated text, header first.
func WriteTSV(w io.Writer, s Sheet) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(s.Header); err != nil {
		return fmt.Errorf("export: write %s header: %w", s.Name, err)
	}
	rec := make([]string, 0, len(s.Header))
	for _, row := range s.Rows {
		rec = rec[:0]
		for _, v := range row {
			rec = append(rec, fmt.Sprint(v))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("export: write %s row: %w", s.Name, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
