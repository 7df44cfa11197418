// Package spreadsheet prepares user files for upload to the analysis service,
// which only accepts CSV.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupported = errors.New("unsupported file type, expected .csv, .xlsx or .xlsm")
	ErrEmpty       = errors.New("spreadsheet has no rows")
)

// Kind is the detected upload format.
type Kind int

const (
	KindUnknown Kind = iota
	KindCSV
	KindExcel
)

// Detect classifies a file by extension.
func Detect(filename string) Kind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return KindCSV
	case ".xlsx", ".xlsm":
		return KindExcel
	default:
		return KindUnknown
	}
}

// IsSupported reports whether the file can be uploaded.
func IsSupported(filename string) bool {
	return Detect(filename) != KindUnknown
}

// PrepareUpload returns the name and body to send. CSV passes through untouched;
// workbooks have their first sheet converted to CSV and the name's extension
// replaced with .csv.
func PrepareUpload(filename string, r io.Reader) (string, io.Reader, error) {
	name := filepath.Base(filename)
	switch Detect(name) {
	case KindCSV:
		return name, r, nil
	case KindExcel:
		data, err := ExcelToCSV(r)
		if err != nil {
			return "", nil, fmt.Errorf("convert %s: %w", name, err)
		}
		return strings.TrimSuffix(name, filepath.Ext(name)) + ".csv", bytes.NewReader(data), nil
	default:
		return "", nil, fmt.Errorf("%s: %w", name, ErrUnsupported)
	}
}

// ExcelToCSV converts the first sheet of a workbook. Short rows are padded to
// the header width so every record has the same number of fields.
func ExcelToCSV(r io.Reader) ([]byte, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("no sheets: %w", ErrEmpty)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	rows = trimTrailingEmpty(rows)
	if len(rows) == 0 {
		return nil, ErrEmpty
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range rows {
		record := make([]string, width)
		copy(record, row)
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func trimTrailingEmpty(rows [][]string) [][]string {
	for len(rows) > 0 && isBlank(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
