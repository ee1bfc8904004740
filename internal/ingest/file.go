package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var errUnsupportedSource = errors.New("unsupported source file")

// IsFileSource reports whether source names a local file rather than a
// Hugging Face dataset path.
func IsFileSource(source string) bool {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// ReadFile loads a .csv or .xlsx file. The first row is the header.
func ReadFile(path string) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = readCSV(path)
	case ".xlsx":
		records, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedSource, path)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: no header row", path)
	}
	return tableFromRecords(records[0], records[1:]), nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		records = append(records, rec)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return records, nil
}

// readXLSX reads the first sheet of a workbook.
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}
