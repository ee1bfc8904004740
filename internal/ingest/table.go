package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"bdagent/internal/dataset"
)

// Declared column types written by the ETL.
const (
	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
	TypeText    = "TEXT"
)

// Table is an in-memory dataset ready to be written.
type Table struct {
	Columns []dataset.Column
	Rows    [][]any
}

// CleanColumnNames trims names, replaces spaces with underscores and
// lowercases them. Blank names become column_<n>; repeats get a _<n> suffix.
func CleanColumnNames(names []string) []string {
	out := make([]string, len(names))
	taken := make(map[string]bool, len(names))
	for i, name := range names {
		clean := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
		if clean == "" {
			clean = fmt.Sprintf("column_%d", i+1)
		}
		unique := clean
		for n := 2; taken[unique]; n++ {
			unique = fmt.Sprintf("%s_%d", clean, n)
		}
		taken[unique] = true
		out[i] = unique
	}
	return out
}

// TypeForDtype maps a Hugging Face feature dtype to a column type.
func TypeForDtype(dtype string) string {
	switch {
	case strings.HasPrefix(dtype, "int"), strings.HasPrefix(dtype, "uint"), dtype == "bool":
		return TypeInteger
	case strings.HasPrefix(dtype, "float"), strings.HasPrefix(dtype, "double"):
		return TypeReal
	default:
		return TypeText
	}
}

// InferType picks the narrowest type that fits every non-empty value.
func InferType(values []string) string {
	typ := ""
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			if typ == "" {
				typ = TypeInteger
			}
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			typ = TypeReal
			continue
		}
		return TypeText
	}
	if typ == "" {
		return TypeText
	}
	return typ
}

// tableFromRecords builds a table from a header and string records, as read
// from CSV or XLSX files. Short rows are padded with NULLs.
func tableFromRecords(header []string, records [][]string) *Table {
	names := CleanColumnNames(header)
	cols := make([]dataset.Column, len(names))
	for c := range names {
		values := make([]string, len(records))
		for r, rec := range records {
			if c < len(rec) {
				values[r] = rec[c]
			}
		}
		cols[c] = dataset.Column{Name: names[c], Type: InferType(values)}
	}

	rows := make([][]any, len(records))
	for r, rec := range records {
		row := make([]any, len(cols))
		for c, col := range cols {
			if c < len(rec) {
				row[c] = convertString(rec[c], col.Type)
			}
		}
		rows[r] = row
	}
	return &Table{Columns: cols, Rows: rows}
}

func convertString(v, typ string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	switch typ {
	case TypeInteger:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case TypeReal:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}

// convertJSON normalizes a value decoded with json.Decoder.UseNumber for a
// column of the given type. Nested values are stored as JSON text.
func convertJSON(v any, typ string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case json.Number:
		switch typ {
		case TypeInteger:
			if n, err := val.Int64(); err == nil {
				return n
			}
			if f, err := val.Float64(); err == nil {
				return int64(f)
			}
		case TypeReal:
			if f, err := val.Float64(); err == nil {
				return f
			}
		}
		return val.String()
	case bool:
		if typ == TypeText {
			return strconv.FormatBool(val)
		}
		if val {
			return int64(1)
		}
		return int64(0)
	case string:
		if typ == TypeText {
			return val
		}
		return convertString(val, typ)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
