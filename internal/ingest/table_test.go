package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanColumnNames(t *testing.T) {
	got := CleanColumnNames([]string{" Hospital Name ", "Bed Capacity", "", "hospital_name", "District"})
	assert.Equal(t, []string{"hospital_name", "bed_capacity", "column_3", "hospital_name_2", "district"}, got)
}

func TestInferType(t *testing.T) {
	assert.Equal(t, TypeInteger, InferType([]string{"12", "", " 400 "}))
	assert.Equal(t, TypeReal, InferType([]string{"12", "4.5"}))
	assert.Equal(t, TypeText, InferType([]string{"12", "Dhaka"}))
	assert.Equal(t, TypeText, InferType([]string{"", ""}))
}

func TestTypeForDtype(t *testing.T) {
	assert.Equal(t, TypeInteger, TypeForDtype("int64"))
	assert.Equal(t, TypeInteger, TypeForDtype("bool"))
	assert.Equal(t, TypeReal, TypeForDtype("float32"))
	assert.Equal(t, TypeText, TypeForDtype("string"))
	assert.Equal(t, TypeText, TypeForDtype("timestamp[s]"))
}

func TestTableFromRecords(t *testing.T) {
	tbl := tableFromRecords(
		[]string{"Name", "Beds", "Rating"},
		[][]string{{"DMCH", "2600", "4.1"}, {"Square", "", "4"}, {"Short"}},
	)
	assert.Equal(t, "beds", tbl.Columns[1].Name)
	assert.Equal(t, TypeInteger, tbl.Columns[1].Type)
	assert.Equal(t, TypeReal, tbl.Columns[2].Type)
	assert.Equal(t, []any{"DMCH", int64(2600), 4.1}, tbl.Rows[0])
	assert.Equal(t, []any{"Square", nil, 4.0}, tbl.Rows[1])
	assert.Equal(t, []any{"Short", nil, nil}, tbl.Rows[2])
}

func TestConvertJSON(t *testing.T) {
	assert.Equal(t, int64(42), convertJSON(json.Number("42"), TypeInteger))
	assert.Equal(t, 4.5, convertJSON(json.Number("4.5"), TypeReal))
	assert.Equal(t, "42", convertJSON(json.Number("42"), TypeText))
	assert.Equal(t, int64(1), convertJSON(true, TypeInteger))
	assert.Equal(t, `["a","b"]`, convertJSON([]any{"a", "b"}, TypeText))
	assert.Nil(t, convertJSON(nil, TypeText))
}
