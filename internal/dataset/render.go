package dataset

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// Render formats a result set as an aligned text table: a header line with
// the column names followed by one line per row.
func Render(rs *ResultSet) string {
	if rs == nil {
		return ""
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(rs.Columns, "\t"))
	cells := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for i := range cells {
			cells[i] = ""
			if i < len(row) {
				cells[i] = FormatValue(row[i])
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

// FormatValue renders a single cell. NULL is shown as "NULL".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return flatten(x)
	case []byte:
		return flatten(string(x))
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return flatten(fmt.Sprint(x))
	}
}

func flatten(s string) string {
	if !strings.ContainsAny(s, "\t\r\n") {
		return s
	}
	return strings.NewReplacer("\t", " ", "\r", " ", "\n", " ").Replace(s)
}
