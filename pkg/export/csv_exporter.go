package export

import (
	"fmt"
	"strings"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CSVExporter renders Dataset records as CSV with every field wrapped in
// double quotes, embedded quotes doubled and records joined by "\n" without
// a trailing newline. Spreadsheet imports of rosters expect this shape.
type CSVExporter struct{}

// NewCSVExporter builds the exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset. encoding/csv cannot
// force quoting, so records are written by hand.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	lines := make([]string, 0, len(data.Rows)+1)
	lines = append(lines, quoteLine(data.Headers))
	for _, row := range data.Rows {
		lines = append(lines, quoteLine(record(data.Headers, row)))
	}
	return []byte(strings.Join(lines, "\n")), nil
}

func quoteLine(fields []string) string {
	quoted := make([]string, len(fields))
	for i, field := range fields {
		quoted[i] = `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

func record(headers []string, row map[string]string) []string {
	out := make([]string, len(headers))
	for i, header := range headers {
		out[i] = row[header]
	}
	return out
}
