package formatter

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/artpar/entitysdk/core/schema"
)

// JSONFormatter formats output as JSON.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Name returns the formatter name.
func (f *JSONFormatter) Name() string {
	return "json"
}

// Description returns the formatter description.
func (f *JSONFormatter) Description() string {
	return "JSON output format"
}

// FormatList formats a list of records as JSON.
func (f *JSONFormatter) FormatList(w io.Writer, sch schema.Schema, records []map[string]any, opts FormatOptions) error {
	filtered := filterRecords(records, columns(sch, records, opts.Columns))

	output := map[string]any{
		"count": len(filtered),
		"data":  filtered,
	}
	if sch.LogicalName != "" {
		output["entity"] = sch.LogicalName
	}
	if opts.Total > 0 {
		output["total"] = opts.Total
	}

	return f.encode(w, output, opts.Compact)
}

// FormatRecord formats a single record as JSON.
func (f *JSONFormatter) FormatRecord(w io.Writer, sch schema.Schema, record map[string]any, opts FormatOptions) error {
	output := map[string]any{"data": nil}
	if record != nil {
		output["data"] = filterRecord(record, columns(sch, []map[string]any{record}, opts.Columns))
	}
	if sch.LogicalName != "" {
		output["entity"] = sch.LogicalName
	}

	return f.encode(w, output, opts.Compact)
}

// FormatError formats an error as JSON.
func (f *JSONFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, map[string]any{"error": err.Error()}, false)
}

// encode writes JSON to the writer.
func (f *JSONFormatter) encode(w io.Writer, data any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

func init() {
	if err := Register(NewJSONFormatter()); err != nil {
		fmt.Printf("failed to register json formatter: %v\n", err)
	}
}
