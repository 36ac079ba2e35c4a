package formatter

import (
	"fmt"
	"io"

	"github.com/artpar/entitysdk/core/schema"
	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

// Name returns the formatter name.
func (f *YAMLFormatter) Name() string {
	return "yaml"
}

// Description returns the formatter description.
func (f *YAMLFormatter) Description() string {
	return "YAML output format"
}

// FormatList formats a list of records as YAML.
func (f *YAMLFormatter) FormatList(w io.Writer, sch schema.Schema, records []map[string]any, opts FormatOptions) error {
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

	return f.encode(w, output)
}

// FormatRecord formats a single record as YAML.
func (f *YAMLFormatter) FormatRecord(w io.Writer, sch schema.Schema, record map[string]any, opts FormatOptions) error {
	output := map[string]any{"data": nil}
	if record != nil {
		output["data"] = filterRecord(record, columns(sch, []map[string]any{record}, opts.Columns))
	}
	if sch.LogicalName != "" {
		output["entity"] = sch.LogicalName
	}

	return f.encode(w, output)
}

// FormatError formats an error as YAML.
func (f *YAMLFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, map[string]any{"error": err.Error()})
}

// encode writes YAML to the writer.
func (f *YAMLFormatter) encode(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(data)
}

func init() {
	if err := Register(NewYAMLFormatter()); err != nil {
		fmt.Printf("failed to register yaml formatter: %v\n", err)
	}
}
