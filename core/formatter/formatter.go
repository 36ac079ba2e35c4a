// Package formatter provides a pluggable output formatting system.
// Formatters convert records to various output formats (table, json, yaml).
package formatter

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/artpar/entitysdk/core/schema"
)

// Formatter converts records to a specific output format.
type Formatter interface {
	// Name returns the formatter name (e.g., "table", "json", "yaml").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// FormatList formats a list of records. sch may be the zero Schema for
	// rows that do not belong to an entity.
	FormatList(w io.Writer, sch schema.Schema, records []map[string]any, opts FormatOptions) error

	// FormatRecord formats a single record.
	FormatRecord(w io.Writer, sch schema.Schema, record map[string]any, opts FormatOptions) error

	// FormatError formats an error.
	FormatError(w io.Writer, err error) error
}

// FormatOptions configures formatting behavior.
type FormatOptions struct {
	// Columns specifies which attributes to include (nil = all but secrets).
	Columns []string

	// NoHeader disables header row for tabular formats.
	NoHeader bool

	// Compact minimizes whitespace (json only).
	Compact bool

	// MaxWidth truncates long values (0 = no limit).
	MaxWidth int

	// Total is the number of matching records when the list is one page.
	Total int64
}

// Registry manages registered formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	defaultFmt string
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		formatters: make(map[string]Formatter),
		defaultFmt: "table",
	}
}

// Register adds a formatter to the registry.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}

	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name.
func (r *Registry) Get(name string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[name]
	return f, ok
}

// Default returns the default formatter.
func (r *Registry) Default() Formatter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.formatters[r.defaultFmt]
}

// SetDefault sets the default formatter.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[name]; !exists {
		return fmt.Errorf("formatter %q not registered", name)
	}

	r.defaultFmt = name
	return nil
}

// List returns all registered formatter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(f Formatter) error {
	return DefaultRegistry.Register(f)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, bool) {
	return DefaultRegistry.Get(name)
}

// Default returns the default formatter from the default registry.
func Default() Formatter {
	return DefaultRegistry.Default()
}

// List returns all formatter names from the default registry.
func List() []string {
	return DefaultRegistry.List()
}

// columns returns the requested columns, or every attribute of sch except
// secrets. Without a schema the keys of the records are used.
func columns(sch schema.Schema, records []map[string]any, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}

	if len(sch.Attributes) > 0 {
		var out []string
		if sch.IDAttribute != "" {
			out = append(out, sch.IDAttribute)
		}
		for _, name := range schema.SortedAttributeNames(sch) {
			if name == sch.IDAttribute || sch.Attributes[name].Type == schema.TypeSecret {
				continue
			}
			out = append(out, name)
		}
		return out
	}

	seen := make(map[string]bool)
	var out []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	slices.Sort(out)
	return out
}

// filterRecord keeps only the given columns of record. Columns the record
// does not carry are left out.
func filterRecord(record map[string]any, cols []string) map[string]any {
	out := make(map[string]any, len(cols))
	for _, col := range cols {
		if val, ok := record[col]; ok {
			out[col] = val
		}
	}
	return out
}

func filterRecords(records []map[string]any, cols []string) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = filterRecord(rec, cols)
	}
	return out
}
