// Package validation checks record data against the attribute types and
// constraints of its schema before it reaches storage.
package validation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/artpar/entitysdk/core/schema"
	"github.com/google/uuid"
)

// ErrInvalid is wrapped by every Result returned as an error.
var ErrInvalid = errors.New("invalid record data")

// FieldError describes one attribute that failed validation.
type FieldError struct {
	Attribute  string `json:"attribute"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value,omitempty"`
	Message    string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Attribute, e.Message)
}

// Result holds every validation error for one record.
type Result struct {
	Errors []FieldError `json:"errors,omitempty"`
}

// Valid reports whether no errors were found.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Result) add(attr, constraint string, value any, msg string) {
	r.Errors = append(r.Errors, FieldError{
		Attribute:  attr,
		Constraint: constraint,
		Value:      value,
		Message:    msg,
	})
}

// Err returns nil for a valid result, otherwise an error wrapping
// ErrInvalid that lists every failure.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// Create validates data for a new record. Every required attribute must
// be present and every value must match its attribute.
func Create(sch schema.Schema, data map[string]any) Result {
	var result Result

	for _, name := range schema.SortedAttributeNames(sch) {
		attr := sch.Attributes[name]
		if attr.Required && !sch.IsSystemAttribute(name) && data[name] == nil {
			result.add(name, "required", nil, "attribute is required")
		}
	}

	checkValues(&result, sch, data)
	return result
}

// Update validates the attributes present in data. nil clears an
// attribute unless it is required.
func Update(sch schema.Schema, data map[string]any) Result {
	var result Result

	for name, value := range data {
		if attr, ok := sch.Attributes[name]; ok && attr.Required && value == nil {
			result.add(name, "required", nil, "attribute is required and cannot be cleared")
		}
	}

	checkValues(&result, sch, data)
	return result
}

func checkValues(result *Result, sch schema.Schema, data map[string]any) {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		attr, ok := sch.Attributes[name]
		if !ok {
			result.add(name, "unknown", name, fmt.Sprintf("unknown attribute of %s", sch.LogicalName))
			continue
		}
		if value := data[name]; value != nil {
			Value(result, name, attr, value)
		}
	}
}

// Value checks one non-nil value against its attribute.
func Value(result *Result, name string, attr schema.Attribute, value any) {
	switch attr.Type {
	case schema.TypeString, schema.TypeText, schema.TypeSecret:
		if _, ok := value.(string); !ok {
			result.add(name, "type", value, "must be a string")
		}

	case schema.TypeLookup:
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			result.add(name, "type", value, "must be a record id")
		}

	case schema.TypeUUID:
		s, ok := value.(string)
		if !ok {
			result.add(name, "type", value, "must be a string")
			return
		}
		if _, err := uuid.Parse(s); err != nil {
			result.add(name, "type", value, "invalid UUID format")
		}

	case schema.TypeEnum:
		s, ok := value.(string)
		if !ok || !slices.Contains(attr.Values, s) {
			result.add(name, "enum", value, fmt.Sprintf("must be one of: %s", strings.Join(attr.Values, ", ")))
		}

	case schema.TypeInt:
		switch n := value.(type) {
		case int, int32, int64:
		case float64:
			if n != math.Trunc(n) {
				result.add(name, "type", value, "must be an integer")
			}
		default:
			result.add(name, "type", value, "must be an integer")
		}

	case schema.TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			result.add(name, "type", value, "must be a number")
		}

	case schema.TypeBool:
		if _, ok := value.(bool); !ok {
			result.add(name, "type", value, "must be a boolean")
		}

	case schema.TypeDate:
		checkTime(result, name, value, "2006-01-02", "must be a date (YYYY-MM-DD)")

	case schema.TypeDateTime:
		checkTime(result, name, value, time.RFC3339Nano, "must be an RFC 3339 timestamp")
	}
}

func checkTime(result *Result, name string, value any, layout, msg string) {
	switch v := value.(type) {
	case time.Time:
	case string:
		if _, err := time.Parse(layout, v); err != nil {
			result.add(name, "type", value, msg)
		}
	default:
		result.add(name, "type", value, msg)
	}
}
