package storage

import (
	"fmt"
	"strings"
)

// Op is a filter operator.
type Op string

const (
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpIn      Op = "in"
	OpLike    Op = "like"
	OpIsNull  Op = "isNull"
	OpNotNull Op = "notNull"
)

// Filter is a boolean condition tree. Logical operators (and, or) use
// Filters; every other operator compares Attribute with Value.
type Filter struct {
	Op        Op        `json:"op"`
	Attribute string    `json:"attribute,omitempty"`
	Value     any       `json:"value,omitempty"`
	Filters   []*Filter `json:"filters,omitempty"`
}

// Eq returns attribute = value.
func Eq(attribute string, value any) *Filter {
	return &Filter{Op: OpEq, Attribute: attribute, Value: value}
}

// In returns attribute IN values.
func In(attribute string, values ...any) *Filter {
	return &Filter{Op: OpIn, Attribute: attribute, Value: values}
}

// And combines the non-nil filters. It returns nil when none is left and
// the filter itself when only one is.
func And(filters ...*Filter) *Filter {
	var kept []*Filter
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Filter{Op: OpAnd, Filters: kept}
	}
}

// Or combines the non-nil filters.
func Or(filters ...*Filter) *Filter {
	var kept []*Filter
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Filter{Op: OpOr, Filters: kept}
	}
}

var comparisonSQL = map[Op]string{
	OpEq:   "=",
	OpNe:   "<>",
	OpGt:   ">",
	OpGte:  ">=",
	OpLt:   "<",
	OpLte:  "<=",
	OpLike: "LIKE",
}

// compileFilter renders f as a parameterised SQL condition. column maps an
// attribute name to its quoted column and converts comparison values; it
// fails for attributes the entity does not declare.
func compileFilter(f *Filter, column func(attr string, v any) (string, any, error)) (string, []any, error) {
	if f == nil {
		return "", nil, nil
	}

	switch f.Op {
	case OpAnd, OpOr:
		if len(f.Filters) == 0 {
			return "", nil, fmt.Errorf("filter %q requires nested filters", f.Op)
		}
		var parts []string
		var args []any
		for _, child := range f.Filters {
			sql, childArgs, err := compileFilter(child, column)
			if err != nil {
				return "", nil, err
			}
			if sql == "" {
				continue
			}
			parts = append(parts, "("+sql+")")
			args = append(args, childArgs...)
		}
		joiner := " AND "
		if f.Op == OpOr {
			joiner = " OR "
		}
		return strings.Join(parts, joiner), args, nil

	case OpIsNull, OpNotNull:
		col, _, err := column(f.Attribute, nil)
		if err != nil {
			return "", nil, err
		}
		if f.Op == OpIsNull {
			return col + " IS NULL", nil, nil
		}
		return col + " IS NOT NULL", nil, nil

	case OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return "", nil, fmt.Errorf("filter in on %q requires a list value", f.Attribute)
		}
		if len(values) == 0 {
			return "0", nil, nil
		}
		col, _, err := column(f.Attribute, nil)
		if err != nil {
			return "", nil, err
		}
		placeholders := make([]string, len(values))
		args := make([]any, len(values))
		for i, v := range values {
			_, converted, err := column(f.Attribute, v)
			if err != nil {
				return "", nil, err
			}
			placeholders[i] = "?"
			args[i] = converted
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), args, nil

	default:
		op, ok := comparisonSQL[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("unknown filter operator %q", f.Op)
		}
		if f.Value == nil && (f.Op == OpEq || f.Op == OpNe) {
			col, _, err := column(f.Attribute, nil)
			if err != nil {
				return "", nil, err
			}
			if f.Op == OpEq {
				return col + " IS NULL", nil, nil
			}
			return col + " IS NOT NULL", nil, nil
		}
		col, converted, err := column(f.Attribute, f.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s ?", col, op), []any{converted}, nil
	}
}
