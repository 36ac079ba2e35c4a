package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/artpar/entitysdk/core/schema"
)

// BuildCreateTableSQL generates CREATE TABLE SQL for an entity schema.
// Lookups are validated by the store, so no foreign keys are declared.
func BuildCreateTableSQL(sch schema.Schema) string {
	var columns []string
	var constraints []string

	for _, name := range schema.SortedAttributeNames(sch) {
		attr := sch.Attributes[name]
		columns = append(columns, buildColumnDef(sch, name, attr))

		if attr.Type == schema.TypeEnum && len(attr.Values) > 0 {
			values := make([]string, len(attr.Values))
			for i, v := range attr.Values {
				values[i] = quoteLiteral(v)
			}
			constraints = append(constraints, fmt.Sprintf(
				"CHECK(%s IS NULL OR %s IN (%s))",
				quoteIdent(name), quoteIdent(name), strings.Join(values, ", "),
			))
		}
	}

	sql := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s",
		quoteIdent(sch.LogicalName),
		strings.Join(columns, ",\n  "),
	)

	if len(constraints) > 0 {
		sql += ",\n  " + strings.Join(constraints, ",\n  ")
	}

	sql += "\n)"

	return sql
}

func buildColumnDef(sch schema.Schema, name string, attr schema.Attribute) string {
	if name == sch.IDAttribute {
		return quoteIdent(name) + " TEXT PRIMARY KEY"
	}

	parts := []string{quoteIdent(name), attr.Type.SQLType()}
	if attr.Required && !sch.IsSystemAttribute(name) {
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

// BuildIndexSQL generates CREATE INDEX statements for lookup attributes.
func BuildIndexSQL(sch schema.Schema) []string {
	var indexes []string

	for _, name := range sch.AttributesOfType(schema.TypeLookup) {
		indexes = append(indexes, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
			quoteIdent("idx_"+sch.LogicalName+"_"+name),
			quoteIdent(sch.LogicalName),
			quoteIdent(name),
		))
	}

	return indexes
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// selectColumns validates requested columns and always includes the id.
// An empty request selects every attribute.
func selectColumns(sch schema.Schema, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return schema.SortedAttributeNames(sch), nil
	}

	columns := []string{sch.IDAttribute}
	seen := map[string]bool{sch.IDAttribute: true}
	for _, c := range requested {
		if !sch.HasAttribute(c) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, sch.LogicalName, c)
		}
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}
	return columns, nil
}

func filterColumn(sch schema.Schema) func(attr string, v any) (string, any, error) {
	return func(attr string, v any) (string, any, error) {
		a, ok := sch.Attributes[attr]
		if !ok {
			return "", nil, fmt.Errorf("filter: %w: %s.%s", ErrUnknownAttribute, sch.LogicalName, attr)
		}
		converted, err := toDB(a, v)
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", attr, err)
		}
		return quoteIdent(attr), converted, nil
	}
}

func orderBy(sorts []Sort, resolve func(name string) (string, bool)) (string, error) {
	if len(sorts) == 0 {
		return "", nil
	}
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		col, ok := resolve(s.Attribute)
		if !ok {
			return "", fmt.Errorf("sort: %w: %s", ErrUnknownAttribute, s.Attribute)
		}
		if s.Descending {
			col += " DESC"
		}
		parts[i] = col
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func limitClause(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	default:
		return ""
	}
}

func aggregateExpr(sch schema.Schema, a AggregateAttribute) (string, error) {
	switch a.Function {
	case AggregateCount, AggregateSum, AggregateAvg, AggregateMin, AggregateMax:
	default:
		return "", fmt.Errorf("unknown aggregate function %q", a.Function)
	}

	if a.Attribute == "" {
		if a.Function != AggregateCount {
			return "", fmt.Errorf("aggregate %s requires an attribute", a.Function)
		}
		return "COUNT(*)", nil
	}

	if !sch.HasAttribute(a.Attribute) {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, sch.LogicalName, a.Attribute)
	}
	return fmt.Sprintf("%s(%s)", strings.ToUpper(string(a.Function)), quoteIdent(a.Attribute)), nil
}

func scanRecords(rows *sql.Rows, sch schema.Schema, columns []string) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		record := make(Record, len(columns))
		for i, col := range columns {
			record[col] = fromDB(sch.Attributes[col], values[i])
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// toDB converts a record value to its column representation.
func toDB(attr schema.Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch attr.Type {
	case schema.TypeBool:
		switch b := v.(type) {
		case bool:
			return boolInt(b), nil
		case string:
			return boolInt(b == "true" || b == "1"), nil
		case int:
			return boolInt(b != 0), nil
		case int64:
			return boolInt(b != 0), nil
		case float64:
			return boolInt(b != 0), nil
		}
		return nil, fmt.Errorf("cannot store %T as bool", v)

	case schema.TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("%v is not an integer", n)
			}
			return int64(n), nil
		case json.Number:
			return n.Int64()
		}
		return nil, fmt.Errorf("cannot store %T as int", v)

	case schema.TypeNumber:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case json.Number:
			return n.Float64()
		}
		return nil, fmt.Errorf("cannot store %T as number", v)

	case schema.TypeJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return string(b), nil

	case schema.TypeDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format("2006-01-02"), nil
		}
		return v, nil

	case schema.TypeDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
		return v, nil

	case schema.TypeSecret:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return v, nil

	default:
		return v, nil
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// fromDB converts a column value to its record representation.
func fromDB(attr schema.Attribute, v any) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch attr.Type {
	case schema.TypeBool:
		switch b := v.(type) {
		case int64:
			return b != 0
		case bool:
			return b
		default:
			return false
		}

	case schema.TypeNumber:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
		return v

	case schema.TypeJSON:
		s, ok := v.(string)
		if !ok {
			return v
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return s
		}
		return out

	default:
		return v
	}
}
