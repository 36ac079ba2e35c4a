package validation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/artpar/entitysdk/core/schema"
)

func testSchema() schema.Schema {
	return schema.Schema{
		LogicalName: "ticket",
		Attributes: map[string]schema.Attribute{
			"title":    {Type: schema.TypeString, Required: true},
			"priority": {Type: schema.TypeEnum, Values: []string{"low", "high"}},
			"points":   {Type: schema.TypeInt},
			"estimate": {Type: schema.TypeNumber},
			"done":     {Type: schema.TypeBool},
			"due":      {Type: schema.TypeDate},
			"closed":   {Type: schema.TypeDateTime},
			"ref":      {Type: schema.TypeUUID},
			"owner":    {Type: schema.TypeLookup, Entity: "user"},
			"extra":    {Type: schema.TypeJSON},
		},
	}.Normalize()
}

func TestCreate(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		wantErrs []string
	}{
		{
			name: "valid",
			data: map[string]any{
				"title":    "Broken build",
				"priority": "high",
				"points":   float64(3),
				"estimate": 1.5,
				"done":     false,
				"due":      "2024-06-01",
				"closed":   time.Now(),
				"ref":      "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b",
				"owner":    "u1",
				"extra":    map[string]any{"any": []any{1, "x"}},
			},
		},
		{
			name:     "missing required",
			data:     map[string]any{"priority": "low"},
			wantErrs: []string{"title:required"},
		},
		{
			name:     "unknown attribute",
			data:     map[string]any{"title": "x", "colour": "red"},
			wantErrs: []string{"colour:unknown"},
		},
		{
			name: "wrong types",
			data: map[string]any{
				"title":    7,
				"priority": "urgent",
				"points":   2.5,
				"estimate": "lots",
				"done":     "yes",
				"due":      "01/06/2024",
				"closed":   "yesterday",
				"ref":      "not-a-uuid",
				"owner":    " ",
			},
			wantErrs: []string{
				"closed:type", "done:type", "due:type", "estimate:type", "owner:type",
				"points:type", "priority:enum", "ref:type", "title:type",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Create(testSchema(), tt.data)

			var keys []string
			for _, e := range got.Errors {
				keys = append(keys, e.Attribute+":"+e.Constraint)
			}
			if strings.Join(keys, ",") != strings.Join(tt.wantErrs, ",") {
				t.Errorf("errors = %v, want %v", keys, tt.wantErrs)
			}
			if got.Valid() != (len(tt.wantErrs) == 0) {
				t.Errorf("Valid() = %v", got.Valid())
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	// absent required attributes are fine on update
	if r := Update(testSchema(), map[string]any{"done": true, "due": nil}); !r.Valid() {
		t.Errorf("unexpected errors: %v", r.Errors)
	}

	r := Update(testSchema(), map[string]any{"title": nil})
	if r.Valid() || r.Errors[0].Constraint != "required" {
		t.Errorf("clearing a required attribute should fail, got %v", r.Errors)
	}
}

func TestResultErr(t *testing.T) {
	if err := (Result{}).Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}

	err := Create(testSchema(), map[string]any{"priority": "urgent"}).Err()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Err() = %v, want ErrInvalid", err)
	}
	for _, want := range []string{"title: attribute is required", "priority: must be one of: low, high"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Err() = %q, missing %q", err, want)
		}
	}
}
