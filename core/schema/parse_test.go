package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	yaml := `
entity: product

attributes:
  name:      { type: string, required: true }
  sku:       { type: string, autoNumber: { prefix: "SKU-", width: 4 } }
  serial:    { type: int, autoNumber: true }
  price:     { type: number, default: 0 }
  status:    { type: enum, values: [draft, active], default: draft }
  listed_at: { type: datetime, default: "@now" }
  motto:     { type: string, default: "@now" }
  category:  { type: lookup, entity: category, behavior: cascade }
  created_at: { type: datetime }

restrictions:
  disableDelete: true

plugins:
  - { message: update, stage: postOperation, attributes: [price], emit: product.repriced }
`

	s, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if s.LogicalName != "product" {
		t.Errorf("LogicalName = %q, want %q", s.LogicalName, "product")
	}
	if s.IDAttribute != "id" || s.CreatedAtAttribute != "created_at" || s.UpdatedAtAttribute != "updated_at" {
		t.Errorf("system attributes = %q/%q/%q", s.IDAttribute, s.CreatedAtAttribute, s.UpdatedAtAttribute)
	}
	if !s.HasAttribute("id") {
		t.Error("id attribute should be declared by Normalize")
	}
	if !s.Restrictions.DisableDelete {
		t.Error("DisableDelete should be set")
	}
	if s.Ownership != OwnershipGlobal {
		t.Errorf("Ownership = %q, want global", s.Ownership)
	}

	if _, ok := s.Attributes["listed_at"].Default.(NowDefault); !ok {
		t.Errorf("listed_at default = %#v, want NowDefault", s.Attributes["listed_at"].Default)
	}
	if d, ok := s.Attributes["motto"].Default.(StaticDefault); !ok || d.Value != "@now" {
		t.Errorf("motto default = %#v, want static @now", s.Attributes["motto"].Default)
	}
	if d, ok := s.Attributes["status"].Default.(StaticDefault); !ok || d.Value != "draft" {
		t.Errorf("status default = %#v", s.Attributes["status"].Default)
	}
	if d, ok := s.Attributes["price"].Default.(StaticDefault); !ok || d.Value != 0 {
		t.Errorf("price default = %#v, want static 0", s.Attributes["price"].Default)
	}
	if s.Attributes["name"].Default != nil {
		t.Error("name should have no default")
	}

	sku := s.Attributes["sku"].AutoNumber
	if sku == nil || sku.Prefix != "SKU-" || sku.Width != 4 {
		t.Errorf("sku autoNumber = %+v", sku)
	}
	if s.Attributes["serial"].AutoNumber == nil {
		t.Error("serial should be auto-numbered")
	}

	cat := s.Attributes["category"]
	if cat.Entity != "category" || cat.Behavior != BehaviorCascade {
		t.Errorf("category = %+v", cat)
	}

	if len(s.Plugins) != 1 || s.Plugins[0].Emit != "product.repriced" {
		t.Errorf("Plugins = %+v", s.Plugins)
	}
}

func TestParse_ScalarDefaults(t *testing.T) {
	tests := []struct {
		name string
		attr string
		want any
	}{
		{"bare int", "{ type: int, default: 0 }", 0},
		{"float", "{ type: number, default: 1.5 }", 1.5},
		{"bool", "{ type: bool, default: true }", true},
		{"plain string", "{ type: string, default: standard }", "standard"},
		{"quoted string", `{ type: string, default: "gold" }`, "gold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte("entity: item\nattributes:\n  field: " + tt.attr + "\n"))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			d, ok := s.Attributes["field"].Default.(StaticDefault)
			if !ok {
				t.Fatalf("default = %#v, want StaticDefault", s.Attributes["field"].Default)
			}
			if d.Value != tt.want {
				t.Errorf("default = %#v, want %#v", d.Value, tt.want)
			}
		})
	}
}

func TestParse_AutoNumberTrue(t *testing.T) {
	s, err := Parse([]byte(`
entity: ticket
attributes:
  number:
    type: int
    autoNumber: true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got := s.Attributes["number"].AutoNumber
	if got == nil {
		t.Fatal("autoNumber: true should number the attribute")
	}
	if *got != (AutoNumber{}) {
		t.Errorf("autoNumber = %+v, want zero config", *got)
	}
}

func TestParse_AutoNumberFalse(t *testing.T) {
	s, err := Parse([]byte(`
entity: ticket
attributes:
  number: { type: int, autoNumber: false }
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.Attributes["number"].AutoNumber != nil {
		t.Error("autoNumber: false should leave the attribute unnumbered")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid minimal",
			yaml: `
entity: note
attributes:
  body: { type: text }
`,
		},
		{
			name: "missing entity name",
			yaml: `
attributes:
  body: { type: text }
`,
			wantErr: "entity name is required",
		},
		{
			name: "invalid entity name",
			yaml: `
entity: 9lives
attributes:
  body: { type: text }
`,
			wantErr: "not a valid identifier",
		},
		{
			name: "unknown type",
			yaml: `
entity: note
attributes:
  body: { type: blob }
`,
			wantErr: "unknown type",
		},
		{
			name: "enum without values",
			yaml: `
entity: note
attributes:
  kind: { type: enum }
`,
			wantErr: "requires values",
		},
		{
			name: "lookup without entity",
			yaml: `
entity: note
attributes:
  parent: { type: lookup }
`,
			wantErr: "requires 'entity'",
		},
		{
			name: "behavior on non-lookup",
			yaml: `
entity: note
attributes:
  body: { type: text, behavior: cascade }
`,
			wantErr: "only allowed on lookup",
		},
		{
			name: "unknown behavior",
			yaml: `
entity: note
attributes:
  parent: { type: lookup, entity: note, behavior: explode }
`,
			wantErr: "unknown behavior",
		},
		{
			name: "auto-number on bool",
			yaml: `
entity: note
attributes:
  flag: { type: bool, autoNumber: true }
`,
			wantErr: "cannot be auto-numbered",
		},
		{
			name: "int default mismatch",
			yaml: `
entity: note
attributes:
  count: { type: int, default: many }
`,
			wantErr: "must be an integer",
		},
		{
			name: "enum default not in values",
			yaml: `
entity: note
attributes:
  kind: { type: enum, values: [a, b], default: c }
`,
			wantErr: "not a valid enum value",
		},
		{
			name: "user ownership without owner attribute",
			yaml: `
entity: note
ownership: user
attributes:
  body: { type: text }
`,
			wantErr: "requires attribute \"owner_id\"",
		},
		{
			name: "plugin with both emit and log",
			yaml: `
entity: note
attributes:
  body: { type: text }
plugins:
  - { message: create, stage: postOperation, emit: a, log: b }
`,
			wantErr: "exactly one of emit or log",
		},
		{
			name: "plugin on unknown attribute",
			yaml: `
entity: note
attributes:
  body: { type: text }
plugins:
  - { message: update, stage: preOperation, attributes: [title], log: changed }
`,
			wantErr: "not in schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Parse() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sales")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	files := map[string]string{
		filepath.Join(dir, "category.yaml"): "entity: category\nattributes:\n  name: { type: string }\n",
		filepath.Join(sub, "order.yml"):     "entity: order\nattributes:\n  total: { type: number }\n",
		filepath.Join(dir, "README.md"):     "not a schema",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	schemas, err := ParseDir(dir)
	if err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}
	if len(schemas) != 2 {
		t.Fatalf("ParseDir returned %d schemas, want 2", len(schemas))
	}
}

func TestSchema_IsSystemAttribute(t *testing.T) {
	s := Schema{LogicalName: "x", Attributes: map[string]Attribute{"name": {Type: TypeString}}}.Normalize()

	for _, name := range []string{"id", "created_at", "updated_at"} {
		if !s.IsSystemAttribute(name) {
			t.Errorf("IsSystemAttribute(%q) = false, want true", name)
		}
	}
	if s.IsSystemAttribute("name") {
		t.Error("IsSystemAttribute(name) = true, want false")
	}
}

func TestType_SQLType(t *testing.T) {
	tests := map[Type]string{
		TypeInt:      "INTEGER",
		TypeBool:     "INTEGER",
		TypeNumber:   "REAL",
		TypeJSON:     "TEXT",
		TypeDateTime: "TEXT",
		TypeLookup:   "TEXT",
	}
	for typ, want := range tests {
		if got := typ.SQLType(); got != want {
			t.Errorf("%s.SQLType() = %q, want %q", typ, got, want)
		}
	}
}
