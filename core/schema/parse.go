package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile parses a schema definition from a YAML file.
func ParseFile(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses a schema definition from YAML bytes. The result is
// normalized and validated.
func Parse(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("parse yaml: %w", err)
	}

	s = s.Normalize()
	if err := Validate(s); err != nil {
		return Schema{}, fmt.Errorf("validate schema %q: %w", s.LogicalName, err)
	}

	return s, nil
}

// ParseDir parses all schema definitions from a directory, including
// subdirectories.
func ParseDir(dir string) ([]Schema, error) {
	var schemas []Schema

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			sub, err := ParseDir(path)
			if err != nil {
				return nil, err
			}
			schemas = append(schemas, sub...)
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		s, err := ParseFile(path)
		if err != nil {
			return nil, err
		}

		schemas = append(schemas, s)
	}

	return schemas, nil
}

var (
	pluginMessages = map[string]bool{"create": true, "update": true, "delete": true}
	pluginStages   = map[string]bool{"preValidation": true, "preOperation": true, "postOperation": true}
)

// Validate validates a normalized schema definition.
func Validate(s Schema) error {
	var errs []string

	if s.LogicalName == "" {
		errs = append(errs, "entity name is required")
	} else if !isValidIdentifier(s.LogicalName) {
		errs = append(errs, fmt.Sprintf("entity name %q is not a valid identifier", s.LogicalName))
	}

	for _, name := range SortedAttributeNames(s) {
		if !isValidIdentifier(name) {
			errs = append(errs, fmt.Sprintf("attribute name %q is not a valid identifier", name))
		}
		if err := validateAttribute(name, s.Attributes[name]); err != nil {
			errs = append(errs, err.Error())
		}
	}

	switch s.Ownership {
	case OwnershipGlobal:
	case OwnershipUser:
		if !s.HasAttribute(s.OwnerAttribute) {
			errs = append(errs, fmt.Sprintf("user ownership requires attribute %q", s.OwnerAttribute))
		}
	case OwnershipOrganization:
		if !s.HasAttribute(s.OrganizationAttribute) {
			errs = append(errs, fmt.Sprintf("organization ownership requires attribute %q", s.OrganizationAttribute))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown ownership %q", s.Ownership))
	}

	for i, p := range s.Plugins {
		if err := validatePlugin(p, s); err != nil {
			errs = append(errs, fmt.Sprintf("plugin %d: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// validateAttribute validates a single attribute definition.
func validateAttribute(name string, a Attribute) error {
	if !a.Type.valid() {
		return fmt.Errorf("attribute %q: unknown type %q", name, a.Type)
	}

	if a.Type == TypeEnum && len(a.Values) == 0 {
		return fmt.Errorf("attribute %q: enum type requires values", name)
	}

	if a.Type == TypeLookup && a.Entity == "" {
		return fmt.Errorf("attribute %q: lookup type requires 'entity' target", name)
	}

	if !a.Behavior.valid() {
		return fmt.Errorf("attribute %q: unknown behavior %q", name, a.Behavior)
	}
	if a.Behavior != BehaviorNone && a.Type != TypeLookup {
		return fmt.Errorf("attribute %q: behavior is only allowed on lookup attributes", name)
	}

	if a.AutoNumber != nil {
		if !a.Type.AutoNumberEligible() {
			return fmt.Errorf("attribute %q: type %q cannot be auto-numbered", name, a.Type)
		}
		if a.Type == TypeInt && (a.AutoNumber.Prefix != "" || a.AutoNumber.Width > 0) {
			return fmt.Errorf("attribute %q: int auto-numbers cannot have a prefix or width", name)
		}
		if a.AutoNumber.Width < 0 {
			return fmt.Errorf("attribute %q: auto-number width must not be negative", name)
		}
	}

	if d, ok := a.Default.(StaticDefault); ok {
		return validateStaticDefault(name, a, d.Value)
	}

	return nil
}

// validateStaticDefault checks that a literal default matches the type.
func validateStaticDefault(name string, a Attribute, v any) error {
	switch a.Type {
	case TypeInt:
		switch v.(type) {
		case int, int64:
			return nil
		default:
			return fmt.Errorf("attribute %q: default must be an integer", name)
		}
	case TypeNumber:
		switch v.(type) {
		case int, int64, float64:
			return nil
		default:
			return fmt.Errorf("attribute %q: default must be a number", name)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("attribute %q: default must be a boolean", name)
		}
	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("attribute %q: default must be a string", name)
		}
		for _, allowed := range a.Values {
			if allowed == s {
				return nil
			}
		}
		return fmt.Errorf("attribute %q: default %q is not a valid enum value", name, s)
	}
	return nil
}

func validatePlugin(p PluginDecl, s Schema) error {
	if !pluginMessages[p.Message] {
		return fmt.Errorf("unknown message %q", p.Message)
	}
	if !pluginStages[p.Stage] {
		return fmt.Errorf("unknown stage %q", p.Stage)
	}
	if (p.Emit == "") == (p.Log == "") {
		return fmt.Errorf("exactly one of emit or log is required")
	}
	for _, attr := range p.Attributes {
		if !s.HasAttribute(attr) {
			return fmt.Errorf("attribute %q not in schema", attr)
		}
	}
	return nil
}

// isValidIdentifier checks if a string is a valid identifier.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		if i == 0 {
			if !isLetter(c) && c != '_' {
				return false
			}
		} else {
			if !isLetter(c) && !isDigit(c) && c != '_' {
				return false
			}
		}
	}

	return true
}

func isLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}
