package schema

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Attribute defines a typed field of an entity.
type Attribute struct {
	// Type is the attribute type. See the Type constants.
	Type Type `yaml:"type"`

	// Entity is the referenced entity for lookup attributes.
	Entity string `yaml:"entity,omitempty"`

	// Behavior is applied to this attribute when the referenced record is
	// deleted.
	Behavior Behavior `yaml:"behavior,omitempty"`

	// Default is the declared default, nil when none.
	Default Default `yaml:"-"`

	// AutoNumber marks the attribute as auto-numbered.
	AutoNumber *AutoNumber `yaml:"-"`

	// Values lists valid values for enum attributes.
	Values []string `yaml:"values,omitempty"`

	// Required marks attributes that must be present on create.
	Required bool `yaml:"required,omitempty"`

	Description string `yaml:"description,omitempty"`
}

// Type is the type of an attribute.
type Type string

const (
	TypeString   Type = "string"
	TypeText     Type = "text"
	TypeInt      Type = "int"
	TypeNumber   Type = "number"
	TypeBool     Type = "bool"
	TypeDate     Type = "date"
	TypeDateTime Type = "datetime"
	TypeJSON     Type = "json"
	TypeLookup   Type = "lookup"
	TypeEnum     Type = "enum"
	TypeSecret   Type = "secret"
	TypeUUID     Type = "uuid"
)

// IsDate reports whether the type holds dates or timestamps.
func (t Type) IsDate() bool {
	return t == TypeDate || t == TypeDateTime
}

// AutoNumberEligible reports whether attributes of this type may be
// auto-numbered.
func (t Type) AutoNumberEligible() bool {
	return t == TypeString || t == TypeInt
}

// SQLType returns the SQLite column type for the attribute type.
func (t Type) SQLType() string {
	switch t {
	case TypeInt, TypeBool:
		return "INTEGER"
	case TypeNumber:
		return "REAL"
	default:
		// json is stored as serialized text, dates as RFC 3339 text
		return "TEXT"
	}
}

func (t Type) valid() bool {
	switch t {
	case TypeString, TypeText, TypeInt, TypeNumber, TypeBool,
		TypeDate, TypeDateTime, TypeJSON, TypeLookup, TypeEnum,
		TypeSecret, TypeUUID:
		return true
	default:
		return false
	}
}

// Behavior is the cascade policy of a lookup attribute.
type Behavior string

const (
	BehaviorNone     Behavior = ""
	BehaviorRestrict Behavior = "restrict"
	BehaviorCascade  Behavior = "cascade"
	BehaviorSetNull  Behavior = "setNull"
)

func (b Behavior) valid() bool {
	switch b {
	case BehaviorNone, BehaviorRestrict, BehaviorCascade, BehaviorSetNull:
		return true
	default:
		return false
	}
}

// AutoNumber configures auto-numbering. The zero value issues plain
// increasing numbers starting at 1.
type AutoNumber struct {
	// Prefix is prepended to the formatted number.
	Prefix string `yaml:"prefix,omitempty"`

	// Start is the first number issued.
	Start int64 `yaml:"start,omitempty"`

	// Width zero-pads the number to this many digits.
	Width int `yaml:"width,omitempty"`
}

// UnmarshalYAML decodes an attribute, turning the raw default into a
// Default variant and accepting autoNumber as a bool or a mapping.
func (a *Attribute) UnmarshalYAML(node *yaml.Node) error {
	type plain Attribute
	var raw struct {
		plain      `yaml:",inline"`
		Default    yaml.Node `yaml:"default"`
		AutoNumber yaml.Node `yaml:"autoNumber"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*a = Attribute(raw.plain)

	if raw.Default.Kind != 0 {
		var v any
		if err := raw.Default.Decode(&v); err != nil {
			return fmt.Errorf("default: %w", err)
		}
		if s, ok := v.(string); ok && s == NowSentinel && a.Type.IsDate() {
			a.Default = NowDefault{}
		} else {
			a.Default = StaticDefault{Value: v}
		}
	}

	if raw.AutoNumber.Kind != 0 {
		if raw.AutoNumber.Kind == yaml.ScalarNode {
			var on bool
			if err := raw.AutoNumber.Decode(&on); err != nil {
				return fmt.Errorf("autoNumber: %w", err)
			}
			if on {
				a.AutoNumber = &AutoNumber{}
			}
		} else {
			var cfg AutoNumber
			if err := raw.AutoNumber.Decode(&cfg); err != nil {
				return fmt.Errorf("autoNumber: %w", err)
			}
			a.AutoNumber = &cfg
		}
	}

	return nil
}

// SortedAttributeNames returns the attribute names of s in lexical order.
func SortedAttributeNames(s Schema) []string {
	names := make([]string, 0, len(s.Attributes))
	for name := range s.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
