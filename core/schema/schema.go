package schema

// Default names of the system attributes.
const (
	DefaultIDAttribute           = "id"
	DefaultCreatedAtAttribute    = "created_at"
	DefaultUpdatedAtAttribute    = "updated_at"
	DefaultOwnerAttribute        = "owner_id"
	DefaultOrganizationAttribute = "organization_id"
)

// Schema is the root definition of an entity.
type Schema struct {
	// LogicalName is the unique entity name (e.g., "product").
	LogicalName string `yaml:"entity"`

	// Attributes are the fields of the entity keyed by name.
	Attributes map[string]Attribute `yaml:"attributes"`

	// IDAttribute, CreatedAtAttribute and UpdatedAtAttribute name the
	// system attributes. Empty values are replaced by the defaults.
	IDAttribute        string `yaml:"idAttribute,omitempty"`
	CreatedAtAttribute string `yaml:"createdAtAttribute,omitempty"`
	UpdatedAtAttribute string `yaml:"updatedAtAttribute,omitempty"`

	// Restrictions forbids individual operations.
	Restrictions Restrictions `yaml:"restrictions,omitempty"`

	// Virtual entities have no physical storage; every write is forbidden.
	Virtual bool `yaml:"virtual,omitempty"`

	// Ownership controls which data filter applies to reads.
	Ownership Ownership `yaml:"ownership,omitempty"`

	// OwnerAttribute and OrganizationAttribute name the attributes used by
	// user and organization ownership.
	OwnerAttribute        string `yaml:"ownerAttribute,omitempty"`
	OrganizationAttribute string `yaml:"organizationAttribute,omitempty"`

	// Plugins are steps declared alongside the schema.
	Plugins []PluginDecl `yaml:"plugins,omitempty"`

	// Description for documentation.
	Description string `yaml:"description,omitempty"`
}

// Restrictions lists operations an entity does not allow.
type Restrictions struct {
	DisableCreate bool `yaml:"disableCreate,omitempty"`
	DisableUpdate bool `yaml:"disableUpdate,omitempty"`
	DisableDelete bool `yaml:"disableDelete,omitempty"`
	DisableIndex  bool `yaml:"disableIndex,omitempty"`
}

// Ownership is the data ownership model of an entity.
type Ownership string

const (
	OwnershipGlobal       Ownership = "global"
	OwnershipUser         Ownership = "user"
	OwnershipOrganization Ownership = "organization"
)

// PluginDecl is a plugin step declared in a schema file. Exactly one of
// Emit or Log is set.
type PluginDecl struct {
	Message    string   `yaml:"message"`
	Stage      string   `yaml:"stage"`
	Attributes []string `yaml:"attributes,omitempty"`

	// When is an optional boolean expression gating the step.
	When string `yaml:"when,omitempty"`

	// Emit publishes an event with this name.
	Emit string `yaml:"emit,omitempty"`

	// Log writes a log line with this message.
	Log string `yaml:"log,omitempty"`
}

// Normalize returns a copy of s with the system attribute names filled in
// and the id attribute declared.
func (s Schema) Normalize() Schema {
	if s.IDAttribute == "" {
		s.IDAttribute = DefaultIDAttribute
	}
	if s.CreatedAtAttribute == "" {
		s.CreatedAtAttribute = DefaultCreatedAtAttribute
	}
	if s.UpdatedAtAttribute == "" {
		s.UpdatedAtAttribute = DefaultUpdatedAtAttribute
	}
	if s.Ownership == "" {
		s.Ownership = OwnershipGlobal
	}
	if s.OwnerAttribute == "" {
		s.OwnerAttribute = DefaultOwnerAttribute
	}
	if s.OrganizationAttribute == "" {
		s.OrganizationAttribute = DefaultOrganizationAttribute
	}

	attrs := make(map[string]Attribute, len(s.Attributes)+1)
	for name, a := range s.Attributes {
		attrs[name] = a
	}
	if _, ok := attrs[s.IDAttribute]; !ok {
		attrs[s.IDAttribute] = Attribute{Type: TypeString}
	}
	s.Attributes = attrs

	return s
}

// IsSystemAttribute reports whether name is the id, created-at or
// updated-at attribute.
func (s Schema) IsSystemAttribute(name string) bool {
	return name == s.IDAttribute || name == s.CreatedAtAttribute || name == s.UpdatedAtAttribute
}

// HasAttribute reports whether the schema declares name.
func (s Schema) HasAttribute(name string) bool {
	_, ok := s.Attributes[name]
	return ok
}

// AttributesOfType returns the names of attributes with the given type.
func (s Schema) AttributesOfType(t Type) []string {
	var names []string
	for _, name := range SortedAttributeNames(s) {
		if s.Attributes[name].Type == t {
			names = append(names, name)
		}
	}
	return names
}
