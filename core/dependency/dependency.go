// Package dependency finds the lookup attributes that reference an entity.
package dependency

import (
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/ports"
)

// Dependent is one lookup attribute that references the target entity.
type Dependent struct {
	AttributeName     string          `json:"attributeName"`
	SchemaLogicalName string          `json:"schemaLogicalName"`
	Behavior          schema.Behavior `json:"behavior,omitempty"`
}

// Index discovers dependents from the registered schemas. It only reports
// graph edges; acting on them is up to the caller.
type Index struct {
	registry ports.SchemaRegistry
}

// NewIndex creates an index over registry.
func NewIndex(registry ports.SchemaRegistry) *Index {
	return &Index{registry: registry}
}

// FindDependents returns one entry per lookup attribute, in any registered
// schema, whose target is target.LogicalName. Entries are ordered by schema
// name then attribute name. A self-referencing lookup is included.
func (ix *Index) FindDependents(target schema.Schema) []Dependent {
	var out []Dependent

	for _, sch := range ix.registry.GetAllSchema() {
		for _, name := range schema.SortedAttributeNames(sch) {
			attr := sch.Attributes[name]
			if attr.Type != schema.TypeLookup || attr.Entity != target.LogicalName {
				continue
			}
			out = append(out, Dependent{
				AttributeName:     name,
				SchemaLogicalName: sch.LogicalName,
				Behavior:          attr.Behavior,
			})
		}
	}

	return out
}
