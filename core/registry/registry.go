// Package registry manages entity schema registration.
// Schemas are registered at startup, the registry is frozen, and from then
// on it only serves lookups.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/ports"
)

// ErrFrozen is returned when the registry is modified after Freeze.
var ErrFrozen = errors.New("registry is frozen")

// Registry holds registered schemas keyed by logical name.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]schema.Schema
	frozen  bool
}

// New creates a new registry.
func New() *Registry {
	return &Registry{
		schemas: make(map[string]schema.Schema),
	}
}

// Register normalizes, validates and registers a schema.
// Returns an error on duplicate names or after Freeze.
func (r *Registry) Register(s schema.Schema) error {
	s = s.Normalize()
	if err := schema.Validate(s); err != nil {
		return fmt.Errorf("register schema %q: %w", s.LogicalName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}

	if _, exists := r.schemas[s.LogicalName]; exists {
		return fmt.Errorf("schema %q already registered", s.LogicalName)
	}

	r.schemas[s.LogicalName] = s
	return nil
}

// Unregister removes a schema from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}

	if _, exists := r.schemas[name]; !exists {
		return fmt.Errorf("schema %q not registered", name)
	}

	delete(r.schemas, name)
	return nil
}

// LoadDir parses every schema file under dir and registers it.
func (r *Registry) LoadDir(dir string) error {
	schemas, err := schema.ParseDir(dir)
	if err != nil {
		return fmt.Errorf("parse schemas from %q: %w", dir, err)
	}

	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return err
		}
	}

	return nil
}

// Freeze checks that every lookup attribute targets a registered schema
// and makes the registry read-only. Freeze is idempotent.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}

	var dangling []string
	for _, s := range r.schemas {
		for _, name := range schema.SortedAttributeNames(s) {
			attr := s.Attributes[name]
			if attr.Type != schema.TypeLookup {
				continue
			}
			if _, ok := r.schemas[attr.Entity]; !ok {
				dangling = append(dangling, fmt.Sprintf("%s.%s -> %s", s.LogicalName, name, attr.Entity))
			}
		}
	}
	if len(dangling) > 0 {
		sort.Strings(dangling)
		return &DanglingLookupError{Lookups: dangling}
	}

	r.frozen = true
	return nil
}

// Frozen reports whether Freeze has completed.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// HasSchema reports whether name is registered.
func (r *Registry) HasSchema(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.schemas[name]
	return ok
}

// GetSchema returns a registered schema by name.
func (r *Registry) GetSchema(name string) (schema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[name]
	return s, ok
}

// GetAllSchema returns all registered schemas sorted by name.
func (r *Registry) GetAllSchema() []schema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]schema.Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		all = append(all, s)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].LogicalName < all[j].LogicalName
	})

	return all
}

// DanglingLookupError lists lookup attributes whose target is not registered.
type DanglingLookupError struct {
	Lookups []string
}

// Error returns the dangling lookups message.
func (e *DanglingLookupError) Error() string {
	return fmt.Sprintf("lookups to unregistered entities:\n  - %s", strings.Join(e.Lookups, "\n  - "))
}

var _ ports.SchemaRegistry = (*Registry)(nil)
