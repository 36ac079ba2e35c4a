// Package defaults resolves the default values an entity schema declares.
package defaults

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/entitysdk/core/autonumber"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/ports"
)

// ErrNoAutoNumberProvider is returned when an auto-numbered attribute is
// resolved without a provider.
var ErrNoAutoNumberProvider = errors.New("no auto-number provider configured")

// Resolver computes schema defaults and delegates auto-numbers.
type Resolver struct {
	clock       ports.Clock
	autoNumbers autonumber.Provider
}

// New creates a resolver. autoNumbers may be nil when no schema declares
// auto-numbered attributes.
func New(clock ports.Clock, autoNumbers autonumber.Provider) *Resolver {
	return &Resolver{clock: clock, autoNumbers: autoNumbers}
}

// SchemaDefaults returns the default of every attribute that declares one,
// except the id, created-at and updated-at attributes and auto-numbered
// attributes. Computed defaults are called and @now defaults read the clock
// each time SchemaDefaults runs.
func (r *Resolver) SchemaDefaults(sch schema.Schema) map[string]any {
	out := make(map[string]any)

	for name, attr := range sch.Attributes {
		if sch.IsSystemAttribute(name) || attr.AutoNumber != nil || attr.Default == nil {
			continue
		}

		switch d := attr.Default.(type) {
		case schema.ComputedDefault:
			out[name] = d.Fn()
		case schema.NowDefault:
			if attr.Type.IsDate() {
				out[name] = r.clock.Now()
			} else {
				out[name] = schema.NowSentinel
			}
		case schema.StaticDefault:
			out[name] = d.Value
		}
	}

	return out
}

// AutoNumberAttributes returns the names of the auto-numbered attributes of
// sch in lexical order.
func AutoNumberAttributes(sch schema.Schema) []string {
	var names []string
	for _, name := range schema.SortedAttributeNames(sch) {
		if sch.Attributes[name].AutoNumber != nil {
			names = append(names, name)
		}
	}
	return names
}

// ResolveAutoNumber asks the provider for the next number of an attribute.
func (r *Resolver) ResolveAutoNumber(ctx context.Context, p autonumber.Params) (any, error) {
	if r.autoNumbers == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoAutoNumberProvider, p.LogicalName, p.AttributeName)
	}
	return r.autoNumbers.ResolveAutoNumber(ctx, p)
}
