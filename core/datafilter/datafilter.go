// Package datafilter composes the organization and permission filters that
// restrict which records a caller can read.
package datafilter

import (
	"context"

	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/storage"
)

// Caller identifies who issued a request.
type Caller struct {
	UserID         string `json:"userId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`

	// Admin callers bypass ownership filters.
	Admin bool `json:"admin,omitempty"`
}

type callerKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, or the zero Caller.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

// Params describes the read being filtered.
type Params struct {
	LogicalName string
	Schema      schema.Schema
	Caller      Caller
}

// Provider supplies filter fragments. Either method may return nil for
// "no restriction".
type Provider interface {
	OrganizationFilter(ctx context.Context, p Params) (*storage.Filter, error)
	PermissionFilter(ctx context.Context, p Params) (*storage.Filter, error)
}

// Composer combines the fragments of a Provider.
type Composer struct {
	provider Provider
}

// NewComposer creates a composer. A nil provider composes no filter.
func NewComposer(provider Provider) *Composer {
	return &Composer{provider: provider}
}

// Compose returns the AND of the organization and permission fragments.
// A missing fragment is skipped; nil means the read is unrestricted.
func (c *Composer) Compose(ctx context.Context, p Params) (*storage.Filter, error) {
	if c == nil || c.provider == nil {
		return nil, nil
	}

	org, err := c.provider.OrganizationFilter(ctx, p)
	if err != nil {
		return nil, err
	}
	perm, err := c.provider.PermissionFilter(ctx, p)
	if err != nil {
		return nil, err
	}

	return And(org, perm), nil
}

// And combines filters, skipping nil ones.
func And(filters ...*storage.Filter) *storage.Filter {
	return storage.And(filters...)
}
