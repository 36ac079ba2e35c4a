package datafilter

import (
	"context"

	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/storage"
)

// OwnershipProvider derives filters from the ownership declared by each
// schema. Callers without the required identity match no records.
type OwnershipProvider struct{}

// OrganizationFilter restricts organization-owned entities to the caller's
// organization.
func (OwnershipProvider) OrganizationFilter(ctx context.Context, p Params) (*storage.Filter, error) {
	if p.Caller.Admin || p.Schema.Ownership != schema.OwnershipOrganization {
		return nil, nil
	}
	return matchOrNothing(p.Schema.OrganizationAttribute, p.Caller.OrganizationID), nil
}

// PermissionFilter restricts user-owned entities to the caller's records.
func (OwnershipProvider) PermissionFilter(ctx context.Context, p Params) (*storage.Filter, error) {
	if p.Caller.Admin || p.Schema.Ownership != schema.OwnershipUser {
		return nil, nil
	}
	return matchOrNothing(p.Schema.OwnerAttribute, p.Caller.UserID), nil
}

func matchOrNothing(attribute, value string) *storage.Filter {
	if value == "" {
		return storage.In(attribute)
	}
	return storage.Eq(attribute, value)
}

var _ Provider = OwnershipProvider{}
