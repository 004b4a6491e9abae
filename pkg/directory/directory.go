// Package directory resolves principals to their roles. Role lookups are
// value semantics: callers get an immutable RoleSet computed from an
// organisation snapshot, never a live view of membership.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/store"
)

// Role is an organisation-scoped role.
type Role uint8

const (
	RoleMember Role = 1 << iota
	RoleLibrarian
	RoleAdmin
)

// RoleSet is a bitmask of roles a principal holds in one organisation.
type RoleSet uint8

// Has reports whether the set contains the role.
func (rs RoleSet) Has(r Role) bool { return rs&RoleSet(r) != 0 }

// With returns a copy of the set with the role added.
func (rs RoleSet) With(r Role) RoleSet { return rs | RoleSet(r) }

// Empty reports whether the principal holds no role in the organisation.
func (rs RoleSet) Empty() bool { return rs == 0 }

func (rs RoleSet) String() string {
	var names []string
	if rs.Has(RoleMember) {
		names = append(names, "member")
	}
	if rs.Has(RoleLibrarian) {
		names = append(names, "librarian")
	}
	if rs.Has(RoleAdmin) {
		names = append(names, "admin")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

// Directory answers role questions about principals.
type Directory struct {
	store store.Reader
}

// New creates a directory over the given store.
func New(s store.Reader) *Directory {
	return &Directory{store: s}
}

// Roles returns the principal's role set in the organisation. A principal
// unknown to the organisation gets an empty set, not an error.
func (d *Directory) Roles(ctx context.Context, principalID, orgID string) (RoleSet, error) {
	org, err := d.store.GetOrganization(ctx, orgID)
	if err != nil {
		return 0, fmt.Errorf("resolving roles: %w", err)
	}
	return RolesIn(org, principalID), nil
}

// RolesIn computes the role set from an organisation snapshot. The
// permission oracle uses this form to stay side-effect free once its
// environment is loaded.
func RolesIn(org *model.Organization, principalID string) RoleSet {
	var rs RoleSet
	if org.HasMember(principalID) {
		rs = rs.With(RoleMember)
	}
	if org.HasLibrarian(principalID) {
		rs = rs.With(RoleLibrarian)
	}
	if org.HasAdmin(principalID) {
		rs = rs.With(RoleAdmin)
	}
	return rs
}

// AnyAdminOf reports whether the principal administers at least one
// organisation.
func (d *Directory) AnyAdminOf(ctx context.Context, principalID string) (bool, error) {
	orgs, err := d.store.OrganizationsWhereAdmin(ctx, principalID)
	if err != nil {
		return false, fmt.Errorf("resolving admin organisations: %w", err)
	}
	return len(orgs) > 0, nil
}

// IsSuperuser reports whether the principal carries the superuser flag.
// Unknown principals are not superusers.
func (d *Directory) IsSuperuser(ctx context.Context, principalID string) (bool, error) {
	p, err := d.store.GetPrincipal(ctx, principalID)
	if err != nil {
		if model.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("resolving principal: %w", err)
	}
	return p.Superuser, nil
}
