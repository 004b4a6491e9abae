package model

import (
	"fmt"
	"time"
)

// LibraryShape describes who owns a library. The three shapes are mutually
// exclusive: a library owned by both a principal and an organisation is
// invalid, and a library owned by neither is global.
type LibraryShape string

const (
	ShapePersonal       LibraryShape = "personal"
	ShapeOrganisational LibraryShape = "organisational"
	ShapeGlobal         LibraryShape = "global"
)

// Library represents a reusable named dataset. Organisational libraries may
// be shared with other organisations; personal and global libraries carry
// no sharing edges.
type Library struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Items       map[string]any `json:"items,omitempty"` // keyed by item tag
	OwnerUserID string         `json:"owner_user_id,omitempty"`
	OwnerOrgID  string         `json:"owner_org_id,omitempty"`
	SharedWith  Set            `json:"shared_with"` // organisation ids
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int64          `json:"version"`
}

// NewPersonalLibrary creates a library owned by a principal.
func NewPersonalLibrary(id, name, typeTag, ownerUserID string) *Library {
	return &Library{ID: id, Name: name, Type: typeTag, Items: map[string]any{}, OwnerUserID: ownerUserID, SharedWith: NewSet()}
}

// NewOrganisationLibrary creates a library owned by an organisation.
func NewOrganisationLibrary(id, name, typeTag, ownerOrgID string) *Library {
	return &Library{ID: id, Name: name, Type: typeTag, Items: map[string]any{}, OwnerOrgID: ownerOrgID, SharedWith: NewSet()}
}

// NewGlobalLibrary creates an unowned library visible to everyone.
func NewGlobalLibrary(id, name, typeTag string) *Library {
	return &Library{ID: id, Name: name, Type: typeTag, Items: map[string]any{}, SharedWith: NewSet()}
}

// Shape returns the ownership shape of the library.
func (l *Library) Shape() LibraryShape {
	switch {
	case l.OwnerUserID != "":
		return ShapePersonal
	case l.OwnerOrgID != "":
		return ShapeOrganisational
	default:
		return ShapeGlobal
	}
}

// IsSharedWithOrg reports whether the library is shared with the
// organisation.
func (l *Library) IsSharedWithOrg(orgID string) bool {
	return l.SharedWith.Has(orgID)
}

// Validate checks the ownership-shape and sharing invariants on the
// snapshot.
func (l *Library) Validate() error {
	if l.OwnerUserID != "" && l.OwnerOrgID != "" {
		return fmt.Errorf("library %s: both personal and organisational owners set", l.ID)
	}
	if l.SharedWith.Len() > 0 && l.Shape() != ShapeOrganisational {
		return fmt.Errorf("library %s: sharing edges on a %s library", l.ID, l.Shape())
	}
	return nil
}

// Clone returns an independent copy of the library.
func (l *Library) Clone() *Library {
	c := *l
	c.SharedWith = l.SharedWith.Clone()
	c.Items = cloneMap(l.Items)
	return &c
}
