package gateway

import (
	"context"

	"github.com/ecoworks/retrofit/pkg/audit"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
)

// CreateLibraryInput carries the fields of a new library. Exactly one
// ownership shape applies: OwnerOrgID set means organisational, Personal
// means owned by the acting principal, neither means global.
type CreateLibraryInput struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	OwnerOrgID string         `json:"owner_org_id,omitempty"`
	Personal   bool           `json:"personal,omitempty"`
	Items      map[string]any `json:"items,omitempty"`
}

// CreateLibrary creates a library. Organisation libraries require the
// librarian role, global libraries require a superuser; anyone may
// create a personal library. A second library with the same type tag in
// the same ownership scope is rejected.
func (g *Gateway) CreateLibrary(ctx context.Context, principalID string, in CreateLibraryInput) (*model.Library, error) {
	if in.OwnerOrgID != "" && in.Personal {
		return nil, model.ErrBadRequest("a library cannot be both personal and organisation-owned")
	}

	principal, err := g.store.GetPrincipal(ctx, principalID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, model.ErrNotAuthenticated("principal is unknown")
		}
		return nil, err
	}

	var l *model.Library
	switch {
	case in.OwnerOrgID != "":
		check := oracle.Check{
			PrincipalID: principalID,
			Action:      model.ActionCreateLibrary,
			Resource:    model.OrganisationRef(in.OwnerOrgID),
		}
		if err := g.decide(ctx, check, audit.EventTypeLibraryCreate); err != nil {
			return nil, err
		}
		l = model.NewOrganisationLibrary(orID(in.ID), in.Name, in.Type, in.OwnerOrgID)
	case in.Personal:
		l = model.NewPersonalLibrary(orID(in.ID), in.Name, in.Type, principalID)
	default:
		if !principal.Superuser {
			return nil, model.ErrNotAuthorized(model.ReasonNotAuthorized, "global libraries are created by superusers only")
		}
		l = model.NewGlobalLibrary(orID(in.ID), in.Name, in.Type)
	}
	if in.Items != nil {
		l.Items = in.Items
	}

	event := &audit.Event{
		Type:         audit.EventTypeLibraryCreate,
		PrincipalID:  principalID,
		ResourceKind: model.KindLibrary,
		ResourceID:   l.ID,
	}
	err = g.commit(ctx, event, func(tx store.Tx) error {
		if err := checkTypeTagUnique(tx, l); err != nil {
			return err
		}
		return tx.PutLibrary(l)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetLibrary(ctx, l.ID)
}

// checkTypeTagUnique rejects a duplicate type tag within one ownership
// scope. It reads through the transaction so the check and the write
// see the same state.
func checkTypeTagUnique(tx store.Tx, l *model.Library) error {
	var existing []*model.Library
	var err error
	switch l.Shape() {
	case model.ShapePersonal:
		existing, err = tx.LibrariesByOwnerUser(l.OwnerUserID)
	case model.ShapeOrganisational:
		existing, err = tx.LibrariesByOwnerOrg(l.OwnerOrgID)
	default:
		existing, err = tx.GlobalLibraries()
	}
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID != l.ID && other.Type == l.Type {
			return model.ErrBadRequest("a %s library with type tag %q already exists", l.Shape(), l.Type)
		}
	}
	return nil
}

// UpdateLibraryInput updates a library's contents. Nil fields are left
// unchanged.
type UpdateLibraryInput struct {
	Name  *string        `json:"name,omitempty"`
	Items map[string]any `json:"items,omitempty"`
}

// UpdateLibrary rewrites a library's name or items.
func (g *Gateway) UpdateLibrary(ctx context.Context, principalID, id string, in UpdateLibraryInput) (*model.Library, error) {
	ref := model.LibraryRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{PrincipalID: principalID, Action: model.ActionWriteLibrary, Resource: ref}
	if err := g.decide(ctx, check, audit.EventTypeLibraryUpdate); err != nil {
		return nil, err
	}

	event := &audit.Event{
		Type:         audit.EventTypeLibraryUpdate,
		PrincipalID:  principalID,
		ResourceKind: model.KindLibrary,
		ResourceID:   id,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		l, err := tx.GetLibrary(id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			l.Name = *in.Name
		}
		if in.Items != nil {
			l.Items = in.Items
		}
		return tx.PutLibrary(l)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetLibrary(ctx, id)
}

// DeleteLibrary removes a library and its sharing edges.
func (g *Gateway) DeleteLibrary(ctx context.Context, principalID, id string) error {
	ref := model.LibraryRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{PrincipalID: principalID, Action: model.ActionWriteLibrary, Resource: ref}
	if err := g.decide(ctx, check, audit.EventTypeLibraryDelete); err != nil {
		return err
	}

	event := &audit.Event{
		Type:         audit.EventTypeLibraryDelete,
		PrincipalID:  principalID,
		ResourceKind: model.KindLibrary,
		ResourceID:   id,
	}
	return g.commit(ctx, event, func(tx store.Tx) error {
		return tx.DeleteLibrary(id)
	})
}

// ShareLibrary grants read access to another organisation.
func (g *Gateway) ShareLibrary(ctx context.Context, principalID, id, targetOrgID string) (*model.Library, error) {
	return g.setLibraryShare(ctx, principalID, id, targetOrgID, true)
}

// UnshareLibrary revokes a sharing edge. Revoking an absent edge is a
// no-op.
func (g *Gateway) UnshareLibrary(ctx context.Context, principalID, id, targetOrgID string) (*model.Library, error) {
	return g.setLibraryShare(ctx, principalID, id, targetOrgID, false)
}

func (g *Gateway) setLibraryShare(ctx context.Context, principalID, id, targetOrgID string, share bool) (*model.Library, error) {
	ref := model.LibraryRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	action := model.ActionShareLibrary
	eventType := audit.EventTypeLibraryShare
	if !share {
		action = model.ActionUnshareLibrary
		eventType = audit.EventTypeLibraryUnshare
	}

	check := oracle.Check{PrincipalID: principalID, Action: action, Resource: ref}
	if err := g.decide(ctx, check, eventType); err != nil {
		return nil, err
	}

	if share {
		if _, err := g.store.GetOrganization(ctx, targetOrgID); err != nil {
			if model.IsNotFound(err) {
				return nil, model.ErrBadRequest("organisation %s does not exist", targetOrgID)
			}
			return nil, err
		}
	}

	event := &audit.Event{
		Type:         eventType,
		PrincipalID:  principalID,
		ResourceKind: model.KindLibrary,
		ResourceID:   id,
		Metadata:     map[string]any{"target_org_id": targetOrgID},
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		l, err := tx.GetLibrary(id)
		if err != nil {
			return err
		}
		if share {
			// Sharing with the owner is meaningless; members already read it.
			if l.OwnerOrgID == targetOrgID || l.IsSharedWithOrg(targetOrgID) {
				return nil
			}
			l.SharedWith.Add(targetOrgID)
		} else {
			if !l.IsSharedWithOrg(targetOrgID) {
				return nil
			}
			l.SharedWith.Remove(targetOrgID)
		}
		return tx.PutLibrary(l)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetLibrary(ctx, id)
}
