package gateway

import (
	"context"
	"fmt"

	"github.com/ecoworks/retrofit/pkg/audit"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
)

// CreateOrganization provisions a new organisation. Tenant provisioning
// is a platform operation, so only superusers may do it. The optional
// initial admin is seeded as both member and admin.
func (g *Gateway) CreateOrganization(ctx context.Context, principalID, id, name, initialAdminID string) (*model.Organization, error) {
	principal, err := g.store.GetPrincipal(ctx, principalID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, model.ErrNotAuthenticated("principal is unknown")
		}
		return nil, err
	}
	if !principal.Superuser {
		return nil, model.ErrNotAuthorized(model.ReasonNotAuthorized, "organisations are provisioned by superusers only")
	}

	org := model.NewOrganization(orID(id), name)
	if initialAdminID != "" {
		org.AddMember(initialAdminID)
		if err := org.AddAdmin(initialAdminID); err != nil {
			return nil, err
		}
	}

	event := &audit.Event{
		Type:         audit.EventTypeOrgCreate,
		PrincipalID:  principalID,
		ResourceKind: model.KindOrganisation,
		ResourceID:   org.ID,
	}
	err = g.commit(ctx, event, func(tx store.Tx) error {
		return tx.PutOrganization(org)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetOrganization(ctx, org.ID)
}

// DeleteOrganization removes an organisation. The store refuses while
// any assessment or library still references it.
func (g *Gateway) DeleteOrganization(ctx context.Context, principalID, id string) error {
	principal, err := g.store.GetPrincipal(ctx, principalID)
	if err != nil {
		if model.IsNotFound(err) {
			return model.ErrNotAuthenticated("principal is unknown")
		}
		return err
	}
	if !principal.Superuser {
		return model.ErrNotAuthorized(model.ReasonNotAuthorized, "organisations are deleted by superusers only")
	}

	ref := model.OrganisationRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	event := &audit.Event{
		Type:         audit.EventTypeOrgDelete,
		PrincipalID:  principalID,
		ResourceKind: model.KindOrganisation,
		ResourceID:   id,
	}
	return g.commit(ctx, event, func(tx store.Tx) error {
		return tx.DeleteOrganization(id)
	})
}

// AddMember adds a principal to the organisation's member set. Adding an
// existing member is a no-op.
func (g *Gateway) AddMember(ctx context.Context, principalID, orgID, targetPrincipalID string) (*model.Organization, error) {
	ref := model.OrganisationRef(orgID)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{
		PrincipalID:       principalID,
		Action:            model.ActionAddMember,
		Resource:          ref,
		TargetPrincipalID: targetPrincipalID,
	}
	if err := g.decide(ctx, check, audit.EventTypeMemberAdd); err != nil {
		return nil, err
	}
	if _, err := g.store.GetPrincipal(ctx, targetPrincipalID); err != nil {
		if model.IsNotFound(err) {
			return nil, model.ErrBadRequest("principal %s does not exist", targetPrincipalID)
		}
		return nil, err
	}

	event := &audit.Event{
		Type:              audit.EventTypeMemberAdd,
		PrincipalID:       principalID,
		ResourceKind:      model.KindOrganisation,
		ResourceID:        orgID,
		TargetPrincipalID: targetPrincipalID,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		org, err := tx.GetOrganization(orgID)
		if err != nil {
			return err
		}
		if org.HasMember(targetPrincipalID) {
			return nil
		}
		org.AddMember(targetPrincipalID)
		return tx.PutOrganization(org)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetOrganization(ctx, orgID)
}

// RemoveMember removes a principal from the organisation. The removal
// cascades atomically: the principal leaves the librarian and admin sets
// and every sharing edge on the organisation's assessments.
func (g *Gateway) RemoveMember(ctx context.Context, principalID, orgID, targetPrincipalID string) (*model.Organization, error) {
	ref := model.OrganisationRef(orgID)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{
		PrincipalID:       principalID,
		Action:            model.ActionRemoveMember,
		Resource:          ref,
		TargetPrincipalID: targetPrincipalID,
	}
	if err := g.decide(ctx, check, audit.EventTypeMemberRemove); err != nil {
		return nil, err
	}

	event := &audit.Event{
		Type:              audit.EventTypeMemberRemove,
		PrincipalID:       principalID,
		ResourceKind:      model.KindOrganisation,
		ResourceID:        orgID,
		TargetPrincipalID: targetPrincipalID,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		org, err := tx.GetOrganization(orgID)
		if err != nil {
			return err
		}
		if !org.HasMember(targetPrincipalID) {
			return nil
		}
		org.RemoveMember(targetPrincipalID)
		if err := tx.PutOrganization(org); err != nil {
			return err
		}

		assessments, err := tx.AssessmentsByOrg(orgID)
		if err != nil {
			return err
		}
		for _, a := range assessments {
			if !a.IsSharedWith(targetPrincipalID) {
				continue
			}
			a.SharedWith.Remove(targetPrincipalID)
			if err := tx.PutAssessment(a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetOrganization(ctx, orgID)
}

// PromoteLibrarian grants the librarian role to an existing member.
func (g *Gateway) PromoteLibrarian(ctx context.Context, principalID, orgID, targetPrincipalID string) (*model.Organization, error) {
	return g.setLibrarian(ctx, principalID, orgID, targetPrincipalID, true)
}

// DemoteLibrarian revokes the librarian role. Demoting a non-librarian
// is a no-op.
func (g *Gateway) DemoteLibrarian(ctx context.Context, principalID, orgID, targetPrincipalID string) (*model.Organization, error) {
	return g.setLibrarian(ctx, principalID, orgID, targetPrincipalID, false)
}

func (g *Gateway) setLibrarian(ctx context.Context, principalID, orgID, target string, promote bool) (*model.Organization, error) {
	ref := model.OrganisationRef(orgID)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	action := model.ActionPromoteLibrarian
	eventType := audit.EventTypeLibrarianPromote
	if !promote {
		action = model.ActionDemoteLibrarian
		eventType = audit.EventTypeLibrarianDemote
	}

	check := oracle.Check{
		PrincipalID:       principalID,
		Action:            action,
		Resource:          ref,
		TargetPrincipalID: target,
	}
	if err := g.decide(ctx, check, eventType); err != nil {
		return nil, err
	}

	event := &audit.Event{
		Type:              eventType,
		PrincipalID:       principalID,
		ResourceKind:      model.KindOrganisation,
		ResourceID:        orgID,
		TargetPrincipalID: target,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		org, err := tx.GetOrganization(orgID)
		if err != nil {
			return err
		}
		if promote {
			if org.HasLibrarian(target) {
				return nil
			}
			if !org.HasMember(target) {
				return &model.Error{
					Kind:    model.KindInvariantViolation,
					Code:    model.ReasonTargetOutsideOrg,
					Message: fmt.Sprintf("target principal %s is not a member of organisation %s", target, orgID),
				}
			}
			if err := org.AddLibrarian(target); err != nil {
				return err
			}
		} else {
			if !org.HasLibrarian(target) {
				return nil
			}
			org.Librarians.Remove(target)
		}
		return tx.PutOrganization(org)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetOrganization(ctx, orgID)
}
