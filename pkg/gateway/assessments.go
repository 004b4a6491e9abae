package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/ecoworks/retrofit/pkg/audit"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
)

// CreateAssessmentInput carries the fields of a new assessment. An empty
// OrganizationID creates a personal-scope assessment.
type CreateAssessmentInput struct {
	ID             string         `json:"id,omitempty"`
	Name           string         `json:"name"`
	Address        string         `json:"address,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// CreateAssessment creates an assessment owned by the acting principal.
// Creating inside an organisation requires membership.
func (g *Gateway) CreateAssessment(ctx context.Context, principalID string, in CreateAssessmentInput) (*model.Assessment, error) {
	if _, err := g.store.GetPrincipal(ctx, principalID); err != nil {
		if model.IsNotFound(err) {
			return nil, model.ErrNotAuthenticated("principal is unknown")
		}
		return nil, err
	}
	if in.OrganizationID != "" {
		org, err := g.store.GetOrganization(ctx, in.OrganizationID)
		if err != nil {
			if model.IsNotFound(err) {
				return nil, model.ErrBadRequest("organisation %s does not exist", in.OrganizationID)
			}
			return nil, err
		}
		if !org.HasMember(principalID) {
			return nil, model.ErrNotAuthorized(model.ReasonNotMember, "principal is not a member of the organisation")
		}
	}

	a := model.NewAssessment(orID(in.ID), principalID, in.OrganizationID)
	a.Name = in.Name
	a.Address = in.Address
	if in.Data != nil {
		a.Data = in.Data
	}

	event := &audit.Event{
		Type:         audit.EventTypeAssessmentCreate,
		PrincipalID:  principalID,
		ResourceKind: model.KindAssessment,
		ResourceID:   a.ID,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		return tx.PutAssessment(a)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetAssessment(ctx, a.ID)
}

// UpdateAssessmentInput updates non-payload fields. Nil pointers leave
// the field unchanged.
type UpdateAssessmentInput struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
}

// UpdateAssessment changes descriptive fields. Unlike the payload, these
// stay editable while the assessment is complete.
func (g *Gateway) UpdateAssessment(ctx context.Context, principalID, id string, in UpdateAssessmentInput) (*model.Assessment, error) {
	ref := model.AssessmentRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{PrincipalID: principalID, Action: model.ActionUpdateAssessment, Resource: ref}
	if err := g.decide(ctx, check, audit.EventTypeAssessmentUpdate); err != nil {
		return nil, err
	}

	event := &audit.Event{
		Type:         audit.EventTypeAssessmentUpdate,
		PrincipalID:  principalID,
		ResourceKind: model.KindAssessment,
		ResourceID:   id,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		a, err := tx.GetAssessment(id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			a.Name = *in.Name
		}
		if in.Address != nil {
			a.Address = *in.Address
		}
		return tx.PutAssessment(a)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetAssessment(ctx, id)
}

// UpdateAssessmentData replaces the opaque payload. Denied with
// STATUS_LOCKED while the assessment is complete.
func (g *Gateway) UpdateAssessmentData(ctx context.Context, principalID, id string, data map[string]any) (*model.Assessment, error) {
	ref := model.AssessmentRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{PrincipalID: principalID, Action: model.ActionUpdateAssessmentData, Resource: ref}
	if err := g.decide(ctx, check, audit.EventTypeAssessmentData); err != nil {
		return nil, err
	}

	event := &audit.Event{
		Type:         audit.EventTypeAssessmentData,
		PrincipalID:  principalID,
		ResourceKind: model.KindAssessment,
		ResourceID:   id,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		a, err := tx.GetAssessment(id)
		if err != nil {
			return err
		}
		// Re-checked under the transaction so a concurrent completion
		// cannot slip a payload write past the lock.
		if a.Status == model.StatusComplete {
			return &model.Error{Kind: model.KindInvariantViolation, Code: model.ReasonStatusLocked, Message: "assessment is complete; payload is frozen"}
		}
		a.Data = data
		return tx.PutAssessment(a)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetAssessment(ctx, id)
}

// statusTransitions lists the permitted moves. Completing freezes the
// payload; reopening re-enables it. Complete to Test is kept for parity
// with existing workflows.
var statusTransitions = map[model.AssessmentStatus][]model.AssessmentStatus{
	model.StatusInProgress: {model.StatusComplete, model.StatusTest},
	model.StatusComplete:   {model.StatusInProgress, model.StatusTest},
	model.StatusTest:       {model.StatusInProgress},
}

func transitionAllowed(from, to model.AssessmentStatus) bool {
	for _, t := range statusTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// SetAssessmentStatus transitions the assessment's lifecycle state.
func (g *Gateway) SetAssessmentStatus(ctx context.Context, principalID, id string, to model.AssessmentStatus) (*model.Assessment, error) {
	if !to.Valid() {
		return nil, model.ErrBadRequest("unknown status %q", to)
	}

	ref := model.AssessmentRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{PrincipalID: principalID, Action: model.ActionSetAssessmentStatus, Resource: ref}
	if err := g.decide(ctx, check, audit.EventTypeAssessmentStatus); err != nil {
		return nil, err
	}

	event := &audit.Event{
		Type:         audit.EventTypeAssessmentStatus,
		PrincipalID:  principalID,
		ResourceKind: model.KindAssessment,
		ResourceID:   id,
		Metadata:     map[string]any{"to": string(to)},
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		a, err := tx.GetAssessment(id)
		if err != nil {
			return err
		}
		if a.Status == to {
			return nil
		}
		if !transitionAllowed(a.Status, to) {
			return model.ErrInvariant("status cannot move from %s to %s", a.Status, to)
		}
		a.Status = to
		return tx.PutAssessment(a)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetAssessment(ctx, id)
}

// DeleteAssessment removes the assessment and cascades to its images.
func (g *Gateway) DeleteAssessment(ctx context.Context, principalID, id string) error {
	ref := model.AssessmentRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{PrincipalID: principalID, Action: model.ActionDeleteAssessment, Resource: ref}
	if err := g.decide(ctx, check, audit.EventTypeAssessmentDelete); err != nil {
		return err
	}

	var blobKeys []string
	event := &audit.Event{
		Type:         audit.EventTypeAssessmentDelete,
		PrincipalID:  principalID,
		ResourceKind: model.KindAssessment,
		ResourceID:   id,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		keys, err := tx.DeleteAssessment(id)
		if err != nil {
			return err
		}
		blobKeys = keys
		return nil
	})
	if err != nil {
		return err
	}
	g.cleanupBlobs(ctx, blobKeys)
	return nil
}

// DuplicateAssessment copies the assessment. The copy is owned by the
// acting principal, starts in progress with an empty sharing set, and
// carries a deep copy of the payload. Images are not copied.
func (g *Gateway) DuplicateAssessment(ctx context.Context, principalID, id string) (*model.Assessment, error) {
	ref := model.AssessmentRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{PrincipalID: principalID, Action: model.ActionDuplicateAssessment, Resource: ref}
	if err := g.decide(ctx, check, audit.EventTypeAssessmentDuplicate); err != nil {
		return nil, err
	}

	newID := uuid.NewString()
	event := &audit.Event{
		Type:         audit.EventTypeAssessmentDuplicate,
		PrincipalID:  principalID,
		ResourceKind: model.KindAssessment,
		ResourceID:   id,
		Metadata:     map[string]any{"duplicate_id": newID},
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		src, err := tx.GetAssessment(id)
		if err != nil {
			return err
		}
		dup := src.Clone()
		dup.ID = newID
		dup.OwnerID = principalID
		dup.Status = model.StatusInProgress
		dup.SharedWith = model.NewSet()
		dup.FeaturedImageID = ""
		dup.Version = 0
		return tx.PutAssessment(dup)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetAssessment(ctx, newID)
}

// ReassignAssessment transfers ownership to another member of the
// assessment's organisation.
func (g *Gateway) ReassignAssessment(ctx context.Context, principalID, id, targetPrincipalID string) (*model.Assessment, error) {
	ref := model.AssessmentRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{
		PrincipalID:       principalID,
		Action:            model.ActionReassignAssessment,
		Resource:          ref,
		TargetPrincipalID: targetPrincipalID,
	}
	if err := g.decide(ctx, check, audit.EventTypeAssessmentReassign); err != nil {
		return nil, err
	}

	event := &audit.Event{
		Type:              audit.EventTypeAssessmentReassign,
		PrincipalID:       principalID,
		ResourceKind:      model.KindAssessment,
		ResourceID:        id,
		TargetPrincipalID: targetPrincipalID,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		a, err := tx.GetAssessment(id)
		if err != nil {
			return err
		}
		if err := requireOrgMember(tx, a.OrganizationID, targetPrincipalID); err != nil {
			return err
		}
		a.OwnerID = targetPrincipalID
		// Owners have full access; a leftover sharing edge is redundant.
		a.SharedWith.Remove(targetPrincipalID)
		return tx.PutAssessment(a)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetAssessment(ctx, id)
}

// ShareAssessment grants read access to a fellow organisation member.
func (g *Gateway) ShareAssessment(ctx context.Context, principalID, id, targetPrincipalID string) (*model.Assessment, error) {
	return g.setShare(ctx, principalID, id, targetPrincipalID, true)
}

// UnshareAssessment revokes a sharing edge. Revoking an absent edge is a
// no-op.
func (g *Gateway) UnshareAssessment(ctx context.Context, principalID, id, targetPrincipalID string) (*model.Assessment, error) {
	return g.setShare(ctx, principalID, id, targetPrincipalID, false)
}

func (g *Gateway) setShare(ctx context.Context, principalID, id, target string, share bool) (*model.Assessment, error) {
	ref := model.AssessmentRef(id)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	action := model.ActionShareAssessment
	eventType := audit.EventTypeAssessmentShare
	if !share {
		action = model.ActionUnshareAssessment
		eventType = audit.EventTypeAssessmentUnshare
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
		ResourceKind:      model.KindAssessment,
		ResourceID:        id,
		TargetPrincipalID: target,
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		a, err := tx.GetAssessment(id)
		if err != nil {
			return err
		}
		if share {
			if a.OwnerID == target || a.IsSharedWith(target) {
				return nil
			}
			if err := requireOrgMember(tx, a.OrganizationID, target); err != nil {
				return err
			}
			a.SharedWith.Add(target)
		} else {
			if !a.IsSharedWith(target) {
				return nil
			}
			a.SharedWith.Remove(target)
		}
		return tx.PutAssessment(a)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetAssessment(ctx, id)
}

func orID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
