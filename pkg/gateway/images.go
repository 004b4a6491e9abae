package gateway

import (
	"context"

	"github.com/ecoworks/retrofit/pkg/audit"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
)

// AttachImageInput carries the fields of a new image record. The blob
// itself is uploaded separately; BlobKey references it.
type AttachImageInput struct {
	ID      string `json:"id,omitempty"`
	Caption string `json:"caption,omitempty"`
	BlobKey string `json:"blob_key"`
}

// AttachImage records an image against an assessment. Requires write
// access to the assessment.
func (g *Gateway) AttachImage(ctx context.Context, principalID, assessmentID string, in AttachImageInput) (*model.Image, error) {
	if in.BlobKey == "" {
		return nil, model.ErrBadRequest("blob key is required")
	}

	ref := model.AssessmentRef(assessmentID)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{PrincipalID: principalID, Action: model.ActionUpdateAssessment, Resource: ref}
	if err := g.decide(ctx, check, audit.EventTypeImageAttach); err != nil {
		return nil, err
	}

	img := &model.Image{
		ID:           orID(in.ID),
		AssessmentID: assessmentID,
		Caption:      in.Caption,
		BlobKey:      in.BlobKey,
	}
	event := &audit.Event{
		Type:         audit.EventTypeImageAttach,
		PrincipalID:  principalID,
		ResourceKind: model.KindAssessment,
		ResourceID:   assessmentID,
		Metadata:     map[string]any{"image_id": img.ID},
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		return tx.PutImage(img)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetImage(ctx, img.ID)
}

// DeleteImage removes an image record and its blob. A featured-image
// reference pointing at it is cleared.
func (g *Gateway) DeleteImage(ctx context.Context, principalID, imageID string) error {
	img, err := g.store.GetImage(ctx, imageID)
	if err != nil {
		return err
	}

	ref := model.AssessmentRef(img.AssessmentID)
	unlock := g.locks.lock(lockKey(ref))
	defer unlock()

	check := oracle.Check{PrincipalID: principalID, Action: model.ActionUpdateAssessment, Resource: ref}
	if err := g.decide(ctx, check, audit.EventTypeImageDelete); err != nil {
		return err
	}

	event := &audit.Event{
		Type:         audit.EventTypeImageDelete,
		PrincipalID:  principalID,
		ResourceKind: model.KindAssessment,
		ResourceID:   img.AssessmentID,
		Metadata:     map[string]any{"image_id": imageID},
	}
	err = g.commit(ctx, event, func(tx store.Tx) error {
		return tx.DeleteImage(imageID)
	})
	if err != nil {
		return err
	}
	g.cleanupBlobs(ctx, []string{img.BlobKey})
	return nil
}

// SetFeaturedImage marks one of the assessment's images as featured. An
// empty imageID clears the selection.
func (g *Gateway) SetFeaturedImage(ctx context.Context, principalID, assessmentID, imageID string) (*model.Assessment, error) {
	ref := model.AssessmentRef(assessmentID)
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
		ResourceID:   assessmentID,
		Metadata:     map[string]any{"featured_image_id": imageID},
	}
	err := g.commit(ctx, event, func(tx store.Tx) error {
		a, err := tx.GetAssessment(assessmentID)
		if err != nil {
			return err
		}
		if imageID != "" {
			img, err := tx.GetImage(imageID)
			if err != nil {
				return err
			}
			if img.AssessmentID != assessmentID {
				return model.ErrBadRequest("image %s belongs to a different assessment", imageID)
			}
		}
		a.FeaturedImageID = imageID
		return tx.PutAssessment(a)
	})
	if err != nil {
		return nil, err
	}
	return g.store.GetAssessment(ctx, assessmentID)
}
