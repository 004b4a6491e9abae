package model

import "time"

// AssessmentStatus represents the lifecycle state of an assessment.
type AssessmentStatus string

const (
	StatusInProgress AssessmentStatus = "in_progress"
	StatusComplete   AssessmentStatus = "complete"
	StatusTest       AssessmentStatus = "test"
)

// Valid reports whether the status is one of the known states.
func (s AssessmentStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusComplete, StatusTest:
		return true
	}
	return false
}

// Assessment represents an owned retrofit assessment document. The owner is
// always set; an assessment without an owner cannot exist. While the status
// is Complete the payload is frozen.
type Assessment struct {
	ID              string           `json:"id"`
	Name            string           `json:"name,omitempty"`
	Address         string           `json:"address,omitempty"`
	OwnerID         string           `json:"owner_id"`
	OrganizationID  string           `json:"organization_id,omitempty"` // empty = personal scope
	Status          AssessmentStatus `json:"status"`
	SharedWith      Set              `json:"shared_with"`
	FeaturedImageID string           `json:"featured_image_id,omitempty"`
	Data            map[string]any   `json:"data,omitempty"` // opaque payload
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Version         int64            `json:"version"`
}

// NewAssessment creates an in-progress assessment owned by ownerID.
// organizationID may be empty for a personal-scope assessment.
func NewAssessment(id, ownerID, organizationID string) *Assessment {
	return &Assessment{
		ID:             id,
		OwnerID:        ownerID,
		OrganizationID: organizationID,
		Status:         StatusInProgress,
		SharedWith:     NewSet(),
		Data:           map[string]any{},
	}
}

// InOrganisation reports whether the assessment is attached to an
// organisation. Sharing requires an organisation context.
func (a *Assessment) InOrganisation() bool {
	return a.OrganizationID != ""
}

// IsSharedWith reports whether the principal is in the shared_with set.
func (a *Assessment) IsSharedWith(principalID string) bool {
	return a.SharedWith.Has(principalID)
}

// Clone returns an independent copy of the assessment, including a deep
// copy of the opaque payload.
func (a *Assessment) Clone() *Assessment {
	c := *a
	c.SharedWith = a.SharedWith.Clone()
	c.Data = cloneMap(a.Data)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			c[k] = cloneMap(nested)
			continue
		}
		c[k] = v
	}
	return c
}
