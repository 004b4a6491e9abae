package audit

import (
	"encoding/json"
	"time"

	"github.com/ecoworks/retrofit/pkg/model"
)

// EventType categorises an audit event.
type EventType string

const (
	// Authorization events
	EventTypeAccessCheck  EventType = "authz.access_check"
	EventTypeAccessDenied EventType = "authz.access_denied"

	// Assessment events
	EventTypeAssessmentCreate    EventType = "assessment.create"
	EventTypeAssessmentUpdate    EventType = "assessment.update"
	EventTypeAssessmentData      EventType = "assessment.data_update"
	EventTypeAssessmentStatus    EventType = "assessment.status_change"
	EventTypeAssessmentDelete    EventType = "assessment.delete"
	EventTypeAssessmentDuplicate EventType = "assessment.duplicate"
	EventTypeAssessmentReassign  EventType = "assessment.reassign"
	EventTypeAssessmentShare     EventType = "assessment.share"
	EventTypeAssessmentUnshare   EventType = "assessment.unshare"

	// Library events
	EventTypeLibraryCreate  EventType = "library.create"
	EventTypeLibraryUpdate  EventType = "library.update"
	EventTypeLibraryDelete  EventType = "library.delete"
	EventTypeLibraryShare   EventType = "library.share"
	EventTypeLibraryUnshare EventType = "library.unshare"

	// Membership events
	EventTypeMemberAdd        EventType = "organisation.member_add"
	EventTypeMemberRemove     EventType = "organisation.member_remove"
	EventTypeLibrarianPromote EventType = "organisation.librarian_promote"
	EventTypeLibrarianDemote  EventType = "organisation.librarian_demote"
	EventTypeOrgCreate        EventType = "organisation.create"
	EventTypeOrgDelete        EventType = "organisation.delete"

	// Image events
	EventTypeImageAttach EventType = "image.attach"
	EventTypeImageDelete EventType = "image.delete"
)

// EventStatus is the outcome of the audited operation.
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusDenied  EventStatus = "denied"
	EventStatusFailed  EventStatus = "failed"
)

// Event is a single audit record. Events are append-only and written
// after the operation's outcome is known.
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"type"`
	Status    EventStatus `json:"status"`

	PrincipalID string `json:"principal_id,omitempty"`

	ResourceKind model.ResourceKind `json:"resource_kind,omitempty"`
	ResourceID   string             `json:"resource_id,omitempty"`

	// TargetPrincipalID is the subject of share, reassign and membership
	// events.
	TargetPrincipalID string `json:"target_principal_id,omitempty"`

	ReasonCode model.ReasonCode `json:"reason_code,omitempty"`
	Message    string           `json:"message,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToJSON serialises the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an event.
func FromJSON(data []byte) (*Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return &e, err
}
