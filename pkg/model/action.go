package model

// Action represents an operation on a resource, as submitted to the
// permission oracle.
type Action string

const (
	// Assessment actions
	ActionReadAssessment       Action = "assessment.read"
	ActionUpdateAssessment     Action = "assessment.update"      // non-data fields
	ActionUpdateAssessmentData Action = "assessment.update_data" // opaque payload
	ActionDeleteAssessment     Action = "assessment.delete"
	ActionDuplicateAssessment  Action = "assessment.duplicate"
	ActionReassignAssessment   Action = "assessment.reassign"
	ActionShareAssessment      Action = "assessment.share"
	ActionUnshareAssessment    Action = "assessment.unshare"
	ActionSetAssessmentStatus  Action = "assessment.set_status"

	// Library actions
	ActionReadLibrary    Action = "library.read"
	ActionWriteLibrary   Action = "library.write"
	ActionShareLibrary   Action = "library.share"
	ActionUnshareLibrary Action = "library.unshare"
	ActionCreateLibrary  Action = "library.create"
	// ActionAccessLibrary resolves against the HTTP method of the check:
	// read methods take the read rule, everything else the write rule.
	ActionAccessLibrary Action = "library.access"

	// Organisation actions
	ActionAddMember        Action = "organisation.add_member"
	ActionRemoveMember     Action = "organisation.remove_member"
	ActionPromoteLibrarian Action = "organisation.promote_librarian"
	ActionDemoteLibrarian  Action = "organisation.demote_librarian"

	// Directory actions
	ActionListUsers         Action = "directory.list_users"
	ActionListOrganisations Action = "directory.list_organisations"
)

// IsRead reports whether the action only observes state. Read denials on
// assessments and libraries are masked as not-found.
func (a Action) IsRead() bool {
	switch a {
	case ActionReadAssessment, ActionReadLibrary, ActionListUsers, ActionListOrganisations:
		return true
	}
	return false
}

// ReadMethods are the HTTP methods treated as reads when a single endpoint
// accepts both reads and writes.
var ReadMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"OPTIONS": true,
}

// ResourceKind identifies the kind of resource an action targets.
type ResourceKind string

const (
	KindAssessment   ResourceKind = "assessment"
	KindLibrary      ResourceKind = "library"
	KindOrganisation ResourceKind = "organisation"
	KindNone         ResourceKind = "" // directory-wide actions
)

// ResourceRef identifies a resource by kind and id.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id,omitempty"`
}

// AssessmentRef returns a reference to an assessment.
func AssessmentRef(id string) ResourceRef { return ResourceRef{Kind: KindAssessment, ID: id} }

// LibraryRef returns a reference to a library.
func LibraryRef(id string) ResourceRef { return ResourceRef{Kind: KindLibrary, ID: id} }

// OrganisationRef returns a reference to an organisation.
func OrganisationRef(id string) ResourceRef { return ResourceRef{Kind: KindOrganisation, ID: id} }
