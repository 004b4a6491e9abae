package oracle

import (
	"github.com/ecoworks/retrofit/pkg/model"
)

// Env is the evaluation environment for one decision: every snapshot a
// rule may touch, loaded up front. Once built, evaluation performs no
// I/O, so a single decision costs at most the membership sets of one
// organisation plus the resource's own sharing edges.
type Env struct {
	// Principal is the acting principal. Nil means no principal is bound
	// to the call.
	Principal *model.Principal

	// Action being decided and, for dual-method endpoints, the HTTP
	// method the request arrived with.
	Action model.Action
	Method string

	// Assessment and its connected organisation, when the action targets
	// an assessment. Org is nil for personal-scope assessments.
	Assessment    *model.Assessment
	AssessmentOrg *model.Organization

	// Library and its owning organisation, when the action targets a
	// library. OwnerOrg is nil for personal and global libraries.
	Library         *model.Library
	LibraryOwnerOrg *model.Organization

	// Org is the target organisation for organisation-scoped actions
	// (membership changes, library creation).
	Org *model.Organization

	// TargetPrincipalID is the subject of share / reassign / promote
	// actions.
	TargetPrincipalID string

	// PrincipalOrgIDs holds the ids of the organisations the principal
	// belongs to; loaded for library visibility checks.
	PrincipalOrgIDs model.Set

	// AnyAdmin is true when the principal administers at least one
	// organisation; loaded for directory-wide actions.
	AnyAdmin bool
}

func (e *Env) principalID() string {
	if e.Principal == nil {
		return ""
	}
	return e.Principal.ID
}

// connectedOrg returns the organisation relevant to the current resource:
// the assessment's organisation, the library's owning organisation, or the
// explicitly targeted organisation.
func (e *Env) connectedOrg() *model.Organization {
	switch {
	case e.AssessmentOrg != nil:
		return e.AssessmentOrg
	case e.LibraryOwnerOrg != nil:
		return e.LibraryOwnerOrg
	default:
		return e.Org
	}
}

// atom evaluates a single atomic predicate. Unknown state evaluates to
// false, never to an error: absence of evidence is denial.
func (e *Env) atom(kind AtomKind) bool {
	pid := e.principalID()
	switch kind {
	case AtomIsOwner:
		return e.Assessment != nil && pid != "" && e.Assessment.OwnerID == pid
	case AtomIsMemberOfConnectedOrganisation:
		return e.Assessment != nil && e.AssessmentOrg != nil && e.AssessmentOrg.HasMember(pid)
	case AtomIsAdminOfConnectedOrganisation:
		return e.Assessment != nil && e.AssessmentOrg != nil && e.AssessmentOrg.HasAdmin(pid)
	case AtomIsSharedWith:
		return e.Assessment != nil && pid != "" && e.Assessment.IsSharedWith(pid)
	case AtomIsInOrganisation:
		return e.Assessment != nil && e.Assessment.InOrganisation()
	case AtomPayloadUnlocked:
		return e.Assessment != nil && e.Assessment.Status != model.StatusComplete

	case AtomIsMemberOfOrganisation:
		org := e.connectedOrg()
		return org != nil && org.HasMember(pid)
	case AtomIsAdminOfOrganisation:
		org := e.connectedOrg()
		return org != nil && org.HasAdmin(pid)
	case AtomIsLibrarianOfOrganisation:
		org := e.connectedOrg()
		return org != nil && org.HasLibrarian(pid)
	case AtomTargetIsOrgMember:
		org := e.connectedOrg()
		return org != nil && e.TargetPrincipalID != "" && org.HasMember(e.TargetPrincipalID)

	case AtomIsLibraryOwner:
		return e.Library != nil && pid != "" && e.Library.Shape() == model.ShapePersonal && e.Library.OwnerUserID == pid
	case AtomIsLibraryPersonal:
		return e.Library != nil && e.Library.Shape() == model.ShapePersonal
	case AtomIsLibraryOrganisational:
		return e.Library != nil && e.Library.Shape() == model.ShapeOrganisational
	case AtomIsLibraryGlobal:
		return e.Library != nil && e.Library.Shape() == model.ShapeGlobal
	case AtomIsMemberOfLibraryOwnerOrg:
		return e.Library != nil && e.LibraryOwnerOrg != nil && e.LibraryOwnerOrg.HasMember(pid)
	case AtomIsLibrarianOfLibraryOwnerOrg:
		return e.Library != nil && e.LibraryOwnerOrg != nil && e.LibraryOwnerOrg.HasLibrarian(pid)
	case AtomIsAdminOfLibraryOwnerOrg:
		return e.Library != nil && e.LibraryOwnerOrg != nil && e.LibraryOwnerOrg.HasAdmin(pid)
	case AtomLibrarySharedWithPrincipalOrg:
		if e.Library == nil || e.PrincipalOrgIDs == nil {
			return false
		}
		for orgID := range e.PrincipalOrgIDs {
			if e.Library.IsSharedWithOrg(orgID) {
				return true
			}
		}
		return false

	case AtomIsAdminOfAnyOrganisation:
		return e.AnyAdmin
	case AtomIsSuperuser:
		return e.Principal != nil && e.Principal.Superuser

	case AtomIsReadRequest:
		if e.Method != "" {
			return model.ReadMethods[e.Method]
		}
		return e.Action.IsRead()
	case AtomIsWriteRequest:
		if e.Method != "" {
			return !model.ReadMethods[e.Method]
		}
		return !e.Action.IsRead()
	}
	return false
}
