package oracle

import (
	"github.com/ecoworks/retrofit/pkg/model"
)

// rule binds a permission expression to the function that picks the most
// specific denial reason when the expression fails.
type rule struct {
	expr Expr
	deny func(env *Env) Decision
}

// assessmentReadRule is the canonical read rule for assessments:
// IsOwner OR IsAdminOfConnectedOrganisation OR IsSharedWith.
func assessmentReadRule() Expr {
	return AnyOf(
		Is(AtomIsOwner),
		Is(AtomIsAdminOfConnectedOrganisation),
		Is(AtomIsSharedWith),
	)
}

// assessmentOwnRule is the stronger owner-or-admin rule used for delete,
// reassign and share management.
func assessmentOwnRule() Expr {
	return AnyOf(
		Is(AtomIsOwner),
		Is(AtomIsAdminOfConnectedOrganisation),
	)
}

// libraryReadRule: global libraries are readable by everyone; otherwise
// ownership, owning-organisation membership, or a sharing edge into one of
// the principal's organisations is required.
func libraryReadRule() Expr {
	return AnyOf(
		Is(AtomIsLibraryGlobal),
		Is(AtomIsLibraryOwner),
		AllOf(Is(AtomIsLibraryOrganisational), Is(AtomIsMemberOfLibraryOwnerOrg)),
		Is(AtomLibrarySharedWithPrincipalOrg),
	)
}

// libraryWriteRule branches on the ownership shape: personal libraries are
// writable by their owner, organisational ones by the owning
// organisation's librarians, global ones by superusers only.
func libraryWriteRule() Expr {
	return AnyOf(
		AllOf(Is(AtomIsLibraryPersonal), Is(AtomIsLibraryOwner)),
		AllOf(Is(AtomIsLibraryOrganisational), Is(AtomIsLibrarianOfLibraryOwnerOrg)),
		AllOf(Is(AtomIsLibraryGlobal), Is(AtomIsSuperuser)),
	)
}

// libraryShareRule: only organisational libraries can be shared, and only
// by admins of the owning organisation.
func libraryShareRule() Expr {
	return AllOf(Is(AtomIsLibraryOrganisational), Is(AtomIsAdminOfLibraryOwnerOrg))
}

func denyAssessmentWrite(env *Env) Decision {
	return Deny(model.ReasonNotOwner, "principal is neither owner nor admin of the connected organisation")
}

func denyAssessmentShareManage(env *Env) Decision {
	if !Eval(Is(AtomIsInOrganisation), env) {
		return Deny(model.ReasonInvariant, "assessment has no organisation; sharing requires an organisation context")
	}
	if !Eval(assessmentOwnRule(), env) {
		return denyAssessmentWrite(env)
	}
	return Deny(model.ReasonTargetOutsideOrg, "target principal is not a member of the assessment's organisation")
}

func denyLibraryWrite(env *Env) Decision {
	if env.Library == nil {
		return Deny(model.ReasonNotFound, "library not found")
	}
	switch env.Library.Shape() {
	case model.ShapePersonal:
		return Deny(model.ReasonNotOwner, "library is personal and the principal does not own it")
	case model.ShapeOrganisational:
		return Deny(model.ReasonNotLibrarian, "principal is not a librarian of the owning organisation")
	default:
		return Deny(model.ReasonNotAuthorized, "global libraries are writable by superusers only")
	}
}

func denyLibraryShare(env *Env) Decision {
	if !Eval(Is(AtomIsLibraryOrganisational), env) {
		return Deny(model.ReasonLibraryNotOrgOwned, "only organisation-owned libraries can be shared")
	}
	return Deny(model.ReasonNotAdmin, "principal is not an admin of the owning organisation")
}

func denyOrgRole(env *Env) Decision {
	if !Eval(Is(AtomIsMemberOfOrganisation), env) {
		return Deny(model.ReasonNotMember, "principal is not a member of the organisation")
	}
	return Deny(model.ReasonNotAdmin, "principal is not an admin of the organisation")
}

// rules maps every action to its permission rule. The table is the single
// source of truth for composite authorization behaviour; the gateway and
// the visibility resolver both consult it.
var rules = map[model.Action]rule{
	model.ActionReadAssessment: {
		expr: assessmentReadRule(),
		deny: func(env *Env) Decision {
			return Deny(model.ReasonNotAuthorized, "principal cannot read this assessment")
		},
	},
	model.ActionUpdateAssessment: {
		expr: assessmentReadRule(),
		deny: denyAssessmentWrite,
	},
	model.ActionSetAssessmentStatus: {
		expr: assessmentReadRule(),
		deny: denyAssessmentWrite,
	},
	model.ActionUpdateAssessmentData: {
		expr: AllOf(assessmentReadRule(), Is(AtomPayloadUnlocked)),
		deny: func(env *Env) Decision {
			if Eval(assessmentReadRule(), env) {
				return Deny(model.ReasonStatusLocked, "assessment is complete; payload is frozen")
			}
			return denyAssessmentWrite(env)
		},
	},
	model.ActionDeleteAssessment: {
		expr: assessmentOwnRule(),
		deny: denyAssessmentWrite,
	},
	model.ActionDuplicateAssessment: {
		expr: assessmentReadRule(),
		deny: func(env *Env) Decision {
			return Deny(model.ReasonNotAuthorized, "principal cannot read this assessment")
		},
	},
	model.ActionReassignAssessment: {
		expr: AllOf(Is(AtomIsInOrganisation), assessmentOwnRule(), Is(AtomTargetIsOrgMember)),
		deny: denyAssessmentShareManage,
	},
	model.ActionShareAssessment: {
		expr: AllOf(Is(AtomIsInOrganisation), assessmentOwnRule(), Is(AtomTargetIsOrgMember)),
		deny: denyAssessmentShareManage,
	},
	model.ActionUnshareAssessment: {
		expr: AllOf(Is(AtomIsInOrganisation), assessmentOwnRule()),
		deny: func(env *Env) Decision {
			if !Eval(Is(AtomIsInOrganisation), env) {
				return Deny(model.ReasonInvariant, "assessment has no organisation; sharing requires an organisation context")
			}
			return denyAssessmentWrite(env)
		},
	},

	model.ActionReadLibrary: {
		expr: libraryReadRule(),
		deny: func(env *Env) Decision {
			return Deny(model.ReasonNotAuthorized, "principal cannot read this library")
		},
	},
	model.ActionWriteLibrary: {
		expr: libraryWriteRule(),
		deny: denyLibraryWrite,
	},
	model.ActionShareLibrary: {
		expr: libraryShareRule(),
		deny: denyLibraryShare,
	},
	model.ActionUnshareLibrary: {
		expr: libraryShareRule(),
		deny: denyLibraryShare,
	},
	// library.access lets a caller that only knows the HTTP method, such
	// as a fronting proxy asking through the resolve endpoint, get one
	// answer for a dual-method route.
	model.ActionAccessLibrary: {
		expr: ReadWriteSplit(libraryReadRule(), libraryWriteRule()),
		deny: func(env *Env) Decision {
			if env.Method == "" {
				return Deny(model.ReasonBadRequest, "library.access requires a method")
			}
			if model.ReadMethods[env.Method] {
				return Deny(model.ReasonNotAuthorized, "principal cannot read this library")
			}
			return denyLibraryWrite(env)
		},
	},
	model.ActionCreateLibrary: {
		expr: Is(AtomIsLibrarianOfOrganisation),
		deny: func(env *Env) Decision {
			if !Eval(Is(AtomIsMemberOfOrganisation), env) {
				return Deny(model.ReasonNotMember, "principal is not a member of the organisation")
			}
			return Deny(model.ReasonNotLibrarian, "principal is not a librarian of the organisation")
		},
	},

	model.ActionAddMember: {
		expr: Is(AtomIsAdminOfOrganisation),
		deny: denyOrgRole,
	},
	model.ActionRemoveMember: {
		expr: Is(AtomIsAdminOfOrganisation),
		deny: denyOrgRole,
	},
	model.ActionPromoteLibrarian: {
		expr: AllOf(Is(AtomIsAdminOfOrganisation), Is(AtomTargetIsOrgMember)),
		deny: func(env *Env) Decision {
			if !Eval(Is(AtomIsAdminOfOrganisation), env) {
				return denyOrgRole(env)
			}
			return Deny(model.ReasonTargetOutsideOrg, "target principal is not a member of the organisation")
		},
	},
	model.ActionDemoteLibrarian: {
		expr: AllOf(Is(AtomIsAdminOfOrganisation), Is(AtomTargetIsOrgMember)),
		deny: func(env *Env) Decision {
			if !Eval(Is(AtomIsAdminOfOrganisation), env) {
				return denyOrgRole(env)
			}
			return Deny(model.ReasonTargetOutsideOrg, "target principal is not a member of the organisation")
		},
	},

	model.ActionListUsers: {
		expr: Is(AtomIsAdminOfAnyOrganisation),
		deny: func(env *Env) Decision {
			return Deny(model.ReasonNotAdmin, "listing users requires administering an organisation")
		},
	},
	model.ActionListOrganisations: {
		expr: AnyOf(Is(AtomIsAdminOfAnyOrganisation), Is(AtomIsSuperuser)),
		deny: func(env *Env) Decision {
			return Deny(model.ReasonNotAdmin, "listing organisations requires administering an organisation")
		},
	},
}

// RuleFor returns the permission expression for an action. The visibility
// resolver uses this to compute can_write / can_share hints against
// environments it has already loaded.
func RuleFor(action model.Action) (Expr, bool) {
	r, ok := rules[action]
	return r.expr, ok
}

// readRuleForKind returns the read rule guarding existence masking for a
// resource kind, or nil when the kind does not mask.
func readRuleForKind(kind model.ResourceKind) Expr {
	switch kind {
	case model.KindAssessment:
		return assessmentReadRule()
	case model.KindLibrary:
		return libraryReadRule()
	default:
		return nil
	}
}
