package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoworks/retrofit/pkg/model"
)

func orgWith(id string, members []string, roles ...func(*model.Organization)) *model.Organization {
	org := model.NewOrganization(id, id)
	for _, m := range members {
		org.AddMember(m)
	}
	for _, apply := range roles {
		apply(org)
	}
	return org
}

func asLibrarian(ids ...string) func(*model.Organization) {
	return func(org *model.Organization) {
		for _, id := range ids {
			org.AddMember(id)
			if err := org.AddLibrarian(id); err != nil {
				panic(err)
			}
		}
	}
}

func asAdmin(ids ...string) func(*model.Organization) {
	return func(org *model.Organization) {
		for _, id := range ids {
			org.AddMember(id)
			if err := org.AddAdmin(id); err != nil {
				panic(err)
			}
		}
	}
}

func TestAssessmentRules(t *testing.T) {
	org := orgWith("org1", []string{"owner", "peer", "stranger-member"}, asAdmin("admin"))

	assessment := &model.Assessment{
		ID:             "a1",
		OwnerID:        "owner",
		OrganizationID: "org1",
		Status:         model.StatusInProgress,
		SharedWith:     model.NewSet("peer"),
	}

	tests := []struct {
		name      string
		principal string
		action    model.Action
		target    string
		allowed   bool
		code      model.ReasonCode
	}{
		{name: "owner reads", principal: "owner", action: model.ActionReadAssessment, allowed: true},
		{name: "admin reads", principal: "admin", action: model.ActionReadAssessment, allowed: true},
		{name: "shared-with reads", principal: "peer", action: model.ActionReadAssessment, allowed: true},
		{name: "plain member cannot read", principal: "stranger-member", action: model.ActionReadAssessment, allowed: false, code: model.ReasonNotFound},

		{name: "shared-with edits", principal: "peer", action: model.ActionUpdateAssessment, allowed: true},
		{name: "shared-with edits payload", principal: "peer", action: model.ActionUpdateAssessmentData, allowed: true},
		{name: "shared-with cannot delete", principal: "peer", action: model.ActionDeleteAssessment, allowed: false, code: model.ReasonNotOwner},
		{name: "admin deletes", principal: "admin", action: model.ActionDeleteAssessment, allowed: true},

		{name: "owner shares to member", principal: "owner", action: model.ActionShareAssessment, target: "peer", allowed: true},
		{name: "owner cannot share outside org", principal: "owner", action: model.ActionShareAssessment, target: "elsewhere", allowed: false, code: model.ReasonTargetOutsideOrg},
		{name: "peer cannot share", principal: "peer", action: model.ActionShareAssessment, target: "stranger-member", allowed: false, code: model.ReasonNotOwner},
		{name: "admin reassigns to member", principal: "admin", action: model.ActionReassignAssessment, target: "peer", allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Env{
				Principal:         &model.Principal{ID: tt.principal},
				Action:            tt.action,
				Assessment:        assessment,
				AssessmentOrg:     org,
				TargetPrincipalID: tt.target,
			}
			d := DecideInEnv(env)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Equal(t, tt.code, d.Code, "message: %s", d.Message)
			}
		})
	}
}

func TestPayloadLocksWhenComplete(t *testing.T) {
	org := orgWith("org1", []string{"owner"})
	assessment := &model.Assessment{
		ID:             "a1",
		OwnerID:        "owner",
		OrganizationID: "org1",
		Status:         model.StatusComplete,
		SharedWith:     model.NewSet(),
	}
	env := &Env{
		Principal:     &model.Principal{ID: "owner"},
		Action:        model.ActionUpdateAssessmentData,
		Assessment:    assessment,
		AssessmentOrg: org,
	}

	d := DecideInEnv(env)
	require.False(t, d.Allowed)
	assert.Equal(t, model.ReasonStatusLocked, d.Code)

	// Non-payload fields stay editable while complete.
	env.Action = model.ActionUpdateAssessment
	assert.True(t, DecideInEnv(env).Allowed)

	// Reopening is what unlocks the payload.
	env.Action = model.ActionSetAssessmentStatus
	assert.True(t, DecideInEnv(env).Allowed)
}

func TestPersonalAssessmentSharingRequiresOrganisation(t *testing.T) {
	assessment := &model.Assessment{
		ID:         "a1",
		OwnerID:    "owner",
		Status:     model.StatusInProgress,
		SharedWith: model.NewSet(),
	}
	env := &Env{
		Principal:         &model.Principal{ID: "owner"},
		Action:            model.ActionShareAssessment,
		Assessment:        assessment,
		TargetPrincipalID: "peer",
	}

	d := DecideInEnv(env)
	require.False(t, d.Allowed)
	assert.Equal(t, model.ReasonInvariant, d.Code)
}

func TestLibraryRules(t *testing.T) {
	owner := orgWith("org1", []string{"member"}, asLibrarian("librarian"), asAdmin("admin"))
	foreign := model.NewSet("org2")

	personal := &model.Library{ID: "lp", Name: "mine", OwnerUserID: "solo", SharedWith: model.NewSet()}
	organisational := &model.Library{ID: "lo", Name: "ours", OwnerOrgID: "org1", SharedWith: model.NewSet("org2")}
	global := &model.Library{ID: "lg", Name: "everyone", SharedWith: model.NewSet()}

	tests := []struct {
		name      string
		principal *model.Principal
		action    model.Action
		library   *model.Library
		ownerOrg  *model.Organization
		orgIDs    model.Set
		allowed   bool
		code      model.ReasonCode
	}{
		{name: "personal owner reads", principal: &model.Principal{ID: "solo"}, action: model.ActionReadLibrary, library: personal, allowed: true},
		{name: "personal owner writes", principal: &model.Principal{ID: "solo"}, action: model.ActionWriteLibrary, library: personal, allowed: true},
		{name: "outsider cannot read personal", principal: &model.Principal{ID: "member"}, action: model.ActionReadLibrary, library: personal, allowed: false, code: model.ReasonNotFound},

		{name: "org member reads", principal: &model.Principal{ID: "member"}, action: model.ActionReadLibrary, library: organisational, ownerOrg: owner, allowed: true},
		{name: "org member cannot write", principal: &model.Principal{ID: "member"}, action: model.ActionWriteLibrary, library: organisational, ownerOrg: owner, allowed: false, code: model.ReasonNotLibrarian},
		{name: "librarian writes", principal: &model.Principal{ID: "librarian"}, action: model.ActionWriteLibrary, library: organisational, ownerOrg: owner, allowed: true},
		{name: "librarian cannot share", principal: &model.Principal{ID: "librarian"}, action: model.ActionShareLibrary, library: organisational, ownerOrg: owner, allowed: false, code: model.ReasonNotAdmin},
		{name: "admin shares", principal: &model.Principal{ID: "admin"}, action: model.ActionShareLibrary, library: organisational, ownerOrg: owner, allowed: true},
		{name: "recipient org member reads via share", principal: &model.Principal{ID: "neighbour"}, action: model.ActionReadLibrary, library: organisational, ownerOrg: owner, orgIDs: foreign, allowed: true},
		{name: "recipient cannot write via share", principal: &model.Principal{ID: "neighbour"}, action: model.ActionWriteLibrary, library: organisational, ownerOrg: owner, orgIDs: foreign, allowed: false, code: model.ReasonNotLibrarian},

		{name: "anyone reads global", principal: &model.Principal{ID: "member"}, action: model.ActionReadLibrary, library: global, allowed: true},
		{name: "non-superuser cannot write global", principal: &model.Principal{ID: "member"}, action: model.ActionWriteLibrary, library: global, allowed: false, code: model.ReasonNotAuthorized},
		{name: "superuser writes global", principal: &model.Principal{ID: "root", Superuser: true}, action: model.ActionWriteLibrary, library: global, allowed: true},
		{name: "global library cannot be shared", principal: &model.Principal{ID: "root", Superuser: true}, action: model.ActionShareLibrary, library: global, allowed: false, code: model.ReasonLibraryNotOrgOwned},
		{name: "personal library cannot be shared", principal: &model.Principal{ID: "solo"}, action: model.ActionShareLibrary, library: personal, allowed: false, code: model.ReasonLibraryNotOrgOwned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Env{
				Principal:       tt.principal,
				Action:          tt.action,
				Library:         tt.library,
				LibraryOwnerOrg: tt.ownerOrg,
				PrincipalOrgIDs: tt.orgIDs,
			}
			d := DecideInEnv(env)
			assert.Equal(t, tt.allowed, d.Allowed, "message: %s", d.Message)
			if !tt.allowed {
				assert.Equal(t, tt.code, d.Code)
			}
		})
	}
}

func TestOrganisationRules(t *testing.T) {
	org := orgWith("org1", []string{"member", "target"}, asLibrarian("librarian"), asAdmin("admin"))

	tests := []struct {
		name      string
		principal string
		action    model.Action
		target    string
		allowed   bool
		code      model.ReasonCode
	}{
		{name: "admin adds member", principal: "admin", action: model.ActionAddMember, target: "newcomer", allowed: true},
		{name: "member cannot add", principal: "member", action: model.ActionAddMember, target: "newcomer", allowed: false, code: model.ReasonNotAdmin},
		{name: "librarian cannot add", principal: "librarian", action: model.ActionAddMember, target: "newcomer", allowed: false, code: model.ReasonNotAdmin},
		{name: "outsider gets not-member", principal: "outsider", action: model.ActionAddMember, target: "newcomer", allowed: false, code: model.ReasonNotMember},
		{name: "admin promotes member", principal: "admin", action: model.ActionPromoteLibrarian, target: "target", allowed: true},
		{name: "admin cannot promote outsider", principal: "admin", action: model.ActionPromoteLibrarian, target: "elsewhere", allowed: false, code: model.ReasonTargetOutsideOrg},
		{name: "admin demotes librarian", principal: "admin", action: model.ActionDemoteLibrarian, target: "librarian", allowed: true},
		{name: "admin removes member", principal: "admin", action: model.ActionRemoveMember, target: "member", allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Env{
				Principal:         &model.Principal{ID: tt.principal},
				Action:            tt.action,
				Org:               org,
				TargetPrincipalID: tt.target,
			}
			d := DecideInEnv(env)
			assert.Equal(t, tt.allowed, d.Allowed, "message: %s", d.Message)
			if !tt.allowed {
				assert.Equal(t, tt.code, d.Code)
			}
		})
	}
}

func TestDirectoryRules(t *testing.T) {
	tests := []struct {
		name      string
		principal *model.Principal
		anyAdmin  bool
		action    model.Action
		allowed   bool
	}{
		{name: "admin lists users", principal: &model.Principal{ID: "u"}, anyAdmin: true, action: model.ActionListUsers, allowed: true},
		{name: "non-admin cannot list users", principal: &model.Principal{ID: "u"}, action: model.ActionListUsers, allowed: false},
		{name: "superuser lists organisations", principal: &model.Principal{ID: "root", Superuser: true}, action: model.ActionListOrganisations, allowed: true},
		{name: "non-admin cannot list organisations", principal: &model.Principal{ID: "u"}, action: model.ActionListOrganisations, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Env{Principal: tt.principal, Action: tt.action, AnyAdmin: tt.anyAdmin}
			d := DecideInEnv(env)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Equal(t, model.ReasonNotAdmin, d.Code)
			}
		})
	}
}
