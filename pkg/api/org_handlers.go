package api

import (
	"net/http"

	"github.com/ecoworks/retrofit/pkg/httputil"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
)

// listOrganisations returns the full directory. Reserved for principals
// administering at least one organisation, and superusers.
func (s *Server) listOrganisations(w http.ResponseWriter, r *http.Request) {
	check := oracle.Check{PrincipalID: s.principal(r), Action: model.ActionListOrganisations}
	decision, err := s.oracle.Decide(r.Context(), check)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !decision.Allowed {
		s.writeError(w, decision.Err())
		return
	}

	orgs, err := s.store.ListOrganizations(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, orgs)
}

type createOrganisationRequest struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	InitialAdminID string `json:"initial_admin_id,omitempty"`
}

func (s *Server) createOrganisation(w http.ResponseWriter, r *http.Request) {
	var req createOrganisationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	org, err := s.gateway.CreateOrganization(r.Context(), s.principal(r), req.ID, req.Name, req.InitialAdminID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// getOrganisation returns an organisation to its members and to
// superusers. Organisation denials are never masked: non-members get an
// explicit refusal, not a 404.
func (s *Server) getOrganisation(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	principalID := s.principal(r)
	if principalID == "" {
		s.writeError(w, model.ErrNotAuthenticated("no principal bound to the request"))
		return
	}

	p, err := s.store.GetPrincipal(r.Context(), principalID)
	if err != nil {
		if model.IsNotFound(err) {
			s.writeError(w, model.ErrNotAuthenticated("unknown principal"))
			return
		}
		s.writeError(w, err)
		return
	}

	org, err := s.store.GetOrganization(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !org.HasMember(principalID) && !p.Superuser {
		s.writeError(w, model.ErrNotAuthorized(model.ReasonNotMember, "principal is not a member of the organisation"))
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) deleteOrganisation(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.gateway.DeleteOrganization(r.Context(), s.principal(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listOrganisationAssessments returns the assessments the caller can see
// inside one organisation: all of them for admins, owned and shared ones
// for everyone else.
func (s *Server) listOrganisationAssessments(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	page, ok := s.page(w, r)
	if !ok {
		return
	}
	assessments, err := s.visibility.OrganisationAssessments(r.Context(), s.principal(r), id, page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, assessments)
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req targetPrincipalRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PrincipalID, "principal_id") {
		return
	}
	org, err := s.gateway.AddMember(r.Context(), s.principal(r), id, req.PrincipalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	target, ok := httputil.ParsePathStringOrError(w, r, "principalID")
	if !ok {
		return
	}
	org, err := s.gateway.RemoveMember(r.Context(), s.principal(r), id, target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) promoteLibrarian(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req targetPrincipalRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PrincipalID, "principal_id") {
		return
	}
	org, err := s.gateway.PromoteLibrarian(r.Context(), s.principal(r), id, req.PrincipalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) demoteLibrarian(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	target, ok := httputil.ParsePathStringOrError(w, r, "principalID")
	if !ok {
		return
	}
	org, err := s.gateway.DemoteLibrarian(r.Context(), s.principal(r), id, target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}
