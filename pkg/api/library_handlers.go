package api

import (
	"net/http"

	"github.com/ecoworks/retrofit/pkg/gateway"
	"github.com/ecoworks/retrofit/pkg/httputil"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
)

// listLibraries returns every library the caller can see, each annotated
// with can_write and can_share hints.
func (s *Server) listLibraries(w http.ResponseWriter, r *http.Request) {
	page, ok := s.page(w, r)
	if !ok {
		return
	}
	libraries, err := s.visibility.Libraries(r.Context(), s.principal(r), page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, libraries)
}

func (s *Server) createLibrary(w http.ResponseWriter, r *http.Request) {
	var in gateway.CreateLibraryInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if !httputil.RequireNonEmpty(w, in.Name, "name") {
		return
	}
	if !httputil.RequireNonEmpty(w, in.Type, "type") {
		return
	}
	l, err := s.gateway.CreateLibrary(r.Context(), s.principal(r), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, l)
}

func (s *Server) getLibrary(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	check := oracle.Check{
		PrincipalID: s.principal(r),
		Action:      model.ActionReadLibrary,
		Resource:    model.LibraryRef(id),
	}
	decision, err := s.oracle.Decide(r.Context(), check)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !decision.Allowed {
		s.writeError(w, decision.Err())
		return
	}

	l, err := s.store.GetLibrary(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, l)
}

func (s *Server) updateLibrary(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var in gateway.UpdateLibraryInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	l, err := s.gateway.UpdateLibrary(r.Context(), s.principal(r), id, in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, l)
}

func (s *Server) deleteLibrary(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.gateway.DeleteLibrary(r.Context(), s.principal(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type targetOrgRequest struct {
	OrganizationID string `json:"organization_id"`
}

func (s *Server) shareLibrary(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req targetOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.OrganizationID, "organization_id") {
		return
	}
	l, err := s.gateway.ShareLibrary(r.Context(), s.principal(r), id, req.OrganizationID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, l)
}

func (s *Server) unshareLibrary(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	l, err := s.gateway.UnshareLibrary(r.Context(), s.principal(r), id, orgID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, l)
}
