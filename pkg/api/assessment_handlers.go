package api

import (
	"net/http"

	"github.com/ecoworks/retrofit/pkg/gateway"
	"github.com/ecoworks/retrofit/pkg/httputil"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
)

// listAssessments returns every assessment the caller can see, merged
// across ownership, sharing and admin oversight, ordered by id.
func (s *Server) listAssessments(w http.ResponseWriter, r *http.Request) {
	page, ok := s.page(w, r)
	if !ok {
		return
	}
	assessments, err := s.visibility.Assessments(r.Context(), s.principal(r), page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, assessments)
}

func (s *Server) createAssessment(w http.ResponseWriter, r *http.Request) {
	var in gateway.CreateAssessmentInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	a, err := s.gateway.CreateAssessment(r.Context(), s.principal(r), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, a)
}

func (s *Server) getAssessment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	check := oracle.Check{
		PrincipalID: s.principal(r),
		Action:      model.ActionReadAssessment,
		Resource:    model.AssessmentRef(id),
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

	a, err := s.store.GetAssessment(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, a)
}

func (s *Server) updateAssessment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var in gateway.UpdateAssessmentInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	a, err := s.gateway.UpdateAssessment(r.Context(), s.principal(r), id, in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, a)
}

func (s *Server) updateAssessmentData(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var data map[string]any
	if !httputil.ParseJSONOrError(w, r, &data) {
		return
	}
	a, err := s.gateway.UpdateAssessmentData(r.Context(), s.principal(r), id, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, a)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) setAssessmentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req setStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	a, err := s.gateway.SetAssessmentStatus(r.Context(), s.principal(r), id, model.AssessmentStatus(req.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, a)
}

func (s *Server) deleteAssessment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.gateway.DeleteAssessment(r.Context(), s.principal(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) duplicateAssessment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	a, err := s.gateway.DuplicateAssessment(r.Context(), s.principal(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, a)
}

type targetPrincipalRequest struct {
	PrincipalID string `json:"principal_id"`
}

func (s *Server) reassignAssessment(w http.ResponseWriter, r *http.Request) {
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
	a, err := s.gateway.ReassignAssessment(r.Context(), s.principal(r), id, req.PrincipalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, a)
}

func (s *Server) shareAssessment(w http.ResponseWriter, r *http.Request) {
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
	a, err := s.gateway.ShareAssessment(r.Context(), s.principal(r), id, req.PrincipalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, a)
}

func (s *Server) unshareAssessment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	target, ok := httputil.ParsePathStringOrError(w, r, "principalID")
	if !ok {
		return
	}
	a, err := s.gateway.UnshareAssessment(r.Context(), s.principal(r), id, target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, a)
}
