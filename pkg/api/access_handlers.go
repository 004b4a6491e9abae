package api

import (
	"net/http"

	"github.com/ecoworks/retrofit/pkg/httputil"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
)

type resolveAccessRequest struct {
	Action   string `json:"action"`
	Resource struct {
		Kind string `json:"kind"`
		ID   string `json:"id,omitempty"`
	} `json:"resource"`
	TargetPrincipalID string `json:"target_principal_id,omitempty"`
	Method            string `json:"method,omitempty"`
}

// resolveAccess answers a single permission question. The response is
// always 200; the decision payload carries the outcome and, for
// denials, the stable reason code.
func (s *Server) resolveAccess(w http.ResponseWriter, r *http.Request) {
	var req resolveAccessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Action == "" {
		httputil.WriteBadRequest(w, "action is required")
		return
	}

	check := oracle.Check{
		PrincipalID: s.principal(r),
		Action:      model.Action(req.Action),
		Resource: model.ResourceRef{
			Kind: model.ResourceKind(req.Resource.Kind),
			ID:   req.Resource.ID,
		},
		TargetPrincipalID: req.TargetPrincipalID,
		Method:            req.Method,
	}

	decision, err := s.oracle.Decide(r.Context(), check)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.metrics != nil {
		outcome := "allowed"
		if !decision.Allowed {
			outcome = "denied"
		}
		s.metrics.DecisionsTotal.WithLabelValues(string(check.Action), outcome, string(decision.Code)).Inc()
	}
	httputil.WriteSuccess(w, decision)
}
