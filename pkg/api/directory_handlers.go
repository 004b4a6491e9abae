package api

import (
	"net/http"

	"github.com/ecoworks/retrofit/pkg/httputil"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
)

// listPrincipals returns the user directory. Reserved for principals
// administering at least one organisation.
func (s *Server) listPrincipals(w http.ResponseWriter, r *http.Request) {
	check := oracle.Check{PrincipalID: s.principal(r), Action: model.ActionListUsers}
	decision, err := s.oracle.Decide(r.Context(), check)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !decision.Allowed {
		s.writeError(w, decision.Err())
		return
	}

	principals, err := s.store.ListPrincipals(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, principals)
}
