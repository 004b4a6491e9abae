package api

import (
	"net/http"

	"github.com/ecoworks/retrofit/pkg/gateway"
	"github.com/ecoworks/retrofit/pkg/httputil"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
)

// listImages returns an assessment's images. Visibility follows the
// assessment read rule, masked denials included.
func (s *Server) listImages(w http.ResponseWriter, r *http.Request) {
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

	images, err := s.store.ImagesByAssessment(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, images)
}

func (s *Server) attachImage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var in gateway.AttachImageInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	img, err := s.gateway.AttachImage(r.Context(), s.principal(r), id, in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, img)
}

type setFeaturedImageRequest struct {
	ImageID string `json:"image_id"`
}

func (s *Server) setFeaturedImage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req setFeaturedImageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	a, err := s.gateway.SetFeaturedImage(r.Context(), s.principal(r), id, req.ImageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, a)
}

func (s *Server) deleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.gateway.DeleteImage(r.Context(), s.principal(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
