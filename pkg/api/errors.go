package api

import (
	"errors"
	"net/http"

	"github.com/ecoworks/retrofit/pkg/httputil"
	"github.com/ecoworks/retrofit/pkg/model"
)

// writeError translates a typed core error into a status code and the
// shared error body. Unrecognised errors become opaque 500s.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	code := string(model.CodeOf(err))
	message := ""
	var e *model.Error
	if errors.As(err, &e) {
		message = e.Message
	}

	switch kind {
	case model.KindNotFound:
		httputil.WriteErrorCode(w, http.StatusNotFound, code, message)
	case model.KindNotAuthenticated, model.KindNotAuthorized:
		httputil.WriteErrorCode(w, http.StatusForbidden, code, message)
	case model.KindInvariantViolation, model.KindBadRequest:
		httputil.WriteErrorCode(w, http.StatusBadRequest, code, message)
	case model.KindConflict:
		httputil.WriteErrorCode(w, http.StatusConflict, code, message)
	default:
		s.log.WithError(err).Error("internal error")
		httputil.WriteInternalError(w)
	}
}
