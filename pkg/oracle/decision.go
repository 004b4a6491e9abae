package oracle

import (
	"fmt"

	"github.com/ecoworks/retrofit/pkg/model"
)

// Decision is the outcome of a permission check. Denials carry a stable
// reason code and a human-readable message.
type Decision struct {
	Allowed bool             `json:"allowed"`
	Code    model.ReasonCode `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denial with the given reason code.
func Deny(code model.ReasonCode, format string, args ...any) Decision {
	return Decision{Allowed: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Err converts a denial into the typed error taxonomy. Allowed decisions
// convert to nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Code {
	case model.ReasonNotFound:
		return &model.Error{Kind: model.KindNotFound, Code: d.Code, Message: d.Message}
	case model.ReasonUnauthenticated:
		return &model.Error{Kind: model.KindNotAuthenticated, Code: d.Code, Message: d.Message}
	case model.ReasonStatusLocked, model.ReasonTargetOutsideOrg, model.ReasonLibraryNotOrgOwned, model.ReasonInvariant:
		return &model.Error{Kind: model.KindInvariantViolation, Code: d.Code, Message: d.Message}
	default:
		return &model.Error{Kind: model.KindNotAuthorized, Code: d.Code, Message: d.Message}
	}
}
