package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/ecoworks/retrofit/pkg/contextkeys"
)

// Authenticator maps a bearer token to a principal id. Identity
// management itself stays external; the core only needs to know who is
// calling.
type Authenticator interface {
	PrincipalID(ctx context.Context, token string) (string, bool)
}

// StaticTokenAuthenticator is a token table for deployments fronted by
// a gateway that issues service tokens, and for tests.
type StaticTokenAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStaticTokenAuthenticator builds an authenticator over a
// token-to-principal table.
func NewStaticTokenAuthenticator(tokens map[string]string) *StaticTokenAuthenticator {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticTokenAuthenticator{tokens: copied}
}

// Register binds a token to a principal id.
func (a *StaticTokenAuthenticator) Register(token, principalID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = principalID
}

// PrincipalID resolves a token to a principal id.
func (a *StaticTokenAuthenticator) PrincipalID(_ context.Context, token string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.tokens[token]
	return id, ok
}

// PrincipalMiddleware binds the request to a principal from the bearer
// token. Requests without a resolvable principal proceed
// unauthenticated; the permission checks downstream refuse them with a
// stable reason instead of a transport-level rejection.
func PrincipalMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				if id, found := auth.PrincipalID(r.Context(), token); found {
					r = r.WithContext(contextkeys.WithPrincipalID(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetPrincipalID extracts the principal id from the request, empty when
// unauthenticated.
func GetPrincipalID(r *http.Request) string {
	return contextkeys.GetPrincipalID(r.Context())
}
