package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoworks/retrofit/pkg/gateway"
	"github.com/ecoworks/retrofit/pkg/middleware"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/observability"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
	"github.com/ecoworks/retrofit/pkg/visibility"
)

type testServer struct {
	store   *store.MemoryStore
	server  *Server
	handler http.Handler
}

// Tokens follow the principal id: principal "alice" authenticates with
// token "tok-alice".
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewMemoryStore()

	err := s.Update(context.Background(), func(tx store.Tx) error {
		for _, id := range []string{"alice", "bob", "carol", "outsider"} {
			if err := tx.PutPrincipal(&model.Principal{ID: id}); err != nil {
				return err
			}
		}
		if err := tx.PutPrincipal(&model.Principal{ID: "root", Superuser: true}); err != nil {
			return err
		}

		org := model.NewOrganization("org1", "Retrofit North")
		for _, m := range []string{"alice", "bob", "carol"} {
			org.AddMember(m)
		}
		if err := org.AddAdmin("carol"); err != nil {
			return err
		}
		if err := org.AddLibrarian("alice"); err != nil {
			return err
		}
		return tx.PutOrganization(org)
	})
	require.NoError(t, err)

	auth := middleware.NewStaticTokenAuthenticator(map[string]string{})
	for _, id := range []string{"alice", "bob", "carol", "outsider", "root", "ghost"} {
		auth.Register("tok-"+id, id)
	}

	cache := oracle.NewDecisionCache(0, 0)
	orc := oracle.New(s, oracle.WithCache(cache))
	gw := gateway.New(s, orc, gateway.WithDecisionCache(cache))
	vis := visibility.New(s)

	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})

	srv := NewServer(s, gw, vis, orc,
		WithAuthenticator(auth),
		WithLogger(log),
		WithMetrics(observability.NewMetrics(nil)),
	)
	return &testServer{store: s, server: srv, handler: srv.Handler()}
}

func (ts *testServer) do(t *testing.T, principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if principal != "" {
		req.Header.Set("Authorization", "Bearer tok-"+principal)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Code
}

func TestAssessmentLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id":              "a1",
		"name":            "Terrace retrofit",
		"organization_id": "org1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[model.Assessment](t, rec)
	assert.Equal(t, "alice", created.OwnerID)
	assert.Equal(t, model.StatusInProgress, created.Status)

	rec = ts.do(t, "alice", http.MethodGet, "/v1/assessments/a1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, "alice", http.MethodPatch, "/v1/assessments/a1", map[string]any{"name": "Mid-terrace retrofit"})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[model.Assessment](t, rec)
	assert.Equal(t, "Mid-terrace retrofit", updated.Name)

	rec = ts.do(t, "alice", http.MethodPut, "/v1/assessments/a1/data", map[string]any{"walls": "solid brick"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, "alice", http.MethodDelete, "/v1/assessments/a1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, "alice", http.MethodGet, "/v1/assessments/a1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAssessmentWithoutName(t *testing.T) {
	ts := newTestServer(t)

	// The name is descriptive metadata, not a required field. Clients may
	// create an assessment from an id alone and fill the rest in later.
	rec := ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{"id": "a1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[model.Assessment](t, rec)
	assert.Equal(t, "a1", created.ID)
	assert.Empty(t, created.Name)
	assert.Empty(t, created.OrganizationID)

	rec = ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a2", "organization_id": "org1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "org1", decodeBody[model.Assessment](t, rec).OrganizationID)
}

func TestMaskedDenialReadsAsNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a1", "name": "Terrace retrofit", "organization_id": "org1",
	})

	// bob is a plain member with no share: existence is masked.
	rec := ts.do(t, "bob", http.MethodGet, "/v1/assessments/a1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	// An unauthenticated caller is refused, never masked.
	rec = ts.do(t, "", http.MethodGet, "/v1/assessments/a1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))

	// A token resolving to an unknown principal is also unauthenticated.
	rec = ts.do(t, "ghost", http.MethodGet, "/v1/assessments/a1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))
}

func TestStatusLockedMapsToBadRequest(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a1", "name": "Terrace retrofit", "organization_id": "org1",
	})

	rec := ts.do(t, "alice", http.MethodPut, "/v1/assessments/a1/status", map[string]any{"status": "complete"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, "alice", http.MethodPut, "/v1/assessments/a1/data", map[string]any{"walls": "cavity"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "STATUS_LOCKED", errorCode(t, rec))

	// Descriptive fields stay editable while complete.
	rec = ts.do(t, "alice", http.MethodPatch, "/v1/assessments/a1", map[string]any{"address": "12 Hill St"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSharingOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a1", "name": "Terrace retrofit", "organization_id": "org1",
	})

	rec := ts.do(t, "alice", http.MethodPost, "/v1/assessments/a1/shares", map[string]any{"principal_id": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, "bob", http.MethodGet, "/v1/assessments/a1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Sharing outside the organisation is a structural refusal.
	rec = ts.do(t, "alice", http.MethodPost, "/v1/assessments/a1/shares", map[string]any{"principal_id": "outsider"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "TARGET_OUTSIDE_ORG", errorCode(t, rec))

	rec = ts.do(t, "alice", http.MethodDelete, "/v1/assessments/a1/shares/bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, "bob", http.MethodGet, "/v1/assessments/a1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVisibleAssessmentListing(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a1", "name": "One", "organization_id": "org1",
	})
	ts.do(t, "bob", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a2", "name": "Two", "organization_id": "org1",
	})
	ts.do(t, "alice", http.MethodPost, "/v1/assessments/a1/shares", map[string]any{"principal_id": "bob"})

	rec := ts.do(t, "bob", http.MethodGet, "/v1/assessments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]*model.Assessment](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "a1", list[0].ID)
	assert.Equal(t, "a2", list[1].ID)

	// carol administers org1 and sees everything in it.
	rec = ts.do(t, "carol", http.MethodGet, "/v1/organisations/org1/assessments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]*model.Assessment](t, rec), 2)

	// Pagination applies after the merge.
	rec = ts.do(t, "bob", http.MethodGet, "/v1/assessments?offset=1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	paged := decodeBody[[]*model.Assessment](t, rec)
	require.Len(t, paged, 1)
	assert.Equal(t, "a2", paged[0].ID)
}

func TestLibraryEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// alice is org1's librarian.
	rec := ts.do(t, "alice", http.MethodPost, "/v1/libraries", map[string]any{
		"id": "lib1", "name": "Wall types", "type": "walls", "owner_org_id": "org1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// bob is not a librarian.
	rec = ts.do(t, "bob", http.MethodPost, "/v1/libraries", map[string]any{
		"id": "lib2", "name": "Roof types", "type": "roofs", "owner_org_id": "org1",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_LIBRARIAN", errorCode(t, rec))

	// Members read through the owning organisation.
	rec = ts.do(t, "bob", http.MethodGet, "/v1/libraries/lib1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Sharing is admin work, not librarian work.
	rec = ts.do(t, "alice", http.MethodPost, "/v1/libraries/lib1/shares", map[string]any{"organization_id": "org1"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_ADMIN", errorCode(t, rec))

	// The annotated listing carries capability hints.
	rec = ts.do(t, "bob", http.MethodGet, "/v1/libraries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	libs := decodeBody[[]visibility.AnnotatedLibrary](t, rec)
	require.Len(t, libs, 1)
	assert.False(t, libs[0].CanWrite)
	assert.False(t, libs[0].CanShare)

	rec = ts.do(t, "alice", http.MethodGet, "/v1/libraries", nil)
	libs = decodeBody[[]visibility.AnnotatedLibrary](t, rec)
	require.Len(t, libs, 1)
	assert.True(t, libs[0].CanWrite)
	assert.False(t, libs[0].CanShare)
}

func TestOrganisationEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// Members read their organisation; outsiders get an explicit refusal.
	rec := ts.do(t, "alice", http.MethodGet, "/v1/organisations/org1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, "outsider", http.MethodGet, "/v1/organisations/org1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_MEMBER", errorCode(t, rec))

	// Directory listing needs an admin role somewhere.
	rec = ts.do(t, "carol", http.MethodGet, "/v1/organisations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, "bob", http.MethodGet, "/v1/organisations", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_ADMIN", errorCode(t, rec))

	rec = ts.do(t, "carol", http.MethodGet, "/v1/principals", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Provisioning is superuser-only.
	rec = ts.do(t, "carol", http.MethodPost, "/v1/organisations", map[string]any{"id": "org2", "name": "South"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, "root", http.MethodPost, "/v1/organisations", map[string]any{
		"id": "org2", "name": "South", "initial_admin_id": "outsider",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Membership management by the org admin.
	rec = ts.do(t, "carol", http.MethodPost, "/v1/organisations/org1/members", map[string]any{"principal_id": "outsider"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, "carol", http.MethodPost, "/v1/organisations/org1/librarians", map[string]any{"principal_id": "outsider"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, "carol", http.MethodDelete, "/v1/organisations/org1/members/outsider", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	org := decodeBody[model.Organization](t, rec)
	assert.False(t, org.Members.Has("outsider"))
	assert.False(t, org.Librarians.Has("outsider"))
}

func TestResolveAccessEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a1", "name": "Terrace retrofit", "organization_id": "org1",
	})

	resolve := func(principal string, body map[string]any) oracle.Decision {
		rec := ts.do(t, principal, http.MethodPost, "/v1/access/resolve", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decodeBody[oracle.Decision](t, rec)
	}

	d := resolve("alice", map[string]any{
		"action":   string(model.ActionDeleteAssessment),
		"resource": map[string]string{"kind": "assessment", "id": "a1"},
	})
	assert.True(t, d.Allowed)

	d = resolve("bob", map[string]any{
		"action":   string(model.ActionReadAssessment),
		"resource": map[string]string{"kind": "assessment", "id": "a1"},
	})
	require.False(t, d.Allowed)
	assert.Equal(t, model.ReasonNotFound, d.Code)

	d = resolve("", map[string]any{
		"action":   string(model.ActionReadAssessment),
		"resource": map[string]string{"kind": "assessment", "id": "a1"},
	})
	require.False(t, d.Allowed)
	assert.Equal(t, model.ReasonUnauthenticated, d.Code)

	rec := ts.do(t, "alice", http.MethodPost, "/v1/access/resolve", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConflictMapsTo409(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a1", "name": "Terrace retrofit", "organization_id": "org1",
	})

	// Write a stale snapshot directly to provoke a version conflict.
	err := ts.store.Update(context.Background(), func(tx store.Tx) error {
		a, err := tx.GetAssessment("a1")
		if err != nil {
			return err
		}
		a.Version = 99
		return tx.PutAssessment(a)
	})
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
}

func TestMalformedRequests(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/assessments", bytes.NewBufferString("{broken"))
	req.Header.Set("Authorization", "Bearer tok-alice")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{"organization_id": "nowhere"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "alice", http.MethodGet, "/v1/assessments?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDHeaderOnResponses(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, "alice", http.MethodGet, "/v1/assessments", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsRecordRouteTemplates(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a1", "name": "Terrace retrofit", "organization_id": "org1",
	})
	ts.do(t, "alice", http.MethodGet, "/v1/assessments/a1", nil)

	rec := httptest.NewRecorder()
	ts.server.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `retrofit_http_requests_total{method="GET",route="/v1/assessments/{id}",status="200"} 1`)
}
