package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoworks/retrofit/pkg/api"
	"github.com/ecoworks/retrofit/pkg/gateway"
	"github.com/ecoworks/retrofit/pkg/middleware"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
	"github.com/ecoworks/retrofit/pkg/visibility"
)

// startServer wires the full stack over the in-memory store and exposes it
// on a real listener. Tokens follow the principal id: "alice" authenticates
// with "tok-alice".
func startServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()

	s := store.NewMemoryStore()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		for _, id := range []string{"alice", "bob", "carol", "dave"} {
			if err := tx.PutPrincipal(&model.Principal{ID: id, DisplayName: id}); err != nil {
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
		if err := tx.PutOrganization(org); err != nil {
			return err
		}

		org2 := model.NewOrganization("org2", "Retrofit South")
		org2.AddMember("dave")
		if err := org2.AddAdmin("dave"); err != nil {
			return err
		}
		return tx.PutOrganization(org2)
	})
	require.NoError(t, err)

	auth := middleware.NewStaticTokenAuthenticator(map[string]string{})
	for _, id := range []string{"alice", "bob", "carol", "dave", "root"} {
		auth.Register("tok-"+id, id)
	}

	cache := oracle.NewDecisionCache(0, 0)
	orc := oracle.New(s, oracle.WithCache(cache))
	gw := gateway.New(s, orc, gateway.WithDecisionCache(cache))
	vis := visibility.New(s)

	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := api.NewServer(s, gw, vis, orc,
		api.WithAuthenticator(auth),
		api.WithLogger(log),
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func call(t *testing.T, ts *httptest.Server, principal, method, path string, body any) (int, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if principal != "" {
		req.Header.Set("Authorization", "Bearer tok-"+principal)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestAssessmentSharingFlow(t *testing.T) {
	ts, _ := startServer(t)

	// Alice creates an assessment inside org1.
	code, body := call(t, ts, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id":              "a1",
		"name":            "Victorian terrace",
		"organization_id": "org1",
	})
	require.Equal(t, http.StatusCreated, code, string(body))

	// Bob cannot see it until it is shared with him.
	code, _ = call(t, ts, "bob", http.MethodGet, "/v1/assessments/a1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = call(t, ts, "alice", http.MethodPost, "/v1/assessments/a1/shares", map[string]any{
		"principal_id": "bob",
	})
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = call(t, ts, "bob", http.MethodGet, "/v1/assessments/a1", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var a model.Assessment
	require.NoError(t, json.Unmarshal(body, &a))
	assert.Equal(t, "alice", a.OwnerID)

	// Dave is outside org1 and cannot be a share target.
	code, _ = call(t, ts, "alice", http.MethodPost, "/v1/assessments/a1/shares", map[string]any{
		"principal_id": "dave",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	// Unsharing takes Bob's access away again.
	code, _ = call(t, ts, "alice", http.MethodDelete, "/v1/assessments/a1/shares/bob", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, ts, "bob", http.MethodGet, "/v1/assessments/a1", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCompletedAssessmentFreezesPayload(t *testing.T) {
	ts, _ := startServer(t)

	code, body := call(t, ts, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id":              "a1",
		"organization_id": "org1",
	})
	require.Equal(t, http.StatusCreated, code, string(body))

	code, _ = call(t, ts, "alice", http.MethodPut, "/v1/assessments/a1/data", map[string]any{
		"walls": "solid brick",
	})
	require.Equal(t, http.StatusOK, code)

	code, body = call(t, ts, "alice", http.MethodPut, "/v1/assessments/a1/status", map[string]any{
		"status": "complete",
	})
	require.Equal(t, http.StatusOK, code, string(body))

	code, _ = call(t, ts, "alice", http.MethodPut, "/v1/assessments/a1/data", map[string]any{
		"walls": "cavity",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	// Reopening unfreezes it.
	code, _ = call(t, ts, "alice", http.MethodPut, "/v1/assessments/a1/status", map[string]any{
		"status": "in_progress",
	})
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, ts, "alice", http.MethodPut, "/v1/assessments/a1/data", map[string]any{
		"walls": "cavity",
	})
	assert.Equal(t, http.StatusOK, code)
}

func TestLibrarySharingAcrossOrganisations(t *testing.T) {
	ts, _ := startServer(t)

	// Alice, org1's librarian, creates an organisational library.
	code, body := call(t, ts, "alice", http.MethodPost, "/v1/libraries", map[string]any{
		"id":           "l1",
		"name":         "Wall constructions",
		"type":         "constructions",
		"owner_org_id": "org1",
	})
	require.Equal(t, http.StatusCreated, code, string(body))

	// Dave, in org2, cannot see it yet.
	code, _ = call(t, ts, "dave", http.MethodGet, "/v1/libraries/l1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	// Sharing is an admin operation; Carol administers org1.
	code, body = call(t, ts, "carol", http.MethodPost, "/v1/libraries/l1/shares", map[string]any{
		"organization_id": "org2",
	})
	require.Equal(t, http.StatusOK, code, string(body))

	code, _ = call(t, ts, "dave", http.MethodGet, "/v1/libraries/l1", nil)
	assert.Equal(t, http.StatusOK, code)

	// Bob is a plain member, not an admin, and cannot share.
	code, _ = call(t, ts, "bob", http.MethodPost, "/v1/libraries/l1/shares", map[string]any{
		"organization_id": "org2",
	})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestMemberRemovalRevokesSharedAccess(t *testing.T) {
	ts, st := startServer(t)

	code, _ := call(t, ts, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id":              "a1",
		"organization_id": "org1",
	})
	require.Equal(t, http.StatusCreated, code)
	code, _ = call(t, ts, "alice", http.MethodPost, "/v1/assessments/a1/shares", map[string]any{
		"principal_id": "bob",
	})
	require.Equal(t, http.StatusOK, code)

	// Carol, the org admin, removes Bob from the organisation.
	code, _ = call(t, ts, "carol", http.MethodDelete, "/v1/organisations/org1/members/bob", nil)
	require.Equal(t, http.StatusOK, code)

	// The sharing edge went with the membership.
	a, err := st.GetAssessment(context.Background(), "a1")
	require.NoError(t, err)
	assert.False(t, a.IsSharedWith("bob"))

	code, _ = call(t, ts, "bob", http.MethodGet, "/v1/assessments/a1", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDirectoryAndUnauthenticatedAccess(t *testing.T) {
	ts, _ := startServer(t)

	code, _ := call(t, ts, "alice", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a1",
	})
	require.Equal(t, http.StatusCreated, code)

	// No token at all. Unauthenticated callers get a stable denial, not
	// a transport-level challenge.
	code, _ = call(t, ts, "", http.MethodGet, "/v1/assessments/a1", nil)
	assert.Equal(t, http.StatusForbidden, code)

	// The superuser flag is not an access bypass: a personal assessment
	// stays masked even for root.
	code, _ = call(t, ts, "root", http.MethodGet, "/v1/assessments/a1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	// Listing the user directory takes an organisation admin.
	code, body := call(t, ts, "carol", http.MethodGet, "/v1/principals", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var principals []model.Principal
	require.NoError(t, json.Unmarshal(body, &principals))
	assert.Len(t, principals, 5)

	code, _ = call(t, ts, "bob", http.MethodGet, "/v1/principals", nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestVisibleAssessmentListings(t *testing.T) {
	ts, _ := startServer(t)

	for _, req := range []map[string]any{
		{"id": "a1", "organization_id": "org1"},
		{"id": "a2"},
	} {
		code, _ := call(t, ts, "alice", http.MethodPost, "/v1/assessments", req)
		require.Equal(t, http.StatusCreated, code)
	}
	code, _ := call(t, ts, "dave", http.MethodPost, "/v1/assessments", map[string]any{
		"id": "a3", "organization_id": "org2",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := call(t, ts, "alice", http.MethodGet, "/v1/assessments", nil)
	require.Equal(t, http.StatusOK, code)
	var mine []model.Assessment
	require.NoError(t, json.Unmarshal(body, &mine))
	ids := make([]string, 0, len(mine))
	for _, a := range mine {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
}
