package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmcp-go/internal/storage"
)

func adminHeaders() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

func TestCleanupReportsCounts(t *testing.T) {
	env := setupAPITest(t)
	ctx := context.Background()

	// One expired and one live session, one expired client
	require.NoError(t, env.store.SaveSession(ctx, &storage.SessionRecord{
		ID:          "stale-session",
		UserID:      "google-sub-1",
		AccessToken: []byte("sealed"),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}))
	require.NoError(t, env.store.SaveSession(ctx, &storage.SessionRecord{
		ID:          "live-session",
		UserID:      "google-sub-1",
		AccessToken: []byte("sealed"),
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, env.store.SaveClient(ctx, &storage.ClientRecord{
		ID:           "client_stale",
		SecretDigest: []byte("digest"),
		Platform:     "cli",
		RedirectURIs: []string{"http://localhost:9090/callback"},
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	// A begun authorization leaves one pending state behind
	rec := serve(t, env.api, http.MethodGet, "/oauth/authorize", nil, nil)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	rec = serve(t, env.api, http.MethodPost, "/api/v1/cleanup", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp cleanupResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 1, resp.ExpiredSessionsRemoved)
	assert.Equal(t, 1, resp.ExpiredClientsRemoved)
	assert.Equal(t, 1, resp.PendingStates)

	_, err := env.sessions.Get(ctx, "live-session")
	assert.NoError(t, err)
}

func TestCleanupIdempotent(t *testing.T) {
	env := setupAPITest(t)

	rec := serve(t, env.api, http.MethodPost, "/api/v1/cleanup", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp cleanupResponse
	decodeJSON(t, rec, &resp)
	assert.Zero(t, resp.ExpiredSessionsRemoved)
	assert.Zero(t, resp.ExpiredClientsRemoved)
}

// seedActivities writes three records with fixed timestamps, oldest first
func seedActivities(t *testing.T, env *apiEnv) {
	t.Helper()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []*storage.ActivityRecord{
		{Type: storage.ActivityTypeLogin, Status: storage.ActivityStatusSuccess, UserID: "google-sub-1", Timestamp: base},
		{Type: storage.ActivityTypeToolCall, Status: storage.ActivityStatusSuccess, UserID: "google-sub-1", ToolName: "task_create", Timestamp: base.Add(time.Minute)},
		{Type: storage.ActivityTypeToolCall, Status: storage.ActivityStatusError, UserID: "google-sub-2", ToolName: "task_delete", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, record := range records {
		require.NoError(t, env.store.SaveActivity(record))
	}
}

func TestActivityListsNewestFirst(t *testing.T) {
	env := setupAPITest(t)
	seedActivities(t, env)

	rec := serve(t, env.api, http.MethodGet, "/api/v1/activity", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Activities []*storage.ActivityRecord `json:"activities"`
		Total      int                       `json:"total"`
		Limit      int                       `json:"limit"`
		Offset     int                       `json:"offset"`
	}
	decodeJSON(t, rec, &body)
	require.Len(t, body.Activities, 3)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 50, body.Limit)
	assert.Equal(t, 0, body.Offset)
	assert.Equal(t, "task_delete", body.Activities[0].ToolName)
	assert.Equal(t, storage.ActivityTypeLogin, body.Activities[2].Type)
}

func TestActivityFilters(t *testing.T) {
	env := setupAPITest(t)
	seedActivities(t, env)

	var body struct {
		Activities []*storage.ActivityRecord `json:"activities"`
		Total      int                       `json:"total"`
	}

	rec := serve(t, env.api, http.MethodGet, "/api/v1/activity?type=tool_call", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &body)
	assert.Equal(t, 2, body.Total)

	rec = serve(t, env.api, http.MethodGet, "/api/v1/activity?user_id=google-sub-2", nil, adminHeaders())
	decodeJSON(t, rec, &body)
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "task_delete", body.Activities[0].ToolName)

	rec = serve(t, env.api, http.MethodGet, "/api/v1/activity?status=error", nil, adminHeaders())
	decodeJSON(t, rec, &body)
	assert.Equal(t, 1, body.Total)
}

func TestActivityPagination(t *testing.T) {
	env := setupAPITest(t)
	seedActivities(t, env)

	var body struct {
		Activities []*storage.ActivityRecord `json:"activities"`
		Total      int                       `json:"total"`
	}

	rec := serve(t, env.api, http.MethodGet, "/api/v1/activity?limit=2", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &body)
	assert.Len(t, body.Activities, 2)
	assert.Equal(t, 3, body.Total)

	rec = serve(t, env.api, http.MethodGet, "/api/v1/activity?limit=2&offset=2", nil, adminHeaders())
	decodeJSON(t, rec, &body)
	assert.Len(t, body.Activities, 1)
}

func TestActivityTimeWindow(t *testing.T) {
	env := setupAPITest(t)
	seedActivities(t, env)

	rec := serve(t, env.api, http.MethodGet,
		"/api/v1/activity?start_time=2025-03-01T12:00:30Z&end_time=2025-03-01T12:01:30Z", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Activities []*storage.ActivityRecord `json:"activities"`
		Total      int                       `json:"total"`
	}
	decodeJSON(t, rec, &body)
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "task_create", body.Activities[0].ToolName)
}

func TestActivityRejectsBadParams(t *testing.T) {
	env := setupAPITest(t)

	rec := serve(t, env.api, http.MethodGet, "/api/v1/activity?limit=abc", nil, adminHeaders())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid limit parameter: abc", detailOf(t, rec))

	rec = serve(t, env.api, http.MethodGet, "/api/v1/activity?offset=xyz", nil, adminHeaders())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid offset parameter: xyz", detailOf(t, rec))

	rec = serve(t, env.api, http.MethodGet, "/api/v1/activity?start_time=yesterday", nil, adminHeaders())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid start_time parameter, expected RFC3339: yesterday", detailOf(t, rec))
}

func TestActivityEmpty(t *testing.T) {
	env := setupAPITest(t)

	rec := serve(t, env.api, http.MethodGet, "/api/v1/activity", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Activities []*storage.ActivityRecord `json:"activities"`
		Total      int                       `json:"total"`
	}
	decodeJSON(t, rec, &body)
	assert.NotNil(t, body.Activities)
	assert.Empty(t, body.Activities)
	assert.Zero(t, body.Total)
}
