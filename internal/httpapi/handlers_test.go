package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-recorder/internal/auth"
	"voice-recorder/internal/calls"
	"voice-recorder/internal/recordings"
	"voice-recorder/internal/storage"
	"voice-recorder/pkg/utils"
)

func asRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "ops", role))
		c.Next()
	}
}

func newRouter(store storage.Store, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := Handlers{Store: store}
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	h.Register(r, asRole(role))
	return r
}

func seed(t *testing.T, s storage.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.SaveRecording(ctx, recordings.Recording{
			CallUUID:     id,
			RecordingURL: "https://api.nexmo.com/v1/files/" + id,
			Duration:     10,
			FileSize:     100,
			Format:       "mp3",
			Status:       recordings.StatusCompleted,
			CreatedAt:    base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}
	require.NoError(t, s.SaveCallLog(ctx, calls.CallLog{
		CallUUID:  "c1",
		Status:    calls.StatusAnswered,
		Direction: calls.DirectionInbound,
		StartedAt: base,
	}))
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestGetRecording(t *testing.T) {
	s := storage.NewMemoryStore()
	seed(t, s)
	r := newRouter(s, "viewer")

	w := get(r, "/v1/recordings/c2")
	require.Equal(t, http.StatusOK, w.Code)
	var rec recordings.Recording
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "c2", rec.CallUUID)

	w = get(r, "/v1/recordings/missing")
	require.Equal(t, http.StatusNotFound, w.Code)
	var env utils.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "not_found", env.Error)
}

func TestListRecordings_InclusiveRange(t *testing.T) {
	s := storage.NewMemoryStore()
	seed(t, s)
	r := newRouter(s, "viewer")

	w := get(r, "/v1/recordings?start=2024-01-16T00:00:00Z&end=2024-01-17T00:00:00Z")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Recordings []recordings.Recording `json:"recordings"`
		Count      int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "c2", body.Recordings[0].CallUUID)
	assert.Equal(t, "c3", body.Recordings[1].CallUUID)

	w = get(r, "/v1/recordings")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
}

func TestListRecordings_RejectsBadBounds(t *testing.T) {
	r := newRouter(storage.NewMemoryStore(), "viewer")

	for _, path := range []string{
		"/v1/recordings?start=yesterday",
		"/v1/recordings?start=2024-01-17T00:00:00Z&end=2024-01-16T00:00:00Z",
	} {
		w := get(r, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		var env utils.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		assert.Equal(t, "validation_error", env.Error)
	}
}

func TestAdminRoutes_RequireKnownRole(t *testing.T) {
	r := newRouter(storage.NewMemoryStore(), "intern")
	assert.Equal(t, http.StatusForbidden, get(r, "/v1/recordings").Code)
}

type downStore struct {
	storage.Store
}

func (downStore) Ping(context.Context) error { return errors.New("database is locked") }

func (downStore) ListRecordings(context.Context, storage.RecordingFilter) ([]recordings.Recording, error) {
	return nil, &storage.Error{Op: "list_recordings", Err: errors.New("database is locked")}
}

func TestHealthAndReadiness(t *testing.T) {
	r := newRouter(storage.NewMemoryStore(), "viewer")
	assert.Equal(t, http.StatusOK, get(r, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(r, "/readyz").Code)

	down := newRouter(downStore{Store: storage.NewMemoryStore()}, "viewer")
	assert.Equal(t, http.StatusOK, get(down, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(down, "/readyz").Code)
	assert.Equal(t, http.StatusInternalServerError, get(down, "/v1/recordings").Code)
}
