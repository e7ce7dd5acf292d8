package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voice-recorder/internal/rbac"
	"voice-recorder/internal/storage"
	"voice-recorder/pkg/logger"
	"voice-recorder/pkg/utils"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the store, return JSON.
type Handlers struct {
	Store storage.Store

	// ReadyChecks run on /readyz in addition to the store ping.
	ReadyChecks map[string]func(ctx context.Context) error
}

const readyTimeout = 2 * time.Second

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports whether the service can take webhooks right now.
func (h Handlers) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	failed := map[string]any{}
	if h.Store == nil {
		failed["store"] = "not configured"
	} else if err := h.Store.Ping(ctx); err != nil {
		failed["store"] = err.Error()
	}
	for name, check := range h.ReadyChecks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		logger.FromGin(c).Warn("readiness_check_failed", "checks", failed)
		utils.AbortWithError(c, http.StatusServiceUnavailable, "not_ready", "dependencies unavailable", failed)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// --- Recordings ---

func (h Handlers) GetRecording(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	callUUID := strings.TrimSpace(c.Param("call_uuid"))
	if callUUID == "" {
		utils.AbortWithError(c, http.StatusBadRequest, "validation_error", "call_uuid required", nil)
		return
	}
	rec, found, err := h.Store.GetRecording(c.Request.Context(), callUUID)
	if err != nil {
		h.storageFailed(c, "get_recording", err)
		return
	}
	if !found {
		utils.AbortWithError(c, http.StatusNotFound, "not_found", "recording not found", map[string]any{"call_uuid": callUUID})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListRecordings lists recordings whose timestamp lies in [start, end].
// Both bounds are optional RFC 3339 timestamps.
func (h Handlers) ListRecordings(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	f, ok := parseRange(c)
	if !ok {
		return
	}

	list, err := h.Store.ListRecordings(c.Request.Context(), f)
	if err != nil {
		h.storageFailed(c, "list_recordings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": list, "count": len(list)})
}

// parseRange reads the optional RFC 3339 start/end query bounds. On failure
// it has already written a 400.
func parseRange(c *gin.Context) (storage.RecordingFilter, bool) {
	var f storage.RecordingFilter
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start", &f.Start}, {"end", &f.End}} {
		raw := strings.TrimSpace(c.Query(p.name))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			utils.AbortWithError(c, http.StatusBadRequest, "validation_error", p.name+" must be an RFC 3339 timestamp", map[string]any{"field": p.name})
			return f, false
		}
		*p.dst = &t
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		utils.AbortWithError(c, http.StatusBadRequest, "validation_error", "end is before start", map[string]any{"field": "end"})
		return f, false
	}
	return f, true
}

func (h Handlers) configured(c *gin.Context) bool {
	if h.Store == nil {
		utils.AbortWithError(c, http.StatusInternalServerError, "internal_error", "store not configured", nil)
		return false
	}
	return true
}

func (h Handlers) storageFailed(c *gin.Context, op string, err error) {
	logger.FromGin(c).Error("admin_query_failed", "op", op, "err", err)
	utils.AbortWithError(c, http.StatusInternalServerError, "storage_error", "query failed", nil)
}

// Register mounts the read-only admin API. guard runs before every route
// (token verification, rate limiting).
func (h Handlers) Register(r gin.IRouter, guard ...gin.HandlerFunc) {
	g := r.Group("/v1", guard...)
	g.Use(rbac.RequireAnyRole(rbac.RoleViewer))
	g.GET("/recordings", h.ListRecordings)
	g.GET("/recordings/:call_uuid", h.GetRecording)
}
