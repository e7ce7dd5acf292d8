package telephony

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-recorder/internal/storage"
	"voice-recorder/pkg/logger"
	"voice-recorder/pkg/utils"
)

// CallLifecycle is the business side of the three Vonage webhooks.
// The HTTP layer only parses, delegates and maps errors.
type CallLifecycle interface {
	Answer(ctx context.Context, ev AnswerEvent) (NCCO, error)
	RecordingCompleted(ctx context.Context, ev RecordingEvent) error
	StatusChanged(ctx context.Context, ev StatusEvent) error
}

// WebhookHandler converts Vonage webhooks to typed events and writes the
// provider-facing response. No business logic here.
type WebhookHandler struct {
	Lifecycle CallLifecycle

	// Observe, when set, is told the outcome of every webhook
	// (ok, validation_error, storage_error, internal_error).
	Observe func(webhook, outcome string)
}

// Register mounts the webhook routes on r.
func (h WebhookHandler) Register(r gin.IRoutes) {
	r.GET("/webhooks/answer", h.HandleAnswer)
	r.POST("/webhooks/answer", h.HandleAnswer)
	r.POST("/webhooks/recording", h.HandleRecording)
	r.POST("/webhooks/event", h.HandleEvent)
}

func (h WebhookHandler) HandleAnswer(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	ev, err := ParseAnswerEvent(c.Request)
	if err != nil {
		h.fail(c, "answer", err)
		return
	}
	ncco, err := h.Lifecycle.Answer(c.Request.Context(), ev)
	if err != nil {
		h.fail(c, "answer", err)
		return
	}
	h.observe("answer", "ok")
	c.JSON(http.StatusOK, ncco)
}

func (h WebhookHandler) HandleRecording(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	ev, err := ParseRecordingEvent(c.Request)
	if err != nil {
		h.fail(c, "recording", err)
		return
	}
	if err := h.Lifecycle.RecordingCompleted(c.Request.Context(), ev); err != nil {
		h.fail(c, "recording", err)
		return
	}
	h.observe("recording", "ok")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h WebhookHandler) HandleEvent(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	ev, err := ParseStatusEvent(c.Request)
	if err != nil {
		h.fail(c, "event", err)
		return
	}
	if err := h.Lifecycle.StatusChanged(c.Request.Context(), ev); err != nil {
		h.fail(c, "event", err)
		return
	}
	h.observe("event", "ok")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h WebhookHandler) configured(c *gin.Context) bool {
	if h.Lifecycle == nil {
		utils.AbortWithError(c, http.StatusInternalServerError, "internal_error", "webhook handler not configured", nil)
		return false
	}
	return true
}

// fail maps an error to the JSON error envelope. Validation errors are the
// provider's fault (4xx, no retry); everything else is ours (5xx, the
// provider retries).
func (h WebhookHandler) fail(c *gin.Context, webhook string, err error) {
	log := logger.FromGin(c)

	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		log.Warn("webhook_validation_error", "webhook", webhook, "field", ve.Field, "err", err)
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		h.observe(webhook, "validation_error")
		utils.AbortWithError(c, http.StatusBadRequest, "validation_error", ve.Error(), details)
	case errors.Is(err, storage.ErrInvalidRecord):
		log.Warn("webhook_validation_error", "webhook", webhook, "err", err)
		h.observe(webhook, "validation_error")
		utils.AbortWithError(c, http.StatusBadRequest, "validation_error", "webhook payload rejected by store", nil)
	case storage.IsStorageError(err):
		log.Error("webhook_storage_error", "webhook", webhook, "err", err)
		h.observe(webhook, "storage_error")
		utils.AbortWithError(c, http.StatusInternalServerError, "storage_error", "failed to persist webhook", nil)
	default:
		log.Error("webhook_internal_error", "webhook", webhook, "err", err)
		h.observe(webhook, "internal_error")
		utils.AbortWithError(c, http.StatusInternalServerError, "internal_error", "an unexpected error occurred", nil)
	}
}

func (h WebhookHandler) observe(webhook, outcome string) {
	if h.Observe != nil {
		h.Observe(webhook, outcome)
	}
}
