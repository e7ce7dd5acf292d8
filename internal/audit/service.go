package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"voice-recorder/pkg/logger"
)

// Repository is the persistence contract for anomaly events.
// It is append-only: no Update/Delete methods exist.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service journals accepted-but-anomalous webhooks.
// Callers treat it as best-effort; use Record, which never returns an error.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallUUID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// Record appends an anomaly, logging instead of failing when the journal is unavailable.
// metadata is marshalled to JSON when non-nil.
func (s *Service) Record(ctx context.Context, typ EventType, webhook, callUUID, conversationUUID, message string, metadata map[string]any) {
	if s == nil {
		return
	}
	e := Event{
		Type:             typ,
		Webhook:          webhook,
		CallUUID:         callUUID,
		ConversationUUID: conversationUUID,
		Message:          message,
	}
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			e.Metadata = string(b)
		}
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("anomaly_journal_failed", "type", typ, "call_uuid", callUUID, "err", err)
	}
}
