package voicemail

import (
	"context"
	"log/slog"
	"time"

	"voice-recorder/internal/audit"
	"voice-recorder/internal/calls"
	"voice-recorder/internal/config"
	"voice-recorder/internal/events"
	"voice-recorder/internal/metrics"
	"voice-recorder/internal/recordings"
	"voice-recorder/internal/storage"
	"voice-recorder/internal/telephony"
	"voice-recorder/pkg/logger"
)

// Archiver accepts saved recordings for background archiving.
// Enqueue must not block; it reports false when the job was dropped.
type Archiver interface {
	Enqueue(r recordings.Recording) bool
}

// Deps are the collaborators of Service. Only Store is required.
type Deps struct {
	Store     storage.Store
	Journal   *audit.Service
	Publisher events.Publisher
	Archiver  Archiver
	Metrics   *metrics.Metrics
}

// Service drives the voicemail call lifecycle from Vonage webhooks.
//
// It holds no per-call state: the lifecycle lives in call_logs.status and
// every per-call race is settled by the store. Safe for concurrent use.
type Service struct {
	store     storage.Store
	builder   telephony.Builder
	journal   *audit.Service
	publisher events.Publisher
	archiver  Archiver
	metrics   *metrics.Metrics

	maxDuration    int
	format         string
	answerDeadline time.Duration

	clock func() time.Time
}

var _ telephony.CallLifecycle = (*Service)(nil)

const publishTimeout = 2 * time.Second

func NewService(cfg config.Config, deps Deps) *Service {
	pub := deps.Publisher
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return &Service{
		store:          deps.Store,
		builder:        telephony.NewBuilder(cfg),
		journal:        deps.Journal,
		publisher:      pub,
		archiver:       deps.Archiver,
		metrics:        deps.Metrics,
		maxDuration:    cfg.Recording.MaxDuration,
		format:         cfg.Recording.Format,
		answerDeadline: cfg.Webhooks.AnswerDeadline,
		clock:          time.Now,
	}
}

// Answer records the call as answered and returns the voicemail NCCO.
func (s *Service) Answer(ctx context.Context, ev telephony.AnswerEvent) (telephony.NCCO, error) {
	start := s.clock()
	log := logger.From(ctx).With("call_uuid", ev.CallUUID)
	log.Info("incoming_call_received",
		"caller_number", ev.From,
		"called_number", ev.To,
		"conversation_uuid", ev.ConversationUUID,
	)

	call := calls.CallLog{
		CallUUID:         ev.CallUUID,
		ConversationUUID: ev.ConversationUUID,
		CallerNumber:     ev.From,
		CalledNumber:     ev.To,
		Status:           calls.StatusAnswered,
		Direction:        calls.DirectionInbound,
		StartedAt:        start,
	}
	if err := s.store.SaveCallLog(ctx, call); err != nil {
		log.Error("call_log_save_failed", "err", err)
		return nil, err
	}
	log.Info("call_log_saved", "status", calls.StatusAnswered)
	s.adoptEarlyRecording(ctx, log, call)

	ncco := s.builder.BuildVoicemailNCCO(ev.CallUUID)
	log.Info("ncco_generated", "actions", len(ncco))

	elapsed := s.clock().Sub(start)
	exceeded := s.answerDeadline > 0 && elapsed > s.answerDeadline
	s.metrics.ObserveAnswer(elapsed, exceeded)
	if exceeded {
		// Vonage has likely given up on this response already; nothing to retry here.
		log.Error("answer_deadline_exceeded", "elapsed_ms", elapsed.Milliseconds(), "deadline_ms", s.answerDeadline.Milliseconds())
		s.anomaly(ctx, audit.EventTypeAnswerDeadline, "answer", ev.CallUUID, ev.ConversationUUID,
			"answer response exceeded provider deadline", map[string]any{"elapsed_ms": elapsed.Milliseconds()})
	}
	return ncco, nil
}

// adoptEarlyRecording moves a recording that arrived before its call was
// known (stored under the conversation id) onto the call id. Failures only
// log: the answer must not wait on it.
func (s *Service) adoptEarlyRecording(ctx context.Context, log *slog.Logger, call calls.CallLog) {
	if call.ConversationUUID == "" || call.ConversationUUID == call.CallUUID {
		return
	}
	moved, err := s.store.ReassignRecording(ctx, call.ConversationUUID, call)
	if err != nil {
		log.Warn("recording_reassign_failed", "conversation_uuid", call.ConversationUUID, "err", err)
		return
	}
	if moved {
		log.Info("recording_reassigned", "from", call.ConversationUUID)
	}
}

// RecordingCompleted stores the recording metadata for the call the event belongs to.
func (s *Service) RecordingCompleted(ctx context.Context, ev telephony.RecordingEvent) error {
	log := logger.From(ctx)
	log.Info("recording_webhook_received",
		"call_uuid", ev.CallUUID,
		"conversation_uuid", ev.ConversationUUID,
		"recording_uuid", ev.RecordingUUID,
		"recording_url", ev.RecordingURL,
		"duration", ev.Duration,
		"file_size", ev.Size,
	)

	call, found, err := s.correlate(ctx, ev)
	if err != nil {
		log.Error("recording_correlation_failed", "conversation_uuid", ev.ConversationUUID, "err", err)
		return err
	}

	callUUID := call.CallUUID
	if !found {
		callUUID = ev.CallUUID
		if callUUID == "" {
			callUUID = ev.ConversationUUID
		}
		log.Warn("recording_for_unknown_call", "call_uuid", callUUID, "conversation_uuid", ev.ConversationUUID)
		s.anomaly(ctx, audit.EventTypeRecordingUnknownCall, "recording", callUUID, ev.ConversationUUID,
			"no call log for recording", map[string]any{
				"recording_uuid": ev.RecordingUUID,
				"recording_url":  ev.RecordingURL,
				"duration":       ev.Duration,
			})
	}

	now := s.clock().UTC()
	createdAt := now
	if ev.StartTime != nil {
		createdAt = *ev.StartTime
	}

	rec := recordings.Recording{
		CallUUID:         callUUID,
		ConversationUUID: ev.ConversationUUID,
		RecordingUUID:    ev.RecordingUUID,
		CallerNumber:     call.CallerNumber,
		CalledNumber:     call.CalledNumber,
		RecordingURL:     ev.RecordingURL,
		Duration:         ev.Duration,
		FileSize:         ev.Size,
		Format:           s.format,
		Status:           recordings.Classify(ev.Duration, ev.Size, s.maxDuration),
		CreatedAt:        createdAt,
	}
	if err := s.store.SaveRecording(ctx, rec); err != nil {
		log.Error("recording_metadata_save_failed", "call_uuid", callUUID, "err", err)
		return err
	}
	s.metrics.RecordingSaved(string(rec.Status))

	attrs := []any{"call_uuid", callUUID, "recording_uuid", rec.RecordingUUID, "duration", rec.Duration, "status", rec.Status}
	if rec.Status == recordings.StatusPartial {
		log.Warn("partial_recording_saved", attrs...)
	} else {
		log.Info("recording_metadata_saved", attrs...)
	}

	if msg, err := events.RecordingSaved(rec, now); err == nil {
		s.publish(ctx, msg)
	}
	if s.archiver != nil && !s.archiver.Enqueue(rec) {
		log.Warn("recording_archive_dropped", "call_uuid", callUUID)
	}
	return nil
}

// correlate finds the call a recording belongs to: by uuid when Vonage sent
// one, otherwise by conversation.
func (s *Service) correlate(ctx context.Context, ev telephony.RecordingEvent) (calls.CallLog, bool, error) {
	if ev.CallUUID != "" {
		return s.store.GetCallLog(ctx, ev.CallUUID)
	}
	return s.store.FindCallLogByConversation(ctx, ev.ConversationUUID)
}

// StatusChanged applies a call status notification to the call log.
func (s *Service) StatusChanged(ctx context.Context, ev telephony.StatusEvent) error {
	log := logger.From(ctx).With("call_uuid", ev.CallUUID)
	log.Info("event_webhook_received", "status", ev.Status, "timestamp", ev.Timestamp)

	status, ok := calls.ProviderStatus(ev.Status)
	if !ok {
		log.Debug("event_status_ignored", "status", ev.Status)
		return nil
	}

	at := s.clock().UTC()
	if ev.Timestamp != nil {
		at = *ev.Timestamp
	}
	var endedAt *time.Time
	if status.Terminal() {
		endedAt = &at
	}
	if status == calls.StatusFailed {
		log.Warn("call_failed", "provider_status", ev.Status, "reason", ev.Reason)
	}

	updated, err := s.store.UpdateCallStatus(ctx, ev.CallUUID, status, endedAt)
	if err != nil {
		log.Error("call_log_status_update_failed", "status", status, "err", err)
		return err
	}
	if updated {
		log.Info("call_log_status_updated", "new_status", status, "ended_at", endedAt)
		s.callEnded(ctx, ev, status, endedAt)
		return nil
	}

	current, found, err := s.store.GetCallLog(ctx, ev.CallUUID)
	if err != nil {
		log.Error("call_log_lookup_failed", "err", err)
		return err
	}
	if found {
		log.Info("call_status_transition_ignored", "current_status", current.Status, "new_status", status)
		s.anomaly(ctx, audit.EventTypeStatusIgnored, "event", ev.CallUUID, ev.ConversationUUID,
			"status would move the call backwards", map[string]any{
				"current_status":  current.Status,
				"provider_status": ev.Status,
			})
		return nil
	}

	// First we hear of this call: keep what the provider told us rather than drop it.
	log.Warn("call_log_not_found_for_update", "status", status)
	placeholder := calls.CallLog{
		CallUUID:         ev.CallUUID,
		ConversationUUID: ev.ConversationUUID,
		CallerNumber:     ev.From,
		CalledNumber:     ev.To,
		Status:           status,
		Direction:        calls.DirectionInbound,
		StartedAt:        at,
		EndedAt:          endedAt,
	}
	if err := s.store.SaveCallLog(ctx, placeholder); err != nil {
		log.Error("call_log_save_failed", "err", err)
		return err
	}
	s.anomaly(ctx, audit.EventTypeStatusUnknownCall, "event", ev.CallUUID, ev.ConversationUUID,
		"status for unknown call", map[string]any{"provider_status": ev.Status})
	s.callEnded(ctx, ev, status, endedAt)
	return nil
}

func (s *Service) callEnded(ctx context.Context, ev telephony.StatusEvent, status calls.Status, endedAt *time.Time) {
	if endedAt == nil {
		return
	}
	if msg, err := events.CallEnded(ev.CallUUID, status, ev.Reason, *endedAt); err == nil {
		s.publish(ctx, msg)
	}
}

// publish is best-effort and outlives request cancellation.
func (s *Service) publish(ctx context.Context, msg events.Message) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, msg); err != nil {
		logger.From(ctx).Warn("domain_event_publish_failed", "type", msg.Type, "call_uuid", msg.CallUUID, "err", err)
	}
}

func (s *Service) anomaly(ctx context.Context, typ audit.EventType, webhook, callUUID, conversationUUID, message string, metadata map[string]any) {
	s.metrics.Anomaly(string(typ))
	s.journal.Record(ctx, typ, webhook, callUUID, conversationUUID, message, metadata)
}
