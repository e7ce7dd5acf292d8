package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"voice-recorder/internal/calls"
	"voice-recorder/internal/recordings"
)

// Message types published for downstream consumers.
const (
	TypeRecordingSaved = "recording.saved"
	TypeCallEnded      = "call.ended"
)

// Message is the JSON envelope put on the queue.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	CallUUID   string          `json:"call_uuid"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Publisher delivers domain events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}

func newMessage(typ, callUUID string, at time.Time, data any) (Message, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:         uuid.NewString(),
		Type:       typ,
		CallUUID:   callUUID,
		OccurredAt: at.UTC(),
		Data:       b,
	}, nil
}

// RecordingSaved builds the message emitted after recording metadata is stored.
func RecordingSaved(r recordings.Recording, at time.Time) (Message, error) {
	return newMessage(TypeRecordingSaved, r.CallUUID, at, r)
}

type callEndedData struct {
	CallUUID string       `json:"call_uuid"`
	Status   calls.Status `json:"status"`
	Reason   string       `json:"reason,omitempty"`
	EndedAt  time.Time    `json:"ended_at"`
}

// CallEnded builds the message emitted when a call reaches a terminal status.
func CallEnded(callUUID string, status calls.Status, reason string, endedAt time.Time) (Message, error) {
	return newMessage(TypeCallEnded, callUUID, endedAt, callEndedData{
		CallUUID: callUUID,
		Status:   status,
		Reason:   reason,
		EndedAt:  endedAt.UTC(),
	})
}

// NoopPublisher drops every message. Used when RABBITMQ_URL is unset.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Message) error { return nil }
func (NoopPublisher) Close() error                           { return nil }

// MemoryPublisher keeps published messages in memory (tests, local runs).
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(_ context.Context, m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, m)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
