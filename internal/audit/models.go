package audit

import "time"

// Event is an immutable, append-only record of a webhook that was accepted
// but did not fit the expected call lifecycle.
//
// Invariants:
// - Events are never updated or deleted.
// - CallUUID is required; it is the key operators search by.
// - Journaling is best-effort; webhook handling never fails because of it.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	CallUUID         string `json:"call_uuid" db:"call_uuid"`
	ConversationUUID string `json:"conversation_uuid,omitempty" db:"conversation_uuid"`

	// Webhook is the endpoint that delivered the payload (answer, recording, event).
	Webhook string `json:"webhook" db:"webhook"`

	// IPAddress is the resolved client IP of the delivering request, when known.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON with the relevant payload fields.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeRecordingUnknownCall EventType = "recording_unknown_call"
	EventTypeStatusUnknownCall    EventType = "status_unknown_call"
	EventTypeStatusIgnored        EventType = "status_transition_ignored"
	EventTypeAnswerDeadline       EventType = "answer_deadline_exceeded"
)
