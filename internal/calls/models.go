package calls

import "time"

// CallLog is one row per inbound call, keyed externally by the provider's call UUID.
//
// Invariants:
// - CallUUID is unique.
// - EndedAt stays nil until a terminal status arrives.
// - Status only moves forward (see CanTransition).
type CallLog struct {
	ID               string `json:"id" db:"id"`
	CallUUID         string `json:"call_uuid" db:"call_uuid"`
	ConversationUUID string `json:"conversation_uuid" db:"conversation_uuid"`

	CallerNumber string `json:"caller_number" db:"caller_number"`
	CalledNumber string `json:"called_number" db:"called_number"`

	Status    Status    `json:"status" db:"status"`
	Direction Direction `json:"direction" db:"direction"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Direction string

const DirectionInbound Direction = "inbound"

// rank orders statuses along the lifecycle; terminal statuses share the top rank.
func (s Status) rank() int {
	switch s {
	case StatusRinging:
		return 0
	case StatusAnswered:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

func (s Status) Valid() bool { return s.rank() >= 0 }

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// CanTransition reports whether a call in status from may be moved to status to.
// Repeating the current status is allowed so duplicate deliveries stay idempotent.
// A terminal status can only be repeated, never replaced.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// Predecessors lists every status from which a move to `to` is allowed,
// including `to` itself. Stores use it to express the transition rule as a
// single conditional UPDATE.
func Predecessors(to Status) []Status {
	out := make([]Status, 0, 4)
	for _, from := range []Status{StatusRinging, StatusAnswered, StatusCompleted, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// ProviderStatus maps a Vonage call status onto the CallLog lifecycle.
// ok is false for informational statuses that do not move the lifecycle
// (machine, human, input, record, ...).
func ProviderStatus(s string) (Status, bool) {
	switch s {
	case "started", "ringing":
		return StatusRinging, true
	case "answered":
		return StatusAnswered, true
	case "completed":
		return StatusCompleted, true
	case "failed", "rejected", "busy", "cancelled", "timeout", "unanswered":
		return StatusFailed, true
	default:
		return "", false
	}
}
