package recordings

import "time"

// Recording is the metadata of one voicemail recording.
//
// CallUUID references calls.CallLog by application-level lookup only; there is
// no foreign key. At most one row exists per CallUUID: provider retries
// overwrite the row in place.
//
// CreatedAt is the recording timestamp (the provider's start_time when known)
// and drives date-range listing.
type Recording struct {
	ID               string `json:"id" db:"id"`
	CallUUID         string `json:"call_uuid" db:"call_uuid"`
	ConversationUUID string `json:"conversation_uuid" db:"conversation_uuid"`
	RecordingUUID    string `json:"recording_uuid" db:"recording_uuid"`

	CallerNumber string `json:"caller_number" db:"caller_number"`
	CalledNumber string `json:"called_number" db:"called_number"`

	// RecordingURL is an opaque provider reference to the media.
	RecordingURL string `json:"recording_url" db:"recording_url"`
	Duration     int    `json:"duration" db:"duration"`
	FileSize     int64  `json:"file_size" db:"file_size"`
	Format       string `json:"format" db:"format"`
	Status       Status `json:"status" db:"status"`

	// ArchiveKey is the object key of the archived copy, empty until archived.
	ArchiveKey string `json:"archive_key,omitempty" db:"archive_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	default:
		return false
	}
}

// Classify decides whether a finished recording is complete.
// A recording that captured nothing (caller hung up before speaking) or that
// ran into the configured limit (message cut off) is partial.
func Classify(durationSeconds int, sizeBytes int64, maxDurationSeconds int) Status {
	if durationSeconds <= 0 || sizeBytes <= 0 {
		return StatusPartial
	}
	if maxDurationSeconds > 0 && durationSeconds >= maxDurationSeconds {
		return StatusPartial
	}
	return StatusCompleted
}
