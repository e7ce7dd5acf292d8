package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-recorder/internal/calls"
	"voice-recorder/internal/recordings"
)

// Store is the persistence contract for call logs and recording metadata.
//
// Per-call races are resolved inside single statements (unique key + upsert,
// conditional update); implementations hold no lock across I/O.
type Store interface {
	// SaveRecording upserts by CallUUID. The stored ID survives overwrites.
	SaveRecording(ctx context.Context, r recordings.Recording) error
	// GetRecording returns ok=false with a nil error when nothing is stored.
	GetRecording(ctx context.Context, callUUID string) (recordings.Recording, bool, error)
	// ListRecordings returns recordings inside the inclusive filter bounds,
	// ordered by CreatedAt then ID.
	ListRecordings(ctx context.Context, f RecordingFilter) ([]recordings.Recording, error)
	// MarkArchived stores the archive object key for a recording.
	MarkArchived(ctx context.Context, callUUID, key string) error
	// ReassignRecording moves a recording stored under fromCallUUID onto
	// c.CallUUID, filling empty caller/called numbers from c. Nothing moves
	// when a recording already exists under c.CallUUID.
	ReassignRecording(ctx context.Context, fromCallUUID string, c calls.CallLog) (moved bool, err error)

	// SaveCallLog upserts by CallUUID without regressing an existing status
	// and keeps ID, StartedAt and CreatedAt of the first write.
	SaveCallLog(ctx context.Context, c calls.CallLog) error
	GetCallLog(ctx context.Context, callUUID string) (calls.CallLog, bool, error)
	FindCallLogByConversation(ctx context.Context, conversationUUID string) (calls.CallLog, bool, error)
	// UpdateCallStatus moves a call to status when calls.CanTransition allows it.
	// endedAt is applied only for terminal statuses. updated is false when the
	// call is unknown or the transition was refused.
	UpdateCallStatus(ctx context.Context, callUUID string, status calls.Status, endedAt *time.Time) (updated bool, err error)

	Ping(ctx context.Context) error
	Close() error
}

// RecordingFilter bounds ListRecordings. Nil bounds are open.
type RecordingFilter struct {
	Start *time.Time
	End   *time.Time
}

func (f RecordingFilter) contains(t time.Time) bool {
	if f.Start != nil && t.Before(normalizeTime(*f.Start)) {
		return false
	}
	if f.End != nil && t.After(normalizeTime(*f.End)) {
		return false
	}
	return true
}

// Error wraps every failure surfaced by a Store.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "storage: " + e.Op
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var ErrInvalidRecord = errors.New("invalid record")

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsStorageError reports whether err came from a Store.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// normalizeTime stores every instant in UTC at microsecond precision, the
// common resolution of both SQL backends.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := normalizeTime(*t)
	return &n
}
