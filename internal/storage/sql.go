package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"voice-recorder/internal/calls"
	"voice-recorder/internal/recordings"
	"voice-recorder/pkg/utils"
)

const recordingColumns = `id, call_uuid, conversation_uuid, recording_uuid, caller_number, called_number,
	recording_url, duration, file_size, format, status, archive_key, created_at, updated_at`

const callLogColumns = `id, call_uuid, conversation_uuid, caller_number, called_number,
	status, direction, started_at, ended_at, created_at, updated_at`

// SQLStore implements Store on Postgres (pgx) or SQLite (modernc) through sqlx.
// Queries are written with '?' placeholders and rebound per driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	clock  func() time.Time
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, driver: db.DriverName(), clock: time.Now}
}

func (s *SQLStore) SaveRecording(ctx context.Context, r recordings.Recording) error {
	if r.CallUUID == "" || !r.Status.Valid() || r.Duration < 0 {
		return wrap("save_recording", ErrInvalidRecord)
	}
	now := normalizeTime(s.clock())
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	q := s.db.Rebind(`INSERT INTO recordings (` + recordingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (call_uuid) DO UPDATE SET
			conversation_uuid = excluded.conversation_uuid,
			recording_uuid = excluded.recording_uuid,
			caller_number = CASE WHEN excluded.caller_number <> '' THEN excluded.caller_number ELSE recordings.caller_number END,
			called_number = CASE WHEN excluded.called_number <> '' THEN excluded.called_number ELSE recordings.called_number END,
			recording_url = excluded.recording_url,
			duration = excluded.duration,
			file_size = excluded.file_size,
			format = excluded.format,
			status = excluded.status,
			archive_key = CASE WHEN excluded.archive_key <> '' THEN excluded.archive_key ELSE recordings.archive_key END,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, q,
		r.ID, r.CallUUID, r.ConversationUUID, r.RecordingUUID, r.CallerNumber, r.CalledNumber,
		r.RecordingURL, r.Duration, r.FileSize, r.Format, string(r.Status), r.ArchiveKey,
		normalizeTime(r.CreatedAt), now,
	)
	return wrap("save_recording", err)
}

func (s *SQLStore) GetRecording(ctx context.Context, callUUID string) (recordings.Recording, bool, error) {
	var r recordings.Recording
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+recordingColumns+` FROM recordings WHERE call_uuid = ?`), callUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return recordings.Recording{}, false, nil
	}
	if err != nil {
		return recordings.Recording{}, false, wrap("get_recording", err)
	}
	return normalizeRecording(r), true, nil
}

func (s *SQLStore) ListRecordings(ctx context.Context, f RecordingFilter) ([]recordings.Recording, error) {
	var (
		where []string
		args  []any
	)
	if f.Start != nil {
		where = append(where, "created_at >= ?")
		args = append(args, normalizeTime(*f.Start))
	}
	if f.End != nil {
		where = append(where, "created_at <= ?")
		args = append(args, normalizeTime(*f.End))
	}

	q := `SELECT ` + recordingColumns + ` FROM recordings`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"

	var out []recordings.Recording
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, wrap("list_recordings", err)
	}
	for i := range out {
		out[i] = normalizeRecording(out[i])
	}
	return out, nil
}

func (s *SQLStore) MarkArchived(ctx context.Context, callUUID, key string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE recordings SET archive_key = ?, updated_at = ? WHERE call_uuid = ?`),
		key, normalizeTime(s.clock()), callUUID,
	)
	if err != nil {
		return wrap("mark_archived", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrap("mark_archived", sql.ErrNoRows)
	}
	return nil
}

func (s *SQLStore) ReassignRecording(ctx context.Context, fromCallUUID string, c calls.CallLog) (bool, error) {
	if fromCallUUID == "" || c.CallUUID == "" || fromCallUUID == c.CallUUID {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE recordings SET
			call_uuid = ?,
			caller_number = CASE WHEN caller_number = '' THEN ? ELSE caller_number END,
			called_number = CASE WHEN called_number = '' THEN ? ELSE called_number END,
			updated_at = ?
		WHERE call_uuid = ?
			AND NOT EXISTS (SELECT 1 FROM recordings taken WHERE taken.call_uuid = ?)`),
		c.CallUUID, c.CallerNumber, c.CalledNumber, normalizeTime(s.clock()), fromCallUUID, c.CallUUID,
	)
	if err != nil {
		return false, wrap("reassign_recording", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("reassign_recording", err)
	}
	return n > 0, nil
}

func (s *SQLStore) SaveCallLog(ctx context.Context, c calls.CallLog) error {
	if c.CallUUID == "" || !c.Status.Valid() {
		return wrap("save_call_log", ErrInvalidRecord)
	}
	now := normalizeTime(s.clock())
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Direction == "" {
		c.Direction = calls.DirectionInbound
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if !c.Status.Terminal() {
		c.EndedAt = nil
	}

	// Terminal rows keep their status and ended_at; answered never falls back to ringing.
	q := s.db.Rebind(`INSERT INTO call_logs (` + callLogColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (call_uuid) DO UPDATE SET
			conversation_uuid = CASE WHEN excluded.conversation_uuid <> '' THEN excluded.conversation_uuid ELSE call_logs.conversation_uuid END,
			caller_number = CASE WHEN excluded.caller_number <> '' THEN excluded.caller_number ELSE call_logs.caller_number END,
			called_number = CASE WHEN excluded.called_number <> '' THEN excluded.called_number ELSE call_logs.called_number END,
			status = CASE
				WHEN call_logs.status IN ('completed', 'failed') THEN call_logs.status
				WHEN call_logs.status = 'answered' AND excluded.status = 'ringing' THEN call_logs.status
				ELSE excluded.status END,
			ended_at = CASE
				WHEN call_logs.status IN ('completed', 'failed') THEN call_logs.ended_at
				ELSE excluded.ended_at END,
			updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, q,
		c.ID, c.CallUUID, c.ConversationUUID, c.CallerNumber, c.CalledNumber,
		string(c.Status), string(c.Direction), normalizeTime(c.StartedAt), normalizeTimePtr(c.EndedAt),
		normalizeTime(c.CreatedAt), now,
	)
	return wrap("save_call_log", err)
}

func (s *SQLStore) GetCallLog(ctx context.Context, callUUID string) (calls.CallLog, bool, error) {
	return s.getCallLog(ctx, "get_call_log", `SELECT `+callLogColumns+` FROM call_logs WHERE call_uuid = ?`, callUUID)
}

func (s *SQLStore) FindCallLogByConversation(ctx context.Context, conversationUUID string) (calls.CallLog, bool, error) {
	if conversationUUID == "" {
		return calls.CallLog{}, false, nil
	}
	return s.getCallLog(ctx, "find_call_log",
		`SELECT `+callLogColumns+` FROM call_logs WHERE conversation_uuid = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		conversationUUID)
}

func (s *SQLStore) getCallLog(ctx context.Context, op, q string, arg string) (calls.CallLog, bool, error) {
	var c calls.CallLog
	err := s.db.GetContext(ctx, &c, s.db.Rebind(q), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.CallLog{}, false, nil
	}
	if err != nil {
		return calls.CallLog{}, false, wrap(op, err)
	}
	return normalizeCallLog(c), true, nil
}

func (s *SQLStore) UpdateCallStatus(ctx context.Context, callUUID string, status calls.Status, endedAt *time.Time) (bool, error) {
	if callUUID == "" || !status.Valid() {
		return false, wrap("update_call_status", ErrInvalidRecord)
	}
	if !status.Terminal() {
		endedAt = nil
	}

	from := make([]string, 0, 4)
	for _, st := range calls.Predecessors(status) {
		from = append(from, string(st))
	}

	q, args, err := sqlx.In(`UPDATE call_logs
		SET status = ?, ended_at = COALESCE(?, ended_at), updated_at = ?
		WHERE call_uuid = ? AND status IN (?)`,
		string(status), normalizeTimePtr(endedAt), normalizeTime(s.clock()), callUUID, from,
	)
	if err != nil {
		return false, wrap("update_call_status", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return false, wrap("update_call_status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("update_call_status", err)
	}
	return n > 0, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return wrap("ping", utils.HealthCheck(ctx, s.db.DB, 2*time.Second))
}

func (s *SQLStore) Close() error {
	return wrap("close", s.db.Close())
}

func normalizeRecording(r recordings.Recording) recordings.Recording {
	r.CreatedAt = normalizeTime(r.CreatedAt)
	r.UpdatedAt = normalizeTime(r.UpdatedAt)
	return r
}

func normalizeCallLog(c calls.CallLog) calls.CallLog {
	c.StartedAt = normalizeTime(c.StartedAt)
	c.EndedAt = normalizeTimePtr(c.EndedAt)
	c.CreatedAt = normalizeTime(c.CreatedAt)
	c.UpdatedAt = normalizeTime(c.UpdatedAt)
	return c
}
