package storage

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"voice-recorder/internal/calls"
	"voice-recorder/internal/recordings"
)

// MemoryStore is an in-memory Store with the same upsert and transition
// semantics as SQLStore. Useful for tests and local runs; not durable.
type MemoryStore struct {
	mu         sync.Mutex
	recordings map[string]recordings.Recording
	callLogs   map[string]calls.CallLog
	clock      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recordings: map[string]recordings.Recording{},
		callLogs:   map[string]calls.CallLog{},
		clock:      time.Now,
	}
}

func (m *MemoryStore) SaveRecording(_ context.Context, r recordings.Recording) error {
	if r.CallUUID == "" || !r.Status.Valid() || r.Duration < 0 {
		return wrap("save_recording", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := normalizeTime(m.clock())
	if prev, ok := m.recordings[r.CallUUID]; ok {
		r.ID = prev.ID
		if r.CallerNumber == "" {
			r.CallerNumber = prev.CallerNumber
		}
		if r.CalledNumber == "" {
			r.CalledNumber = prev.CalledNumber
		}
		if r.ArchiveKey == "" {
			r.ArchiveKey = prev.ArchiveKey
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.CreatedAt = normalizeTime(r.CreatedAt)
	r.UpdatedAt = now
	m.recordings[r.CallUUID] = r
	return nil
}

func (m *MemoryStore) GetRecording(_ context.Context, callUUID string) (recordings.Recording, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recordings[callUUID]
	return r, ok, nil
}

func (m *MemoryStore) ListRecordings(_ context.Context, f RecordingFilter) ([]recordings.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]recordings.Recording, 0, len(m.recordings))
	for _, r := range m.recordings {
		if f.contains(r.CreatedAt) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) MarkArchived(_ context.Context, callUUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recordings[callUUID]
	if !ok {
		return wrap("mark_archived", sql.ErrNoRows)
	}
	r.ArchiveKey = key
	r.UpdatedAt = normalizeTime(m.clock())
	m.recordings[callUUID] = r
	return nil
}

func (m *MemoryStore) ReassignRecording(_ context.Context, fromCallUUID string, c calls.CallLog) (bool, error) {
	if fromCallUUID == "" || c.CallUUID == "" || fromCallUUID == c.CallUUID {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recordings[fromCallUUID]
	if !ok {
		return false, nil
	}
	if _, taken := m.recordings[c.CallUUID]; taken {
		return false, nil
	}
	r.CallUUID = c.CallUUID
	if r.CallerNumber == "" {
		r.CallerNumber = c.CallerNumber
	}
	if r.CalledNumber == "" {
		r.CalledNumber = c.CalledNumber
	}
	r.UpdatedAt = normalizeTime(m.clock())
	delete(m.recordings, fromCallUUID)
	m.recordings[c.CallUUID] = r
	return true, nil
}

func (m *MemoryStore) SaveCallLog(_ context.Context, c calls.CallLog) error {
	if c.CallUUID == "" || !c.Status.Valid() {
		return wrap("save_call_log", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := normalizeTime(m.clock())
	if !c.Status.Terminal() {
		c.EndedAt = nil
	}
	c.EndedAt = normalizeTimePtr(c.EndedAt)

	prev, ok := m.callLogs[c.CallUUID]
	if !ok {
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
		c.StartedAt = normalizeTime(c.StartedAt)
		c.CreatedAt = normalizeTime(c.CreatedAt)
		c.UpdatedAt = now
		m.callLogs[c.CallUUID] = c
		return nil
	}

	if c.ConversationUUID != "" {
		prev.ConversationUUID = c.ConversationUUID
	}
	if c.CallerNumber != "" {
		prev.CallerNumber = c.CallerNumber
	}
	if c.CalledNumber != "" {
		prev.CalledNumber = c.CalledNumber
	}
	switch {
	case prev.Status.Terminal():
	case prev.Status == calls.StatusAnswered && c.Status == calls.StatusRinging:
	default:
		prev.Status = c.Status
		prev.EndedAt = c.EndedAt
	}
	prev.UpdatedAt = now
	m.callLogs[c.CallUUID] = prev
	return nil
}

func (m *MemoryStore) GetCallLog(_ context.Context, callUUID string) (calls.CallLog, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.callLogs[callUUID]
	return c, ok, nil
}

func (m *MemoryStore) FindCallLogByConversation(_ context.Context, conversationUUID string) (calls.CallLog, bool, error) {
	if conversationUUID == "" {
		return calls.CallLog{}, false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		found calls.CallLog
		ok    bool
	)
	for _, c := range m.callLogs {
		if c.ConversationUUID != conversationUUID {
			continue
		}
		if !ok || c.CreatedAt.Before(found.CreatedAt) || (c.CreatedAt.Equal(found.CreatedAt) && c.ID < found.ID) {
			found, ok = c, true
		}
	}
	return found, ok, nil
}

func (m *MemoryStore) UpdateCallStatus(_ context.Context, callUUID string, status calls.Status, endedAt *time.Time) (bool, error) {
	if callUUID == "" || !status.Valid() {
		return false, wrap("update_call_status", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.callLogs[callUUID]
	if !ok || !calls.CanTransition(c.Status, status) {
		return false, nil
	}
	c.Status = status
	if status.Terminal() && endedAt != nil {
		c.EndedAt = normalizeTimePtr(endedAt)
	}
	c.UpdatedAt = normalizeTime(m.clock())
	m.callLogs[callUUID] = c
	return true, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
