package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-recorder/internal/calls"
	"voice-recorder/internal/recordings"
)

// flakyStore fails the first `failures` writes with a transient error.
type flakyStore struct {
	*MemoryStore
	failures int
	calls    int
}

func (f *flakyStore) SaveRecording(ctx context.Context, r recordings.Recording) error {
	f.calls++
	if f.calls <= f.failures {
		return &Error{Op: "save_recording", Err: errors.New("database is locked")}
	}
	return f.MemoryStore.SaveRecording(ctx, r)
}

func (f *flakyStore) UpdateCallStatus(ctx context.Context, callUUID string, status calls.Status, endedAt *time.Time) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, &Error{Op: "update_call_status", Err: errors.New("connection reset")}
	}
	return f.MemoryStore.UpdateCallStatus(ctx, callUUID, status, endedAt)
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryingStore_RecoversFromTransientFailures(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	s := NewRetryingStore(inner, RetryPolicy{Attempts: 3})
	s.sleep = noSleep

	require.NoError(t, s.SaveRecording(context.Background(), sampleRecording("call-1", time.Now())))
	assert.Equal(t, 3, inner.calls)

	_, ok, err := s.GetRecording(context.Background(), "call-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetryingStore_SurfacesAfterBoundedAttempts(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
	s := NewRetryingStore(inner, RetryPolicy{Attempts: 3})
	s.sleep = noSleep

	err := s.SaveRecording(context.Background(), sampleRecording("call-1", time.Now()))
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingStore_DoesNotRetryInvalidRecords(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	s := NewRetryingStore(inner, RetryPolicy{Attempts: 3})
	s.sleep = noSleep

	err := s.SaveRecording(context.Background(), sampleRecording("", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingStore_UpdateCallStatusReturnsResult(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 1}
	require.NoError(t, inner.MemoryStore.SaveCallLog(context.Background(), answeredCall("call-1")))

	s := NewRetryingStore(inner, RetryPolicy{Attempts: 2})
	s.sleep = noSleep

	now := time.Now()
	updated, err := s.UpdateCallStatus(context.Background(), "call-1", calls.StatusCompleted, &now)
	require.NoError(t, err)
	assert.True(t, updated)
}

func TestRetryPolicy_BackoffIsBounded(t *testing.T) {
	p := RetryPolicy{BaseBackoff: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond}.withDefaults()
	for retry := 0; retry < 10; retry++ {
		d := p.backoff(retry)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}
