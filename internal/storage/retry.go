package storage

import (
	"context"
	"database/sql"
	"errors"
	"math/rand/v2"
	"time"

	"voice-recorder/internal/calls"
	"voice-recorder/internal/recordings"
	"voice-recorder/pkg/logger"
)

// RetryPolicy bounds write retries.
type RetryPolicy struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	out := p
	if out.Attempts <= 0 {
		out.Attempts = 3
	}
	if out.BaseBackoff <= 0 {
		out.BaseBackoff = 50 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = time.Second
	}
	return out
}

// backoff returns a full-jitter delay for the given zero-based retry.
func (p RetryPolicy) backoff(retry int) time.Duration {
	d := p.BaseBackoff << retry
	if d <= 0 || d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return time.Duration(rand.Int64N(int64(d) + 1)) // #nosec G404 -- non-cryptographic jitter
}

// RetryingStore retries writes of the wrapped Store on transient failures.
// Reads pass straight through.
type RetryingStore struct {
	Store
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetryingStore(inner Store, policy RetryPolicy) *RetryingStore {
	return &RetryingStore{Store: inner, policy: policy.withDefaults(), sleep: sleepCtx}
}

func (r *RetryingStore) SaveRecording(ctx context.Context, rec recordings.Recording) error {
	return r.do(ctx, "save_recording", func() error { return r.Store.SaveRecording(ctx, rec) })
}

func (r *RetryingStore) SaveCallLog(ctx context.Context, c calls.CallLog) error {
	return r.do(ctx, "save_call_log", func() error { return r.Store.SaveCallLog(ctx, c) })
}

func (r *RetryingStore) MarkArchived(ctx context.Context, callUUID, key string) error {
	return r.do(ctx, "mark_archived", func() error { return r.Store.MarkArchived(ctx, callUUID, key) })
}

func (r *RetryingStore) ReassignRecording(ctx context.Context, fromCallUUID string, c calls.CallLog) (bool, error) {
	var moved bool
	err := r.do(ctx, "reassign_recording", func() error {
		var err error
		moved, err = r.Store.ReassignRecording(ctx, fromCallUUID, c)
		return err
	})
	return moved, err
}

func (r *RetryingStore) UpdateCallStatus(ctx context.Context, callUUID string, status calls.Status, endedAt *time.Time) (bool, error) {
	var updated bool
	err := r.do(ctx, "update_call_status", func() error {
		var err error
		updated, err = r.Store.UpdateCallStatus(ctx, callUUID, status, endedAt)
		return err
	})
	return updated, err
}

func (r *RetryingStore) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			d := r.policy.backoff(attempt - 1)
			logger.From(ctx).Warn("store_write_retry", "op", op, "attempt", attempt+1, "backoff_ms", d.Milliseconds(), "error", err)
			if serr := r.sleep(ctx, d); serr != nil {
				return wrap(op, serr)
			}
		}
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
	}
	logger.From(ctx).Error("store_write_failed", "op", op, "attempts", r.policy.Attempts, "error", err)
	return err
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRecord),
		errors.Is(err, sql.ErrNoRows),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
