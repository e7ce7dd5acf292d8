package archive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"voice-recorder/internal/metrics"
	"voice-recorder/internal/recordings"
	"voice-recorder/internal/storage"
	"voice-recorder/pkg/logger"
	"voice-recorder/pkg/utils"
)

// Downloader fetches recording media from the provider.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Uploader stores archived media.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

const (
	defaultQueueSize = 256
	jobTimeout       = 2 * time.Minute
	capKey           = "voicemail:archive:inflight"
	capPoll          = 500 * time.Millisecond
)

type Options struct {
	Workers   int
	QueueSize int

	// Redis and MaxConcurrent cap in-flight downloads across replicas.
	// The cap is off when either is unset.
	Redis         *redis.Client
	MaxConcurrent int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Archiver copies saved recordings into the archive bucket in the background.
// Jobs are best-effort: a failed job is logged and counted, the recording row
// keeps an empty archive_key.
type Archiver struct {
	store      storage.Store
	downloader Downloader
	uploader   Uploader
	opts       Options
	log        *slog.Logger

	mu      sync.Mutex
	stopped bool
	jobs    chan recordings.Recording
	wg      sync.WaitGroup
}

func New(store storage.Store, dl Downloader, up Uploader, opts Options) *Archiver {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Archiver{
		store:      store,
		downloader: dl,
		uploader:   up,
		opts:       opts,
		log:        lg.With("component", "archiver"),
		jobs:       make(chan recordings.Recording, opts.QueueSize),
	}
}

// Start launches the workers. ctx bounds every job; cancel it to abandon work in flight.
func (a *Archiver) Start(ctx context.Context) {
	ctx = logger.With(ctx, a.log)
	for i := 0; i < a.opts.Workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for r := range a.jobs {
				a.run(ctx, r)
			}
		}()
	}
}

// Enqueue schedules r for archiving without blocking. It returns false when
// the queue is full or the archiver is stopped.
func (a *Archiver) Enqueue(r recordings.Recording) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	select {
	case a.jobs <- r:
		return true
	default:
		a.opts.Metrics.ArchiveJob("dropped")
		return false
	}
}

// Stop drains queued jobs and waits for the workers, or for ctx.
func (a *Archiver) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.stopped {
		a.stopped = true
		close(a.jobs)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Archiver) run(ctx context.Context, r recordings.Recording) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	key, outcome, err := a.archive(ctx, r)
	a.opts.Metrics.ArchiveJob(outcome)
	if err != nil {
		a.log.Warn("recording_archive_failed", "call_uuid", r.CallUUID, "outcome", outcome, "err", err)
		return
	}
	a.log.Info("recording_archived", "call_uuid", r.CallUUID, "archive_key", key)
}

func (a *Archiver) archive(ctx context.Context, r recordings.Recording) (string, string, error) {
	if r.RecordingURL == "" {
		return "", "skipped", errors.New("recording has no media url")
	}
	if err := CheckMediaURL(r.RecordingURL); err != nil {
		return "", "skipped", err
	}

	release, err := a.acquire(ctx)
	if err != nil {
		return "", "throttled", err
	}
	defer release()

	body, ct, err := a.downloader.Download(ctx, r.RecordingURL)
	if err != nil {
		return "", "download_failed", err
	}
	if ct == "" {
		ct = contentType(r.Format)
	}

	key := ObjectKey(r)
	if err := a.uploader.Upload(ctx, key, body, ct); err != nil {
		return "", "upload_failed", err
	}
	if err := a.store.MarkArchived(ctx, r.CallUUID, key); err != nil {
		return "", "store_failed", err
	}
	return key, "archived", nil
}

// acquire takes a cluster-wide download slot, polling until one frees up or ctx ends.
func (a *Archiver) acquire(ctx context.Context) (func(), error) {
	if a.opts.Redis == nil || a.opts.MaxConcurrent <= 0 {
		return func() {}, nil
	}
	for {
		ok, err := utils.AcquireConcurrencyCap(ctx, a.opts.Redis, capKey, a.opts.MaxConcurrent, jobTimeout)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// The job ctx may already be done; the slot must still be returned.
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				if err := utils.ReleaseConcurrencyCap(rctx, a.opts.Redis, capKey); err != nil {
					a.log.Warn("archive_cap_release_failed", "err", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(capPoll):
		}
	}
}
