package recordings

import (
	"context"
	"log/slog"
	"time"

	"crm-telephony/internal/calls"
	"crm-telephony/pkg/metrics"
)

// Source looks up a recording URL for a finished provider call. An
// empty URL with nil error means the recording is not ready yet.
type Source interface {
	FetchRecordingURL(ctx context.Context, providerCallID string) (string, error)
}

// Fetcher retrieves recording URLs for completed calls some time after
// the completion event, because the provider publishes recordings with
// a lag. Jobs live in memory only; pending fetches are lost on process
// restart, which is an accepted limitation since the CDR sync can
// backfill them.
type Fetcher struct {
	source Source
	repo   calls.Repository
	log    *slog.Logger
	m      *metrics.WebhookMetrics

	initialDelay time.Duration
	retryDelay   time.Duration
	maxAttempts  int

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sleep func(context.Context, time.Duration) bool
}

type job struct {
	callLogID      string
	providerCallID string
}

type Options struct {
	// InitialDelay is the wait before the first lookup attempt.
	InitialDelay time.Duration
	RetryDelay   time.Duration
	MaxAttempts  int
	QueueSize    int
}

func NewFetcher(source Source, repo calls.Repository, log *slog.Logger, m *metrics.WebhookMetrics, opts Options) *Fetcher {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Fetcher{
		source:       source,
		repo:         repo,
		log:          log,
		m:            m,
		initialDelay: opts.InitialDelay,
		retryDelay:   opts.RetryDelay,
		maxAttempts:  opts.MaxAttempts,
		jobs:         make(chan job, opts.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		sleep:        sleepCtx,
	}
}

// Start launches the worker goroutine. Call Stop to drain and exit.
func (f *Fetcher) Start() {
	go f.run()
}

// Stop cancels pending waits and blocks until the worker exits.
func (f *Fetcher) Stop() {
	f.cancel()
	<-f.done
}

// Schedule enqueues a deferred fetch. It never blocks: when the queue
// is full the job is dropped and logged, matching the best-effort
// contract of recording retrieval.
func (f *Fetcher) Schedule(callLogID, providerCallID string) {
	if providerCallID == "" {
		return
	}
	select {
	case f.jobs <- job{callLogID: callLogID, providerCallID: providerCallID}:
	default:
		f.log.Warn("recording fetch queue full, dropping job",
			"call_log_id", callLogID, "provider_call_id", providerCallID)
		f.m.ObserveRecordingFetch("dropped")
	}
}

func (f *Fetcher) run() {
	defer close(f.done)
	for {
		select {
		case <-f.ctx.Done():
			return
		case j := <-f.jobs:
			f.process(j)
		}
	}
}

func (f *Fetcher) process(j job) {
	if !f.sleep(f.ctx, f.initialDelay) {
		return
	}
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		url, err := f.source.FetchRecordingURL(f.ctx, j.providerCallID)
		switch {
		case err != nil:
			f.log.Warn("recording lookup failed",
				"provider_call_id", j.providerCallID, "attempt", attempt, "error", err)
		case url == "":
			f.log.Info("recording not ready",
				"provider_call_id", j.providerCallID, "attempt", attempt)
		default:
			if err := f.repo.SetRecordingURL(f.ctx, j.callLogID, url); err != nil {
				f.log.Error("store recording url",
					"call_log_id", j.callLogID, "error", err)
				f.m.ObserveRecordingFetch("store_error")
				return
			}
			f.m.ObserveRecordingFetch("ok")
			return
		}
		if attempt < f.maxAttempts && !f.sleep(f.ctx, f.retryDelay) {
			return
		}
	}
	f.m.ObserveRecordingFetch("exhausted")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
