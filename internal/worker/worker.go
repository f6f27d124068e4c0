// Package worker runs the two-pass transcription pipeline over queued jobs.
//
// A single worker polls the job store, claims pending jobs one at a time, and
// drives each through the full pipeline: first-pass word-level transcription,
// low-confidence window planning, per-window re-hearing with the multimodal
// model, verification, and the final merge. Jobs are strictly sequential; the
// inference servers behind the providers are assumed to serve one request
// well and many requests badly.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/rescribe/internal/observe"
	"github.com/MrWong99/rescribe/internal/transcript"
	"github.com/MrWong99/rescribe/pkg/audio"
	"github.com/MrWong99/rescribe/pkg/provider/alm"
	"github.com/MrWong99/rescribe/pkg/provider/stt"
	"github.com/MrWong99/rescribe/pkg/types"
)

// defaultPollInterval is the pause between empty polls of the job queue.
const defaultPollInterval = 3 * time.Second

// Store is the subset of the job store the worker depends on.
type Store interface {
	// ClaimNextPending atomically claims the oldest pending job, or returns
	// (nil, nil) when the queue is empty.
	ClaimNextPending(ctx context.Context) (*types.Job, error)

	// SaveSegments persists the first-pass word timeline for a job.
	SaveSegments(ctx context.Context, jobID string, words []types.Word) error

	// FindSegmentInRange returns a stored segment fully inside [start, end],
	// or (nil, nil) when the window contains none.
	FindSegmentInRange(ctx context.Context, jobID string, start, end float64) (*types.Segment, error)

	// SaveCorrection records the outcome of one second-pass window.
	SaveCorrection(ctx context.Context, c *types.Correction) error

	// FinalizeSuccess marks a job completed with its final transcript.
	FinalizeSuccess(ctx context.Context, id, transcript string) error

	// FinalizeFailure marks a job failed with an error message.
	FinalizeFailure(ctx context.Context, id, errMsg string) error
}

// Notifier publishes job lifecycle events. Implementations must be
// best-effort: a failed notification never affects the job.
type Notifier interface {
	JobStarted(ctx context.Context, job *types.Job)
	JobCompleted(ctx context.Context, job *types.Job, elapsed time.Duration, applied int)
	JobFailed(ctx context.Context, job *types.Job, jobErr error)
}

// Config assembles the dependencies and tuning knobs for a [Worker].
type Config struct {
	// Store is the job store. Required.
	Store Store

	// ASR is the first-pass word-level recognizer. Required.
	ASR stt.Provider

	// Corrector is the multimodal model that re-hears low-confidence clips.
	// Required.
	Corrector alm.Provider

	// Slicer extracts window clips from the original recording. Required.
	Slicer audio.Slicer

	// Notifier receives lifecycle events. Optional; nil disables notifications.
	Notifier Notifier

	// Clusterer plans correction windows. Defaults to [transcript.NewClusterer]
	// with stock thresholds when nil.
	Clusterer *transcript.Clusterer

	// Metrics receives pipeline instrumentation. Defaults to
	// [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics

	// ClipDir is where temporary window clips are written. Defaults to the
	// system temp directory when empty.
	ClipDir string

	// PollInterval is the pause between empty queue polls. Defaults to 3s
	// when zero or negative.
	PollInterval time.Duration
}

// Worker is the single-flight job processor. Create one per process with
// [New]; multiple workers against the same store on one host would fight over
// the SQLite write lock for no throughput gain.
type Worker struct {
	store     Store
	asr       stt.Provider
	corrector alm.Provider
	slicer    audio.Slicer
	notifier  Notifier
	clusterer *transcript.Clusterer
	metrics   *observe.Metrics

	clipDir      string
	pollInterval time.Duration

	// isProcessing is set for the duration of one job's pipeline.
	isProcessing atomic.Bool

	// shouldStop requests a stop after the in-flight job finishes.
	shouldStop atomic.Bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a [Worker] from cfg, filling unset optional fields with their
// defaults.
func New(cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Clusterer == nil {
		cfg.Clusterer = transcript.NewClusterer()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	return &Worker{
		store:        cfg.Store,
		asr:          cfg.ASR,
		corrector:    cfg.Corrector,
		slicer:       cfg.Slicer,
		notifier:     cfg.Notifier,
		clusterer:    cfg.Clusterer,
		metrics:      cfg.Metrics,
		clipDir:      cfg.ClipDir,
		pollInterval: cfg.PollInterval,
		done:         make(chan struct{}),
	}
}

// Start begins the poll loop in a background goroutine. The loop runs until
// [Worker.Stop] is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop to exit once the in-flight job (if any) finishes.
// Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.shouldStop.Store(true)
		close(w.done)
	})
}

// Shutdown stops the worker and blocks until the in-flight job finishes or
// ctx expires. A job interrupted by an expired ctx stays in PROCESSING and is
// re-queued by the startup sweep on the next boot.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.Stop()

	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Processing reports whether a job pipeline is currently running.
func (w *Worker) Processing() bool {
	return w.isProcessing.Load()
}

// run is the poll loop. One immediate drain on entry, then one per tick.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	slog.Info("worker started", "poll_interval", w.pollInterval)

	w.drain(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "reason", "context cancelled")
			return
		case <-w.done:
			slog.Info("worker stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// ProcessNext claims and processes the next pending job synchronously,
// reporting whether one was processed. Long-running services rely on
// [Worker.Start] instead; ProcessNext is the building block and suits
// one-shot drains.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextPending(ctx)
	if err != nil {
		return false, fmt.Errorf("worker: claim: %w", err)
	}
	if job == nil {
		return false, nil
	}

	w.metrics.JobsClaimed.Add(ctx, 1)
	w.processJob(ctx, job)
	return true, nil
}

// drain claims and processes jobs until the queue is empty or a stop is
// requested. Claim errors end the drain; the next tick retries.
func (w *Worker) drain(ctx context.Context) {
	for {
		if w.shouldStop.Load() || ctx.Err() != nil {
			return
		}

		ok, err := w.ProcessNext(ctx)
		if err != nil {
			slog.Error("worker: drain", "error", err)
			return
		}
		if !ok {
			return
		}
	}
}

// noopNotifier discards all lifecycle events.
type noopNotifier struct{}

func (noopNotifier) JobStarted(context.Context, *types.Job)                       {}
func (noopNotifier) JobCompleted(context.Context, *types.Job, time.Duration, int) {}
func (noopNotifier) JobFailed(context.Context, *types.Job, error)                 {}
