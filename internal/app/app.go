// Package app wires the Rescribe subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and the worker loop until the context
// is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithNotifier). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rescribe/internal/api"
	"github.com/MrWong99/rescribe/internal/config"
	"github.com/MrWong99/rescribe/internal/health"
	"github.com/MrWong99/rescribe/internal/notify"
	"github.com/MrWong99/rescribe/internal/store"
	"github.com/MrWong99/rescribe/internal/transcript"
	"github.com/MrWong99/rescribe/internal/worker"
	"github.com/MrWong99/rescribe/pkg/audio"
	"github.com/MrWong99/rescribe/pkg/provider/alm"
	"github.com/MrWong99/rescribe/pkg/provider/stt"
)

// drainTimeout bounds the HTTP connection drain once the run context ends.
const drainTimeout = 10 * time.Second

// Providers holds the external collaborators of the pipeline. All three are
// required; main.go builds them from the config, tests pass mocks.
type Providers struct {
	// ASR is the word-level recognizer for the first pass.
	ASR stt.Provider

	// Corrector is the audio language model for the second pass.
	Corrector alm.Provider

	// Slicer cuts correction clips out of the original recording.
	Slicer audio.Slicer
}

// App owns all subsystem lifetimes of the Rescribe service.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store    *store.Store
	notifier worker.Notifier
	worker   *worker.Worker
	server   *http.Server

	// workerCancel releases the worker's background context after Shutdown
	// has waited for the in-flight job.
	workerCancel context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a job store instead of opening one from config.
func WithStore(s *store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNotifier injects a notifier instead of creating one from config.
func WithNotifier(n worker.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles.
//
// New performs all initialisation synchronously: the store is opened and
// migrated, jobs stranded in PROCESSING by a previous crash are re-queued,
// the working directories are created, and the worker and HTTP server are
// assembled (but not yet started; Run does that).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Job store ─────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Re-queue interrupted jobs ─────────────────────────────────────
	// Runs before the worker exists, so a re-queued job cannot race its own
	// requeue. Single-queue deployment is assumed.
	n, err := a.store.RequeueStale(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: requeue interrupted jobs: %w", err)
	}
	slog.Info("startup sweep complete", "requeued_jobs", n)

	// ── 3. Working directories ───────────────────────────────────────────
	clipDir, err := a.initDirs()
	if err != nil {
		return nil, fmt.Errorf("app: init directories: %w", err)
	}

	// ── 4. Providers ─────────────────────────────────────────────────────
	if err := a.checkProviders(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 5. Notifier ──────────────────────────────────────────────────────
	if a.notifier == nil {
		a.notifier = notify.New(cfg.Notify.WebhookURL, notify.WithUsername(cfg.Notify.Username))
	}

	// ── 6. Worker ────────────────────────────────────────────────────────
	a.worker = worker.New(worker.Config{
		Store:     a.store,
		ASR:       a.providers.ASR,
		Corrector: a.providers.Corrector,
		Slicer:    a.providers.Slicer,
		Notifier:  a.notifier,
		Clusterer: transcript.NewClusterer(
			transcript.WithConfidenceThreshold(cfg.Pipeline.ConfidenceThreshold),
			transcript.WithProximityThreshold(cfg.Pipeline.ProximitySeconds),
			transcript.WithCorrectionWindow(cfg.Pipeline.CorrectionWindowSeconds),
		),
		ClipDir:      clipDir,
		PollInterval: time.Duration(cfg.Pipeline.PollIntervalMS) * time.Millisecond,
	})

	// ── 7. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the SQLite store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st, err := store.New(ctx, a.cfg.Store.Path,
		store.WithBusyTimeout(time.Duration(a.cfg.Store.BusyTimeoutMS)*time.Millisecond),
	)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	return nil
}

// initDirs creates the upload directory and the clip scratch directory under
// it, and returns the clip directory path.
func (a *App) initDirs() (string, error) {
	clipDir := filepath.Join(a.cfg.Paths.UploadDir, "clips")
	for _, dir := range []string{a.cfg.Paths.UploadDir, clipDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create %q: %w", dir, err)
		}
	}
	return clipDir, nil
}

// checkProviders verifies all required provider slots are filled.
func (a *App) checkProviders() error {
	if a.providers == nil {
		return errors.New("providers are required")
	}
	if a.providers.ASR == nil {
		return errors.New("asr provider is required")
	}
	if a.providers.Corrector == nil {
		return errors.New("multimodal provider is required")
	}
	if a.providers.Slicer == nil {
		return errors.New("audio slicer is required")
	}
	return nil
}

// initServer assembles the API handler and the http.Server around it.
func (a *App) initServer() {
	checkers := []health.Checker{
		health.Probe("database", a.store.Ping),
		health.Directory("upload-dir", a.cfg.Paths.UploadDir),
		health.Probe("slicer", a.providers.Slicer.Check),
		health.Endpoint("asr", a.cfg.ASR.URL),
		health.Endpoint("multimodal", a.cfg.Multimodal.URL),
	}

	srv := api.New(api.Config{
		Store:          a.store,
		UploadDir:      a.cfg.Paths.UploadDir,
		MaxUploadBytes: int64(a.cfg.Server.MaxUploadMB) << 20,
		Health:         health.New(checkers...),
	})

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the worker loop and the HTTP server and blocks until ctx is
// cancelled or the server fails. On cancellation the HTTP listener is drained
// before Run returns; the worker keeps its claim on any in-flight job until
// Shutdown waits for it.
func (a *App) Run(ctx context.Context) error {
	// The worker gets its own context so that cancelling the run context
	// stops claiming without yanking providers out from under the job that
	// is currently processing. Shutdown decides how long to wait.
	workerCtx, cancel := context.WithCancel(context.Background())
	a.workerCancel = cancel
	a.worker.Start(workerCtx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tls := a.cfg.Server.TLS
		slog.Info("http server listening", "addr", a.server.Addr, "tls", tls != nil)

		var err error
		if tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
		defer drainCancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("app: drain http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the worker and tears down all subsystems in reverse-init
// order. It waits for an in-flight job up to the context deadline; a job
// still running when the deadline expires keeps its PROCESSING row and is
// re-queued by the startup sweep on the next boot.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.worker != nil {
			if err := a.worker.Shutdown(ctx); err != nil {
				slog.Warn("worker did not finish in time; job left for the startup sweep", "err", err)
			}
		}
		if a.workerCancel != nil {
			a.workerCancel()
		}

		// Run closers in order.
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
