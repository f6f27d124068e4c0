// Command rescribe is the main entry point for the Rescribe transcription server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/rescribe/internal/app"
	"github.com/MrWong99/rescribe/internal/config"
	"github.com/MrWong99/rescribe/internal/observe"
	"github.com/MrWong99/rescribe/pkg/audio/ffmpeg"
	"github.com/MrWong99/rescribe/pkg/provider/alm/openaicompat"
	"github.com/MrWong99/rescribe/pkg/provider/stt/whisperapi"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "rescribe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "rescribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("rescribe starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	obsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := obsShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the first-pass recognizer, the multimodal
// corrector and the clip slicer from cfg and returns them in an
// [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	var asrOpts []whisperapi.Option
	if cfg.ASR.Model != "" {
		asrOpts = append(asrOpts, whisperapi.WithModel(cfg.ASR.Model))
	}
	if cfg.ASR.TimeoutSeconds > 0 {
		asrOpts = append(asrOpts, whisperapi.WithTimeout(time.Duration(cfg.ASR.TimeoutSeconds)*time.Second))
	}
	asr, err := whisperapi.New(cfg.ASR.URL, asrOpts...)
	if err != nil {
		return nil, fmt.Errorf("create asr provider: %w", err)
	}
	slog.Info("provider created", "kind", "asr", "url", cfg.ASR.URL, "model", cfg.ASR.Model)

	var almOpts []openaicompat.Option
	if cfg.Multimodal.Temperature > 0 {
		almOpts = append(almOpts, openaicompat.WithTemperature(cfg.Multimodal.Temperature))
	}
	if cfg.Multimodal.MaxTokens > 0 {
		almOpts = append(almOpts, openaicompat.WithMaxTokens(cfg.Multimodal.MaxTokens))
	}
	if cfg.Multimodal.TimeoutSeconds > 0 {
		almOpts = append(almOpts, openaicompat.WithTimeout(time.Duration(cfg.Multimodal.TimeoutSeconds)*time.Second))
	}
	corrector, err := openaicompat.New(cfg.Multimodal.URL, cfg.Multimodal.Model, almOpts...)
	if err != nil {
		return nil, fmt.Errorf("create multimodal provider: %w", err)
	}
	slog.Info("provider created", "kind", "multimodal", "url", cfg.Multimodal.URL, "model", cfg.Multimodal.Model)

	slicer := ffmpeg.New(ffmpeg.WithBinary(cfg.FFmpeg.Binary))
	slog.Info("provider created", "kind", "slicer", "binary", cfg.FFmpeg.Binary)

	return &app.Providers{
		ASR:       asr,
		Corrector: corrector,
		Slicer:    slicer,
	}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Rescribe — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("ASR", cfg.ASR.URL)
	printRow("Multimodal", cfg.Multimodal.Model)
	printRow("Store", cfg.Store.Path)
	printRow("Upload dir", cfg.Paths.UploadDir)
	if cfg.Notify.WebhookURL != "" {
		printRow("Notifications", "webhook")
	} else {
		printRow("Notifications", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", label, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
