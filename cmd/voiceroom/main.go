// Command voiceroom runs one conversation between a child and an agent
// persona on the host microphone, camera and speaker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eduplay/voiceroom/internal/app"
	"github.com/eduplay/voiceroom/internal/config"
	"github.com/eduplay/voiceroom/internal/health"
	"github.com/eduplay/voiceroom/internal/observe"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	agentName := flag.String("agent", "", "agent persona to talk to (overrides session.agent)")
	variant := flag.String("variant", "", "capture variant: on-device, streaming or room (overrides session.variant)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceroom: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceroom: %v\n", err)
		}
		return 1
	}
	if *agentName != "" || *variant != "" {
		if *agentName != "" {
			cfg.Session.Agent = *agentName
		}
		if *variant != "" {
			cfg.Session.Variant = *variant
		}
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "voiceroom: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat))
	slog.Info("voiceroom starting",
		"config", *configPath,
		"version", version,
		"variant", cfg.Session.Variant,
		"agent", cfg.Session.Agent,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	sessionID := uuid.NewString()
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voiceroom",
		ServiceVersion: version,
		SessionID:      sessionID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg, cfg)

	providers, closeProviders, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	printStartupSummary(cfg)

	// ── Session ───────────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithSessionID(sessionID),
	)
	if err != nil {
		slog.Error("failed to initialise session", "err", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		srv := newOpsServer(cfg.Server.ListenAddr, tel, metrics, application.HealthCheckers()...)
		g.Go(func() error {
			slog.Info("ops server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-application.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	updates := application.Subscribe()
	go printUpdates(updates, application.Agent().Name, os.Stdout)
	go runConsole(gctx, application, os.Stdin, os.Stdout)

	fmt.Printf("Say hello to %s! Type /help for commands, Ctrl+C to hang up.\n", application.Agent().Name)

	g.Go(func() error {
		if err := application.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		stop()
		return nil
	})

	exit := 0
	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("session over, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// newOpsServer serves Prometheus metrics and the health probes.
func newOpsServer(addr string, tel *observe.Telemetry, m *observe.Metrics, checks ...health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", tel.Handler())
	health.New(checks...).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voiceroom: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printRow("Variant", cfg.Session.Variant)
	printRow("Language", cfg.Session.Language)
	printRow("Agent", cfg.Session.Agent)
	printRow("Video", onOff(cfg.Session.VideoEnabled()))
	printRow("Sound", onOff(cfg.Session.SoundEnabled()))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, format config.LogFormat) *slog.Logger {
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
	opts := &slog.HandlerOptions{Level: lvl}
	if format == config.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
