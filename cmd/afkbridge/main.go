// Command afkbridge runs the AFK bridge daemon: it forwards terminal
// assistant prompts to a Telegram chat and routes the answers back into
// the originating terminal sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jvosloo/afkbridge/internal/app"
	"github.com/jvosloo/afkbridge/internal/config"
	"github.com/jvosloo/afkbridge/internal/observe"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("afkbridge", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher callback fires from a background goroutine, so the app
	// handle it delegates to is stored atomically.
	var application atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if a := application.Load(); a != nil {
			a.OnConfigChange(old, new)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "afkbridge: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "afkbridge: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, levelVar := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("afkbridge starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	a, err := app.New(ctx, cfg, watcher, app.WithLogLevelVar(levelVar))
	if err != nil {
		slog.Error("failed to initialise daemon", "err", err)
		return 1
	}
	application.Store(a)

	slog.Info("daemon ready", "mode", cfg.AFK.StartMode)

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		a.Close()
		return 1
	}

	slog.Info("shutting down")
	if err := a.Close(); err != nil {
		slog.Warn("close error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║          afkbridge — startup summary          ║")
	fmt.Println("╠═══════════════════════════════════════════════╣")
	printRow("Start mode", string(cfg.AFK.StartMode))
	printRow("Hook socket", cfg.AFK.HookSocket)
	printRow("Control socket", cfg.AFK.ControlSocket)
	printRow("Response dir", cfg.AFK.ResponseDir)
	printRow("Tmux binary", cfg.Tmux.Binary)
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics", cfg.Server.MetricsAddr)
	} else {
		printRow("Metrics", "(disabled)")
	}
	if cfg.Voice.Enabled {
		printRow("Voice", "enabled")
	} else {
		printRow("Voice", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 27 {
		value = "…" + value[len(value)-26:]
	}
	fmt.Printf("║  %-14s : %-27s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets config
// reloads adjust verbosity without recreating the handler.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	switch level {
	case config.LogDebug:
		lv.Set(slog.LevelDebug)
	case config.LogWarn:
		lv.Set(slog.LevelWarn)
	case config.LogError:
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
