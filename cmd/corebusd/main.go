// Package main is the entry point for corebusd, the privacy-first
// personal infrastructure platform's core event bus and delivery
// fabric.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/privatehub/corebus/internal/archive"
	"github.com/privatehub/corebus/internal/bus"
	"github.com/privatehub/corebus/internal/buildinfo"
	"github.com/privatehub/corebus/internal/config"
	"github.com/privatehub/corebus/internal/corebus"
	"github.com/privatehub/corebus/internal/realtime"
	"github.com/privatehub/corebus/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
			return
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	fmt.Println("corebusd - privacy-first personal infrastructure event bus")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the event bus and its worker pool")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting corebusd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "workers", cfg.Bus.Workers)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	adapters, closeAdapters := buildAdapters(logger, cfg)
	defer closeAdapters()

	var archiveStore *archive.Store
	archivePath := filepath.Join(cfg.DataDir, "archive.db")
	archiveStore, err = archive.Open(archivePath)
	if err != nil {
		logger.Error("failed to open archive store", "path", archivePath, "error", err)
		os.Exit(1)
	}
	defer archiveStore.Close()
	logger.Info("archive store opened", "path", archivePath)

	b := corebus.New(logger, corebus.Options{
		MaxQueueSize:       cfg.Bus.MaxQueueSize,
		Workers:            cfg.Bus.Workers,
		MaxRetryAttempts:   cfg.Bus.MaxRetryAttempts,
		RetryDelay:         cfg.RetryDelay(),
		DeadLetterCapacity: cfg.Bus.DeadLetterCapacity,
		Adapters:           adapters,
		Realtime: realtime.Config{
			BroadcastSystemEvents: cfg.Realtime.BroadcastSystemEvents,
			BroadcastUserEvents:   cfg.Realtime.BroadcastUserEvents,
		},
		Archive: archiveStore,
	})

	registerDefaultHandlers(b, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		b.Shutdown(cfg.ShutdownDrain())
	}()

	if cfg.Realtime.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", b.RealtimeHub().ServeHTTP)
		addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Info("realtime websocket listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("realtime server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownDrain())
			defer cancelShutdown()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	b.Run(ctx)
	logger.Info("corebusd stopped")
}

// buildAdapters wires one transport.Adapter per configured backend.
// Transports left unconfigured are simply absent from the map: a
// delivery attempt against an unconfigured transport fails with
// "no adapter for transport" rather than the process refusing to
// start, since the bus itself has no mandatory transport.
func buildAdapters(logger *slog.Logger, cfg *config.Config) (map[transport.Kind]transport.Adapter, func()) {
	if logger == nil {
		logger = slog.Default()
	}
	adapters := make(map[transport.Kind]transport.Adapter)
	var closers []func() error

	if cfg.Transports.Email.Configured() {
		adapters[transport.KindEmail] = transport.NewEmailAdapter(transport.SMTPConfig{
			Host:     cfg.Transports.Email.Host,
			Port:     cfg.Transports.Email.Port,
			Username: cfg.Transports.Email.Username,
			Password: cfg.Transports.Email.Password,
			StartTLS: cfg.Transports.Email.StartTLS,
		}, cfg.Transports.Email.From)
		logger.Info("email transport configured", "host", cfg.Transports.Email.Host)
	}

	adapters[transport.KindWebhook] = transport.NewWebhookOutAdapter(cfg.Transports.Webhook.Secret)
	adapters[transport.KindSMS] = transport.NewSMSAdapter()

	if cfg.Transports.Discord.Configured() {
		sender, err := newDiscordChatSender(cfg.Transports.Discord.BotToken)
		if err != nil {
			logger.Error("discord chat transport disabled", "error", err)
		} else {
			adapters[transport.KindChat] = transport.NewChatAdapter(sender, "")
			closers = append(closers, sender.Close)
			logger.Info("discord chat transport configured")
		}
	}

	return adapters, func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("transport shutdown error", "error", err)
			}
		}
	}
}

// registerDefaultHandlers wires the internal handlers C10 describes:
// a system-category logger. The user→personal-log forwarder runs for
// every category via internal/dispatch.Registry whenever an event
// carries a UserID (see corebus.New's SetPersonalLogHandler wiring);
// the realtime broadcaster runs as a terminal-event hook rather than a
// registered category handler, so neither needs a RegisterHandler call
// here.
func registerDefaultHandlers(b *corebus.Bus, logger *slog.Logger) {
	b.RegisterHandler(bus.CategorySystem, "system-log", func(_ context.Context, e bus.Event) error {
		logger.Info("system event", "source", e.Source, "title", e.Title, "priority", e.Priority.String())
		return nil
	})
}
