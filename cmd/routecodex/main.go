// Command routecodex runs the local LLM routing gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/codec/anthropicmsg"
	"github.com/routecodex/routecodex/internal/codec/geminigen"
	"github.com/routecodex/routecodex/internal/codec/openaichat"
	"github.com/routecodex/routecodex/internal/codec/responsesapi"
	"github.com/routecodex/routecodex/internal/config"
	"github.com/routecodex/routecodex/internal/events"
	"github.com/routecodex/routecodex/internal/executor"
	"github.com/routecodex/routecodex/internal/lifecycle"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/provider"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/server"
	"github.com/routecodex/routecodex/internal/storage/sqlite"
	"github.com/routecodex/routecodex/internal/telemetry"
	"github.com/routecodex/routecodex/internal/tokens"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	restart := flag.Bool("restart", false, "take over a running instance on the same port")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("routecodex", logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stateDir := cfg.StateDir()
	life := lifecycle.NewManager(stateDir, logger)
	if err := life.EnsurePort(ctx, cfg.Server.Port, *restart); err != nil {
		return err
	}
	if err := life.Register(cfg.Server.Port); err != nil {
		logger.Warn("pid registration failed", slog.String("error", err.Error()))
	}
	defer life.Unregister(cfg.Server.Port)

	codecs, err := codec.BuildRegistry(
		openaichat.New(),
		responsesapi.New(),
		anthropicmsg.New(),
		geminigen.New(),
	)
	if err != nil {
		return fmt.Errorf("build codec registry: %w", err)
	}

	bus := events.NewBroadcaster()
	daemon := quota.NewDaemon(quota.Options{
		SnapshotPath:        filepath.Join(stateDir, "quota", "quota-manager.json"),
		MaintenanceInterval: time.Duration(cfg.Quota.DaemonIntervalMs) * time.Millisecond,
		PersistDebounce:     time.Duration(cfg.Quota.PersistDebounceMs) * time.Millisecond,
		Logger:              logger,
	})

	targets, routes, err := cfg.BuildTargets()
	if err != nil {
		return err
	}

	estimator := tokens.NewEstimator()
	classifier := router.NewClassifier(estimator, routes,
		cfg.Router.LongContextThresholdTokens,
		cfg.Router.ThinkingKeywords,
		cfg.Router.BackgroundKeywords,
	)
	sticky := router.NewStickyStore(cfg.Router.StickySessions,
		time.Duration(cfg.Router.StickyTTLSeconds)*time.Second)
	rt := router.New(routes, targets, daemon.View(), sticky,
		time.Duration(cfg.Router.ErrorPriorityWindowMs)*time.Millisecond)

	providers := provider.NewRegistry(nil)
	exec := executor.New(rt, providers, codecs, bus, logger, executor.DefaultIdleTimeout)

	var (
		recorder     pipeline.Recorder
		interactions server.InteractionReader
	)
	if cfg.Storage.Path != "" {
		store, err := sqlite.Open(cfg.Storage.Path, logger)
		if err != nil {
			return fmt.Errorf("open interaction store: %w", err)
		}
		defer store.Close()
		recorder = store
		interactions = store
	}

	pipe := pipeline.New(codecs, classifier, exec,
		pipeline.ReasoningPolicyFromEnv(), recorder, logger)

	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := server.New(server.Options{
		Port:           cfg.Server.Port,
		APIKeys:        cfg.Server.APIKeys,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		Pipeline:       pipe,
		Router:         rt,
		Quota:          daemon,
		Interactions:   interactions,
		Logger:         logger,
		Shutdown:       cancel,
	})

	g, gctx := errgroup.WithContext(srvCtx)
	g.Go(func() error {
		err := daemon.Run(gctx, bus)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	for _, r := range antigravityRefreshers(cfg, daemon, stateDir, logger) {
		r := r
		g.Go(func() error {
			err := r.Run(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		return srv.Start(gctx)
	})

	logger.Info("routecodex started",
		slog.Int("port", cfg.Server.Port),
		slog.Int("targets", len(targets)),
		slog.Int("routes", len(routes)),
	)
	return g.Wait()
}

// antigravityRefreshers builds one OAuth quota refresher per oauth-backed
// antigravity alias.
func antigravityRefreshers(cfg *config.Config, daemon *quota.Daemon, stateDir string, logger *slog.Logger) []*quota.AntigravityRefresher {
	var out []*quota.AntigravityRefresher
	for providerName, pc := range cfg.Providers {
		if pc.Type != "antigravity" {
			continue
		}
		endpoint := pc.Endpoint
		if endpoint == "" {
			endpoint = "https://cloudcode-pa.googleapis.com"
		}
		for alias, ac := range pc.Aliases {
			if ac.AuthFile == "" {
				continue
			}
			out = append(out, quota.NewAntigravityRefresher(daemon, quota.AntigravityOptions{
				Endpoint:  endpoint,
				TokenPath: ac.AuthFile,
				Provider:  providerName,
				Alias:     alias,
				Models:    ac.Models,
				StateDir:  stateDir,
				Logger:    logger,
			}))
		}
	}
	return out
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
