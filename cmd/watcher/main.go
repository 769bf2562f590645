// Package main runs a headless stream client: it follows one user's update
// stream and logs each dashboard refresh hint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oremus-labs/dashsync/config"
	"github.com/oremus-labs/dashsync/internal/dispatch"
	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/stream"
)

const watcherVersion = "0.1.0"

func main() {
	envErr := config.LoadEnvFile(envFile())
	cfg := config.Load()
	logger := logutil.Configure(logutil.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if envErr != nil {
		logutil.Error("failed to read env file", envErr, nil)
	}
	logutil.Info("watcher_bootstrap", map[string]interface{}{
		"version":     watcherVersion,
		"url":         cfg.StreamURL,
		"authMode":    cfg.StreamAuthMode,
		"maxAttempts": cfg.StreamMaxAttempts,
	})

	if cfg.StreamToken == "" {
		logutil.Error("STREAM_TOKEN is required", nil, nil)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.WatcherMetricsAddr != "" {
		startMetrics(ctx, cfg.WatcherMetricsAddr)
	}

	manager := stream.New(stream.Options{
		URL:      cfg.StreamURL,
		Token:    cfg.StreamToken,
		AuthMode: stream.AuthMode(cfg.StreamAuthMode),
		Backoff: stream.Backoff{
			Initial: cfg.StreamInitialDelay,
			Max:     cfg.StreamMaxDelay,
		},
		MaxAttempts: cfg.StreamMaxAttempts,
		Logger:      logger,
	})

	refresher := dispatch.RefresherFunc(func(_ context.Context, kind dispatch.Kind) error {
		logutil.Info("dashboard_refresh_hint", map[string]interface{}{"kind": string(kind)})
		return nil
	})
	obs := dispatch.New(refresher, logger).Bind(manager)
	defer manager.Stop()

	states := obs.State.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			logutil.Info("watcher exited cleanly", nil)
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			logutil.Info("stream_state", map[string]interface{}{
				"status":    string(s.Status),
				"message":   s.Message,
				"lastError": s.LastError,
			})
			if s.IsTerminal() {
				manager.Stop()
				logutil.Error("watcher stopped", errors.New(s.LastError), nil)
				os.Exit(1)
			}
		}
	}
}

func startMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logutil.Error("metrics listener failed", err, map[string]interface{}{"addr": addr})
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func envFile() string {
	if path := os.Getenv("ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}
