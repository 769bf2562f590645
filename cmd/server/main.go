// Package main is the entry point for the dashsync relay.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oremus-labs/dashsync/config"
	"github.com/oremus-labs/dashsync/internal/api"
	"github.com/oremus-labs/dashsync/internal/auth"
	"github.com/oremus-labs/dashsync/internal/events"
	"github.com/oremus-labs/dashsync/internal/handlers"
	"github.com/oremus-labs/dashsync/internal/keycodec"
	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/redisx"
	"github.com/oremus-labs/dashsync/internal/store"
	"github.com/oremus-labs/dashsync/internal/validator"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

func main() {
	envErr := config.LoadEnvFile(envFile())
	cfg := config.Load()
	logger := logutil.Configure(logutil.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if envErr != nil {
		logutil.Error("failed to read env file", envErr, nil)
	}
	logutil.Info("relay_bootstrap", map[string]interface{}{
		"version":   version,
		"port":      cfg.ServerPort,
		"datastore": cfg.DataStoreDriver,
		"redis":     cfg.Redis.Enabled(),
		"trigger":   cfg.TriggerEnabled,
	})

	if cfg.JWTSecret == "" {
		logutil.Warn("JWT_SECRET not set, every authenticated request will be rejected", nil)
	}

	stateStore, err := store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
	if err != nil {
		logutil.Error("failed to initialize state store", err, nil)
		os.Exit(1)
	}
	defer stateStore.Close()

	// Without Redis the relay still serves, in degraded mode.
	redisClient, err := redisx.NewClient(cfg.Redis)
	if err != nil {
		logutil.Error("redis unavailable, realtime updates degraded", err, nil)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := events.NewBus(events.Options{
		Client: redisClient,
		Logger: logger,
		Prefix: cfg.ChannelPrefix,
	})

	schemaValidator, err := validator.New(validator.Options{})
	if err != nil {
		logutil.Error("failed to initialize validator", err, nil)
		os.Exit(1)
	}

	vapidKey := cfg.VAPIDPublicKey
	if vapidKey != "" {
		if _, err := keycodec.Decode(vapidKey); err != nil {
			logutil.Error("ignoring VAPID_PUBLIC_KEY", err, nil)
			vapidKey = ""
		}
	}

	h := handlers.New(stateStore, bus, auth.NewService(cfg.JWTSecret, cfg.JWTExpiry), schemaValidator, handlers.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		TriggerEnabled:    cfg.TriggerEnabled,
		VAPIDPublicKey:    vapidKey,
		Logger:            logger,
	})

	server := api.NewServer(h, api.Options{Logger: logger})
	srv, errs := server.Start(":" + cfg.ServerPort)
	logutil.Info("server listening", map[string]interface{}{"addr": srv.Addr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err, ok := <-errs:
		if ok && err != nil {
			logutil.Error("server failed", err, nil)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logutil.Info("shutting down server", nil)
	if err := server.Shutdown(srv, shutdownTimeout); err != nil {
		logutil.Error("server forced to shutdown", err, nil)
	}
	logutil.Info("server stopped", nil)
}

func envFile() string {
	if path := os.Getenv("ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}
