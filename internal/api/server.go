package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oremus-labs/dashsync/internal/handlers"
	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/openapi"
)

// Options configures the HTTP server wiring.
type Options struct {
	Logger *logutil.Logger
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine *gin.Engine
	logger *logutil.Logger
}

// NewServer constructs a Server with all HTTP routes configured.
func NewServer(handler *handlers.Handler, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := opts.Logger
	if logger == nil {
		logger = logutil.Default()
	}
	logger = logger.WithComponent("api")

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger(logger))

	engine.GET("/healthz", handler.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/openapi", serveOpenAPI)

	// The stream authenticates itself so it can answer 401 as an event.
	engine.GET(streamPath, handler.StreamUpdates)
	engine.GET("/api/push/vapid-public-key", handler.VAPIDKey)

	protected := engine.Group("/api")
	protected.Use(handler.RequireUser())

	protected.POST("/push/subscribe", handler.Subscribe)
	protected.DELETE("/push/unsubscribe", handler.Unsubscribe)
	protected.GET("/push/subscriptions", handler.ListSubscriptions)
	protected.POST("/realtime/trigger", handler.Trigger)

	return &Server{engine: engine, logger: logger}
}

func serveOpenAPI(c *gin.Context) {
	doc, err := openapi.JSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// Engine exposes the underlying Gin engine for advanced use (testing, etc.).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start launches the HTTP server on the provided address. errs receives the
// listener error, if any.
func (s *Server) Start(addr string) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: event streams stay open for the whole session.
		IdleTimeout: 60 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()
	return srv, errs
}

// Shutdown stops srv, waiting up to timeout for requests to finish. Streams
// are cut when the deadline passes.
func (s *Server) Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown incomplete, closing connections")
		return srv.Close()
	}
	return nil
}
