package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oremus-labs/dashsync/internal/metrics"
	"github.com/oremus-labs/dashsync/internal/stream"
	"github.com/oremus-labs/dashsync/internal/validator"
)

const (
	connectedMessage = "Real-time updates active"
	degradedMessage  = "Live updates paused (Degraded maintenance mode)"
	serviceError     = "Realtime service error"
)

// StreamUpdates serves the caller's update stream as text/event-stream.
// The token may come from the Authorization header or ?token=.
func (h *Handler) StreamUpdates(c *gin.Context) {
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	userID, err := h.Authenticate(c.Request)
	if err != nil {
		c.Status(http.StatusUnauthorized)
		_ = h.send(c, stream.ErrorEvent{Message: "Unauthorized"})
		return
	}

	w.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	metrics.RelayStreamOpened()
	defer metrics.RelayStreamClosed()

	ctx := c.Request.Context()
	logger := h.logger.With(slog.String("user", userID))

	if err := h.send(c, stream.StatusEvent{Status: stream.HealthConnected, Message: connectedMessage}); err != nil {
		return
	}
	if !h.bus.Distributed() {
		logger.Warn("redis unavailable, serving degraded stream")
		if err := h.send(c, stream.StatusEvent{Status: stream.HealthDegraded, Message: degradedMessage}); err != nil {
			return
		}
	}

	updates, cancel, err := h.bus.Subscribe(ctx, userID)
	if err != nil {
		logger.Error("realtime subscribe failed", slog.String("error", err.Error()))
		_ = h.send(c, stream.ErrorEvent{Message: serviceError})
		return
	}
	defer cancel()
	logger.Info("realtime stream opened")

	heartbeat := time.NewTicker(h.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("realtime stream closed")
			return
		case <-heartbeat.C:
			if err := h.send(c, stream.HeartbeatEvent{}); err != nil {
				return
			}
		case payload, ok := <-updates:
			if !ok {
				return
			}
			if err := h.write(c, payload); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(c *gin.Context, ev stream.Event) error {
	payload, err := stream.Marshal(ev)
	if err != nil {
		return err
	}
	return h.write(c, payload)
}

func (h *Handler) write(c *gin.Context, payload []byte) error {
	if err := stream.WriteEvent(c.Writer, payload); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// Trigger publishes a stream message to the caller's own streams. It exists
// for development and end-to-end testing and is off unless enabled.
func (h *Handler) Trigger(c *gin.Context) {
	if !h.opts.TriggerEnabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "trigger endpoint disabled"})
		return
	}
	userID := c.GetString(UserKey)
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if res := h.validator.Validate(validator.KindTrigger, raw); !res.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message", "details": res.Errors})
		return
	}
	ev, err := stream.ParseEvent(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := stream.Marshal(ev)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.bus.Publish(c.Request.Context(), userID, payload); err != nil {
		h.logger.Error("trigger publish failed", slog.String("user", userID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "publish failed"})
		return
	}
	metrics.ObservePublish(ev.Type())
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("%s event triggered", ev.Type()),
	})
}

func bindJSON(raw []byte, target interface{}) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}
