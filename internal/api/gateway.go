package api

import (
	"bufio"
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/events"
	"github.com/uncord-chat/uncord-server/internal/gateway"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/presence"
)

// GatewayHandler serves the real-time SSE stream. One stream per
// connection, primed with a replay or roster burst on open and then fed by
// the Hub's node-wide fan-out loop until the client disconnects or a write
// fails.
type GatewayHandler struct {
	hub      *gateway.Hub
	presence *presence.Store
	log      zerolog.Logger
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(hub *gateway.Hub, presenceStore *presence.Store, logger zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{hub: hub, presence: presenceStore, log: logger}
}

// Stream handles GET / on the gateway role. An optional last_event_ts query
// parameter (milliseconds, the envelope ts a prior connection last saw)
// triggers a replay instead of the no-cursor roster burst.
func (h *GatewayHandler) Stream(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	conn, err := h.hub.Register(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "gateway").Msg("register connection failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	lastEventTS := c.Query("last_event_ts")

	// The stream writer outlives c's request context once headers are flushed, so teardown and the pump loop use a
	// background context; conn.Done() and client disconnect (a write error) are what actually end the loop.
	streamCtx := context.Background()

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unregister(streamCtx, conn)

		if err := h.prime(streamCtx, w, userID, lastEventTS); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}

		h.pump(streamCtx, w, conn, userID)
	})
}

// prime writes the PRIMED-stage burst: a replay when the client supplied a
// cursor, or the full roster cache-populate burst otherwise. Any error here
// must end the connection.
func (h *GatewayHandler) prime(ctx context.Context, w *bufio.Writer, userID uuid.UUID, lastEventTS string) error {
	frames, err := h.primeFrames(ctx, userID, lastEventTS)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

func (h *GatewayHandler) primeFrames(ctx context.Context, userID uuid.UUID, lastEventTS string) ([][]byte, error) {
	if lastEventTS != "" {
		envs, err := h.hub.Replay(ctx, userID, lastEventTS)
		if err != nil {
			return nil, err
		}
		return encodeFrames(envs)
	}

	envs, err := h.hub.CachePopulateBurst(ctx)
	if err != nil {
		return nil, err
	}
	return encodeFrames(envs)
}

func encodeFrames(envs []events.Envelope) ([][]byte, error) {
	frames := make([][]byte, 0, len(envs))
	for _, env := range envs {
		frame, err := gateway.EncodeFrame(env)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// pump is the LIVE stage: forward frames the Hub enqueues and send a
// heartbeat every 15s, touching presence on each successful tick.
func (h *GatewayHandler) pump(ctx context.Context, w *bufio.Writer, conn *gateway.Connection, userID uuid.UUID) {
	heartbeat := time.NewTicker(gateway.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-conn.Done():
			return
		case frame, ok := <-conn.Outbound():
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		case <-heartbeat.C:
			hb, err := gateway.HeartbeatFrame()
			if err != nil {
				continue
			}
			if _, err := w.Write(hb); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
			if err := h.presence.Touch(ctx, userID.String(), conn.ID); err != nil {
				h.log.Warn().Err(err).Str("handler", "gateway").Msg("heartbeat touch failed")
			}
		}
	}
}
