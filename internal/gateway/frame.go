package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/uncord-chat/uncord-server/internal/events"
)

// EncodeFrame renders an envelope as the SSE wire frame:
// "data: <compact-json>\n\n". The cursor a reconnecting client supplies as
// last_event_ts is exactly the envelope's own ts field.
func EncodeFrame(env events.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope for frame: %w", err)
	}
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, '\n', '\n')
	return out, nil
}

// HeartbeatFrame is the constant frame sent on every per-connection
// heartbeat tick.
func HeartbeatFrame() ([]byte, error) {
	env, err := events.Encode(events.TypeHeartbeat, events.Heartbeat{})
	if err != nil {
		return nil, err
	}
	return EncodeFrame(env)
}
