package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/uncord-chat/uncord-server/internal/events"
)

func marshalEnvelope(env events.Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(data), nil
}

func unmarshalMessage(msg redis.XMessage) (events.Envelope, error) {
	raw, ok := msg.Values[payloadField]
	if !ok {
		return events.Envelope{}, fmt.Errorf("stream entry %s missing %q field", msg.ID, payloadField)
	}
	s, ok := raw.(string)
	if !ok {
		return events.Envelope{}, fmt.Errorf("stream entry %s field %q is not a string", msg.ID, payloadField)
	}
	var env events.Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return events.Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
