package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// handlerTimeout bounds the work a single inbound control message may do.
const handlerTimeout = 10 * time.Second

// ControlHandlers are the actions the broker can request. Either may be
// nil, in which case its topic is not subscribed.
type ControlHandlers struct {
	// Relay requests a relay change for channelID.
	Relay func(ctx context.Context, channelID string, on bool) error

	// Reload refreshes the device and automation registries.
	Reload func(ctx context.Context) error
}

// SubscribeControl subscribes to the relay command and config-changed
// topics.
func (c *Client) SubscribeControl(h ControlHandlers) error {
	qos := byte(c.cfg.QoS)
	if h.Relay != nil {
		if err := c.Subscribe(Topics{}.AllRelayCommands(), qos, relayCommandHandler(h.Relay)); err != nil {
			return fmt.Errorf("subscribing to relay commands: %w", err)
		}
	}
	if h.Reload != nil {
		if err := c.Subscribe(Topics{}.ConfigChanged(), qos, configChangedHandler(h.Reload)); err != nil {
			return fmt.Errorf("subscribing to config changes: %w", err)
		}
	}
	return nil
}

func relayCommandHandler(fn func(ctx context.Context, channelID string, on bool) error) MessageHandler {
	return func(topic string, payload []byte) error {
		channelID, err := Topics{}.ParseRelayCommand(topic)
		if err != nil {
			return err
		}
		on, err := ParseRelayPayload(payload)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		return fn(ctx, channelID, on)
	}
}

func configChangedHandler(fn func(ctx context.Context) error) MessageHandler {
	return func(_ string, _ []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		return fn(ctx)
	}
}

// ParseRelayPayload accepts {"state":true|false} or a bare on/off.
func ParseRelayPayload(payload []byte) (bool, error) {
	text := strings.TrimSpace(string(payload))
	switch strings.ToLower(text) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}

	var body struct {
		State *bool `json:"state"`
	}
	if err := json.Unmarshal([]byte(text), &body); err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidPayload, text)
	}
	if body.State == nil {
		return false, fmt.Errorf("%w: state is required", ErrInvalidPayload)
	}
	return *body.State, nil
}
