package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/relaybus-core/internal/device"
)

// maxPayloadSize caps outbound messages at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgement
// (for QoS 1 and 2).
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishRetained publishes a retained message with the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// ReadingMessage is the payload published on relaybus/reading/{channel_id}.
type ReadingMessage struct {
	ChannelID string    `json:"channel_id"`
	DeviceID  string    `json:"device_id"`
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStatusMessage is the retained payload on relaybus/device/{id}/status.
type DeviceStatusMessage struct {
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishReading forwards a stored reading. Readings are not retained.
// Publish errors are logged so the poller is never held up by the broker.
func (c *Client) PublishReading(r device.LatestReading) {
	c.publishJSON(Topics{}.Reading(r.ChannelID), false, ReadingMessage{
		ChannelID: r.ChannelID,
		DeviceID:  r.DeviceID,
		Type:      r.ChannelType,
		Value:     r.Value,
		Unit:      r.Unit,
		Timestamp: r.Timestamp.UTC(),
	})
}

// PublishRelayState publishes the retained commanded state of a relay.
func (c *Client) PublishRelayState(s device.RelayState) {
	c.publishJSON(Topics{}.RelayState(s.ChannelID), true, s)
}

// PublishStatus publishes the retained online flag of a device.
func (c *Client) PublishStatus(s device.StatusChange) {
	c.publishJSON(Topics{}.DeviceStatus(s.DeviceID), true, DeviceStatusMessage{
		Online:    s.Online,
		Timestamp: s.At.UTC(),
	})
}

func (c *Client) publishJSON(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.getLogger().Error("encoding mqtt payload", "topic", topic, "error", err)
		return
	}
	if err := c.Publish(topic, payload, byte(c.cfg.QoS), retained); err != nil {
		c.getLogger().Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
