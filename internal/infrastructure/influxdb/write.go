package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/relaybus-core/internal/device"
)

// Measurement names.
const (
	MeasurementReadings   = "readings"
	MeasurementRelayState = "relay_state"
)

// ReadingPoint builds the point mirrored for one sensor reading.
func ReadingPoint(r device.LatestReading) *write.Point {
	tags := map[string]string{
		"channel_id": r.ChannelID,
		"device_id":  r.DeviceID,
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}
	return write.NewPoint(
		MeasurementReadings,
		tags,
		map[string]any{"value": r.Value},
		r.Timestamp,
	)
}

// RelayStatePoint builds the point mirrored for one relay state change.
// The state is written as 0 or 1 so it can be graphed.
func RelayStatePoint(s device.RelayState) *write.Point {
	state := 0
	if s.State {
		state = 1
	}
	return write.NewPoint(
		MeasurementRelayState,
		map[string]string{
			"channel_id": s.ChannelID,
			"source":     string(s.Source),
		},
		map[string]any{"state": state},
		s.Timestamp,
	)
}

// WriteReading queues a reading. Its signature matches the poller's reading
// observer.
func (c *Client) WriteReading(r device.LatestReading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ReadingPoint(r))
}

// WriteRelayState queues a relay state change. Its signature matches the
// command queue's state observer.
func (c *Client) WriteRelayState(s device.RelayState) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(RelayStatePoint(s))
}
