// Package influxdb mirrors sensor readings and relay state changes into an
// InfluxDB v2 bucket for long-term graphing.
//
// SQLite remains the source of truth; the mirror is optional and lossy.
// Points are batched according to influxdb.batch_size and
// influxdb.flush_interval.
//
//	readings     tags: channel_id, device_id, unit   field: value
//	relay_state  tags: channel_id, source            field: state (0/1)
//
// WriteReading and WriteRelayState match the observer signatures of the
// poller and command queue, so they are registered directly:
//
//	poller.OnReading(client.WriteReading)
//	queue.OnRelayState(client.WriteRelayState)
package influxdb
