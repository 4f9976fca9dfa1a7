// Package mqtt connects the controller to an MQTT broker.
//
// The broker is an optional integration surface. The controller publishes
// every sensor reading, the retained commanded state of each relay and the
// retained online flag of each device, and it accepts relay commands and
// config-change notifications from other systems:
//
//	relaybus/reading/{channel_id}         reading (not retained)
//	relaybus/state/relay/{channel_id}     relay state (retained)
//	relaybus/device/{device_id}/status    device online flag (retained)
//	relaybus/command/relay/{channel_id}   inbound: {"state":true} or on/off
//	relaybus/config/changed               inbound: reload registries
//	relaybus/system/status                controller status and LWT
//
// Relay commands received here go through the same command queue as API
// commands and are recorded with source "manual".
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	queue.OnRelayState(client.PublishRelayState)
//	err = client.SubscribeControl(mqtt.ControlHandlers{Relay: submit, Reload: reload})
package mqtt
