package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the controller publishes or
// subscribes to.
const TopicPrefix = "relaybus"

// Topics builds relaybus topic names.
//
//	topics := mqtt.Topics{}
//	topics.RelayState("ch-pump")
//	// Returns: "relaybus/state/relay/ch-pump"
type Topics struct{}

// Reading is where each sensor reading is published.
//
// Example: relaybus/reading/ch-moist
func (Topics) Reading(channelID string) string {
	return fmt.Sprintf("%s/reading/%s", TopicPrefix, channelID)
}

// RelayState is the retained commanded state of a relay channel.
//
// Example: relaybus/state/relay/ch-pump
func (Topics) RelayState(channelID string) string {
	return fmt.Sprintf("%s/state/relay/%s", TopicPrefix, channelID)
}

// DeviceStatus is the retained online flag of a device.
//
// Example: relaybus/device/dev-soil/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/status", TopicPrefix, deviceID)
}

// RelayCommand is where external systems request a relay change.
//
// Example: relaybus/command/relay/ch-pump
func (Topics) RelayCommand(channelID string) string {
	return fmt.Sprintf("%s/command/relay/%s", TopicPrefix, channelID)
}

// AllRelayCommands matches every relay command topic.
func (Topics) AllRelayCommands() string {
	return TopicPrefix + "/command/relay/+"
}

// ConfigChanged announces that devices or automation rules were edited
// outside the API.
func (Topics) ConfigChanged() string {
	return TopicPrefix + "/config/changed"
}

// SystemStatus carries the controller's online/offline status, including
// the broker-published LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ParseRelayCommand extracts the channel ID from a relay command topic.
func (Topics) ParseRelayCommand(topic string) (string, error) {
	prefix := TopicPrefix + "/command/relay/"
	channelID, ok := strings.CutPrefix(topic, prefix)
	if !ok || channelID == "" || strings.Contains(channelID, "/") {
		return "", fmt.Errorf("%w: %q is not a relay command topic", ErrInvalidTopic, topic)
	}
	return channelID, nil
}
