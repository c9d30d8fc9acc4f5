package mqtt

import (
	"fmt"
	"strings"
)

// BridgeAvailabilityTopic is switchbot/bridge/<bridge id>/availability.
func BridgeAvailabilityTopic(bridgeID string) string {
	return BuildCleanTopic(TopicRoot, "bridge", bridgeID, "availability")
}

// BaseTopic returns the topic prefix of a device.
func BaseTopic(deviceID string) string {
	return BuildCleanTopic(TopicRoot, deviceID)
}

// StateTopic returns the topic carrying a device's JSON state.
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state", BaseTopic(deviceID))
}

// AvailabilityTopic returns the topic carrying a device's availability.
func AvailabilityTopic(deviceID string) string {
	return fmt.Sprintf("%s/availability", BaseTopic(deviceID))
}

// DiscoveryTopic returns the Home Assistant discovery topic of one entity.
func DiscoveryTopic(prefix, component, deviceID, objectID string) string {
	node := BuildCleanTopic(fmt.Sprintf("%s_%s", TopicRoot, deviceID))
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, component, node, BuildCleanTopic(objectID))
}

// AvailabilityPayload maps a boolean to Home Assistant's default payloads.
func AvailabilityPayload(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// BuildCleanTopic ensures topic follows MQTT standards
func BuildCleanTopic(parts ...string) string {
	var cleanParts []string
	for _, part := range parts {
		clean := strings.ReplaceAll(part, " ", "_")
		clean = strings.ReplaceAll(clean, "+", "plus")
		clean = strings.ReplaceAll(clean, "#", "hash")
		clean = strings.ReplaceAll(clean, ":", "")
		clean = strings.ToLower(clean)
		cleanParts = append(cleanParts, clean)
	}
	return strings.Join(cleanParts, "/")
}
