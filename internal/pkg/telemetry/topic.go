package telemetry

import (
	"fmt"
	"strings"
)

const topicSeparator = "/"

var controlMarkers = []string{"ALIVE", "JOINCNF"}

type MalformedTopicError struct {
	Topic string
}

func (e *MalformedTopicError) Error() string {
	return fmt.Sprintf("malformed topic id %q: expected <router_id>/<device_id>", e.Topic)
}

// ParseTopic splits a topic id into its router and device ids. Segments past
// the second are ignored.
func ParseTopic(topicID string) (routerID, deviceID string, err error) {
	parts := strings.Split(topicID, topicSeparator)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &MalformedTopicError{Topic: topicID}
	}
	return parts[0], parts[1], nil
}

// TopicKey returns the router/device key a device is listed under, the same
// value Device.Key returns once the record is grouped.
func TopicKey(topicID string) (string, error) {
	routerID, deviceID, err := ParseTopic(topicID)
	if err != nil {
		return "", err
	}
	return routerID + topicSeparator + deviceID, nil
}

// IsControlTopic reports whether the topic carries a gateway liveness or join
// handshake rather than device telemetry.
func IsControlTopic(topicID string) bool {
	for _, m := range controlMarkers {
		if strings.Contains(topicID, m) {
			return true
		}
	}
	return false
}
