package sparkplug

import (
	"fmt"
	"strings"
)

// Namespace is the protocol namespace expected in the first topic segment.
const Namespace = "spBv1.0"

// Message types carried in the third topic segment.
const (
	MessageTypeNBirth = "NBIRTH"
	MessageTypeNDeath = "NDEATH"
	MessageTypeDBirth = "DBIRTH"
	MessageTypeDDeath = "DDEATH"
	MessageTypeNData  = "NDATA"
	MessageTypeDData  = "DDATA"
	MessageTypeNCmd   = "NCMD"
	MessageTypeDCmd   = "DCMD"
	MessageTypeState  = "STATE"
)

// credentialPrefixSegments is the fixed number of leading routing segments
// stripped by ParsePrefixedTopic before the normal grammar applies. State
// channels nested under a certificate/credential prefix use this form.
const credentialPrefixSegments = 2

// Topic is the parsed form of a slash-delimited protocol topic:
//
//	<namespace>/<groupId>/<messageType>/<edgeNodeId>[/<deviceId>[/<extra...>]]
//
// DeviceID is empty for node-level topics. Extra holds any segments beyond
// the fifth, in order; a device-scoped state topic has none.
type Topic struct {
	Namespace   string
	GroupID     string
	MessageType string
	EdgeNodeID  string
	DeviceID    string
	Extra       []string
}

// ParseTopic parses a topic string into its components.
//
// Topics with fewer than four segments, or a namespace other than the
// protocol namespace, are rejected. The short host-state form
// <namespace>/STATE/<hostId> is accepted and mapped onto MessageType STATE
// with the host ID in EdgeNodeID.
func ParseTopic(topic string) (Topic, error) {
	parts := strings.Split(topic, "/")

	// Host application state announcements use a three-segment form.
	if len(parts) == 3 && parts[1] == MessageTypeState {
		if parts[0] != Namespace {
			return Topic{}, fmt.Errorf("sparkplug: topic %q: unknown namespace %q", topic, parts[0])
		}
		return Topic{
			Namespace:   parts[0],
			MessageType: MessageTypeState,
			EdgeNodeID:  parts[2],
		}, nil
	}

	if len(parts) < 4 {
		return Topic{}, fmt.Errorf("sparkplug: topic %q: expected at least 4 segments, got %d", topic, len(parts))
	}
	if parts[0] != Namespace {
		return Topic{}, fmt.Errorf("sparkplug: topic %q: unknown namespace %q", topic, parts[0])
	}

	t := Topic{
		Namespace:   parts[0],
		GroupID:     parts[1],
		MessageType: parts[2],
		EdgeNodeID:  parts[3],
	}
	if len(parts) > 4 {
		t.DeviceID = parts[4]
	}
	if len(parts) > 5 {
		t.Extra = parts[5:]
	}
	return t, nil
}

// ParsePrefixedTopic strips the fixed two-segment credential prefix and
// parses the remainder with the normal grammar.
func ParsePrefixedTopic(topic string) (Topic, error) {
	parts := strings.SplitN(topic, "/", credentialPrefixSegments+1)
	if len(parts) != credentialPrefixSegments+1 {
		return Topic{}, fmt.Errorf("sparkplug: topic %q: missing credential prefix", topic)
	}
	return ParseTopic(parts[credentialPrefixSegments])
}

// String reassembles the topic into its wire form.
func (t Topic) String() string {
	segments := []string{t.Namespace, t.GroupID, t.MessageType, t.EdgeNodeID}
	if t.GroupID == "" && t.MessageType == MessageTypeState {
		segments = []string{t.Namespace, t.MessageType, t.EdgeNodeID}
	}
	if t.DeviceID != "" {
		segments = append(segments, t.DeviceID)
	}
	segments = append(segments, t.Extra...)
	return strings.Join(segments, "/")
}

// IsDefinition reports whether the message announces a metric schema
// (node or device birth).
func (t Topic) IsDefinition() bool {
	return t.MessageType == MessageTypeNBirth || t.MessageType == MessageTypeDBirth
}

// IsUpdate reports whether the message carries new values for already
// defined metrics.
func (t Topic) IsUpdate() bool {
	return t.MessageType == MessageTypeNData || t.MessageType == MessageTypeDData
}

// IsDeath reports whether the message announces a node or device going
// offline.
func (t Topic) IsDeath() bool {
	return t.MessageType == MessageTypeNDeath || t.MessageType == MessageTypeDDeath
}

// DeviceName returns the identity used for history records: the device ID
// when present, otherwise the edge node ID.
func (t Topic) DeviceName() string {
	if t.DeviceID != "" {
		return t.DeviceID
	}
	return t.EdgeNodeID
}

// StateTopic returns the retained host-state announcement topic for the
// given host application ID.
func StateTopic(hostID string) string {
	return fmt.Sprintf("%s/%s/%s", Namespace, MessageTypeState, hostID)
}
