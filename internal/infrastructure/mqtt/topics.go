package mqtt

import "strings"

// Topic roots. Bridges publish device state on
// graylogic/state/{protocol}/{address}; the server owns graylogic/system.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixSystem = TopicPrefixBridge + "/system"
)

// Topics builds the topic names the server publishes and subscribes to.
type Topics struct{}

// BridgeState is the state topic for one device, e.g.
// graylogic/state/knx/light-living-main.
func (Topics) BridgeState(protocol, address string) string {
	return strings.Join([]string{TopicPrefixBridge, "state", protocol, address}, "/")
}

// AllBridgeStates matches every bridge state topic.
func (t Topics) AllBridgeStates() string {
	return t.BridgeState("+", "+")
}

// SystemStatus carries the retained online status and the LWT.
func (Topics) SystemStatus() string { return TopicPrefixSystem + "/status" }

// SystemSessions carries the retained session list.
func (Topics) SystemSessions() string { return TopicPrefixSystem + "/sessions" }

// ParseBridgeState splits a bridge state topic into protocol and address.
// ok is false for any other topic and for empty segments.
func ParseBridgeState(topic string) (protocol, address string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixBridge+"/state/")
	if !found {
		return "", "", false
	}
	protocol, address, found = strings.Cut(rest, "/")
	if !found || protocol == "" || address == "" || strings.Contains(address, "/") {
		return "", "", false
	}
	return protocol, address, true
}
