package session

import (
	"github.com/robustmq/robustmq/internal/mqttbroker/flow"
	"github.com/robustmq/robustmq/internal/mqttbroker/publish"
)

// Session bundles everything a connection-handling loop needs to carry
// for one live connection: the lifecycle record Manager tracks, packet-id
// allocation, the two flow-control gates, and the connection's own topic
// alias table. None of these are replicated (spec.md §4.1: connection
// state lives only on the broker holding the socket) and none of them
// are shared across connections, which is why they are grouped here
// rather than behind package-level singletons.
type Session struct {
	Conn      *Connection
	PacketIDs *PacketIDAllocator
	Inbound   *flow.Inbound
	Outbound  *flow.Outbound
	Aliases   *publish.TopicAliases
}

// NewSession builds a Session for a freshly established connection.
// receiveMax is this broker's configured inbound receive maximum
// (spec.md §4.1 "receive_maximum"); clientReceiveMax is the value the
// client declared in its CONNECT, bounding outbound deliveries.
func NewSession(conn *Connection, receiveMax int32, clientReceiveMax int) *Session {
	return &Session{
		Conn:      conn,
		PacketIDs: NewPacketIDAllocator(),
		Inbound:   flow.NewInbound(receiveMax),
		Outbound:  flow.NewOutbound(clientReceiveMax),
		Aliases:   publish.NewTopicAliases(),
	}
}
