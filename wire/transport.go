package wire

import "meshchat/crypto"

// PacketHandler processes one inbound packet. A handler error is logged by
// the transport and must never terminate dispatch for later packets.
type PacketHandler func(packet *Packet) error

// Transport is the link-layer boundary the chat core builds on. A transport
// delivers inbound packets to the handler registered for their type, one at
// a time in arrival order per endpoint.
type Transport interface {
	// Broadcast sends a packet to all reachable peers.
	Broadcast(packet *Packet) error

	// SendTo sends a packet to one specific peer.
	SendTo(peer crypto.PeerID, packet *Packet) error

	// RegisterHandler registers the handler for a packet type, replacing
	// any previous registration. A nil handler unregisters.
	RegisterHandler(packetType PacketType, handler PacketHandler)

	// NextPacketID returns a fresh unique packet identifier. Chat messages
	// adopt this as their message id.
	NextPacketID() string

	// Close shuts the transport down. No handler runs after Close returns.
	Close() error
}
