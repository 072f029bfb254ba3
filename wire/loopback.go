package wire

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meshchat/crypto"
)

// ErrTransportClosed indicates a send attempted after Close.
var ErrTransportClosed = errors.New("transport closed")

// LoopbackHub wires any number of in-process endpoints together so that a
// broadcast from one is delivered to all others. It stands in for a real
// mesh link layer in tests and the fake repository.
type LoopbackHub struct {
	endpoints map[crypto.PeerID]*LoopbackTransport
	mu        sync.RWMutex
}

// NewLoopbackHub creates an empty hub.
func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{
		endpoints: make(map[crypto.PeerID]*LoopbackTransport),
	}
}

// Endpoint returns the transport endpoint for a peer, creating it on first
// use. Each endpoint dispatches inbound packets sequentially in arrival
// order on its own goroutine.
func (h *LoopbackHub) Endpoint(peer crypto.PeerID) *LoopbackTransport {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.endpoints[peer]; ok {
		return t
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &LoopbackTransport{
		hub:      h,
		self:     peer,
		handlers: make(map[PacketType]PacketHandler),
		inbound:  make(chan []byte, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	t.wg.Add(1)
	go t.dispatchLoop()

	h.endpoints[peer] = t
	return t
}

func (h *LoopbackHub) deliver(from crypto.PeerID, to crypto.PeerID, data []byte) {
	h.mu.RLock()
	endpoint, ok := h.endpoints[to]
	h.mu.RUnlock()
	if !ok || to == from {
		return
	}
	endpoint.enqueue(data)
}

func (h *LoopbackHub) broadcast(from crypto.PeerID, data []byte) {
	h.mu.RLock()
	targets := make([]*LoopbackTransport, 0, len(h.endpoints))
	for peer, endpoint := range h.endpoints {
		if peer != from {
			targets = append(targets, endpoint)
		}
	}
	h.mu.RUnlock()

	for _, endpoint := range targets {
		endpoint.enqueue(data)
	}
}

func (h *LoopbackHub) remove(peer crypto.PeerID) {
	h.mu.Lock()
	delete(h.endpoints, peer)
	h.mu.Unlock()
}

// LoopbackTransport is one endpoint attached to a LoopbackHub. It satisfies
// the Transport interface.
type LoopbackTransport struct {
	hub  *LoopbackHub
	self crypto.PeerID

	handlers map[PacketType]PacketHandler
	mu       sync.RWMutex

	inbound chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closed   bool
	closedMu sync.Mutex
}

// RegisterHandler registers a handler for a packet type.
func (t *LoopbackTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if handler == nil {
		delete(t.handlers, packetType)
		return
	}
	t.handlers[packetType] = handler
}

// NextPacketID returns a fresh unique packet identifier.
func (t *LoopbackTransport) NextPacketID() string {
	return uuid.NewString()
}

// Broadcast sends the packet to every other endpoint on the hub.
func (t *LoopbackTransport) Broadcast(packet *Packet) error {
	data, err := t.prepare(packet)
	if err != nil {
		return err
	}
	t.hub.broadcast(t.self, data)
	return nil
}

// SendTo sends the packet to one specific endpoint on the hub. Unknown
// peers are silently unreachable, matching mesh semantics.
func (t *LoopbackTransport) SendTo(peer crypto.PeerID, packet *Packet) error {
	data, err := t.prepare(packet)
	if err != nil {
		return err
	}
	t.hub.deliver(t.self, peer, data)
	return nil
}

// Close detaches the endpoint from the hub and stops dispatch. It blocks
// until the dispatch loop has exited, so no handler runs after it returns.
// Close is idempotent.
func (t *LoopbackTransport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	t.closedMu.Unlock()

	t.hub.remove(t.self)
	t.cancel()
	t.wg.Wait()
	return nil
}

func (t *LoopbackTransport) prepare(packet *Packet) ([]byte, error) {
	t.closedMu.Lock()
	closed := t.closed
	t.closedMu.Unlock()
	if closed {
		return nil, ErrTransportClosed
	}

	data, err := packet.Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize packet: %w", err)
	}
	return data, nil
}

func (t *LoopbackTransport) enqueue(data []byte) {
	select {
	case t.inbound <- data:
	case <-t.ctx.Done():
	default:
		logrus.WithFields(logrus.Fields{
			"function": "enqueue",
			"peer":     t.self.String(),
		}).Warn("Inbound queue full, dropping packet")
	}
}

func (t *LoopbackTransport) dispatchLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case data := <-t.inbound:
			t.dispatch(data)
		}
	}
}

// dispatch parses one frame and runs the registered handler. Handler errors
// are logged and never stop later packets from being processed.
func (t *LoopbackTransport) dispatch(data []byte) {
	packet, err := ParsePacket(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"peer":     t.self.String(),
			"error":    err,
		}).Warn("Dropping unparseable packet")
		return
	}

	t.mu.RLock()
	handler := t.handlers[packet.Type]
	t.mu.RUnlock()
	if handler == nil {
		return
	}

	if err := handler(packet); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "dispatch",
			"peer":        t.self.String(),
			"packet_type": packet.Type,
			"error":       err,
		}).Warn("Packet handler failed")
	}
}
