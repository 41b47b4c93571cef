package transport

import "sync"

// LoopbackBus fans a frame broadcast by one participant out to every other
// participant sharing the bus, in-process. Used by the CLI's status
// command to stand up a small demo platoon without real sockets — the
// "smoke-test in-process adapter set" DESIGN.md describes for mvccpnode.
type LoopbackBus struct {
	mu      sync.Mutex
	members []*LoopbackTransport
}

// NewLoopbackBus creates an empty bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{}
}

// Join registers a new participant and returns its Transport handle.
func (b *LoopbackBus) Join() *LoopbackTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &LoopbackTransport{bus: b}
	b.members = append(b.members, t)
	return t
}

type LoopbackTransport struct {
	bus      *LoopbackBus
	receiver func([]byte)
}

func (t *LoopbackTransport) Broadcast(frame []byte) error {
	t.bus.mu.Lock()
	peers := make([]*LoopbackTransport, len(t.bus.members))
	copy(peers, t.bus.members)
	t.bus.mu.Unlock()

	for _, peer := range peers {
		if peer == t || peer.receiver == nil {
			continue
		}
		peer.receiver(frame)
	}
	return nil
}

func (t *LoopbackTransport) SetReceiver(fn func([]byte)) {
	t.receiver = fn
}
