package transport

import (
	"context"
	"sync"
	"time"
)

// Medium is an in-process airwave. Every frame transmitted by one attached
// radio is delivered to all the others.
type Medium struct {
	mu     sync.RWMutex
	radios map[*MemoryRadio]struct{}
}

// NewMedium creates an empty medium.
func NewMedium() *Medium {
	return &Medium{radios: make(map[*MemoryRadio]struct{})}
}

// Attach adds a radio to the medium.
func (m *Medium) Attach(name string) *MemoryRadio {
	r := &MemoryRadio{
		name:   name,
		medium: m,
		inbox:  newInbox(defaultInboxSize),
	}
	m.mu.Lock()
	m.radios[r] = struct{}{}
	m.mu.Unlock()
	return r
}

// Inject delivers a frame to every attached radio, as if transmitted by a
// node outside the process.
func (m *Medium) Inject(frame []byte) {
	m.broadcast(nil, frame)
}

func (m *Medium) broadcast(from *MemoryRadio, frame []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for r := range m.radios {
		if r != from {
			r.inbox.deliver(frame)
		}
	}
}

func (m *Medium) detach(r *MemoryRadio) {
	m.mu.Lock()
	delete(m.radios, r)
	m.mu.Unlock()
}

// MemoryRadio is a Radio attached to a Medium.
type MemoryRadio struct {
	name   string
	medium *Medium
	inbox  *inbox
}

// Name returns the name given at Attach.
func (r *MemoryRadio) Name() string {
	return r.name
}

// Receive implements Radio.
func (r *MemoryRadio) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return r.inbox.receive(ctx, buf, timeout)
}

// Transmit implements Radio.
func (r *MemoryRadio) Transmit(ctx context.Context, data []byte) error {
	if err := checkFrame(data); err != nil {
		return err
	}
	if r.inbox.closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.medium.broadcast(r, data)
	return nil
}

// Close implements Radio.
func (r *MemoryRadio) Close() error {
	r.medium.detach(r)
	r.inbox.close(nil)
	return nil
}
