// Package transport moves raw MeshCore frames between a dispatcher and a
// radio link.
//
// The real link is a half-duplex LoRa modem. The host implementations here
// model it as a lossy broadcast medium: every frame a radio transmits reaches
// every other radio on the same medium, frames are never fragmented, and a
// full receive queue drops frames just as a busy modem would.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MaxFrameSize is the largest frame any radio accepts or delivers.
const MaxFrameSize = 256

// defaultInboxSize is the number of undelivered frames a radio buffers.
const defaultInboxSize = 32

var (
	// ErrTimeout is returned by Receive when no frame arrived in time
	ErrTimeout = errors.New("receive timeout")

	// ErrClosed is returned once a radio has been closed
	ErrClosed = errors.New("radio closed")

	// ErrFrameTooLarge is returned by Transmit for frames over MaxFrameSize
	ErrFrameTooLarge = errors.New("frame too large")
)

// TransportType identifies the link implementation.
type TransportType string

const (
	TransportMemory TransportType = "memory"
	TransportUDP    TransportType = "udp"
	TransportWS     TransportType = "ws"
	TransportQUIC   TransportType = "quic"
)

// Radio is a half-duplex frame link.
type Radio interface {
	// Receive blocks until a frame arrives, the timeout passes (ErrTimeout)
	// or ctx ends. The frame is copied into buf and its length returned.
	// A timeout of zero or less waits indefinitely.
	Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error)

	// Transmit sends one frame.
	Transmit(ctx context.Context, data []byte) error

	// Close releases the link. Blocked calls return ErrClosed.
	Close() error
}

func checkFrame(data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	return nil
}

// inbox is the receive queue shared by the radio implementations. Producers
// call deliver from their reader goroutine; the dispatcher calls receive.
type inbox struct {
	frames chan []byte
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	cause     error
}

func newInbox(size int) *inbox {
	if size <= 0 {
		size = defaultInboxSize
	}
	return &inbox{
		frames: make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

// deliver queues a copy of frame. It reports false if the frame was dropped
// because the queue was full or the inbox closed.
func (in *inbox) deliver(frame []byte) bool {
	if len(frame) == 0 || len(frame) > MaxFrameSize {
		return false
	}
	select {
	case <-in.done:
		return false
	default:
	}

	f := make([]byte, len(frame))
	copy(f, frame)
	select {
	case in.frames <- f:
		return true
	default:
		return false
	}
}

func (in *inbox) receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	// Frames already queued are still delivered after close.
	select {
	case f := <-in.frames:
		return copy(buf, f), nil
	default:
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case f := <-in.frames:
		return copy(buf, f), nil
	case <-timer:
		return 0, ErrTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-in.done:
		return 0, in.err()
	}
}

// close ends the inbox. cause, when non-nil, is wrapped into the error
// returned by later receive calls.
func (in *inbox) close(cause error) {
	in.closeOnce.Do(func() {
		in.mu.Lock()
		if cause != nil {
			in.cause = fmt.Errorf("%w: %v", ErrClosed, cause)
		} else {
			in.cause = ErrClosed
		}
		in.mu.Unlock()
		close(in.done)
	})
}

func (in *inbox) closed() bool {
	select {
	case <-in.done:
		return true
	default:
		return false
	}
}

func (in *inbox) err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cause
}
