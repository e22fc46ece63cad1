package dispatch

import (
	"errors"
	"fmt"

	"github.com/postalsys/meshcore/internal/protocol"
)

// DropError reports why Inspect rejected a frame.
type DropError struct {
	Reason string
	Err    error
}

func (e *DropError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DropError) Unwrap() error {
	return e.Err
}

// Inspect runs frame through the same decoding and authentication as the
// receive loop, without the radio, the duplicate cache or the counters.
// Accepted packets without an event (ACK) return nil, nil. Inspect fails with
// ErrAlreadyRunning while Run is active.
func (d *Dispatcher) Inspect(frame []byte) (Event, error) {
	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer d.running.Store(false)
	defer d.setState(StateIdle)

	pkt, err := protocol.Decode(frame)
	if err != nil {
		reason := ReasonParse
		if errors.Is(err, protocol.ErrUnknownPayloadType) {
			reason = ReasonUnknownType
		}
		return nil, &DropError{Reason: reason, Err: err}
	}

	h := handlers[pkt.PayloadType()]
	if h == nil {
		return nil, &DropError{Reason: ReasonUnknownType}
	}

	d.received = d.now()
	v := h.handle(d, &pkt)
	if v.reason != "" {
		return nil, &DropError{Reason: v.reason, Err: v.err}
	}
	return v.event, nil
}
