// Package chaos impairs a radio link for testing: received frames can be
// lost or arrive with a flipped bit, and transmissions can be delayed.
package chaos

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// FaultType represents the type of fault to inject.
type FaultType int

const (
	// FaultDrop loses a received frame.
	FaultDrop FaultType = iota
	// FaultCorrupt flips one bit of a received frame.
	FaultCorrupt
	// FaultDelay holds a transmission back.
	FaultDelay
)

func (f FaultType) String() string {
	switch f {
	case FaultDrop:
		return "drop"
	case FaultCorrupt:
		return "corrupt"
	case FaultDelay:
		return "delay"
	default:
		return "unknown"
	}
}

// Config configures fault injection. The zero value injects nothing.
type Config struct {
	// DropRate is the chance a received frame is lost (0.0 to 1.0).
	DropRate float64

	// CorruptRate is the chance a received frame has one bit flipped.
	CorruptRate float64

	// MinDelay and MaxDelay bound the delay added before each transmit.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Seed makes the fault sequence reproducible. 0 seeds from the clock.
	Seed int64
}

// Enabled reports whether cfg injects any fault.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.CorruptRate > 0 || c.MaxDelay > 0 || c.MinDelay > 0
}

// FaultInjector decides which faults hit which frame.
type FaultInjector struct {
	cfg       Config
	enabled   bool
	mu        sync.Mutex
	rng       *rand.Rand
	faultHits map[FaultType]int64
}

// NewFaultInjector creates a new fault injector.
func NewFaultInjector(cfg Config) *FaultInjector {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FaultInjector{
		cfg:       cfg,
		enabled:   true,
		rng:       rand.New(rand.NewSource(seed)),
		faultHits: make(map[FaultType]int64),
	}
}

// Enable enables fault injection.
func (f *FaultInjector) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
}

// Disable disables fault injection.
func (f *FaultInjector) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
}

// IsEnabled returns whether fault injection is enabled.
func (f *FaultInjector) IsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// MaybeDrop reports whether the next received frame should be lost.
func (f *FaultInjector) MaybeDrop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hit(FaultDrop, f.cfg.DropRate)
}

// MaybeCorrupt flips one random bit of frame in place and reports whether
// it did.
func (f *FaultInjector) MaybeCorrupt(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hit(FaultCorrupt, f.cfg.CorruptRate) {
		return false
	}
	bit := f.rng.Intn(len(frame) * 8)
	frame[bit/8] ^= 1 << (bit % 8)
	return true
}

// MaybeDelay returns how long the next transmission should wait.
func (f *FaultInjector) MaybeDelay() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.enabled || f.cfg.MaxDelay <= 0 && f.cfg.MinDelay <= 0 {
		return 0
	}
	f.faultHits[FaultDelay]++
	return f.randomDelay(f.cfg.MinDelay, f.cfg.MaxDelay)
}

// Stats returns the fault injection statistics.
func (f *FaultInjector) Stats() map[FaultType]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := make(map[FaultType]int64, len(f.faultHits))
	for k, v := range f.faultHits {
		stats[k] = v
	}
	return stats
}

// Reset resets the fault injection statistics.
func (f *FaultInjector) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faultHits = make(map[FaultType]int64)
}

// hit must be called with mu held.
func (f *FaultInjector) hit(t FaultType, probability float64) bool {
	if !f.enabled || probability <= 0 {
		return false
	}
	if f.rng.Float64() >= probability {
		return false
	}
	f.faultHits[t]++
	return true
}

// randomDelay must be called with mu held.
func (f *FaultInjector) randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(f.rng.Int63n(int64(max-min)))
}

// Link is the radio surface Radio wraps.
type Link interface {
	Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error)
	Transmit(ctx context.Context, data []byte) error
	Close() error
}

// Radio is a Link with faults injected.
type Radio struct {
	Link
	injector *FaultInjector
}

// Wrap injects faults from injector into l.
func Wrap(l Link, injector *FaultInjector) *Radio {
	return &Radio{Link: l, injector: injector}
}

// Injector returns the radio's fault injector.
func (r *Radio) Injector() *FaultInjector {
	return r.injector
}

// Receive returns the next frame that survives the injected loss. Lost frames
// count against the caller's timeout.
func (r *Radio) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		n, err := r.Link.Receive(ctx, buf, timeout)
		if err != nil {
			return n, err
		}
		if !r.injector.MaybeDrop() {
			r.injector.MaybeCorrupt(buf[:n])
			return n, nil
		}

		if !deadline.IsZero() {
			// A remaining timeout of zero would mean "wait forever".
			timeout = max(time.Until(deadline), time.Nanosecond)
		}
	}
}

// Transmit waits out the injected delay, then transmits.
func (r *Radio) Transmit(ctx context.Context, data []byte) error {
	if d := r.injector.MaybeDelay(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return r.Link.Transmit(ctx, data)
}
