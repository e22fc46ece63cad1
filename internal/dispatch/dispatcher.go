// Package dispatch runs the receive loop of a MeshCore node: it takes frames
// from a radio, decodes and authenticates them, hands accepted packets to
// the application as events and transmits replies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/meshcore/internal/crypto"
	"github.com/postalsys/meshcore/internal/identity"
	"github.com/postalsys/meshcore/internal/logging"
	"github.com/postalsys/meshcore/internal/metrics"
	"github.com/postalsys/meshcore/internal/protocol"
	"github.com/postalsys/meshcore/internal/transport"
)

// Default queue sizes and timings.
const (
	DefaultReceiveTimeout = 5 * time.Second
	DefaultEventQueueSize = 64
	DefaultOutboxSize     = 16
	DefaultSeenCacheSize  = 128
	DefaultAdvertInterval = 2 * time.Minute
)

var (
	// ErrOutboxFull is returned by Enqueue when the outbox has no room
	ErrOutboxFull = errors.New("outbox full")

	// ErrAlreadyRunning is returned by Run if the loop is already active
	ErrAlreadyRunning = errors.New("dispatcher already running")
)

// AdvertConfig controls the periodic self-advert.
type AdvertConfig struct {
	Enabled  bool
	Interval time.Duration
	Route    protocol.RouteType
	Info     protocol.AdvertInfo
}

// Config configures a Dispatcher. Radio and Identity are required.
type Config struct {
	Radio    transport.Radio
	Identity identity.Provider

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Cipher decrypts payloads. Defaults to crypto.BlockCipher.
	Cipher crypto.Cipher

	ReceiveTimeout time.Duration
	EventQueueSize int
	OutboxSize     int
	SeenCacheSize  int

	Advert AdvertConfig

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// OnTransition, when set, observes every state change.
	OnTransition TransitionFunc
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Running       bool          `json:"running"`
	State         string        `json:"state"`
	Uptime        time.Duration `json:"uptime"`
	Received      uint64        `json:"packets_received"`
	Accepted      uint64        `json:"packets_accepted"`
	Dropped       uint64        `json:"packets_dropped"`
	Sent          uint64        `json:"packets_sent"`
	Timeouts      uint64        `json:"receive_timeouts"`
	EventsDropped uint64        `json:"events_dropped"`
	Contacts      int           `json:"contacts"`
	Channels      int           `json:"channels"`
	QueuedEvents  int           `json:"queued_events"`
	QueuedFrames  int           `json:"queued_frames"`
}

type peer struct {
	contact identity.Contact
	secret  [crypto.SharedSecretSize]byte
}

// Dispatcher is the single-goroutine receive loop. Only Run touches the
// packet buffers; the other methods are safe for concurrent use.
type Dispatcher struct {
	radio   transport.Radio
	keys    *crypto.SigningKeys
	cipher  crypto.Cipher
	logger  *slog.Logger
	metrics *metrics.Metrics

	selfHash uint8
	contacts map[uint8][]peer
	channels map[uint8][]identity.Channel
	nContact int
	nChannel int

	receiveTimeout time.Duration
	advert         AdvertConfig
	now            func() time.Time
	onTransition   TransitionFunc

	events chan Event
	outbox chan []byte
	seen   *seenCache

	// Loop-owned buffers and state.
	rx         [protocol.MaxPacketSize]byte
	scratch    [protocol.MaxPacketSize]byte
	tx         [protocol.MaxPacketSize]byte
	received   time.Time
	lastAdvert time.Time

	state   atomic.Int32
	running atomic.Bool

	mu        sync.Mutex
	startedAt time.Time
	wake      context.CancelFunc

	nReceived      atomic.Uint64
	nAccepted      atomic.Uint64
	nDropped       atomic.Uint64
	nSent          atomic.Uint64
	nTimeouts      atomic.Uint64
	nEventsDropped atomic.Uint64
}

// New creates a dispatcher. Pairwise secrets and channel hashes are computed
// once here; contacts whose key is not a valid curve point are skipped with
// a warning.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Radio == nil {
		return nil, fmt.Errorf("radio is required")
	}
	if cfg.Identity == nil || cfg.Identity.SigningKeys() == nil {
		return nil, fmt.Errorf("identity with signing keys is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	}
	if cfg.Cipher == nil {
		cfg.Cipher = crypto.BlockCipher{}
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultEventQueueSize
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultOutboxSize
	}
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = DefaultSeenCacheSize
	}
	if cfg.Advert.Interval <= 0 {
		cfg.Advert.Interval = DefaultAdvertInterval
	}
	if cfg.Advert.Route == protocol.RouteReserved1 {
		cfg.Advert.Route = protocol.RouteFlood
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	keys := cfg.Identity.SigningKeys()
	d := &Dispatcher{
		radio:          cfg.Radio,
		keys:           keys,
		cipher:         cfg.Cipher,
		logger:         logging.Component(cfg.Logger, "dispatch"),
		metrics:        cfg.Metrics,
		selfHash:       keys.Hash(),
		contacts:       make(map[uint8][]peer),
		channels:       make(map[uint8][]identity.Channel),
		receiveTimeout: cfg.ReceiveTimeout,
		advert:         cfg.Advert,
		now:            cfg.Now,
		onTransition:   cfg.OnTransition,
		events:         make(chan Event, cfg.EventQueueSize),
		outbox:         make(chan []byte, cfg.OutboxSize),
		seen:           newSeenCache(cfg.SeenCacheSize),
	}

	for _, c := range cfg.Identity.Contacts() {
		secret, err := keys.CalcSharedSecret(c.PublicKey)
		if err != nil {
			d.logger.Warn("skipping contact with unusable key",
				logging.KeyContact, c.String(),
				logging.KeyError, err)
			continue
		}
		h := c.Hash()
		d.contacts[h] = append(d.contacts[h], peer{contact: c, secret: secret})
		d.nContact++
	}
	for _, ch := range cfg.Identity.Channels() {
		h := ch.Hash()
		d.channels[h] = append(d.channels[h], ch)
		d.nChannel++
	}
	d.metrics.SetKeyMaterial(d.nContact, d.nChannel)

	return d, nil
}

// Events returns the queue of accepted packets. When the queue is full new
// events are dropped and counted.
func (d *Dispatcher) Events() <-chan Event {
	return d.events
}

// Enqueue schedules a complete frame for transmission by the loop. The frame
// is validated and copied.
func (d *Dispatcher) Enqueue(frame []byte) error {
	if len(frame) > protocol.MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", transport.ErrFrameTooLarge, len(frame))
	}
	if _, err := protocol.Decode(frame); err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}

	f := make([]byte, len(frame))
	copy(f, frame)
	select {
	case d.outbox <- f:
	default:
		d.metrics.RecordOutboxRejected()
		return ErrOutboxFull
	}

	d.mu.Lock()
	if d.wake != nil {
		d.wake()
	}
	d.mu.Unlock()
	return nil
}

// State returns the current state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// IsRunning reports whether Run is active.
func (d *Dispatcher) IsRunning() bool {
	return d.running.Load()
}

// PublicKey returns the node's public key.
func (d *Dispatcher) PublicKey() [crypto.PublicKeySize]byte {
	return d.keys.PublicKey()
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Running:       d.running.Load(),
		State:         d.State().String(),
		Received:      d.nReceived.Load(),
		Accepted:      d.nAccepted.Load(),
		Dropped:       d.nDropped.Load(),
		Sent:          d.nSent.Load(),
		Timeouts:      d.nTimeouts.Load(),
		EventsDropped: d.nEventsDropped.Load(),
		Contacts:      d.nContact,
		Channels:      d.nChannel,
		QueuedEvents:  len(d.events),
		QueuedFrames:  len(d.outbox),
	}
	d.mu.Lock()
	if s.Running && !d.startedAt.IsZero() {
		s.Uptime = time.Since(d.startedAt)
	}
	d.mu.Unlock()
	return s
}

// Run receives and handles packets until ctx is cancelled or the radio
// fails. Per-packet failures never end the loop. Cancellation returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()

	pub := d.keys.PublicKey()
	d.logger.Info("dispatcher started",
		logging.Hex(logging.KeyPublicKey, pub[:]),
		logging.KeyNodeHash, fmt.Sprintf("%02x", d.selfHash),
		"contacts", d.nContact,
		"channels", d.nChannel)
	defer d.logger.Info("dispatcher stopped")

	for {
		if ctx.Err() != nil {
			d.setState(StateIdle)
			return nil
		}

		if err := d.flushOutbox(ctx); err != nil {
			return d.exit(ctx, err)
		}

		n, err := d.receive(ctx)
		switch {
		case err == nil:
			if err := d.process(ctx, d.rx[:n]); err != nil {
				return d.exit(ctx, err)
			}
		case errors.Is(err, transport.ErrTimeout):
			d.nTimeouts.Add(1)
			d.metrics.RecordReceiveTimeout()
			if err := d.maybeAdvert(ctx); err != nil {
				return d.exit(ctx, err)
			}
		case ctx.Err() != nil:
			// Shutdown.
		case errors.Is(err, context.Canceled):
			// Woken by Enqueue.
		default:
			d.metrics.RecordRadioError("rx")
			d.logger.Error("radio receive failed", logging.KeyError, err)
			d.setState(StateIdle)
			return fmt.Errorf("radio receive: %w", err)
		}
		d.setState(StateIdle)
	}
}

// exit turns a transmit failure into Run's result.
func (d *Dispatcher) exit(ctx context.Context, err error) error {
	d.setState(StateIdle)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// receive waits for one frame. Enqueue cancels the wait so queued frames go
// out without waiting for the receive timeout.
func (d *Dispatcher) receive(ctx context.Context) (int, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.wake = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.wake = nil
		d.mu.Unlock()
	}()

	if len(d.outbox) > 0 {
		return 0, context.Canceled
	}

	d.setState(StateReceiving)
	n, err := d.radio.Receive(rctx, d.rx[:], d.receiveTimeout)
	if err == nil {
		d.received = d.now()
	}
	return n, err
}

func (d *Dispatcher) process(ctx context.Context, frame []byte) error {
	start := time.Now()
	d.nReceived.Add(1)

	pkt, err := protocol.Decode(frame)
	if err != nil {
		d.metrics.RecordUndecodable(len(frame))
		reason := ReasonParse
		if errors.Is(err, protocol.ErrUnknownPayloadType) {
			reason = ReasonUnknownType
		}
		d.reject(nil, reason, err, start)
		return nil
	}

	pt := pkt.PayloadType()
	d.metrics.RecordReceived(pt.String(), len(frame))
	d.setState(StateDecoded)

	if d.seen.add(keyFor(pt, pkt.Payload)) {
		d.reject(&pkt, ReasonDuplicate, nil, start)
		return nil
	}
	d.metrics.SetSeenEntries(d.seen.len())

	h := handlers[pt]
	if h == nil {
		d.reject(&pkt, ReasonUnknownType, nil, start)
		return nil
	}

	v := h.handle(d, &pkt)
	if v.reason != "" {
		d.reject(&pkt, v.reason, v.err, start)
		return nil
	}

	d.setState(StateAccepted)
	d.nAccepted.Add(1)
	d.metrics.RecordAccepted(pt.String(), time.Since(start).Seconds())
	if v.event != nil {
		d.logAccepted(v.event)
		d.emit(v.event)
	}

	if v.sendAck {
		n, err := ComposeAck(d.tx[:], pkt.RouteType(), v.ack)
		if err != nil {
			d.logger.Warn("ack compose failed", logging.KeyError, err)
			return nil
		}
		return d.transmit(ctx, d.tx[:n], protocol.PayloadAck)
	}
	return nil
}

func (d *Dispatcher) reject(pkt *protocol.Packet, reason string, err error, start time.Time) {
	d.setState(StateRejected)
	d.nDropped.Add(1)
	d.metrics.RecordDropped(reason, time.Since(start).Seconds())

	if !d.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs := []any{logging.KeyReason, reason}
	if pkt != nil {
		attrs = append(attrs,
			logging.KeyPayloadType, pkt.PayloadType().String(),
			logging.KeyRoute, pkt.RouteType().String(),
			logging.KeyPathLen, len(pkt.Path))
	}
	if err != nil {
		attrs = append(attrs, logging.KeyError, err)
	}
	d.logger.Debug("packet dropped", attrs...)
}

func (d *Dispatcher) logAccepted(ev Event) {
	switch e := ev.(type) {
	case *AdvertEvent:
		d.logger.Info("advert received",
			logging.KeyName, e.Name,
			logging.KeyNodeHash, fmt.Sprintf("%02x", e.Hash()),
			"node_type", e.NodeType.String())
	case *DirectMessageEvent:
		d.logger.Info("direct message received",
			logging.KeyPayloadType, e.Type.String(),
			logging.KeyContact, e.Contact.Name,
			logging.KeyLength, len(e.Data))
	case *GroupMessageEvent:
		d.logger.Info("group message received",
			logging.KeyPayloadType, e.Type.String(),
			logging.KeyChannel, e.Channel,
			logging.KeyLength, len(e.Data))
	}
}

func (d *Dispatcher) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.nEventsDropped.Add(1)
		d.metrics.RecordEventDropped()
		d.logger.Warn("event queue full, dropping event",
			logging.KeyPayloadType, ev.PayloadType().String())
	}
}

func (d *Dispatcher) flushOutbox(ctx context.Context) error {
	for {
		select {
		case frame := <-d.outbox:
			pkt, err := protocol.Decode(frame)
			if err != nil {
				// Enqueue validated it already.
				continue
			}
			if err := d.transmit(ctx, frame, pkt.PayloadType()); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// maybeAdvert sends the self-advert when the interval has elapsed. It runs
// after a receive timeout, when the channel is known to be quiet.
func (d *Dispatcher) maybeAdvert(ctx context.Context) error {
	if !d.advert.Enabled {
		return nil
	}
	now := d.now()
	if !d.lastAdvert.IsZero() && now.Sub(d.lastAdvert) < d.advert.Interval {
		return nil
	}

	n, err := ComposeAdvert(d.tx[:], d.scratch[:], d.keys, d.advert.Route, uint32(now.Unix()), d.advert.Info)
	if err != nil {
		d.logger.Warn("advert compose failed", logging.KeyError, err)
		return nil
	}
	d.lastAdvert = now
	d.logger.Debug("sending self advert", logging.KeyName, d.advert.Info.Name)
	return d.transmit(ctx, d.tx[:n], protocol.PayloadAdvert)
}

func (d *Dispatcher) transmit(ctx context.Context, frame []byte, pt protocol.PayloadType) error {
	d.setState(StateResponding)
	start := time.Now()

	if err := d.radio.Transmit(ctx, frame); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.metrics.RecordRadioError("tx")
		d.logger.Error("radio transmit failed",
			logging.KeyPayloadType, pt.String(),
			logging.KeyError, err)
		return fmt.Errorf("radio transmit: %w", err)
	}

	// Our own frame repeated back to us is a duplicate.
	if pkt, err := protocol.Decode(frame); err == nil {
		d.seen.add(keyFor(pt, pkt.Payload))
	}
	d.nSent.Add(1)
	d.metrics.RecordSent(pt.String(), len(frame), time.Since(start).Seconds())
	return nil
}

func (d *Dispatcher) setState(s State) {
	from := State(d.state.Swap(int32(s)))
	if from == s {
		return
	}
	d.metrics.SetState(int(s))
	if d.onTransition != nil {
		d.onTransition(from, s)
	}
}
