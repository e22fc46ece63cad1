// Package node wires a MeshCore node together: identity, radio, dispatcher,
// metrics and the health server, all built from one configuration.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/postalsys/meshcore/internal/config"
	"github.com/postalsys/meshcore/internal/crypto"
	"github.com/postalsys/meshcore/internal/dispatch"
	"github.com/postalsys/meshcore/internal/health"
	"github.com/postalsys/meshcore/internal/identity"
	"github.com/postalsys/meshcore/internal/logging"
	"github.com/postalsys/meshcore/internal/metrics"
	"github.com/postalsys/meshcore/internal/protocol"
	"github.com/postalsys/meshcore/internal/recovery"
	"github.com/postalsys/meshcore/internal/transport"
)

// ErrNotRunning is returned by operations that need a started node.
var ErrNotRunning = errors.New("node not running")

// EventHandler receives every accepted packet. It runs on the node's event
// goroutine, one event at a time.
type EventHandler func(dispatch.Event)

// Options are the parts of a node that do not come from the config file.
type Options struct {
	// Logger overrides the logger built from node.log_level/log_format.
	Logger *slog.Logger

	// OnEvent is called for each event. Without it events are only logged.
	OnEvent EventHandler

	// Radio replaces the radio the config describes.
	Radio transport.Radio
}

// Node runs one dispatcher over one radio.
type Node struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	ident    *identity.Static
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	mu           sync.Mutex
	radio        transport.Radio
	dispatcher   *dispatch.Dispatcher
	healthServer *health.Server
	cancel       context.CancelFunc
	runErr       error

	running  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New loads the identity and prepares metrics. Nothing touches the network
// until Start.
func New(cfg *config.Config, opts Options) (*Node, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(cfg.Node.LogLevel, cfg.Node.LogFormat)
	}

	ident, err := identity.FromConfig(cfg.Identity, cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Node{
		cfg:      cfg,
		opts:     opts,
		logger:   logging.Component(logger, "node"),
		ident:    ident,
		registry: reg,
		metrics:  metrics.NewMetricsWithRegistry(reg),
		done:     make(chan struct{}),
	}, nil
}

// Start opens the radio, starts the dispatcher and, if enabled, the health
// server. ctx bounds radio setup (dialing a hub or QUIC peer).
func (n *Node) Start(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return fmt.Errorf("node already running")
	}

	radio := n.opts.Radio
	if radio == nil {
		r, err := transport.New(ctx, n.cfg.Radio, n.logger)
		if err != nil {
			n.running.Store(false)
			return fmt.Errorf("open radio: %w", err)
		}
		radio = r
	}

	advert, err := AdvertFromConfig(n.cfg.Advert, n.cfg.Node.Name)
	if err != nil {
		radio.Close()
		n.running.Store(false)
		return err
	}

	d, err := dispatch.New(dispatch.Config{
		Radio:          radio,
		Identity:       n.ident,
		Logger:         n.logger,
		Metrics:        n.metrics,
		ReceiveTimeout: n.cfg.Radio.ReceiveTimeout,
		EventQueueSize: n.cfg.Dispatch.EventQueueSize,
		OutboxSize:     n.cfg.Dispatch.OutboxSize,
		SeenCacheSize:  n.cfg.Dispatch.SeenCacheSize,
		Advert:         advert,
	})
	if err != nil {
		radio.Close()
		n.running.Store(false)
		return fmt.Errorf("create dispatcher: %w", err)
	}

	var hs *health.Server
	if n.cfg.Health.Enabled {
		hs = health.NewServer(health.ServerConfig{
			Address:      n.cfg.Health.Address,
			ReadTimeout:  n.cfg.Health.ReadTimeout,
			WriteTimeout: n.cfg.Health.WriteTimeout,
			Gatherer:     n.registry,
		}, d)
		if err := hs.Start(); err != nil {
			radio.Close()
			n.running.Store(false)
			return fmt.Errorf("start health server: %w", err)
		}
		n.logger.Info("health server started", logging.KeyAddress, hs.Address().String())
	}

	runCtx, cancel := context.WithCancel(context.Background())

	n.mu.Lock()
	n.radio = radio
	n.dispatcher = d
	n.healthServer = hs
	n.cancel = cancel
	n.mu.Unlock()

	n.wg.Add(2)
	go n.runDispatcher(runCtx, d)
	go n.pumpEvents(runCtx, d)

	pub := n.ident.SigningKeys().PublicKey()
	n.logger.Info("node started",
		logging.KeyName, n.cfg.Node.Name,
		logging.Hex(logging.KeyPublicKey, pub[:]),
		logging.KeyTransport, n.cfg.Radio.Transport,
		logging.KeyAddress, radioAddress(n.cfg.Radio))

	return nil
}

func (n *Node) runDispatcher(ctx context.Context, d *dispatch.Dispatcher) {
	defer n.wg.Done()
	defer recovery.RecoverWithLog(n.logger, "node.dispatcher")

	err := d.Run(ctx)

	n.mu.Lock()
	n.runErr = err
	n.mu.Unlock()

	if err != nil {
		n.logger.Error("dispatcher stopped", logging.KeyError, err)
	}
	close(n.done)
}

func (n *Node) pumpEvents(ctx context.Context, d *dispatch.Dispatcher) {
	defer n.wg.Done()
	defer recovery.RecoverWithCallback(n.logger, "node.events", func(any) {
		n.mu.Lock()
		cancel := n.cancel
		n.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})

	for {
		select {
		case ev := <-d.Events():
			if n.opts.OnEvent != nil {
				n.opts.OnEvent(ev)
			}
		case <-ctx.Done():
			return
		case <-n.done:
			return
		}
	}
}

// Done is closed when the dispatcher stops, either through Stop or because
// the radio failed.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Err returns the error that ended the dispatcher, if any.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runErr
}

// Stop stops the dispatcher, the health server and closes the radio.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		n.mu.Lock()
		cancel, radio, hs := n.cancel, n.radio, n.healthServer
		n.mu.Unlock()

		if cancel == nil {
			return
		}
		n.logger.Info("stopping node")

		cancel()
		n.wg.Wait()

		if hs != nil {
			if herr := hs.Stop(); herr != nil {
				err = herr
			}
		}
		if cerr := radio.Close(); cerr != nil && err == nil {
			err = cerr
		}
		n.running.Store(false)

		n.logger.Info("node stopped")
	})
	return err
}

// StopWithContext stops with a timeout.
func (n *Node) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- n.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the dispatcher loop is active.
func (n *Node) IsRunning() bool {
	d := n.Dispatcher()
	return d != nil && d.IsRunning()
}

// Stats returns the dispatcher counters.
func (n *Node) Stats() dispatch.Stats {
	if d := n.Dispatcher(); d != nil {
		return d.Stats()
	}
	return dispatch.Stats{State: dispatch.StateIdle.String()}
}

// Dispatcher returns the running dispatcher, or nil before Start.
func (n *Node) Dispatcher() *dispatch.Dispatcher {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dispatcher
}

// Identity returns the node's key material.
func (n *Node) Identity() *identity.Static {
	return n.ident
}

// Registry returns the node's private metrics registry.
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// HealthAddress returns the health server's address, or "" when disabled.
func (n *Node) HealthAddress() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.healthServer == nil || n.healthServer.Address() == nil {
		return ""
	}
	return n.healthServer.Address().String()
}

// SendChannelText composes a flood GRP_TXT on the named channel and queues it.
func (n *Node) SendChannelText(channel, text string) error {
	d := n.Dispatcher()
	if d == nil {
		return ErrNotRunning
	}
	ch, ok := identity.FindChannel(n.ident, channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}

	var buf [protocol.MaxPacketSize]byte
	size, err := dispatch.ComposeGroupText(buf[:], ch, protocol.RouteFlood, now(), 0, []byte(text))
	if err != nil {
		return err
	}
	return d.Enqueue(buf[:size])
}

// SendDirectText composes a flood TXT_MSG to the named contact, queues it and
// returns the ack hash the contact will answer with.
func (n *Node) SendDirectText(contact, text string) ([crypto.AckHashSize]byte, error) {
	var ack [crypto.AckHashSize]byte
	d := n.Dispatcher()
	if d == nil {
		return ack, ErrNotRunning
	}
	c, ok := identity.FindContact(n.ident, contact)
	if !ok {
		return ack, fmt.Errorf("unknown contact %q", contact)
	}

	var buf [protocol.MaxPacketSize]byte
	size, ack, err := dispatch.ComposeDirect(buf[:], n.ident.SigningKeys(), c, protocol.PayloadTxt, protocol.RouteFlood, now(), 0, []byte(text))
	if err != nil {
		return ack, err
	}
	return ack, d.Enqueue(buf[:size])
}

// AdvertFromConfig maps the advert section onto the dispatcher's self-advert.
func AdvertFromConfig(cfg config.AdvertConfig, name string) (dispatch.AdvertConfig, error) {
	t, err := protocol.ParseAdvertType(cfg.Type)
	if err != nil {
		return dispatch.AdvertConfig{}, err
	}

	info := protocol.AdvertInfo{Type: t, Name: name}
	if cfg.Latitude != nil && cfg.Longitude != nil {
		info.LatLong = &protocol.LatLong{
			Lat: int32(math.Round(*cfg.Latitude * 1e6)),
			Lon: int32(math.Round(*cfg.Longitude * 1e6)),
		}
	}

	return dispatch.AdvertConfig{
		Enabled:  cfg.Enabled,
		Interval: cfg.Interval,
		Route:    protocol.RouteFlood,
		Info:     info,
	}, nil
}

func radioAddress(r config.RadioConfig) string {
	if r.Listen != "" {
		return r.Listen
	}
	return r.Address
}

func now() uint32 {
	return uint32(time.Now().Unix())
}
