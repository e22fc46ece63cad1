package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/postalsys/meshcore/internal/logging"
	"github.com/postalsys/meshcore/internal/metrics"
	"github.com/postalsys/meshcore/internal/recovery"
)

// HubPath is the default path the hub serves radios on.
const HubPath = "/radio"

// hubClientQueue is the number of frames buffered per client before the
// hub starts dropping frames for that client.
const hubClientQueue = 32

// Hub is a websocket airwave: every binary message a connected radio sends
// is relayed to all other connected radios. A slow client loses frames
// rather than stalling the others.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  atomic.Bool

	server *http.Server
	ln     net.Listener
}

type hubClient struct {
	conn *websocket.Conn
	out  chan []byte
}

// NewHub creates a hub. m may be nil.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:  logging.Component(logger, "hub"),
		metrics: m,
		clients: make(map[*hubClient]struct{}),
	}
}

// Clients returns the number of connected radios.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and relays frames until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{WSSubprotocol},
	})
	if err != nil {
		h.logger.Debug("websocket upgrade failed",
			logging.KeyRemoteAddr, r.RemoteAddr,
			logging.KeyError, err)
		return
	}
	if conn.Subprotocol() != WSSubprotocol {
		conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return
	}
	conn.SetReadLimit(wsReadLimit)

	c := &hubClient{conn: conn, out: make(chan []byte, hubClientQueue)}
	h.join(c)
	defer h.leave(c)

	h.logger.Debug("radio joined", logging.KeyRemoteAddr, r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, c)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			h.logger.Debug("radio left",
				logging.KeyRemoteAddr, r.RemoteAddr,
				logging.KeyError, err)
			return
		}
		if msgType != websocket.MessageBinary || len(data) == 0 {
			continue
		}
		h.relay(c, data)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *hubClient) {
	defer recovery.RecoverWithLog(h.logger, "hub.writeLoop")

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageBinary, frame)
			cancel()
			if err != nil {
				c.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (h *Hub) relay(from *hubClient, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c == from {
			continue
		}
		select {
		case c.out <- frame:
		default:
		}
	}
	if h.metrics != nil {
		h.metrics.RecordHubRelay()
	}
}

func (h *Hub) join(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.RecordHubJoin()
	}
}

func (h *Hub) leave(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close(websocket.StatusNormalClosure, "")
	if h.metrics != nil {
		h.metrics.RecordHubLeave()
	}
}

// Start serves the hub on addr at HubPath until Close.
func (h *Hub) Start(addr string) error {
	mux := http.NewServeMux()
	mux.Handle(HubPath, h)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}
	h.ln = ln
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer recovery.RecoverWithLog(h.logger, "hub.serve")
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("hub server error", logging.KeyError, err)
		}
	}()

	h.logger.Info("airwave hub listening", logging.KeyAddress, ln.Addr().String())
	return nil
}

// Addr returns the listening address once started.
func (h *Hub) Addr() net.Addr {
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

// Close disconnects all radios and stops the server.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "hub closed")
	}

	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}
