package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/postalsys/meshcore/internal/logging"
	"github.com/postalsys/meshcore/internal/recovery"
)

const (
	// wsReadLimit bounds a single message; anything larger is not a frame.
	wsReadLimit = MaxFrameSize

	wsWriteTimeout = 10 * time.Second
)

// WSRadio is a Radio connected to an airwave hub over a websocket.
type WSRadio struct {
	logger *slog.Logger
	conn   *websocket.Conn
	inbox  *inbox

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// DialWS connects to the hub at url. A bare host:port is treated as
// ws://host:port/radio.
func DialWS(ctx context.Context, url string, httpClient *http.Client, logger *slog.Logger) (*WSRadio, error) {
	wsURL := parseWebSocketURL(url)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient:   httpClient,
		Subprotocols: []string{WSSubprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial failed: %w", err)
	}
	if conn.Subprotocol() != WSSubprotocol {
		conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return nil, fmt.Errorf("hub did not accept subprotocol %q", WSSubprotocol)
	}
	conn.SetReadLimit(wsReadLimit)

	rctx, cancel := context.WithCancel(context.Background())
	r := &WSRadio{
		logger: logging.Component(logger, "ws-radio"),
		conn:   conn,
		inbox:  newInbox(defaultInboxSize),
		ctx:    rctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.readLoop()

	r.logger.Info("connected to airwave hub", logging.KeyAddress, wsURL)
	return r, nil
}

func (r *WSRadio) readLoop() {
	defer close(r.done)
	defer recovery.RecoverWithLog(r.logger, "ws.readLoop")

	for {
		msgType, data, err := r.conn.Read(r.ctx)
		if err != nil {
			if r.ctx.Err() == nil {
				r.logger.Warn("hub connection lost", logging.KeyError, err)
			}
			r.inbox.close(err)
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		r.inbox.deliver(data)
	}
}

// Receive implements Radio.
func (r *WSRadio) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return r.inbox.receive(ctx, buf, timeout)
}

// Transmit implements Radio.
func (r *WSRadio) Transmit(ctx context.Context, data []byte) error {
	if err := checkFrame(data); err != nil {
		return err
	}
	if r.inbox.closed() {
		return r.inbox.err()
	}

	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("WebSocket transmit failed: %w", err)
	}
	return nil
}

// Close implements Radio.
func (r *WSRadio) Close() error {
	r.inbox.close(nil)
	err := r.conn.Close(websocket.StatusNormalClosure, "radio closed")
	r.cancel()
	<-r.done
	return err
}

func parseWebSocketURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + HubPath
}
