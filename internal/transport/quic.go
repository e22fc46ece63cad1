package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/postalsys/meshcore/internal/logging"
	"github.com/postalsys/meshcore/internal/recovery"
)

// Default QUIC configuration values
const (
	DefaultMaxIdleTimeout  = 60 * time.Second
	DefaultKeepAlivePeriod = 30 * time.Second
)

// QUIC application error codes
const (
	quicCodeNormal quic.ApplicationErrorCode = 0
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        DefaultMaxIdleTimeout,
		KeepAlivePeriod:       DefaultKeepAlivePeriod,
		EnableDatagrams:       true,
		MaxIncomingStreams:    -1,
		MaxIncomingUniStreams: -1,
	}
}

// QUICRadio carries each frame as one unreliable QUIC datagram.
//
// A listening radio accepts any number of peers and repeats every frame it
// receives to the other peers, so a star of dialing radios behaves as one
// shared medium. A dialing radio holds a single connection.
type QUICRadio struct {
	logger   *slog.Logger
	inbox    *inbox
	listener *quic.Listener

	mu    sync.RWMutex
	conns map[quic.Connection]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newQUICRadio(logger *slog.Logger) *QUICRadio {
	ctx, cancel := context.WithCancel(context.Background())
	return &QUICRadio{
		logger: logging.Component(logger, "quic-radio"),
		inbox:  newInbox(defaultInboxSize),
		conns:  make(map[quic.Connection]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ListenQUIC starts a listening radio on addr.
func ListenQUIC(addr string, tlsConfig *tls.Config, logger *slog.Logger) (*QUICRadio, error) {
	if tlsConfig == nil {
		return nil, fmt.Errorf("TLS config required for QUIC listener")
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.NextProtos = []string{ALPNProtocol}
	}

	ln, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("QUIC listen failed: %w", err)
	}

	r := newQUICRadio(logger)
	r.listener = ln
	r.wg.Add(1)
	go r.acceptLoop()

	r.logger.Info("QUIC radio listening", logging.KeyAddress, ln.Addr().String())
	return r, nil
}

// DialQUIC connects a radio to a listening peer.
func DialQUIC(ctx context.Context, addr string, tlsConfig *tls.Config, logger *slog.Logger) (*QUICRadio, error) {
	if tlsConfig == nil {
		return nil, fmt.Errorf("TLS config required for QUIC dial")
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("QUIC dial failed: %w", err)
	}

	r := newQUICRadio(logger)
	r.addConn(conn)
	r.logger.Info("QUIC radio connected", logging.KeyRemoteAddr, conn.RemoteAddr().String())
	return r, nil
}

// Addr returns the listening address, or nil for a dialing radio.
func (r *QUICRadio) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Peers returns the number of live connections.
func (r *QUICRadio) Peers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *QUICRadio) acceptLoop() {
	defer r.wg.Done()
	defer recovery.RecoverWithLog(r.logger, "quic.acceptLoop")

	for {
		conn, err := r.listener.Accept(r.ctx)
		if err != nil {
			if r.ctx.Err() == nil {
				r.logger.Warn("QUIC accept failed", logging.KeyError, err)
				r.inbox.close(err)
			}
			return
		}
		if !conn.ConnectionState().SupportsDatagrams {
			conn.CloseWithError(quicCodeNormal, "datagrams required")
			continue
		}
		r.logger.Debug("QUIC peer joined", logging.KeyRemoteAddr, conn.RemoteAddr().String())
		r.addConn(conn)
	}
}

func (r *QUICRadio) addConn(conn quic.Connection) {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.readLoop(conn)
}

func (r *QUICRadio) readLoop(conn quic.Connection) {
	defer r.wg.Done()
	defer recovery.RecoverWithLog(r.logger, "quic.readLoop")

	for {
		frame, err := conn.ReceiveDatagram(r.ctx)
		if err != nil {
			r.mu.Lock()
			delete(r.conns, conn)
			r.mu.Unlock()
			conn.CloseWithError(quicCodeNormal, "")

			if r.ctx.Err() != nil {
				return
			}
			if r.listener == nil {
				// A dialing radio has lost its only link.
				r.inbox.close(err)
				return
			}
			r.logger.Debug("QUIC peer left",
				logging.KeyRemoteAddr, conn.RemoteAddr().String(),
				logging.KeyError, err)
			return
		}
		if len(frame) > MaxFrameSize {
			continue
		}
		r.inbox.deliver(frame)
		if r.listener != nil {
			r.send(conn, frame)
		}
	}
}

// send writes frame to every connection except skip.
func (r *QUICRadio) send(skip quic.Connection, frame []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for conn := range r.conns {
		if conn == skip {
			continue
		}
		if err := conn.SendDatagram(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Receive implements Radio.
func (r *QUICRadio) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return r.inbox.receive(ctx, buf, timeout)
}

// Transmit implements Radio. A listening radio with no peers transmits into
// the void, which is not an error.
func (r *QUICRadio) Transmit(ctx context.Context, data []byte) error {
	if err := checkFrame(data); err != nil {
		return err
	}
	if r.inbox.closed() {
		return r.inbox.err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.send(nil, data); err != nil {
		return fmt.Errorf("QUIC transmit failed: %w", err)
	}
	return nil
}

// Close implements Radio.
func (r *QUICRadio) Close() error {
	r.cancel()
	r.inbox.close(nil)

	var err error
	if r.listener != nil {
		err = r.listener.Close()
	}
	r.mu.Lock()
	for conn := range r.conns {
		conn.CloseWithError(quicCodeNormal, "radio closed")
	}
	r.mu.Unlock()

	r.wg.Wait()
	return err
}
