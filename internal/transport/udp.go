package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/postalsys/meshcore/internal/logging"
	"github.com/postalsys/meshcore/internal/recovery"
)

// DefaultMulticastTTL keeps frames on the local link.
const DefaultMulticastTTL = 1

// UDPRadio shares a multicast group with every other radio on the LAN.
// Each datagram is one frame. Frames the radio sent itself are filtered out
// on receive because multicast loopback stays enabled for local peers.
type UDPRadio struct {
	logger *slog.Logger
	group  *net.UDPAddr
	rx     *net.UDPConn
	tx     *net.UDPConn
	inbox  *inbox

	selfPort int
	selfIPs  map[string]struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// ListenUDP joins group (host:port) on the named interface, or the system
// default when ifname is empty.
func ListenUDP(group, ifname string, logger *slog.Logger) (*UDPRadio, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("invalid multicast group: %w", err)
	}
	if !gaddr.IP.IsMulticast() {
		return nil, fmt.Errorf("%s is not a multicast address", gaddr.IP)
	}

	var ifi *net.Interface
	if ifname != "" {
		ifi, err = net.InterfaceByName(ifname)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ifname, err)
		}
	}

	rx, err := net.ListenMulticastUDP("udp4", ifi, gaddr)
	if err != nil {
		return nil, fmt.Errorf("multicast listen failed: %w", err)
	}

	tx, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		rx.Close()
		return nil, fmt.Errorf("UDP socket failed: %w", err)
	}

	pc := ipv4.NewPacketConn(tx)
	if err := pc.SetMulticastTTL(DefaultMulticastTTL); err != nil {
		rx.Close()
		tx.Close()
		return nil, fmt.Errorf("set multicast TTL: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		rx.Close()
		tx.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			rx.Close()
			tx.Close()
			return nil, fmt.Errorf("set multicast interface: %w", err)
		}
	}

	r := &UDPRadio{
		logger:   logging.Component(logger, "udp-radio"),
		group:    gaddr,
		rx:       rx,
		tx:       tx,
		inbox:    newInbox(defaultInboxSize),
		selfPort: tx.LocalAddr().(*net.UDPAddr).Port,
		selfIPs:  localIPs(),
	}

	r.wg.Add(1)
	go r.readLoop()

	r.logger.Info("joined multicast group",
		logging.KeyAddress, gaddr.String(),
		"interface", ifname)
	return r, nil
}

func localIPs() map[string]struct{} {
	ips := make(map[string]struct{})
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			ips[ipn.IP.String()] = struct{}{}
		}
	}
	return ips
}

func (r *UDPRadio) isSelf(src *net.UDPAddr) bool {
	if src == nil || src.Port != r.selfPort {
		return false
	}
	_, ok := r.selfIPs[src.IP.String()]
	return ok
}

func (r *UDPRadio) readLoop() {
	defer r.wg.Done()
	defer recovery.RecoverWithLog(r.logger, "udp.readLoop")

	// One spare byte detects oversize datagrams.
	buf := make([]byte, MaxFrameSize+1)
	for {
		n, src, err := r.rx.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Warn("multicast read failed", logging.KeyError, err)
			}
			r.inbox.close(err)
			return
		}
		if n > MaxFrameSize || r.isSelf(src) {
			continue
		}
		r.inbox.deliver(buf[:n])
	}
}

// Group returns the multicast group address.
func (r *UDPRadio) Group() *net.UDPAddr {
	return r.group
}

// Receive implements Radio.
func (r *UDPRadio) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return r.inbox.receive(ctx, buf, timeout)
}

// Transmit implements Radio.
func (r *UDPRadio) Transmit(ctx context.Context, data []byte) error {
	if err := checkFrame(data); err != nil {
		return err
	}
	if r.inbox.closed() {
		return r.inbox.err()
	}
	if deadline, ok := ctx.Deadline(); ok {
		r.tx.SetWriteDeadline(deadline)
		defer r.tx.SetWriteDeadline(time.Time{})
	}
	if _, err := r.tx.WriteToUDP(data, r.group); err != nil {
		return fmt.Errorf("multicast send failed: %w", err)
	}
	return nil
}

// Close implements Radio.
func (r *UDPRadio) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.inbox.close(nil)
		err = errors.Join(r.rx.Close(), r.tx.Close())
		r.wg.Wait()
	})
	return err
}
