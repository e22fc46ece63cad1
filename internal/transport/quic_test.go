package transport

import (
	"context"
	"testing"
	"time"

	"github.com/postalsys/meshcore/internal/logging"
)

func startQUICListener(t *testing.T) *QUICRadio {
	t.Helper()
	certPEM, keyPEM, err := GenerateSelfSignedCert("localhost", 24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert() error = %v", err)
	}
	tlsConfig, err := TLSConfigFromBytes(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("TLSConfigFromBytes() error = %v", err)
	}

	ln, err := ListenQUIC("127.0.0.1:0", tlsConfig, logging.NopLogger())
	if err != nil {
		t.Fatalf("ListenQUIC() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func dialQUIC(t *testing.T, ln *QUICRadio) *QUICRadio {
	t.Helper()
	tlsConfig, err := LoadClientTLSConfig("", true)
	if err != nil {
		t.Fatalf("LoadClientTLSConfig() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := DialQUIC(ctx, ln.Addr().String(), tlsConfig, logging.NopLogger())
	if err != nil {
		t.Fatalf("DialQUIC() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func waitPeers(t *testing.T, r *QUICRadio, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.Peers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Peers() = %d, want %d", r.Peers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQUICRadio_ListenDial(t *testing.T) {
	ln := startQUICListener(t)
	client := dialQUIC(t, ln)
	waitPeers(t, ln, 1)

	if client.Addr() != nil {
		t.Error("dialing radio should have no listen address")
	}

	ctx := context.Background()
	buf := make([]byte, MaxFrameSize)

	if err := client.Transmit(ctx, []byte("up")); err != nil {
		t.Fatalf("client Transmit() error = %v", err)
	}
	n, err := ln.Receive(ctx, buf, 5*time.Second)
	if err != nil {
		t.Fatalf("listener Receive() error = %v", err)
	}
	if string(buf[:n]) != "up" {
		t.Errorf("listener Receive() = %q, want up", buf[:n])
	}

	if err := ln.Transmit(ctx, []byte("down")); err != nil {
		t.Fatalf("listener Transmit() error = %v", err)
	}
	n, err = client.Receive(ctx, buf, 5*time.Second)
	if err != nil {
		t.Fatalf("client Receive() error = %v", err)
	}
	if string(buf[:n]) != "down" {
		t.Errorf("client Receive() = %q, want down", buf[:n])
	}
}

func TestQUICRadio_ListenerRepeats(t *testing.T) {
	ln := startQUICListener(t)
	a := dialQUIC(t, ln)
	b := dialQUIC(t, ln)
	waitPeers(t, ln, 2)

	ctx := context.Background()
	if err := a.Transmit(ctx, []byte{0x11, 0x00}); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	buf := make([]byte, MaxFrameSize)
	n, err := b.Receive(ctx, buf, 5*time.Second)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if n != 2 || buf[0] != 0x11 {
		t.Errorf("Receive() = %x, want 1100", buf[:n])
	}
}

func TestQUICRadio_TransmitWithoutPeers(t *testing.T) {
	ln := startQUICListener(t)

	if err := ln.Transmit(context.Background(), []byte{1}); err != nil {
		t.Errorf("Transmit() with no peers error = %v", err)
	}
	if err := ln.Transmit(context.Background(), make([]byte, MaxFrameSize+1)); err == nil {
		t.Error("Transmit(oversize) should fail")
	}
}

func TestQUICRadio_RequiresTLS(t *testing.T) {
	if _, err := ListenQUIC("127.0.0.1:0", nil, logging.NopLogger()); err == nil {
		t.Error("ListenQUIC() without TLS should fail")
	}
	if _, err := DialQUIC(context.Background(), "127.0.0.1:1", nil, logging.NopLogger()); err == nil {
		t.Error("DialQUIC() without TLS should fail")
	}
}

func TestQUICRadio_CloseTwice(t *testing.T) {
	ln := startQUICListener(t)
	ln.Close()
	ln.Close()

	if _, err := ln.Receive(context.Background(), make([]byte, 8), time.Second); err == nil {
		t.Error("Receive() after Close should fail")
	}
}
