package dispatch

import (
	"testing"

	"github.com/postalsys/meshcore/internal/protocol"
)

func TestKeyFor(t *testing.T) {
	payload := []byte{1, 2, 3}
	if keyFor(protocol.PayloadGrpText, payload) != keyFor(protocol.PayloadGrpText, []byte{1, 2, 3}) {
		t.Error("equal input gave different keys")
	}
	if keyFor(protocol.PayloadGrpText, payload) == keyFor(protocol.PayloadGrpData, payload) {
		t.Error("payload type is not part of the key")
	}
	if keyFor(protocol.PayloadGrpText, payload) == keyFor(protocol.PayloadGrpText, []byte{1, 2, 4}) {
		t.Error("payload change did not change the key")
	}
}

func TestSeenCache(t *testing.T) {
	s := newSeenCache(2)
	a := keyFor(protocol.PayloadAck, []byte("a"))
	b := keyFor(protocol.PayloadAck, []byte("b"))
	c := keyFor(protocol.PayloadAck, []byte("c"))

	if s.add(a) {
		t.Error("first add(a) reported seen")
	}
	if !s.add(a) {
		t.Error("second add(a) not reported seen")
	}
	s.add(b)
	if s.len() != 2 {
		t.Errorf("len() = %d, want 2", s.len())
	}

	// c evicts the oldest entry.
	s.add(c)
	if s.len() != 2 {
		t.Errorf("len() after eviction = %d, want 2", s.len())
	}
	if s.add(a) {
		t.Error("evicted key a still reported seen")
	}
	if !s.add(c) {
		t.Error("c should still be present")
	}
}
