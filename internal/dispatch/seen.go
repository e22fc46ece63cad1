package dispatch

import (
	"crypto/sha256"

	"github.com/postalsys/meshcore/internal/protocol"
)

// packetKeySize matches the truncated packet hash repeaters use to spot
// frames they have already handled.
const packetKeySize = 8

type packetKey [packetKeySize]byte

// keyFor hashes the payload type and payload. The header and path are left
// out because repeaters rewrite them.
func keyFor(pt protocol.PayloadType, payload []byte) packetKey {
	h := sha256.New()
	h.Write([]byte{byte(pt)})
	h.Write(payload)

	var sum [sha256.Size]byte
	var k packetKey
	copy(k[:], h.Sum(sum[:0]))
	return k
}

// seenCache remembers the most recent packet keys in a fixed ring.
// It is owned by the dispatch goroutine.
type seenCache struct {
	ring []packetKey
	set  map[packetKey]struct{}
	next int
	full bool
}

func newSeenCache(size int) *seenCache {
	return &seenCache{
		ring: make([]packetKey, size),
		set:  make(map[packetKey]struct{}, size),
	}
}

// add records k and reports whether it was already present.
func (s *seenCache) add(k packetKey) bool {
	if _, ok := s.set[k]; ok {
		return true
	}
	if s.full {
		delete(s.set, s.ring[s.next])
	}
	s.ring[s.next] = k
	s.set[k] = struct{}{}
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.full = true
	}
	return false
}

func (s *seenCache) len() int {
	return len(s.set)
}
