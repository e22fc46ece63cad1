package dispatch

import (
	"time"

	"github.com/postalsys/meshcore/internal/crypto"
	"github.com/postalsys/meshcore/internal/identity"
	"github.com/postalsys/meshcore/internal/protocol"
)

// Event is an authenticated packet delivered to the application.
// The concrete types are AdvertEvent, DirectMessageEvent and
// GroupMessageEvent. Events own their byte slices.
type Event interface {
	// PayloadType is the packet type the event was decoded from.
	PayloadType() protocol.PayloadType

	// ReceivedAt is when the frame arrived.
	ReceivedAt() time.Time
}

// Meta carries the link-level details common to all events.
type Meta struct {
	Type     protocol.PayloadType
	Route    protocol.RouteType
	PathLen  int
	Received time.Time
}

func (m Meta) PayloadType() protocol.PayloadType { return m.Type }
func (m Meta) ReceivedAt() time.Time             { return m.Received }

// AdvertEvent is a verified node advertisement.
type AdvertEvent struct {
	Meta
	PublicKey   [crypto.PublicKeySize]byte
	Timestamp   uint32
	NodeType    protocol.AdvertType
	Name        string
	LatLong     *protocol.LatLong
	Battery     *uint16
	Temperature *uint16
}

// Hash returns the advertising node's one-byte address.
func (e *AdvertEvent) Hash() uint8 {
	return crypto.PublicKeyHash(e.PublicKey)
}

// DirectMessageEvent is a decrypted REQ, RESP, TXT_MSG or PATH payload
// from a known contact.
type DirectMessageEvent struct {
	Meta
	Contact identity.Contact

	// Timestamp and Flags come from the plaintext header.
	Timestamp uint32
	Flags     protocol.MessageFlags

	// Text is the message up to its first zero byte. Set for TXT_MSG only.
	Text []byte

	// Data is the whole decrypted payload, padding included.
	Data []byte

	// AckHash is the acknowledgement sent back for a TXT_MSG.
	AckHash [crypto.AckHashSize]byte
}

// GroupMessageEvent is a decrypted GRP_TXT or GRP_DATA payload.
type GroupMessageEvent struct {
	Meta
	Channel string

	Timestamp uint32
	Flags     protocol.MessageFlags

	// Text is set for GRP_TXT only.
	Text []byte

	// Data is the whole decrypted payload, padding included.
	Data []byte
}
