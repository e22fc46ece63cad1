// Package identity supplies a node's key material: its signing keys, the
// contacts it can exchange direct messages with and the group channels it
// has joined.
package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/postalsys/meshcore/internal/crypto"
)

// Provider is the source of key material for a dispatcher. Implementations
// must return the same values on every call.
type Provider interface {
	SigningKeys() *crypto.SigningKeys
	Contacts() []Contact
	Channels() []Channel
}

// Contact is a peer known by its Ed25519 public key.
type Contact struct {
	Name      string
	PublicKey [crypto.PublicKeySize]byte
}

// Hash returns the one-byte address of the contact.
func (c Contact) Hash() uint8 {
	return crypto.PublicKeyHash(c.PublicKey)
}

func (c Contact) String() string {
	return fmt.Sprintf("%s (%s)", c.Name, hex.EncodeToString(c.PublicKey[:4]))
}

// Channel is a group channel keyed by a pre-shared secret.
type Channel struct {
	Name   string
	Secret [crypto.ChannelSecretSize]byte
}

// Hash returns the one-byte channel identifier.
func (c Channel) Hash() uint8 {
	return crypto.ChannelHash(c.Secret)
}

// Static is a fixed Provider.
type Static struct {
	keys     *crypto.SigningKeys
	contacts []Contact
	channels []Channel
}

// NewStatic returns a Provider over the given material. The slices are copied.
func NewStatic(keys *crypto.SigningKeys, contacts []Contact, channels []Channel) *Static {
	return &Static{
		keys:     keys,
		contacts: append([]Contact(nil), contacts...),
		channels: append([]Channel(nil), channels...),
	}
}

func (s *Static) SigningKeys() *crypto.SigningKeys { return s.keys }
func (s *Static) Contacts() []Contact              { return s.contacts }
func (s *Static) Channels() []Channel              { return s.channels }

// FindContact returns the first contact with the given name.
func FindContact(p Provider, name string) (Contact, bool) {
	for _, c := range p.Contacts() {
		if c.Name == name {
			return c, true
		}
	}
	return Contact{}, false
}

// FindChannel returns the first channel with the given name.
func FindChannel(p Provider, name string) (Channel, bool) {
	for _, c := range p.Channels() {
		if c.Name == name {
			return c, true
		}
	}
	return Channel{}, false
}
