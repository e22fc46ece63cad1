package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MACSize is the number of HMAC bytes carried on the wire.
	MACSize = 2

	// ChannelSecretSize is the size of a group channel pre-shared key.
	ChannelSecretSize = 16

	// AckHashSize is the size of an acknowledgement hash.
	AckHashSize = 4
)

// ErrKeySize is returned for keys that are neither 16 nor 32 bytes.
var ErrKeySize = errors.New("invalid key size")

func checkKeySize(key []byte) error {
	if len(key) != 16 && len(key) != 32 {
		return fmt.Errorf("%w: %d bytes", ErrKeySize, len(key))
	}
	return nil
}

// MAC returns the full HMAC-SHA256 of payload under key.
func MAC(payload, key []byte) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	if err := checkKeySize(key); err != nil {
		return sum, err
	}
	m := hmac.New(sha256.New, key)
	m.Write(payload)
	m.Sum(sum[:0])
	return sum, nil
}

// TruncatedMAC returns the MACSize-byte prefix of MAC(payload, key).
func TruncatedMAC(payload, key []byte) ([MACSize]byte, error) {
	sum, err := MAC(payload, key)
	if err != nil {
		return [MACSize]byte{}, err
	}
	return [MACSize]byte{sum[0], sum[1]}, nil
}

// CheckMAC reports whether the first MACSize bytes of HMAC-SHA256(payload)
// equal want. Only two bytes travel on the wire, so a forgery succeeds with
// probability 1/65536 per attempt.
func CheckMAC(payload, key []byte, want [MACSize]byte) bool {
	sum, err := MAC(payload, key)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(sum[:MACSize], want[:]) == 1
}

// ChannelHash returns the one-byte channel identifier: SHA-256(secret)[0].
func ChannelHash(secret [ChannelSecretSize]byte) uint8 {
	sum := sha256.Sum256(secret[:])
	return sum[0]
}

// AckHash computes the acknowledgement for a text message:
// SHA-256(timestamp ‖ flags ‖ text ‖ sender public key)[:4], where text stops
// at its first zero byte.
func AckHash(timestamp uint32, flags uint8, text []byte, sender [PublicKeySize]byte) [AckHashSize]byte {
	var hdr [5]byte
	binary.LittleEndian.PutUint32(hdr[0:4], timestamp)
	hdr[4] = flags
	for i, b := range text {
		if b == 0 {
			text = text[:i]
			break
		}
	}

	h := sha256.New()
	h.Write(hdr[:])
	h.Write(text)
	h.Write(sender[:])

	var sum [sha256.Size]byte
	h.Sum(sum[:0])
	return [AckHashSize]byte{sum[0], sum[1], sum[2], sum[3]}
}
