// Package crypto implements the node cryptography: Ed25519 identity keys, the
// key agreement derived from them, truncated HMAC-SHA256 authentication and the
// AES payload ciphers.
//
// One key pair serves both signing and Diffie-Hellman. That reuse is part of
// the wire protocol and cannot be changed without breaking interoperability.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
)

const (
	// PublicKeySize is the size of Ed25519 public keys in bytes.
	PublicKeySize = 32

	// SeedSize is the size of the Ed25519 private key seed in bytes.
	SeedSize = 32

	// SignatureSize is the size of Ed25519 signatures in bytes.
	SignatureSize = 64

	// SharedSecretSize is the size of a key agreement result.
	SharedSecretSize = 32
)

var (
	// ErrInvalidPublicKey is returned when a peer key does not decode to a curve point.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrSeedSize is returned when seed bytes are not SeedSize long.
	ErrSeedSize = errors.New("invalid seed size")
)

// SigningKeys holds a node's Ed25519 key pair. It is read-only after
// construction and safe for concurrent use.
type SigningKeys struct {
	seed   [SeedSize]byte
	priv   ed25519.PrivateKey
	pub    [PublicKeySize]byte
	scalar *edwards25519.Scalar
}

// NewSigningKeys derives the key pair from a 32-byte seed.
func NewSigningKeys(seed [SeedSize]byte) *SigningKeys {
	priv := ed25519.NewKeyFromSeed(seed[:])

	k := &SigningKeys{seed: seed, priv: priv}
	copy(k.pub[:], priv.Public().(ed25519.PublicKey))

	// The signing scalar: lower half of SHA-512(seed), clamped.
	h := sha512.Sum512(seed[:])
	s, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		// Only reachable with a slice that is not 32 bytes.
		panic(fmt.Sprintf("clamp signing scalar: %v", err))
	}
	k.scalar = s

	return k
}

// SigningKeysFromBytes builds keys from a seed slice.
func SigningKeysFromBytes(b []byte) (*SigningKeys, error) {
	if len(b) != SeedSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrSeedSize, len(b), SeedSize)
	}
	var seed [SeedSize]byte
	copy(seed[:], b)
	return NewSigningKeys(seed), nil
}

// MustSigningKeys is like SigningKeysFromBytes but panics on malformed input.
// It is meant for compiled-in constants only.
func MustSigningKeys(b []byte) *SigningKeys {
	k, err := SigningKeysFromBytes(b)
	if err != nil {
		panic(fmt.Sprintf("crypto: compiled-in seed: %v", err))
	}
	return k
}

// GenerateSigningKeys creates a key pair from a random seed.
func GenerateSigningKeys() (*SigningKeys, error) {
	var seed [SeedSize]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return NewSigningKeys(seed), nil
}

// PublicKey returns the Ed25519 public key.
func (k *SigningKeys) PublicKey() [PublicKeySize]byte {
	return k.pub
}

// Hash returns the one-byte node hash used for addressing: the first byte of
// the public key.
func (k *SigningKeys) Hash() uint8 {
	return k.pub[0]
}

// Seed returns the private seed. Callers persisting it are responsible for
// file permissions.
func (k *SigningKeys) Seed() [SeedSize]byte {
	return k.seed
}

// Sign produces a deterministic Ed25519 signature of msg.
func (k *SigningKeys) Sign(msg []byte) [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(k.priv, msg))
	return sig
}

// Verify checks an Ed25519 signature.
func Verify(publicKey [PublicKeySize]byte, msg []byte, signature [SignatureSize]byte) bool {
	return ed25519.Verify(publicKey[:], msg, signature[:])
}

// PublicKeyHash returns the one-byte hash of an arbitrary public key.
func PublicKeyHash(publicKey [PublicKeySize]byte) uint8 {
	return publicKey[0]
}

// ZeroBytes overwrites b with zeros.
func ZeroBytes(b []byte) {
	clear(b)
}
