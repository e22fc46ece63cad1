package crypto

import (
	"fmt"

	"filippo.io/edwards25519"
)

// CalcSharedSecret computes the pairwise secret with a peer from the peer's
// Ed25519 public key.
//
// The local clamped signing scalar is multiplied with the peer's Edwards
// point and the result is returned as a Montgomery u-coordinate, which is the
// X25519 shared secret of the birationally equivalent keys. Both sides obtain
// the same value: a*(b*G) == b*(a*G).
func (k *SigningKeys) CalcSharedSecret(peer [PublicKeySize]byte) ([SharedSecretSize]byte, error) {
	var secret [SharedSecretSize]byte

	p, err := new(edwards25519.Point).SetBytes(peer[:])
	if err != nil {
		return secret, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	copy(secret[:], new(edwards25519.Point).ScalarMult(k.scalar, p).BytesMontgomery())
	return secret, nil
}
