package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
)

// BlockSize is the AES block size. Every encrypted payload is a whole number
// of blocks regardless of key length.
const BlockSize = aes.BlockSize

var (
	// ErrBlockAlignment is returned when a ciphertext is not a whole number of blocks.
	ErrBlockAlignment = errors.New("ciphertext not block aligned")

	// ErrPlaintextLength is returned when the requested plaintext length exceeds the buffer.
	ErrPlaintextLength = errors.New("invalid plaintext length")
)

// Cipher decrypts and encrypts payload buffers in place.
type Cipher interface {
	Decrypt(key, buf []byte, plaintextLen int) ([]byte, error)
	Encrypt(key, buf []byte) error
}

// BlockCipher is the default payload cipher: AES-128 or AES-256 depending on
// key length, each block processed independently with no IV or chaining.
type BlockCipher struct{}

// Decrypt decrypts buf in place and returns buf[:plaintextLen].
func (BlockCipher) Decrypt(key, buf []byte, plaintextLen int) ([]byte, error) {
	b, err := blockFor(key, buf, plaintextLen)
	if err != nil {
		return nil, err
	}
	for off := 0; off < len(buf); off += BlockSize {
		b.Decrypt(buf[off:off+BlockSize], buf[off:off+BlockSize])
	}
	return buf[:plaintextLen], nil
}

// Encrypt encrypts buf in place. buf must already be padded to BlockSize.
func (BlockCipher) Encrypt(key, buf []byte) error {
	b, err := blockFor(key, buf, 0)
	if err != nil {
		return err
	}
	for off := 0; off < len(buf); off += BlockSize {
		b.Encrypt(buf[off:off+BlockSize], buf[off:off+BlockSize])
	}
	return nil
}

func blockFor(key, buf []byte, plaintextLen int) (cipher.Block, error) {
	if err := checkKeySize(key); err != nil {
		return nil, err
	}
	if len(buf)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockAlignment, len(buf))
	}
	if plaintextLen < 0 || plaintextLen > len(buf) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPlaintextLength, plaintextLen, len(buf))
	}
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return b, nil
}

// DecryptInPlace decrypts buf with the default BlockCipher.
func DecryptInPlace(key, buf []byte, plaintextLen int) ([]byte, error) {
	return BlockCipher{}.Decrypt(key, buf, plaintextLen)
}

// EncryptInPlace encrypts buf with the default BlockCipher.
func EncryptInPlace(key, buf []byte) error {
	return BlockCipher{}.Encrypt(key, buf)
}

// CTRCipher is AES in counter mode with a per-packet nonce, used by the
// alternate radio profile. It needs no block alignment.
type CTRCipher struct {
	Nonce [BlockSize]byte
}

// CTRNonce builds the initial counter block from a packet ID and sender ID:
// packetID at [0:4], senderID at [8:12], both little-endian, rest zero.
func CTRNonce(packetID, senderID uint32) [BlockSize]byte {
	var n [BlockSize]byte
	binary.LittleEndian.PutUint32(n[0:4], packetID)
	binary.LittleEndian.PutUint32(n[8:12], senderID)
	return n
}

// NewCTRCipher returns a CTRCipher for one packet.
func NewCTRCipher(packetID, senderID uint32) *CTRCipher {
	return &CTRCipher{Nonce: CTRNonce(packetID, senderID)}
}

func (c *CTRCipher) Decrypt(key, buf []byte, plaintextLen int) ([]byte, error) {
	if plaintextLen < 0 || plaintextLen > len(buf) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPlaintextLength, plaintextLen, len(buf))
	}
	if err := c.xor(key, buf); err != nil {
		return nil, err
	}
	return buf[:plaintextLen], nil
}

func (c *CTRCipher) Encrypt(key, buf []byte) error {
	return c.xor(key, buf)
}

func (c *CTRCipher) xor(key, buf []byte) error {
	if err := checkKeySize(key); err != nil {
		return err
	}
	b, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	cipher.NewCTR(b, c.Nonce[:]).XORKeyStream(buf, buf)
	return nil
}
