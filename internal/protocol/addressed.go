package protocol

import "fmt"

// Direct payload layout (REQ, RESP, TXT_MSG, PATH):
//
//	[0]    destination hash (first byte of the recipient's public key)
//	[1]    source hash (first byte of the sender's public key)
//	[2:4]  truncated HMAC-SHA256 of the ciphertext
//	[4:]   ciphertext, a whole number of cipher blocks
const DirectHeaderSize = 4

// Direct is a parsed direct-addressed payload. Ciphertext aliases the input.
type Direct struct {
	DestHash   uint8
	SrcHash    uint8
	MAC        [MACSize]byte
	Ciphertext []byte
}

// ParseDirect decodes a direct-addressed payload.
func ParseDirect(payload []byte) (Direct, error) {
	if len(payload) < DirectHeaderSize {
		return Direct{}, fmt.Errorf("%w: direct payload is %d bytes", ErrTruncated, len(payload))
	}
	d := Direct{
		DestHash:   payload[0],
		SrcHash:    payload[1],
		MAC:        [MACSize]byte{payload[2], payload[3]},
		Ciphertext: payload[DirectHeaderSize:],
	}
	if err := checkCiphertext(d.Ciphertext); err != nil {
		return Direct{}, err
	}
	return d, nil
}

// Size returns the encoded payload length.
func (d *Direct) Size() int {
	return DirectHeaderSize + len(d.Ciphertext)
}

// Put writes the payload into dst and returns its length.
func (d *Direct) Put(dst []byte) (int, error) {
	if len(dst) < d.Size() {
		return 0, fmt.Errorf("%w: direct payload needs %d bytes", ErrBufferTooSmall, d.Size())
	}
	dst[0] = d.DestHash
	dst[1] = d.SrcHash
	dst[2], dst[3] = d.MAC[0], d.MAC[1]
	return DirectHeaderSize + copy(dst[DirectHeaderSize:], d.Ciphertext), nil
}

// CipherBlockSize is the block size every encrypted payload is padded to.
const CipherBlockSize = 16

func checkCiphertext(c []byte) error {
	if len(c) == 0 {
		return fmt.Errorf("%w: empty ciphertext", ErrInvalidPayload)
	}
	if len(c)%CipherBlockSize != 0 {
		return fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrInvalidPayload, len(c), CipherBlockSize)
	}
	return nil
}
