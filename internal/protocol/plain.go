package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Plain message layout, recovered after decryption:
//
//	[0:4]  timestamp (u32)
//	[4]    flags (bits 2-7 text type, bits 0-1 attempt)
//	[5:]   message bytes, zero padded to the cipher block size
const PlainHeaderSize = 5

// MessageFlags is the plain message flags byte.
type MessageFlags uint8

// TextType returns the upper six bits (plain, CLI command, signed, ...).
func (f MessageFlags) TextType() uint8 {
	return uint8(f) >> 2
}

// Attempt returns the send attempt counter in the low two bits.
func (f MessageFlags) Attempt() uint8 {
	return uint8(f) & 0b11
}

// PlainMessage is a decrypted message. Text aliases the input and stops at
// the first zero byte.
type PlainMessage struct {
	Timestamp uint32
	Flags     MessageFlags
	Text      []byte
}

// ParsePlainMessage decodes decrypted plaintext.
func ParsePlainMessage(plain []byte) (PlainMessage, error) {
	if len(plain) < PlainHeaderSize {
		return PlainMessage{}, fmt.Errorf("%w: plaintext is %d bytes", ErrTruncated, len(plain))
	}
	return PlainMessage{
		Timestamp: binary.LittleEndian.Uint32(plain[0:4]),
		Flags:     MessageFlags(plain[4]),
		Text:      TrimAtZero(plain[PlainHeaderSize:]),
	}, nil
}

// TrimAtZero returns b up to (not including) its first zero byte.
func TrimAtZero(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

// PutPlainMessage writes header and text into dst, zero padding up to the
// next multiple of CipherBlockSize, and returns the padded length.
func PutPlainMessage(dst []byte, timestamp uint32, flags MessageFlags, text []byte) (int, error) {
	n := PlainHeaderSize + len(text)
	padded := (n + CipherBlockSize - 1) / CipherBlockSize * CipherBlockSize
	if len(dst) < padded {
		return 0, fmt.Errorf("%w: plaintext needs %d bytes", ErrBufferTooSmall, padded)
	}
	binary.LittleEndian.PutUint32(dst[0:4], timestamp)
	dst[4] = byte(flags)
	copy(dst[PlainHeaderSize:], text)
	clear(dst[n:padded])
	return padded, nil
}
