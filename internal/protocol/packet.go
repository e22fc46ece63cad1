package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when a buffer is shorter than a fixed header
	ErrTruncated = errors.New("packet truncated")

	// ErrPathLength is returned when the path length exceeds the remaining bytes
	ErrPathLength = errors.New("invalid path length")

	// ErrUnknownPayloadType is returned for payload type nibbles with no defined meaning
	ErrUnknownPayloadType = errors.New("unknown payload type")

	// ErrBufferTooSmall is returned when an encode target cannot hold the output
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrFieldTruncated is returned when a flagged optional field is cut short
	ErrFieldTruncated = errors.New("optional field truncated")

	// ErrInvalidPayload is returned when a payload violates its layout rules
	ErrInvalidPayload = errors.New("invalid payload")
)

// Flags is the first header byte: route type, payload type and payload version.
//
//	bits 0-1  route type
//	bits 2-5  payload type
//	bits 6-7  payload version
type Flags uint8

// NewFlags packs the three header fields into one byte.
func NewFlags(route RouteType, payload PayloadType, version PayloadVersion) Flags {
	return Flags(uint8(version&0b11)<<6 | uint8(payload&0xF)<<2 | uint8(route&0b11))
}

func (f Flags) RouteType() RouteType {
	return RouteType(f & 0b11)
}

// PayloadType returns the raw payload type nibble. Use Known to validate it.
func (f Flags) PayloadType() PayloadType {
	return PayloadType((f >> 2) & 0xF)
}

func (f Flags) Version() PayloadVersion {
	return PayloadVersion((f >> 6) & 0b11)
}

// Header is the fixed 2-byte packet header.
//
//	[0] flags
//	[1] path length
type Header struct {
	Flags   Flags
	PathLen uint8
}

func (h Header) String() string {
	return fmt.Sprintf("Header{Route=%s, Type=%s, Version=%s, PathLen=%d}",
		h.Flags.RouteType(), h.Flags.PayloadType(), h.Flags.Version(), h.PathLen)
}

// Packet is a decoded frame. Path and Payload alias the buffer passed to Decode.
type Packet struct {
	Header  Header
	Path    []byte
	Payload []byte
}

// PayloadType is shorthand for p.Header.Flags.PayloadType().
func (p *Packet) PayloadType() PayloadType {
	return p.Header.Flags.PayloadType()
}

// RouteType is shorthand for p.Header.Flags.RouteType().
func (p *Packet) RouteType() RouteType {
	return p.Header.Flags.RouteType()
}

// Size returns the encoded length of the packet.
func (p *Packet) Size() int {
	return HeaderSize + len(p.Path) + len(p.Payload)
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{%s, PayloadLen=%d}", p.Header, len(p.Payload))
}

// Decode splits buf into header, path and payload without copying.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(buf), HeaderSize)
	}

	h := Header{Flags: Flags(buf[0]), PathLen: buf[1]}
	rest := buf[HeaderSize:]
	if int(h.PathLen) > len(rest) {
		return Packet{}, fmt.Errorf("%w: path_len %d exceeds %d remaining bytes", ErrPathLength, h.PathLen, len(rest))
	}
	if pt := h.Flags.PayloadType(); !pt.Known() {
		return Packet{}, fmt.Errorf("%w: 0x%x", ErrUnknownPayloadType, uint8(pt))
	}

	return Packet{
		Header:  h,
		Path:    rest[:h.PathLen:h.PathLen],
		Payload: rest[h.PathLen:],
	}, nil
}

// Encode writes header, path and payload contiguously into dst and returns the
// number of bytes written. The header's PathLen is taken from len(path).
func Encode(dst []byte, flags Flags, path, payload []byte) (int, error) {
	if len(path) > 0xFF {
		return 0, fmt.Errorf("%w: %d bytes", ErrPathLength, len(path))
	}
	n := HeaderSize + len(path) + len(payload)
	if n > len(dst) {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, n, len(dst))
	}

	dst[0] = byte(flags)
	dst[1] = byte(len(path))
	off := HeaderSize
	off += copy(dst[off:], path)
	off += copy(dst[off:], payload)
	return off, nil
}

// Encode writes the packet into dst. See the package-level Encode.
func (p *Packet) Encode(dst []byte) (int, error) {
	return Encode(dst, p.Header.Flags, p.Path, p.Payload)
}
