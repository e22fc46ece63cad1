package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Advert payload layout:
//
//	[0:32]    public key
//	[32:36]   timestamp (u32)
//	[36:100]  signature over pub_key ‖ timestamp ‖ flags ‖ optional fields
//	[100]     flags (low nibble: node type, high nibble: optional field presence)
//	[101:]    optional fields, in the order of advertFields, then the name
const (
	advertPubKeyOff    = 0
	advertTimestampOff = 32
	advertSignatureOff = 36
	advertFlagsOff     = 100

	// AdvertHeaderSize is the fixed part of an advert payload.
	AdvertHeaderSize = 101
)

// AdvertFlags is the advert flags byte.
type AdvertFlags uint8

const (
	AdvertHasLatLong     AdvertFlags = 0x10
	AdvertHasBattery     AdvertFlags = 0x20
	AdvertHasTemperature AdvertFlags = 0x40
	AdvertHasName        AdvertFlags = 0x80
)

// AdvertType is the node role carried in the low nibble of the advert flags.
type AdvertType uint8

const (
	AdvertTypeNone     AdvertType = 0
	AdvertTypeChat     AdvertType = 1
	AdvertTypeRepeater AdvertType = 2
	AdvertTypeRoom     AdvertType = 3
)

func (t AdvertType) String() string {
	switch t {
	case AdvertTypeNone:
		return "none"
	case AdvertTypeChat:
		return "chat"
	case AdvertTypeRepeater:
		return "repeater"
	case AdvertTypeRoom:
		return "room"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseAdvertType maps a config name back to an AdvertType.
func ParseAdvertType(s string) (AdvertType, error) {
	for t := AdvertTypeNone; t <= AdvertTypeRoom; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown advert type %q", s)
}

func (f AdvertFlags) Has(bit AdvertFlags) bool {
	return f&bit != 0
}

func (f AdvertFlags) Type() AdvertType {
	return AdvertType(f & 0x0F)
}

// LatLong is a position in micro-degrees.
type LatLong struct {
	Lat int32
	Lon int32
}

// Degrees converts the fixed-point position to floating point degrees.
func (l LatLong) Degrees() (lat, lon float64) {
	return float64(l.Lat) / 1e6, float64(l.Lon) / 1e6
}

// Advert is a parsed advert payload. Name aliases the input buffer.
type Advert struct {
	PublicKey [PublicKeySize]byte
	Timestamp uint32
	Signature [SignatureSize]byte
	Flags     AdvertFlags

	LatLong     *LatLong
	Battery     *uint16
	Temperature *uint16
	Name        []byte

	// signedTail is everything after the signature (flags + optional fields).
	signedTail []byte
}

// advertField is one entry of the optional-field chain. The order of
// advertFields is part of the wire format.
type advertField struct {
	flag   AdvertFlags
	size   int
	decode func(a *Advert, b []byte)
	encode func(a *AdvertInfo, b []byte) bool
}

var advertFields = []advertField{
	{
		flag: AdvertHasLatLong,
		size: 8,
		decode: func(a *Advert, b []byte) {
			a.LatLong = &LatLong{
				Lat: int32(binary.LittleEndian.Uint32(b[0:4])),
				Lon: int32(binary.LittleEndian.Uint32(b[4:8])),
			}
		},
		encode: func(a *AdvertInfo, b []byte) bool {
			if a.LatLong == nil {
				return false
			}
			binary.LittleEndian.PutUint32(b[0:4], uint32(a.LatLong.Lat))
			binary.LittleEndian.PutUint32(b[4:8], uint32(a.LatLong.Lon))
			return true
		},
	},
	{
		flag: AdvertHasBattery,
		size: 2,
		decode: func(a *Advert, b []byte) {
			v := binary.LittleEndian.Uint16(b)
			a.Battery = &v
		},
		encode: func(a *AdvertInfo, b []byte) bool {
			if a.Battery == nil {
				return false
			}
			binary.LittleEndian.PutUint16(b, *a.Battery)
			return true
		},
	},
	{
		flag: AdvertHasTemperature,
		size: 2,
		decode: func(a *Advert, b []byte) {
			v := binary.LittleEndian.Uint16(b)
			a.Temperature = &v
		},
		encode: func(a *AdvertInfo, b []byte) bool {
			if a.Temperature == nil {
				return false
			}
			binary.LittleEndian.PutUint16(b, *a.Temperature)
			return true
		},
	},
}

// ParseAdvert decodes an advert payload. The signature is not checked here;
// callers must verify it (see SignedData) before trusting any field.
func ParseAdvert(payload []byte) (Advert, error) {
	if len(payload) < AdvertHeaderSize {
		return Advert{}, fmt.Errorf("%w: advert is %d bytes, header needs %d", ErrTruncated, len(payload), AdvertHeaderSize)
	}

	var a Advert
	copy(a.PublicKey[:], payload[advertPubKeyOff:advertTimestampOff])
	a.Timestamp = binary.LittleEndian.Uint32(payload[advertTimestampOff:advertSignatureOff])
	copy(a.Signature[:], payload[advertSignatureOff:advertFlagsOff])
	a.Flags = AdvertFlags(payload[advertFlagsOff])
	a.signedTail = payload[advertFlagsOff:]

	body := payload[AdvertHeaderSize:]
	for _, f := range advertFields {
		if !a.Flags.Has(f.flag) {
			continue
		}
		if len(body) < f.size {
			return Advert{}, fmt.Errorf("%w: flag 0x%02x needs %d bytes, %d left", ErrFieldTruncated, uint8(f.flag), f.size, len(body))
		}
		f.decode(&a, body[:f.size])
		body = body[f.size:]
	}
	if a.Flags.Has(AdvertHasName) {
		a.Name = body
	}

	return a, nil
}

// SignedData appends the signed byte string pub_key ‖ timestamp ‖ flags ‖
// optional fields to dst and returns the extended slice.
func (a *Advert) SignedData(dst []byte) []byte {
	var ts [4]byte
	binary.LittleEndian.PutUint32(ts[:], a.Timestamp)
	dst = append(dst, a.PublicKey[:]...)
	dst = append(dst, ts[:]...)
	return append(dst, a.signedTail...)
}

// DisplayName returns the advertised name in NFC form with control
// characters removed.
func (a *Advert) DisplayName() string {
	if len(a.Name) == 0 {
		return ""
	}
	name := norm.NFC.String(string(a.Name))
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, name)
}

// AdvertInfo describes the optional content of an outgoing advert.
type AdvertInfo struct {
	Type        AdvertType
	LatLong     *LatLong
	Battery     *uint16
	Temperature *uint16
	Name        string
}

// Signer produces an Ed25519 signature with the advertised key.
type Signer interface {
	PublicKey() [PublicKeySize]byte
	Sign(msg []byte) [SignatureSize]byte
}

// PutAdvert writes a signed advert payload into dst and returns its length.
// scratch is used to assemble the signed byte string and must hold at least
// len(payload) - SignatureSize bytes.
func PutAdvert(dst, scratch []byte, signer Signer, timestamp uint32, info AdvertInfo) (int, error) {
	size := AdvertHeaderSize + len(info.Name)
	for _, f := range advertFields {
		size += f.size
	}
	if len(dst) < size {
		return 0, fmt.Errorf("%w: advert needs up to %d bytes, have %d", ErrBufferTooSmall, size, len(dst))
	}

	flags := AdvertFlags(info.Type) & 0x0F
	off := AdvertHeaderSize
	for _, f := range advertFields {
		if f.encode(&info, dst[off:off+f.size]) {
			flags |= f.flag
			off += f.size
		}
	}
	if info.Name != "" {
		flags |= AdvertHasName
		off += copy(dst[off:], info.Name)
	}

	pub := signer.PublicKey()
	copy(dst[advertPubKeyOff:], pub[:])
	binary.LittleEndian.PutUint32(dst[advertTimestampOff:], timestamp)
	dst[advertFlagsOff] = byte(flags)

	signedLen := off - SignatureSize
	if len(scratch) < signedLen {
		return 0, fmt.Errorf("%w: signing scratch needs %d bytes", ErrBufferTooSmall, signedLen)
	}
	msg := scratch[:0]
	msg = append(msg, dst[:advertSignatureOff]...)
	msg = append(msg, dst[advertFlagsOff:off]...)
	sig := signer.Sign(msg)
	copy(dst[advertSignatureOff:advertFlagsOff], sig[:])

	return off, nil
}
