// Package protocol defines the MeshCore wire format carried over the LoRa link.
//
// All multi-byte integers are little-endian and structures are packed. Parsers
// return views into the caller's buffer; nothing on the decode path allocates.
package protocol

// MaxPacketSize is the largest frame the radio delivers or accepts.
const MaxPacketSize = 256

// HeaderSize is the size of the fixed packet header (flags + path length).
const HeaderSize = 2

// Key and signature sizes used by payload layouts.
const (
	PublicKeySize = 32
	SignatureSize = 64
	MACSize       = 2
	AckHashSize   = 4
)

// RouteType occupies bits 0-1 of the header flags.
type RouteType uint8

const (
	RouteReserved1 RouteType = 0b00
	RouteFlood     RouteType = 0b01
	RouteDirect    RouteType = 0b10
	RouteReserved2 RouteType = 0b11
)

var routeTypeNames = [...]string{
	RouteReserved1: "RESERVED1",
	RouteFlood:     "FLOOD",
	RouteDirect:    "DIRECT",
	RouteReserved2: "RESERVED2",
}

func (r RouteType) String() string {
	return routeTypeNames[r&0b11]
}

// PayloadType occupies bits 2-5 of the header flags.
type PayloadType uint8

const (
	PayloadReq       PayloadType = 0x0 // Request (direct, encrypted)
	PayloadResp      PayloadType = 0x1 // Response (direct, encrypted)
	PayloadTxt       PayloadType = 0x2 // Text message (direct, encrypted, acked)
	PayloadAck       PayloadType = 0x3 // Acknowledgement hash
	PayloadAdvert    PayloadType = 0x4 // Signed identity advertisement
	PayloadGrpText   PayloadType = 0x5 // Channel text (group secret)
	PayloadGrpData   PayloadType = 0x6 // Channel data (group secret)
	PayloadAnonReq   PayloadType = 0x7 // Anonymous request
	PayloadPath      PayloadType = 0x8 // Returned path (direct, encrypted)
	PayloadRawCustom PayloadType = 0xF // Application defined
)

// NumPayloadTypes is the size of the 4-bit payload type space.
const NumPayloadTypes = 16

// PayloadTypeName returns the protocol name of a payload type, or UNKNOWN.
func PayloadTypeName(t PayloadType) string {
	switch t {
	case PayloadReq:
		return "REQ"
	case PayloadResp:
		return "RESP"
	case PayloadTxt:
		return "TXT_MSG"
	case PayloadAck:
		return "ACK"
	case PayloadAdvert:
		return "ADVERT"
	case PayloadGrpText:
		return "GRP_TXT"
	case PayloadGrpData:
		return "GRP_DATA"
	case PayloadAnonReq:
		return "ANON_REQ"
	case PayloadPath:
		return "PATH"
	case PayloadRawCustom:
		return "RAW_CUSTOM"
	default:
		return "UNKNOWN"
	}
}

func (t PayloadType) String() string {
	return PayloadTypeName(t)
}

// Known reports whether t is one of the defined payload types.
func (t PayloadType) Known() bool {
	return t <= PayloadPath || t == PayloadRawCustom
}

// IsDirect reports whether payloads of this type use the addressed layout
// (dest hash, src hash, MAC, ciphertext) under a pairwise secret.
func (t PayloadType) IsDirect() bool {
	switch t {
	case PayloadReq, PayloadResp, PayloadTxt, PayloadPath:
		return true
	default:
		return false
	}
}

// IsGroup reports whether payloads of this type are keyed by a channel secret.
func (t PayloadType) IsGroup() bool {
	return t == PayloadGrpText || t == PayloadGrpData
}

// PayloadVersion occupies bits 6-7 of the header flags.
type PayloadVersion uint8

const (
	PayloadV1 PayloadVersion = 0b00
	PayloadV2 PayloadVersion = 0b01
	PayloadV3 PayloadVersion = 0b10
	PayloadV4 PayloadVersion = 0b11
)

func (v PayloadVersion) String() string {
	return [...]string{"V1", "V2", "V3", "V4"}[v&0b11]
}
