package protocol

import "fmt"

// Group payload layout (GRP_TXT, GRP_DATA):
//
//	[0]    channel hash (first byte of SHA-256 of the channel secret)
//	[1:3]  truncated HMAC-SHA256 of the ciphertext
//	[3:]   ciphertext, a whole number of cipher blocks
const GroupHeaderSize = 3

// Group is a parsed group payload. Ciphertext aliases the input.
type Group struct {
	ChannelHash uint8
	MAC         [MACSize]byte
	Ciphertext  []byte
}

// ParseGroup decodes a group payload.
func ParseGroup(payload []byte) (Group, error) {
	if len(payload) < GroupHeaderSize {
		return Group{}, fmt.Errorf("%w: group payload is %d bytes", ErrTruncated, len(payload))
	}
	g := Group{
		ChannelHash: payload[0],
		MAC:         [MACSize]byte{payload[1], payload[2]},
		Ciphertext:  payload[GroupHeaderSize:],
	}
	if err := checkCiphertext(g.Ciphertext); err != nil {
		return Group{}, err
	}
	return g, nil
}

func (g *Group) Size() int {
	return GroupHeaderSize + len(g.Ciphertext)
}

// Put writes the payload into dst and returns its length.
func (g *Group) Put(dst []byte) (int, error) {
	if len(dst) < g.Size() {
		return 0, fmt.Errorf("%w: group payload needs %d bytes", ErrBufferTooSmall, g.Size())
	}
	dst[0] = g.ChannelHash
	dst[1], dst[2] = g.MAC[0], g.MAC[1]
	return GroupHeaderSize + copy(dst[GroupHeaderSize:], g.Ciphertext), nil
}
