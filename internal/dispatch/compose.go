package dispatch

import (
	"fmt"

	"github.com/postalsys/meshcore/internal/crypto"
	"github.com/postalsys/meshcore/internal/identity"
	"github.com/postalsys/meshcore/internal/protocol"
)

// The Compose functions build complete frames (header, empty path, payload)
// into dst and return the frame length. They use the default block cipher
// and never allocate.

// ComposeAdvert builds a signed advert. scratch holds the signed byte
// string while signing.
func ComposeAdvert(dst, scratch []byte, keys *crypto.SigningKeys, route protocol.RouteType, timestamp uint32, info protocol.AdvertInfo) (int, error) {
	if len(dst) < protocol.HeaderSize {
		return 0, fmt.Errorf("%w: frame needs a header", protocol.ErrBufferTooSmall)
	}
	n, err := protocol.PutAdvert(dst[protocol.HeaderSize:], scratch, keys, timestamp, info)
	if err != nil {
		return 0, err
	}
	return finish(dst, route, protocol.PayloadAdvert, n)
}

// ComposeGroupText builds a GRP_TXT for ch.
func ComposeGroupText(dst []byte, ch identity.Channel, route protocol.RouteType, timestamp uint32, flags protocol.MessageFlags, text []byte) (int, error) {
	off := protocol.HeaderSize + protocol.GroupHeaderSize
	if len(dst) < off {
		return 0, fmt.Errorf("%w: group frame header", protocol.ErrBufferTooSmall)
	}
	body := dst[off:]
	n, err := protocol.PutPlainMessage(body, timestamp, flags, text)
	if err != nil {
		return 0, err
	}
	ciphertext := body[:n]
	if err := crypto.EncryptInPlace(ch.Secret[:], ciphertext); err != nil {
		return 0, err
	}
	mac, err := crypto.TruncatedMAC(ciphertext, ch.Secret[:])
	if err != nil {
		return 0, err
	}

	payload := dst[protocol.HeaderSize:]
	payload[0] = ch.Hash()
	payload[1], payload[2] = mac[0], mac[1]
	return finish(dst, route, protocol.PayloadGrpText, protocol.GroupHeaderSize+n)
}

// ComposeDirect builds a direct payload of type pt (REQ, RESP, TXT_MSG or
// PATH) from keys to the contact. For TXT_MSG the returned ack hash is the
// one the recipient will send back.
func ComposeDirect(dst []byte, keys *crypto.SigningKeys, to identity.Contact, pt protocol.PayloadType, route protocol.RouteType, timestamp uint32, flags protocol.MessageFlags, text []byte) (int, [crypto.AckHashSize]byte, error) {
	var ack [crypto.AckHashSize]byte
	if !pt.IsDirect() {
		return 0, ack, fmt.Errorf("%w: %s is not a direct payload type", protocol.ErrInvalidPayload, pt)
	}
	off := protocol.HeaderSize + protocol.DirectHeaderSize
	if len(dst) < off {
		return 0, ack, fmt.Errorf("%w: direct frame header", protocol.ErrBufferTooSmall)
	}

	secret, err := keys.CalcSharedSecret(to.PublicKey)
	if err != nil {
		return 0, ack, err
	}
	defer crypto.ZeroBytes(secret[:])

	body := dst[off:]
	n, err := protocol.PutPlainMessage(body, timestamp, flags, text)
	if err != nil {
		return 0, ack, err
	}
	if pt == protocol.PayloadTxt {
		ack = crypto.AckHash(timestamp, uint8(flags), text, keys.PublicKey())
	}

	ciphertext := body[:n]
	if err := crypto.EncryptInPlace(secret[:directKeySize], ciphertext); err != nil {
		return 0, ack, err
	}
	mac, err := crypto.TruncatedMAC(ciphertext, secret[:])
	if err != nil {
		return 0, ack, err
	}

	payload := dst[protocol.HeaderSize:]
	payload[0] = to.Hash()
	payload[1] = keys.Hash()
	payload[2], payload[3] = mac[0], mac[1]
	n, err = finish(dst, route, pt, protocol.DirectHeaderSize+n)
	return n, ack, err
}

// ComposeAck builds an ACK carrying hash.
func ComposeAck(dst []byte, route protocol.RouteType, hash [crypto.AckHashSize]byte) (int, error) {
	if len(dst) < protocol.HeaderSize+crypto.AckHashSize {
		return 0, fmt.Errorf("%w: ack frame needs %d bytes", protocol.ErrBufferTooSmall, protocol.HeaderSize+crypto.AckHashSize)
	}
	copy(dst[protocol.HeaderSize:], hash[:])
	return finish(dst, route, protocol.PayloadAck, crypto.AckHashSize)
}

// finish writes the header in front of a payload already placed at
// dst[HeaderSize:].
func finish(dst []byte, route protocol.RouteType, pt protocol.PayloadType, payloadLen int) (int, error) {
	payload := dst[protocol.HeaderSize : protocol.HeaderSize+payloadLen]
	return protocol.Encode(dst, protocol.NewFlags(route, pt, protocol.PayloadV1), nil, payload)
}
