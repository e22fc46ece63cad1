package dispatch

import (
	"bytes"
	"fmt"

	"github.com/postalsys/meshcore/internal/crypto"
	"github.com/postalsys/meshcore/internal/logging"
	"github.com/postalsys/meshcore/internal/protocol"
)

// Drop reasons. They are stable and used as metric labels.
const (
	ReasonParse         = "parse"
	ReasonUnknownType   = "unknown_type"
	ReasonNotAddressed  = "not_addressed"
	ReasonUnknownSender = "unknown_sender"
	ReasonMACMismatch   = "mac_mismatch"
	ReasonBadSignature  = "bad_signature"
	ReasonNoChannel     = "no_channel"
	ReasonDuplicate     = "duplicate"
	ReasonUnsupported   = "unsupported"
)

// directKeySize is the AES-128 key taken from the front of a pairwise
// secret. The MAC uses the whole secret.
const directKeySize = 16

// verdict is a handler's decision on one packet. An empty reason accepts it.
type verdict struct {
	reason string
	err    error
	event  Event

	// sendAck asks the loop to answer with an ACK carrying ack.
	sendAck bool
	ack     [crypto.AckHashSize]byte
}

func drop(reason string, err error) verdict {
	return verdict{reason: reason, err: err}
}

// handler is one entry of the payload type table.
type handler interface {
	handle(d *Dispatcher, pkt *protocol.Packet) verdict
}

// typedHandler pairs a payload decoder with the function that acts on the
// decoded value.
type typedHandler[T any] struct {
	decode func(payload []byte) (T, error)
	apply  func(d *Dispatcher, pkt *protocol.Packet, v T) verdict
}

func (h typedHandler[T]) handle(d *Dispatcher, pkt *protocol.Packet) verdict {
	v, err := h.decode(pkt.Payload)
	if err != nil {
		return drop(ReasonParse, err)
	}
	return h.apply(d, pkt, v)
}

// handlers is indexed by payload type. Types without an entry never get
// past Decode.
var handlers [protocol.NumPayloadTypes]handler

func init() {
	direct := typedHandler[protocol.Direct]{decode: protocol.ParseDirect, apply: handleDirect}
	group := typedHandler[protocol.Group]{decode: protocol.ParseGroup, apply: handleGroup}
	ignore := typedHandler[[]byte]{decode: rawPayload, apply: handleUnsupported}

	handlers[protocol.PayloadReq] = direct
	handlers[protocol.PayloadResp] = direct
	handlers[protocol.PayloadTxt] = direct
	handlers[protocol.PayloadPath] = direct
	handlers[protocol.PayloadAck] = typedHandler[[crypto.AckHashSize]byte]{decode: protocol.ParseAck, apply: handleAck}
	handlers[protocol.PayloadAdvert] = typedHandler[protocol.Advert]{decode: protocol.ParseAdvert, apply: handleAdvert}
	handlers[protocol.PayloadGrpText] = group
	handlers[protocol.PayloadGrpData] = group
	handlers[protocol.PayloadAnonReq] = ignore
	handlers[protocol.PayloadRawCustom] = ignore
}

func rawPayload(payload []byte) ([]byte, error) {
	return payload, nil
}

func meta(d *Dispatcher, pkt *protocol.Packet) Meta {
	return Meta{
		Type:     pkt.PayloadType(),
		Route:    pkt.RouteType(),
		PathLen:  len(pkt.Path),
		Received: d.received,
	}
}

func handleAdvert(d *Dispatcher, pkt *protocol.Packet, a protocol.Advert) verdict {
	d.setState(StateVerifyingSignature)

	signed := a.SignedData(d.scratch[:0])
	if !crypto.Verify(a.PublicKey, signed, a.Signature) {
		return drop(ReasonBadSignature, nil)
	}

	return verdict{event: &AdvertEvent{
		Meta:        meta(d, pkt),
		PublicKey:   a.PublicKey,
		Timestamp:   a.Timestamp,
		NodeType:    a.Flags.Type(),
		Name:        a.DisplayName(),
		LatLong:     a.LatLong,
		Battery:     a.Battery,
		Temperature: a.Temperature,
	}}
}

func handleDirect(d *Dispatcher, pkt *protocol.Packet, msg protocol.Direct) verdict {
	if msg.DestHash != d.selfHash {
		return drop(ReasonNotAddressed, nil)
	}

	d.setState(StateAuthenticating)

	candidates := d.contacts[msg.SrcHash]
	if len(candidates) == 0 {
		return drop(ReasonUnknownSender, fmt.Errorf("src hash %02x", msg.SrcHash))
	}

	for _, c := range candidates {
		if !crypto.CheckMAC(msg.Ciphertext, c.secret[:], msg.MAC) {
			continue
		}

		// Decrypt a copy so a MAC collision does not spoil the ciphertext
		// for the next candidate.
		buf := d.scratch[:len(msg.Ciphertext)]
		copy(buf, msg.Ciphertext)
		plain, err := d.cipher.Decrypt(c.secret[:directKeySize], buf, len(buf))
		if err != nil {
			return drop(ReasonParse, err)
		}
		pm, err := protocol.ParsePlainMessage(plain)
		if err != nil {
			return drop(ReasonParse, err)
		}

		ev := &DirectMessageEvent{
			Meta:      meta(d, pkt),
			Contact:   c.contact,
			Timestamp: pm.Timestamp,
			Flags:     pm.Flags,
			Data:      bytes.Clone(plain),
		}
		v := verdict{event: ev}
		if pkt.PayloadType() == protocol.PayloadTxt {
			ev.Text = bytes.Clone(pm.Text)
			ev.AckHash = crypto.AckHash(pm.Timestamp, uint8(pm.Flags), pm.Text, c.contact.PublicKey)
			v.sendAck = true
			v.ack = ev.AckHash
		}
		return v
	}

	return drop(ReasonMACMismatch, nil)
}

func handleGroup(d *Dispatcher, pkt *protocol.Packet, msg protocol.Group) verdict {
	d.setState(StateAuthenticating)

	candidates := d.channels[msg.ChannelHash]
	if len(candidates) == 0 {
		return drop(ReasonNoChannel, fmt.Errorf("channel hash %02x", msg.ChannelHash))
	}

	for _, ch := range candidates {
		if !crypto.CheckMAC(msg.Ciphertext, ch.Secret[:], msg.MAC) {
			continue
		}

		buf := d.scratch[:len(msg.Ciphertext)]
		copy(buf, msg.Ciphertext)
		plain, err := d.cipher.Decrypt(ch.Secret[:], buf, len(buf))
		if err != nil {
			return drop(ReasonParse, err)
		}
		pm, err := protocol.ParsePlainMessage(plain)
		if err != nil {
			return drop(ReasonParse, err)
		}

		ev := &GroupMessageEvent{
			Meta:      meta(d, pkt),
			Channel:   ch.Name,
			Timestamp: pm.Timestamp,
			Flags:     pm.Flags,
			Data:      bytes.Clone(plain),
		}
		if pkt.PayloadType() == protocol.PayloadGrpText {
			ev.Text = bytes.Clone(pm.Text)
		}
		return verdict{event: ev}
	}

	return drop(ReasonMACMismatch, nil)
}

// handleAck logs the hash. Matching acks against sent messages is left to
// the application.
func handleAck(d *Dispatcher, pkt *protocol.Packet, ack [crypto.AckHashSize]byte) verdict {
	d.logger.Info("ack received",
		logging.Hex(logging.KeyAckHash, ack[:]),
		logging.KeyRoute, pkt.RouteType().String())
	return verdict{}
}

func handleUnsupported(d *Dispatcher, pkt *protocol.Packet, payload []byte) verdict {
	return drop(ReasonUnsupported, fmt.Errorf("%s payload of %d bytes", pkt.PayloadType(), len(payload)))
}
