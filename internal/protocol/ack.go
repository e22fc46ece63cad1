package protocol

import "fmt"

// ParseAck returns the 4-byte ack hash carried by an ACK payload.
func ParseAck(payload []byte) ([AckHashSize]byte, error) {
	var ack [AckHashSize]byte
	if len(payload) < AckHashSize {
		return ack, fmt.Errorf("%w: ack payload is %d bytes", ErrTruncated, len(payload))
	}
	copy(ack[:], payload)
	return ack, nil
}
