// Package xproto implements just enough of the MySQL X Protocol to police
// its handshake: message framing (4-byte little-endian length, exclusive of
// itself, inclusive of the type byte, followed by a protobuf payload), the
// handful of message types the handshake can legally start with, and an
// Error/CapabilitiesGet message builder used when the router must speak to
// a backend or a client on its own behalf.
//
// Grounded on original_source/src/routing/src/protocol/x_protocol.cc.
package xproto

import (
	"fmt"
)

// HeaderSize is the length of the frame header: 4 bytes of little-endian
// length (covering the type byte plus the payload, but not the length
// field itself).
const HeaderSize = 4

// Client and server message type bytes the handshake adapter needs to
// recognize. Values are taken from Mysqlx.ClientMessages.Type and
// Mysqlx.ServerMessages.Type; unrelated message types are irrelevant to
// handshake policing and are intentionally not enumerated here.
const (
	ClientConCapabilitiesGet     uint8 = 1
	ClientSessAuthenticateStart  uint8 = 4
	ServerError                  uint8 = 1
)

// Frame is one decoded X protocol message: its type byte and payload,
// without the length header.
type Frame struct {
	Type    uint8
	Payload []byte
}

// Cursor extracts complete frames from a growing byte buffer, supporting
// partial reads: feed it whatever bytes are currently available and it
// returns every frame that is fully buffered, leaving a trailing partial
// frame (if any) for the next call.
type Cursor struct {
	buf []byte
}

// Feed appends newly read bytes and returns every complete frame now
// available. It returns an error if a frame's declared size would never
// fit a sane handshake message (defends against a hostile peer claiming an
// enormous length to exhaust memory).
func (c *Cursor) Feed(data []byte, maxFrameSize int) ([]Frame, error) {
	c.buf = append(c.buf, data...)

	var frames []Frame
	for {
		if len(c.buf) < HeaderSize {
			break
		}
		length := decodeLE32(c.buf[:4])
		if length < 1 {
			return nil, fmt.Errorf("xproto: invalid message length %d", length)
		}
		total := HeaderSize + int(length)
		if total-HeaderSize > maxFrameSize {
			return nil, fmt.Errorf("xproto: message of %d bytes exceeds handshake size limit %d", length, maxFrameSize)
		}
		if len(c.buf) < total {
			break
		}

		frames = append(frames, Frame{
			Type:    c.buf[4],
			Payload: append([]byte(nil), c.buf[5:total]...),
		})
		c.buf = c.buf[total:]
	}
	return frames, nil
}

// Pending reports the number of unconsumed bytes left buffered (a partial
// frame awaiting more data).
func (c *Cursor) Pending() int {
	return len(c.buf)
}

func decodeLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func encodeLE32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// EncodeFrame wraps a message type and pre-serialized protobuf payload in
// an X protocol frame, ready to write to a socket.
func EncodeFrame(msgType uint8, payload []byte) []byte {
	out := make([]byte, 0, HeaderSize+1+len(payload))
	out = append(out, encodeLE32(uint32(1+len(payload)))...)
	out = append(out, msgType)
	out = append(out, payload...)
	return out
}
