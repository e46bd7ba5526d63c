package classic

import "fmt"

// Packet is one decoded classic packet: its header fields and payload.
type Packet struct {
	SeqID   uint8
	Payload []byte
}

// Cursor extracts complete packets from a growing byte buffer, the classic
// protocol counterpart to xproto.Cursor: feed it whatever bytes are
// currently available and it returns every packet that is fully buffered.
type Cursor struct {
	buf []byte
}

// Feed appends newly read bytes and returns every complete packet now
// available, erroring if a declared payload length would never fit within
// maxPacketSize (defends against a hostile oversized handshake packet).
func (c *Cursor) Feed(data []byte, maxPacketSize int) ([]Packet, error) {
	c.buf = append(c.buf, data...)

	var packets []Packet
	for {
		if len(c.buf) < HeaderSize {
			break
		}
		h := parseHeader(c.buf[:HeaderSize])
		if int(h.PayloadLen) > maxPacketSize {
			return nil, fmt.Errorf("classic: packet of %d bytes exceeds handshake size limit %d", h.PayloadLen, maxPacketSize)
		}
		total := HeaderSize + int(h.PayloadLen)
		if len(c.buf) < total {
			break
		}

		packets = append(packets, Packet{
			SeqID:   h.SeqID,
			Payload: append([]byte(nil), c.buf[HeaderSize:total]...),
		})
		c.buf = c.buf[total:]
	}
	return packets, nil
}

// Pending reports the number of unconsumed bytes left buffered.
func (c *Cursor) Pending() int {
	return len(c.buf)
}
