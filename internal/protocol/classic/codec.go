// Package classic implements just enough of the MySQL classic wire protocol
// to police the handshake: packet framing, the handful of integer/string
// encodings the handshake packets use, an ERR packet builder, and a fake
// handshake-response builder used to neutralize a backend's own
// aborted-connect accounting when the router itself refuses a client.
//
// Bit formats are grounded on the real server's wire format as implemented
// by mysql-router (original_source/src/mysql_protocol).
package classic

import "fmt"

// HeaderSize is the length of a classic packet header: 3 bytes payload
// length (little endian) followed by 1 byte sequence id.
const HeaderSize = 4

// ClientProtocol41 and ClientSSL are the capability bits the adapter needs
// to recognize; see original_source/src/mysql_protocol/include/.../constants.h.
const (
	ClientProtocol41 uint32 = 0x00000200
	ClientSSL        uint32 = 0x00000800
)

// EncodeFixedLE encodes v as a little-endian unsigned integer of k bytes.
// k must be one of 1, 2, 3, 4, 8.
func EncodeFixedLE(v uint64, k int) []byte {
	b := make([]byte, k)
	for i := 0; i < k; i++ {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// DecodeFixedLE decodes a little-endian unsigned integer of k bytes from
// the front of b. b must have at least k bytes.
func DecodeFixedLE(b []byte, k int) uint64 {
	var v uint64
	for i := k - 1; i >= 0; i-- {
		v <<= 8
		v |= uint64(b[i])
	}
	return v
}

// EncodeLenEnc encodes v as a MySQL length-encoded unsigned integer.
func EncodeLenEnc(v uint64) []byte {
	switch {
	case v < 0xfb:
		return []byte{byte(v)}
	case v <= 0xffff:
		return append([]byte{0xfc}, EncodeFixedLE(v, 2)...)
	case v <= 0xffffff:
		return append([]byte{0xfd}, EncodeFixedLE(v, 3)...)
	default:
		return append([]byte{0xfe}, EncodeFixedLE(v, 8)...)
	}
}

// DecodeLenEnc decodes a length-encoded unsigned integer from the front of
// b, returning the value and the number of bytes it consumed.
func DecodeLenEnc(b []byte) (value uint64, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("classic: empty buffer for length-encoded integer")
	}
	switch {
	case b[0] < 0xfb:
		return uint64(b[0]), 1, nil
	case b[0] == 0xfc:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("classic: short buffer for 2-byte length-encoded integer")
		}
		return DecodeFixedLE(b[1:3], 2), 3, nil
	case b[0] == 0xfd:
		if len(b) < 4 {
			return 0, 0, fmt.Errorf("classic: short buffer for 3-byte length-encoded integer")
		}
		return DecodeFixedLE(b[1:4], 3), 4, nil
	case b[0] == 0xfe:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("classic: short buffer for 8-byte length-encoded integer")
		}
		return DecodeFixedLE(b[1:9], 8), 9, nil
	default:
		// 0xff is undefined, 0xfb denotes NULL; neither valid here.
		return 0, 0, fmt.Errorf("classic: invalid length-encoded integer marker 0x%02x", b[0])
	}
}

// EncodeLenEncBytes encodes value as a length-encoded byte string.
func EncodeLenEncBytes(value []byte) []byte {
	out := EncodeLenEnc(uint64(len(value)))
	return append(out, value...)
}

// NullTerminatedString reads a NUL-terminated string from the front of b,
// returning the string and the number of bytes consumed (including the
// terminator).
func NullTerminatedString(b []byte) (s string, consumed int, err error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("classic: no NUL terminator found")
}

// header describes a parsed classic packet header.
type header struct {
	PayloadLen uint32
	SeqID      uint8
}

func parseHeader(b []byte) header {
	return header{
		PayloadLen: uint32(DecodeFixedLE(b[:3], 3)),
		SeqID:      b[3],
	}
}

func encodeHeader(payloadLen uint32, seqID uint8) []byte {
	b := EncodeFixedLE(uint64(payloadLen), 3)
	return append(b, seqID)
}
