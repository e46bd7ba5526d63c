package xproto

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers from Mysqlx.Error (mysqlx.proto): severity=1, code=2,
// msg=3, sql_state=4.
const (
	errorFieldSeverity = protowire.Number(1)
	errorFieldCode     = protowire.Number(2)
	errorFieldMsg      = protowire.Number(3)
	errorFieldSQLState = protowire.Number(4)
)

// BuildError serializes a Mysqlx.Error message and wraps it in a
// ServerMessages.ERROR frame, ready to write to a socket.
func BuildError(code uint32, sqlState, message string) []byte {
	var b []byte
	b = protowire.AppendTag(b, errorFieldSeverity, protowire.VarintType)
	b = protowire.AppendVarint(b, 0) // ERROR severity
	b = protowire.AppendTag(b, errorFieldCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(code))
	b = protowire.AppendTag(b, errorFieldMsg, protowire.BytesType)
	b = protowire.AppendString(b, message)
	b = protowire.AppendTag(b, errorFieldSQLState, protowire.BytesType)
	b = protowire.AppendString(b, sqlState)

	return EncodeFrame(ServerError, b)
}

// BuildCapabilitiesGet serializes an empty Mysqlx.Connection.CapabilitiesGet
// message wrapped in a CON_CAPABILITIES_GET frame. The router sends this to
// a backend in place of a real client handshake when it needs to dispose of
// the connection without the backend counting it as an aborted one — same
// purpose as classic.BuildFakeHandshakeResponse, X protocol flavor.
func BuildCapabilitiesGet() []byte {
	return EncodeFrame(ClientConCapabilitiesGet, nil)
}

// ParsedError is a decoded Mysqlx.Error, used to recognize a
// server-originated error during handshake tracking.
type ParsedError struct {
	Code     uint32
	SQLState string
	Message  string
}

// ParseError decodes a Mysqlx.Error payload (the bytes after the frame's
// type byte). ok is false if the message type isn't ServerError or the
// payload doesn't parse as a well-formed protobuf message.
func ParseError(frame Frame) (ParsedError, bool) {
	if frame.Type != ServerError {
		return ParsedError{}, false
	}

	var pe ParsedError
	b := frame.Payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ParsedError{}, false
		}
		b = b[n:]

		switch {
		case num == errorFieldCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ParsedError{}, false
			}
			pe.Code = uint32(v)
			b = b[n:]
		case num == errorFieldMsg && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ParsedError{}, false
			}
			pe.Message = v
			b = b[n:]
		case num == errorFieldSQLState && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ParsedError{}, false
			}
			pe.SQLState = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ParsedError{}, false
			}
			b = b[n:]
		}
	}
	return pe, true
}
