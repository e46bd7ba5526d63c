package classic

// BuildError constructs a classic ERR packet with sequence id 0, as if sent
// by the backend server, suitable for writing straight to the client's
// socket. sqlState must be exactly 5 ASCII bytes.
//
// The router always negotiates CLIENT_PROTOCOL_41 worth of behavior towards
// the client (every MySQL client in the last decade speaks 4.1+), so the
// SQL state marker is always included — see DESIGN.md for why this departs
// from the original C++ call site, which passed capabilities=0 by default.
func BuildError(code uint16, sqlState, message string) []byte {
	payload := make([]byte, 0, 3+5+len(message))
	payload = append(payload, 0xff)
	payload = append(payload, EncodeFixedLE(uint64(code), 2)...)
	payload = append(payload, '#')
	state := sqlState
	if len(state) != 5 {
		state = "HY000"
	}
	payload = append(payload, state...)
	payload = append(payload, message...)

	packet := make([]byte, 0, HeaderSize+len(payload))
	packet = append(packet, encodeHeader(uint32(len(payload)), 0)...)
	packet = append(packet, payload...)
	return packet
}

// ParsedError is a decoded classic ERR packet, used to recognize a
// server-originated error during the handshake phase (see Adapter.Feed).
type ParsedError struct {
	Code     uint16
	SQLState string
	Message  string
}

// ParseError decodes a classic ERR packet payload (the bytes after the
// 4-byte header). It returns ok=false if payload doesn't start with the
// 0xFF error marker.
func ParseError(payload []byte) (ParsedError, bool) {
	if len(payload) < 1 || payload[0] != 0xff {
		return ParsedError{}, false
	}
	if len(payload) < 3 {
		return ParsedError{}, false
	}
	pe := ParsedError{Code: uint16(DecodeFixedLE(payload[1:3], 2))}
	pos := 3
	if len(payload) > pos && payload[pos] == '#' && len(payload) >= pos+6 {
		pe.SQLState = string(payload[pos+1 : pos+6])
		pos += 6
	}
	if pos <= len(payload) {
		pe.Message = string(payload[pos:])
	}
	return pe, true
}

// defaultClientCapabilities mirrors mysql-router's fake HandshakeResponsePacket:
// CLIENT_LONG_PASSWORD | CLIENT_LONG_FLAG | CLIENT_CONNECT_WITH_DB |
// CLIENT_PROTOCOL_41 | CLIENT_TRANSACTIONS | CLIENT_SECURE_CONNECTION |
// CLIENT_MULTI_STATEMENTS | CLIENT_MULTI_RESULTS | CLIENT_LOCAL_FILES.
const defaultClientCapabilities uint32 = 238221

// BuildFakeHandshakeResponse constructs a syntactically well-formed client
// handshake-response packet carrying bogus credentials. The router sends
// this to a real backend — never to a client — when it needs to dispose of
// a backend socket after refusing the client: the backend processes it as
// an authentication failure (counted as a bad-credential event) instead of
// an aborted connection, which is what would happen if the router just
// closed the socket mid-handshake.
func BuildFakeHandshakeResponse() []byte {
	payload := make([]byte, 0, 64)
	payload = append(payload, EncodeFixedLE(uint64(defaultClientCapabilities), 4)...)
	payload = append(payload, EncodeFixedLE(1073741824, 4)...) // max_allowed_packet
	payload = append(payload, 8)                               // charset: latin1
	payload = append(payload, make([]byte, 23)...)              // reserved filler

	const username = "ROUTER"
	payload = append(payload, username...)
	payload = append(payload, 0)

	const authDataLen = 20
	payload = append(payload, authDataLen)
	for i := 0; i < authDataLen; i++ {
		payload = append(payload, 0x71) // fake auth data; value is arbitrary
	}
	payload = append(payload, 0) // empty database, NUL-terminated

	const authPlugin = "mysql_native_password"
	payload = append(payload, authPlugin...)
	payload = append(payload, 0)

	packet := make([]byte, 0, HeaderSize+len(payload))
	packet = append(packet, encodeHeader(uint32(len(payload)), 1)...)
	packet = append(packet, payload...)
	return packet
}
