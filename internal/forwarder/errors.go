package forwarder

// Error codes and messages the forwarder sends to clients directly,
// grounded on original_source/src/routing/src/classic_protocol.cc and the
// corresponding X protocol path. These are the router's own errors, not
// backend errors relayed through the handshake adapters.
const (
	codeTooManyConnections = 1040
	codeHostBlocked        = 1129
	codeCantConnect        = 2003
)

func tooManyConnectionsMessage() string {
	return "Too many connections to MySQL Router"
}

func hostBlockedMessage(addr string) string {
	return "Host '" + addr + "' is blocked because of many connection errors; unblock with mysqladmin flush-hosts"
}

func cantConnectMessage() string {
	return "Can't connect to remote MySQL server"
}
