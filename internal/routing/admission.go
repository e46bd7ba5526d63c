package routing

import (
	"net"
	"time"

	"github.com/deployra/dbrouter/internal/protocol/classic"
	"github.com/deployra/dbrouter/internal/protocol/xproto"
)

// Error code 1040, "Too many connections", sent directly by the accept
// loop when the instance is at max_connections — one layer above an
// individual Forwarder, which has no notion of the instance-wide
// connection cap. Grounded the same way as internal/forwarder's own
// client-facing errors (original_source/src/routing/src/classic_protocol.cc).
const codeTooManyConnections = 1040

func sendTooManyConnections(conn net.Conn, protocol Protocol) {
	var packet []byte
	switch protocol {
	case X:
		packet = xproto.BuildError(codeTooManyConnections, "HY000", "Too many connections to MySQL Router")
	default:
		packet = classic.BuildError(codeTooManyConnections, "HY000", "Too many connections to MySQL Router")
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = conn.Write(packet)
	conn.Close()
}
