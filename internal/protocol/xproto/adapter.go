package xproto

import "fmt"

// Side identifies which direction a message travelled.
type Side int

const (
	FromClient Side = iota
	FromServer
)

// MaxHandshakeFrameSize bounds how large a single message may declare
// itself during the handshake phase; the router only ever needs to inspect
// small control messages (AuthenticateStart, CapabilitiesGet, Error,
// Notice) at this stage, so a generous but finite cap defends against a
// hostile peer claiming a huge length to exhaust memory.
const MaxHandshakeFrameSize = 1 << 20

// Adapter tracks X protocol handshake state across both directions of one
// connection.
//
// Grounded on original_source/src/routing/src/protocol/x_protocol.cc's
// copy_packets(): handshake tracking stops — and the connection is treated
// as fully established — the first time the client sends
// SESS_AUTHENTICATE_START or CON_CAPABILITIES_GET, or the server sends an
// ERROR message. Any other first message from the client is a protocol
// violation and must not be forwarded, to avoid making the backend think
// the router is a misbehaving client.
type Adapter struct {
	done        bool
	clientCur   Cursor
	serverCur   Cursor
	sawClientMsg bool
}

// NewAdapter returns a fresh per-connection Adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Done reports whether the handshake has been observed to completion.
func (a *Adapter) Done() bool {
	return a.done
}

// Feed observes newly read bytes travelling in the given direction. It
// returns an error if a message is malformed, too large, or — for the
// client's first message — not one of the two messages the X protocol
// permits to open a session.
func (a *Adapter) Feed(side Side, data []byte) error {
	if a.done {
		return nil
	}

	cur := &a.serverCur
	if side == FromClient {
		cur = &a.clientCur
	}

	frames, err := cur.Feed(data, MaxHandshakeFrameSize)
	if err != nil {
		return err
	}

	for _, f := range frames {
		if side == FromServer {
			if f.Type == ServerError {
				a.done = true
				return nil
			}
			continue
		}

		if a.sawClientMsg {
			continue
		}
		a.sawClientMsg = true

		if f.Type != ClientSessAuthenticateStart && f.Type != ClientConCapabilitiesGet {
			return fmt.Errorf("xproto: client's first message must be SESS_AUTHENTICATE_START or CON_CAPABILITIES_GET, got type %d", f.Type)
		}
		a.done = true
		return nil
	}
	return nil
}
