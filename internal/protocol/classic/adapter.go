package classic

import "fmt"

// Side identifies which direction a packet travelled, from the router's
// point of view.
type Side int

const (
	FromClient Side = iota
	FromServer
)

// Adapter tracks the handshake state of a single connection by observing
// packet headers as they pass through the router in both directions. It
// never buffers payload bytes itself — callers feed it a header plus
// whatever payload they already have on hand.
//
// Grounded on original_source/src/routing/src/protocol/classic_protocol.cc's
// copy_packets(): the real router shares a single handshake_done flag and a
// last-seen sequence id (curr_pktnr) across both the client->server and
// server->client legs of the same connection, rejecting any packet whose
// sequence id isn't the one immediately following the last one seen from
// either direction. It declares the handshake complete the first time a
// sequence id of 2 or higher is observed, or earlier when the server sends
// an ERR packet or when the client's seq-1 reply sets the CLIENT_SSL
// capability bit (everything after that request is TLS, which the adapter
// does not inspect).
type Adapter struct {
	done         bool
	sawClientCap bool
	sslRequested bool

	haveLastSeq bool
	lastSeq     uint8
}

// NewAdapter returns a fresh per-connection Adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Done reports whether the handshake has been observed to completion.
func (a *Adapter) Done() bool {
	return a.done
}

// SSLRequested reports whether the client's handshake-response packet set
// CLIENT_SSL, meaning a second, post-TLS handshake exchange follows.
func (a *Adapter) SSLRequested() bool {
	return a.sslRequested
}

// Feed observes one packet (header + payload, payload may be empty if not
// yet read) travelling in the given direction and updates handshake state.
// It returns an error if the payload is malformed in a way that matters for
// handshake tracking (e.g. a truncated capability field), or if the
// packet's sequence id isn't exactly one more than the last sequence id
// seen from either direction — a classic client that skips, repeats, or
// otherwise guesses at a sequence id gets the connection aborted rather
// than let through. A packet the adapter doesn't otherwise care about is
// never an error.
func (a *Adapter) Feed(side Side, payload []byte, seqID uint8) error {
	if a.done {
		return nil
	}

	if a.haveLastSeq && seqID != a.lastSeq+1 {
		return fmt.Errorf("classic: unexpected sequence id %d, expected %d", seqID, a.lastSeq+1)
	}
	a.lastSeq = seqID
	a.haveLastSeq = true

	switch side {
	case FromServer:
		if pe, ok := ParseError(payload); ok {
			_ = pe
			a.done = true
			return nil
		}
	case FromClient:
		if !a.sawClientCap && seqID == 1 {
			if len(payload) < 4 {
				return fmt.Errorf("classic: handshake response too short to contain capability flags")
			}
			caps := uint32(DecodeFixedLE(payload[:4], 4))
			a.sslRequested = caps&ClientSSL != 0
			a.sawClientCap = true
			if a.sslRequested {
				a.done = true
				return nil
			}
		}
	}

	if seqID >= 2 {
		a.done = true
	}
	return nil
}

// Reset puts the adapter back to its initial state. The forwarder does not
// call it: a connection whose client requests CLIENT_SSL is marked done by
// Feed instead.
func (a *Adapter) Reset() {
	*a = Adapter{}
}
