// Package destination implements the pluggable backend-selection strategies
// a routing instance consults on every accepted connection: a static
// round-robin list with failure quarantine, and a metadata-cache-backed
// selector that filters a live cluster snapshot by role.
//
// Grounded on original_source/src/destination.cc and
// original_source/src/dest_metadata_cache.cc.
package destination

import (
	"errors"

	"github.com/deployra/dbrouter/internal/netio"
	"github.com/deployra/dbrouter/internal/routing"
)

// ErrExhaustedTemporarily means no backend is available right now, but the
// routing instance itself stays up — the caller should refuse this one
// client and try again on the next connection.
var ErrExhaustedTemporarily = errors.New("destination: no backend currently available")

// ErrExhaustedPermanent means the selector can never produce a backend
// (e.g. a static list configured empty); distinct from the temporary case
// so callers could in principle treat it as a configuration error, though
// today both are handled identically by the forwarder.
var ErrExhaustedPermanent = errors.New("destination: selector is permanently exhausted")

// ConnectOutcome classifies the result of a connect attempt, reported back
// to the selector so it can adjust its internal state (quarantine an
// endpoint, accelerate a cache re-probe, etc).
type ConnectOutcome int

const (
	ConnectOK ConnectOutcome = iota
	ConnectUnreachable
	ConnectTimedOut
)

// Selector is the C4 public contract: an abstract iterator over backend
// addresses.
type Selector interface {
	// GetNextBackend returns the next candidate endpoint for a connection
	// requesting the given access mode. modeHint is only consulted by the
	// metadata-cache strategy; the static strategy ignores it.
	GetNextBackend(modeHint routing.AccessMode) (netio.Endpoint, error)

	// ReportConnectResult tells the selector what happened when the
	// caller tried to actually connect to ep, as previously returned by
	// GetNextBackend.
	ReportConnectResult(ep netio.Endpoint, outcome ConnectOutcome)

	// Close releases any background resources (e.g. the static
	// strategy's quarantine prober).
	Close()
}
