// Package metadatacache defines the read-only collaborator contract the
// metadata-cache-backed destination selector depends on, decoupling
// destination selection from whatever actually discovers cluster topology
// (see internal/kube for the concrete, Kubernetes-backed implementation).
package metadatacache

import (
	"context"
	"time"

	"github.com/deployra/dbrouter/internal/netio"
)

// Role is a cluster member's replication role, as reported by the
// collaborator's current snapshot.
type Role int

const (
	RoleUnknown Role = iota
	Primary
	Secondary
)

func (r Role) String() string {
	switch r {
	case Primary:
		return "PRIMARY"
	case Secondary:
		return "SECONDARY"
	default:
		return "UNKNOWN"
	}
}

// Instance is one member of a replicaset as seen in a point-in-time
// snapshot.
type Instance struct {
	UUID     string
	Endpoint netio.Endpoint
	Role     Role
}

// Cache is the contract the metadata-cache destination selector consumes.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Snapshot returns the current known members of replicaset. The
	// returned slice is a copy; callers may not mutate the cache's state
	// through it.
	Snapshot(replicaset string) []Instance

	// MarkUnreachable tells the collaborator that a connect attempt to
	// the member identified by uuid failed, so it may accelerate its own
	// re-probe of that member.
	MarkUnreachable(uuid string)

	// WaitPrimaryFailover blocks until a new primary is observed for
	// replicaset or timeout elapses, returning true in the former case.
	WaitPrimaryFailover(ctx context.Context, replicaset string, timeout time.Duration) bool
}
