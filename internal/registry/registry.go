// Package registry owns the process-wide collection of named routing
// instances (C8): start them all or none, and drive an orderly shutdown of
// whichever did start.
package registry

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/deployra/dbrouter/internal/routing"
)

// Registry is the set of routing instances this process runs. There is no
// add/remove at runtime — reconfiguration is a restart, per the spec.
type Registry struct {
	instances []*routing.Instance
}

// BindTCP and BindUnix are injected so tests can substitute fakes; in
// production they're netio.Facade's ListenTCP/ListenUnix.
type BindTCP func(addr string, port uint16) (net.Listener, error)
type BindUnix func(path string) (net.Listener, error)

// StartAll constructs and binds every instance in order. If any instance
// fails to bind, every instance already started is stopped in reverse
// order before the error surfaces — the process never ends up with a
// partially-live registry.
func StartAll(ctx context.Context, instances []*routing.Instance, bindTCP BindTCP, bindUnix BindUnix) (*Registry, error) {
	started := make([]*routing.Instance, 0, len(instances))

	for _, in := range instances {
		if err := in.Start(ctx, bindTCP, bindUnix); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Stop()
			}
			return nil, fmt.Errorf("registry: starting instance %q: %w", in.Name, err)
		}
		started = append(started, in)
	}

	return &Registry{instances: started}, nil
}

// StopAll drives every instance through its orderly shutdown concurrently
// — there's no ordering dependency between sibling listeners, so there's
// no reason to serialize their (bounded) join deadlines.
func (r *Registry) StopAll() error {
	var g errgroup.Group
	for _, in := range r.instances {
		in := in
		g.Go(func() error {
			in.Stop()
			return nil
		})
	}
	return g.Wait()
}

// Instances returns the live instances, for administrative inspection
// (e.g. an expvar dump of active_connections per name).
func (r *Registry) Instances() []*routing.Instance {
	return r.instances
}
