package destination

import (
	"context"
	"sync"
	"time"

	"github.com/deployra/dbrouter/internal/netio"
	"github.com/deployra/dbrouter/internal/routing"
)

// quarantineProbeInterval is how often the background prober re-checks
// quarantined endpoints. mysql-router uses roughly 3 seconds.
const quarantineProbeInterval = 3 * time.Second

// quarantineProbeTimeout bounds each individual probe connect, so one
// unreachable endpoint can't stall the whole sweep.
const quarantineProbeTimeout = 1 * time.Second

// StaticSelector is the static-list-with-quarantine destination strategy.
// Endpoints are deduplicated by (host, port) at construction time.
type StaticSelector struct {
	facade netio.Facade

	mu         sync.Mutex
	endpoints  []netio.Endpoint
	quarantine map[int]bool
	cursor     int

	stop chan struct{}
	done chan struct{}
}

// NewStaticSelector builds a StaticSelector over endpoints, deduplicated by
// (host, port), and starts its background quarantine prober. Call Close
// when the owning routing instance shuts down.
func NewStaticSelector(facade netio.Facade, endpoints []netio.Endpoint) *StaticSelector {
	seen := make(map[string]bool, len(endpoints))
	deduped := make([]netio.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		key := ep.Address()
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, ep)
	}

	s := &StaticSelector{
		facade:     facade,
		endpoints:  deduped,
		quarantine: make(map[int]bool),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.probeLoop()
	return s
}

func (s *StaticSelector) GetNextBackend(_ routing.AccessMode) (netio.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.endpoints)
	if n == 0 {
		return netio.Endpoint{}, ErrExhaustedPermanent
	}

	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		if s.quarantine[idx] {
			continue
		}
		s.cursor = (idx + 1) % n
		return s.endpoints[idx], nil
	}
	return netio.Endpoint{}, ErrExhaustedTemporarily
}

func (s *StaticSelector) ReportConnectResult(ep netio.Endpoint, outcome ConnectOutcome) {
	if outcome == ConnectOK {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.endpoints {
		if e == ep {
			s.quarantine[i] = true
			return
		}
	}
}

func (s *StaticSelector) Close() {
	close(s.stop)
	<-s.done
}

func (s *StaticSelector) probeLoop() {
	defer close(s.done)

	ticker := time.NewTicker(quarantineProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.probeOnce()
		}
	}
}

func (s *StaticSelector) probeOnce() {
	s.mu.Lock()
	candidates := make([]int, 0, len(s.quarantine))
	for idx := range s.quarantine {
		candidates = append(candidates, idx)
	}
	endpoints := make([]netio.Endpoint, len(s.endpoints))
	copy(endpoints, s.endpoints)
	s.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	for _, idx := range candidates {
		if idx >= len(endpoints) {
			continue
		}
		ep := endpoints[idx]
		conn, err := s.facade.Connect(context.Background(), ep, time.Now().Add(quarantineProbeTimeout))
		if err != nil {
			continue
		}
		conn.Close()

		s.mu.Lock()
		delete(s.quarantine, idx)
		s.mu.Unlock()
	}
}
