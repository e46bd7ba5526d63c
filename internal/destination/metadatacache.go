package destination

import (
	"context"
	"sync"
	"time"

	"github.com/deployra/dbrouter/internal/metadatacache"
	"github.com/deployra/dbrouter/internal/netio"
	"github.com/deployra/dbrouter/internal/routing"
)

// primaryFailoverTimeout is how long GetNextBackend waits for a new
// primary to appear before giving up, when the instance's access mode is
// ReadWrite and the current snapshot has none.
const primaryFailoverTimeout = 10 * time.Second

// MetadataCacheSelector is the metadata-cache-backed destination strategy:
// it takes a fresh snapshot on every call, filters by role, and round-robins
// over the filtered view.
type MetadataCacheSelector struct {
	cache             metadatacache.Cache
	replicaset        string
	allowPrimaryReads bool

	mu     sync.Mutex
	cursor int

	// uuidByAddress remembers the most recent snapshot's address->uuid
	// mapping, so ReportConnectResult can translate an endpoint back to
	// the uuid the collaborator expects.
	uuidByAddress map[string]string
}

// NewMetadataCacheSelector builds a selector over a named replicaset.
// allowPrimaryReads, when true, makes a ReadOnly mode hint also accept
// PRIMARY members (the `allow_primary_reads=yes` config override).
func NewMetadataCacheSelector(cache metadatacache.Cache, replicaset string, allowPrimaryReads bool) *MetadataCacheSelector {
	return &MetadataCacheSelector{
		cache:             cache,
		replicaset:        replicaset,
		allowPrimaryReads: allowPrimaryReads,
		uuidByAddress:     make(map[string]string),
	}
}

func (s *MetadataCacheSelector) GetNextBackend(modeHint routing.AccessMode) (netio.Endpoint, error) {
	ep, ok := s.selectOnce(modeHint)
	if ok {
		return ep, nil
	}

	if modeHint != routing.ReadWrite {
		return netio.Endpoint{}, ErrExhaustedTemporarily
	}

	if !s.cache.WaitPrimaryFailover(context.Background(), s.replicaset, primaryFailoverTimeout) {
		return netio.Endpoint{}, ErrExhaustedTemporarily
	}

	ep, ok = s.selectOnce(modeHint)
	if !ok {
		return netio.Endpoint{}, ErrExhaustedTemporarily
	}
	return ep, nil
}

func (s *MetadataCacheSelector) selectOnce(modeHint routing.AccessMode) (netio.Endpoint, bool) {
	snapshot := s.cache.Snapshot(s.replicaset)

	filtered := make([]metadatacache.Instance, 0, len(snapshot))
	for _, inst := range snapshot {
		if s.accepts(modeHint, inst.Role) {
			filtered = append(filtered, inst)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.uuidByAddress = make(map[string]string, len(snapshot))
	for _, inst := range snapshot {
		s.uuidByAddress[inst.Endpoint.Address()] = inst.UUID
	}

	if len(filtered) == 0 {
		return netio.Endpoint{}, false
	}

	idx := s.cursor % len(filtered)
	s.cursor = (idx + 1) % len(filtered)
	return filtered[idx].Endpoint, true
}

func (s *MetadataCacheSelector) accepts(modeHint routing.AccessMode, role metadatacache.Role) bool {
	switch modeHint {
	case routing.ReadWrite:
		return role == metadatacache.Primary
	case routing.ReadOnly:
		if role == metadatacache.Secondary {
			return true
		}
		return s.allowPrimaryReads && role == metadatacache.Primary
	default:
		return false
	}
}

func (s *MetadataCacheSelector) ReportConnectResult(ep netio.Endpoint, outcome ConnectOutcome) {
	if outcome != ConnectUnreachable {
		return
	}

	s.mu.Lock()
	uuid, ok := s.uuidByAddress[ep.Address()]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.cache.MarkUnreachable(uuid)
}

func (s *MetadataCacheSelector) Close() {}
