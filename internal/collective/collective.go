// Package collective implements the Collective Bring-Up auxiliary actors
// (spec §4.H): BlockTracker and CollectiveManager, owned per model_uid by
// the supervisor, plus the concurrent-start/ordered-register orchestration
// the Launch Coordinator drives during a collective-enabled sharded launch
// (spec §4.D "Collective bring-up").
package collective

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/workerclient"
)

// BlockTracker records which replica UIDs are temporarily blocked from
// accepting new requests, e.g. while abort_request drains an in-flight
// call (spec §6 DEFAULT_CANCEL_BLOCK_DURATION).
type BlockTracker struct {
	mu      sync.Mutex
	blocked map[string]time.Time
}

// NewBlockTracker creates an empty BlockTracker.
func NewBlockTracker() *BlockTracker {
	return &BlockTracker{blocked: make(map[string]time.Time)}
}

// Block marks key as blocked until until.
func (b *BlockTracker) Block(key string, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[key] = until
}

// IsBlocked reports whether key is currently blocked, as of now.
func (b *BlockTracker) IsBlocked(key string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.blocked[key]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(b.blocked, key)
		return false
	}
	return true
}

// CollectiveManager owns the rendezvous world for one model_uid's
// collective-enabled replicas: it accepts rank registrations and must see
// them in strictly increasing order (spec §5 "Ordering guarantees").
type CollectiveManager struct {
	mu        sync.Mutex
	worldSize int
	nextRank  int
	addresses []string
}

// NewCollectiveManager creates a CollectiveManager expecting worldSize
// ranks (replica count + 1 for the synthetic rank-0 observer).
func NewCollectiveManager(worldSize int) *CollectiveManager {
	return &CollectiveManager{worldSize: worldSize}
}

// RegisterRank records rank's address. rank must equal the next expected
// rank (0, then 1, then 2, ...); any other value is rejected.
func (m *CollectiveManager) RegisterRank(rank int, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rank != m.nextRank {
		return fmt.Errorf("collective: rank %d registered out of order, expected %d", rank, m.nextRank)
	}
	if rank >= m.worldSize {
		return fmt.Errorf("collective: rank %d exceeds world size %d", rank, m.worldSize)
	}
	m.addresses = append(m.addresses, address)
	m.nextRank++
	return nil
}

// Ranks returns the registered addresses in rank order.
func (m *CollectiveManager) Ranks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.addresses))
	copy(out, m.addresses)
	return out
}

// WorldSize returns the configured world size.
func (m *CollectiveManager) WorldSize() int {
	return m.worldSize
}

// handle bundles the auxiliary actors owned for one model_uid.
type handle struct {
	blockTracker *BlockTracker
	manager      *CollectiveManager
	rank0Worker  string
}

// Manager owns the per-model_uid auxiliary actor maps (spec §4.H). It is
// itself in-process supervisor state, not a remote capability handle: the
// BlockTracker/CollectiveManager instances it creates live inside the
// supervisor.
type Manager struct {
	mu      sync.Mutex
	handles map[string]*handle
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{handles: make(map[string]*handle)}
}

// Create installs a fresh BlockTracker and CollectiveManager for modelUID.
func (m *Manager) Create(modelUID string, worldSize int) (*BlockTracker, *CollectiveManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &handle{blockTracker: NewBlockTracker(), manager: NewCollectiveManager(worldSize)}
	m.handles[modelUID] = h
	return h.blockTracker, h.manager
}

// Get returns the auxiliary actors for modelUID, if any were created.
func (m *Manager) Get(modelUID string) (*BlockTracker, *CollectiveManager, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[modelUID]
	if !ok {
		return nil, nil, false
	}
	return h.blockTracker, h.manager, true
}

// SetRank0Worker records the worker address hosting modelUID's synthetic
// rank-0 observer, so the Termination Coordinator can tear it down too.
func (m *Manager) SetRank0Worker(modelUID, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[modelUID]; ok {
		h.rank0Worker = address
	}
}

// Rank0Worker returns the worker address hosting modelUID's rank-0
// observer, if one was recorded.
func (m *Manager) Rank0Worker(modelUID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[modelUID]
	if !ok || h.rank0Worker == "" {
		return "", false
	}
	return h.rank0Worker, true
}

// CallCollectiveManager forwards fn to modelUID's CollectiveManager (spec
// §4.H "call_collective_manager", used by workers to reach the manager
// through the supervisor).
func (m *Manager) CallCollectiveManager(modelUID string, fn func(*CollectiveManager) error) error {
	m.mu.Lock()
	h, ok := m.handles[modelUID]
	m.mu.Unlock()
	if !ok {
		return superr.NewNotFound("collective manager", modelUID)
	}
	return fn(h.manager)
}

// Destroy removes modelUID's auxiliary actors. There is nothing to fail
// here since these are in-process objects with no external teardown call,
// but the method keeps the "drop the reference even if destruction fails"
// contract (spec §9) visible at the call site.
func (m *Manager) Destroy(modelUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, modelUID)
}

// Rank is one participant in a collective bring-up: a replica (or the
// synthetic rank-0 observer) with its assigned rank, its worker handle for
// RPCs, and the replica UID start_transfer_for_vllm needs.
type Rank struct {
	Rank       int
	Address    string
	ReplicaUID string
	Worker     workerclient.Worker
}

// BringUp runs the fan-out/ordered-register phase of collective bring-up
// (spec §4.D, §5): start_transfer_for_vllm is invoked on every rank
// concurrently (serial start-up would deadlock, since workers wait on each
// other), then register_rank is invoked on mgr in strictly increasing rank
// order using the addresses ranks report.
func BringUp(ctx context.Context, mgr *CollectiveManager, ranks []Rank) error {
	addresses := make([]string, len(ranks))
	for i, r := range ranks {
		addresses[i] = r.Address
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ranks))
	for i, r := range ranks {
		wg.Add(1)
		go func(i int, r Rank) {
			defer wg.Done()
			errs[i] = r.Worker.StartTransferForVLLM(ctx, r.ReplicaUID, addresses)
		}(i, r)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("collective: start_transfer_for_vllm failed on rank %d: %w", ranks[i].Rank, err)
		}
	}

	for _, r := range ranks {
		if err := mgr.RegisterRank(r.Rank, r.Address); err != nil {
			return fmt.Errorf("collective: register_rank failed on rank %d: %w", r.Rank, err)
		}
	}
	return nil
}
