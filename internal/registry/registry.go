// Package registry holds the Worker Registry and Replica Registry (spec
// §4.A, §4.B): the supervisor's only persistent in-memory state. Both
// registries share a single mutex because worker eviction must remove a
// worker and purge every replica that depends on it in one atomic step
// (spec §5 invariant 4); splitting them into two locks would let a reader
// observe a replica that still lists an already-removed worker.
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/cuemby/helios/pkg/types"
)

// Registry is the supervisor's worker and replica bookkeeping. All methods
// are safe for concurrent use; none of them block on network I/O, so the
// lock is always held for a bounded, cheap critical section (spec §5).
type Registry struct {
	mu sync.Mutex

	workers map[string]types.WorkerEntry

	replicas       map[string]*types.ReplicaInfo // by model UID
	replicaWorkers map[string][]string           // by replica UID

	totalEvicted int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		workers:        make(map[string]types.WorkerEntry),
		replicas:       make(map[string]*types.ReplicaInfo),
		replicaWorkers: make(map[string][]string),
	}
}

// AddWorker registers a new worker at address with an empty status and a
// full failure budget. It fails if the address is already registered.
func (r *Registry) AddWorker(address string, failureThreshold int, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[address]; ok {
		return alreadyExists("worker", address)
	}
	r.workers[address] = types.WorkerEntry{
		Address:          address,
		LastStatus:       make(map[string]types.WorkerStatus),
		LastUpdateTime:   now,
		FailureRemaining: failureThreshold,
	}
	return nil
}

// RemoveWorker deletes a worker and purges every replica slot bound to it.
// It is idempotent: removing an address that is not registered is a no-op.
// It returns the model UIDs whose ReplicaInfo was invalidated as a result.
func (r *Registry) RemoveWorker(address string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeWorkerLocked(address)
}

func (r *Registry) removeWorkerLocked(address string) []string {
	if _, ok := r.workers[address]; !ok {
		return nil
	}
	delete(r.workers, address)
	return r.purgeReplicasReferencingLocked(address)
}

// purgeReplicasReferencingLocked deletes every ReplicaInfo that lists
// address in any slot's worker refs, along with the corresponding
// replicaWorkers entries. Must be called with r.mu held.
func (r *Registry) purgeReplicasReferencingLocked(address string) []string {
	var invalidated []string
	for modelUID, info := range r.replicas {
		hit := false
		for _, refs := range info.WorkerRefs {
			for _, w := range refs {
				if w == address {
					hit = true
				}
			}
		}
		if hit {
			for i := range info.WorkerRefs {
				delete(r.replicaWorkers, BuildReplicaUID(modelUID, i, info.ReplicaCount))
			}
			delete(r.replicas, modelUID)
			invalidated = append(invalidated, modelUID)
		}
	}
	return invalidated
}

// ReportStatus updates an already-registered worker's status snapshot and
// resets its failure budget. It returns a NotFoundError if the worker was
// never added (or was since evicted).
func (r *Registry) ReportStatus(address string, status map[string]types.WorkerStatus, now time.Time, failureThreshold int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[address]
	if !ok {
		return notFound("worker", address)
	}
	w.LastStatus = status
	w.LastUpdateTime = now
	w.FailureRemaining = failureThreshold
	r.workers[address] = w
	return nil
}

// GetWorker returns a copy of the worker entry for address.
func (r *Registry) GetWorker(address string) (types.WorkerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[address]
	return w, ok
}

// ListWorkers returns a snapshot of all registered workers.
func (r *Registry) ListWorkers() []types.WorkerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.WorkerEntry, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// LookupByIP returns a registered worker whose address's host part matches
// ip; when several match, which one is returned is not defined. Used by the
// Registration Broker to find the worker a model registration call is
// forwarded to.
func (r *Registry) LookupByIP(ip string) (types.WorkerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		host, _, err := net.SplitHostPort(w.Address)
		if err != nil {
			host = w.Address
		}
		if host == ip {
			return w, true
		}
	}
	return types.WorkerEntry{}, false
}

// CreateReplicaInfo creates a fresh ReplicaInfo for modelUID before any
// worker has been contacted (spec §5 invariant 1: the Launch Coordinator
// must create this record before the first worker RPC so a crash mid-launch
// still leaves a discoverable, if incomplete, record).
func (r *Registry) CreateReplicaInfo(modelUID string, replicaCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.replicas[modelUID]; ok {
		return alreadyExists("model", modelUID)
	}
	r.replicas[modelUID] = &types.ReplicaInfo{
		ModelUID:     modelUID,
		ReplicaCount: replicaCount,
		WorkerRefs:   make([][]string, replicaCount),
	}
	return nil
}

// DeleteReplicaInfo removes modelUID's ReplicaInfo and every replicaWorkers
// entry derived from it. Idempotent.
func (r *Registry) DeleteReplicaInfo(modelUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.replicas[modelUID]
	if !ok {
		return
	}
	for i := range info.WorkerRefs {
		delete(r.replicaWorkers, BuildReplicaUID(modelUID, i, info.ReplicaCount))
	}
	delete(r.replicas, modelUID)
}

// GetReplicaInfo returns a copy of the ReplicaInfo for modelUID.
func (r *Registry) GetReplicaInfo(modelUID string) (types.ReplicaInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.replicas[modelUID]
	if !ok {
		return types.ReplicaInfo{}, false
	}
	return copyReplicaInfo(info), true
}

func copyReplicaInfo(info *types.ReplicaInfo) types.ReplicaInfo {
	refs := make([][]string, len(info.WorkerRefs))
	for i, s := range info.WorkerRefs {
		cp := make([]string, len(s))
		copy(cp, s)
		refs[i] = cp
	}
	return types.ReplicaInfo{
		ModelUID:         info.ModelUID,
		ReplicaCount:     info.ReplicaCount,
		RoundRobinCursor: info.RoundRobinCursor,
		WorkerRefs:       refs,
	}
}

// BindReplicaSlot records the worker addresses backing replica slot i of
// modelUID (shard 0 first). The Launch Coordinator binds a slot before it
// issues the slot's launch RPC, so a rollback can find every worker it
// contacted.
func (r *Registry) BindReplicaSlot(modelUID string, i int, workers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.replicas[modelUID]
	if !ok {
		return notFound("model", modelUID)
	}
	if i < 0 || i >= len(info.WorkerRefs) {
		return notFound("replica slot", modelUID)
	}
	cp := make([]string, len(workers))
	copy(cp, workers)
	info.WorkerRefs[i] = cp
	r.replicaWorkers[BuildReplicaUID(modelUID, i, info.ReplicaCount)] = cp
	return nil
}

// UnbindReplicaSlot clears replica slot i, used by rollback when a later
// shard or a later replica in the same launch fails.
func (r *Registry) UnbindReplicaSlot(modelUID string, i int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.replicas[modelUID]
	if !ok || i < 0 || i >= len(info.WorkerRefs) {
		return
	}
	delete(r.replicaWorkers, BuildReplicaUID(modelUID, i, info.ReplicaCount))
	info.WorkerRefs[i] = nil
}

// ReplicaWorkers returns the worker addresses bound to a replica UID.
func (r *Registry) ReplicaWorkers(replicaUID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.replicaWorkers[replicaUID]
	if !ok {
		return nil, false
	}
	cp := make([]string, len(w))
	copy(cp, w)
	return cp, true
}

// AdvanceRoundRobin returns the replica slot to route the next request to
// for modelUID and advances the cursor (spec §4.F, §8 round-robin
// fairness). It skips unbound slots (nil WorkerRefs) so a slot mid-launch or
// purged by an eviction is never routed to.
func (r *Registry) AdvanceRoundRobin(modelUID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.replicas[modelUID]
	if !ok || info.ReplicaCount == 0 {
		return 0, notFound("model", modelUID)
	}
	for attempt := 0; attempt < info.ReplicaCount; attempt++ {
		slot := info.RoundRobinCursor
		info.RoundRobinCursor = (info.RoundRobinCursor + 1) % info.ReplicaCount
		if info.WorkerRefs[slot] != nil {
			return slot, nil
		}
	}
	return 0, notFound("bound replica slot", modelUID)
}

// ListModelUIDs returns every model UID with a live ReplicaInfo.
func (r *Registry) ListModelUIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.replicas))
	for uid := range r.replicas {
		out = append(out, uid)
	}
	return out
}

// SweepResult is one worker evicted by a health sweep, along with the
// models invalidated by its removal.
type SweepResult struct {
	Address           string
	InvalidatedModels []string
}

// SweepHealth ages every worker's failure budget against now, evicting any
// whose last report is older than timeout for threshold consecutive sweeps
// (spec §4.G). A worker whose report is within timeout has its budget reset
// to threshold. The whole sweep runs under one critical section so an
// evicted worker's replicas are purged in the same step as its removal
// (spec §5 invariant 4).
func (r *Registry) SweepHealth(now time.Time, timeout time.Duration, threshold int) []SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []string
	for address, w := range r.workers {
		if now.Sub(w.LastUpdateTime) > timeout {
			w.FailureRemaining--
			if w.FailureRemaining <= 0 {
				dead = append(dead, address)
				continue
			}
		} else {
			w.FailureRemaining = threshold
		}
		r.workers[address] = w
	}

	results := make([]SweepResult, 0, len(dead))
	for _, address := range dead {
		invalidated := r.removeWorkerLocked(address)
		r.totalEvicted++
		results = append(results, SweepResult{Address: address, InvalidatedModels: invalidated})
	}
	return results
}

// WorkerCounts implements pkg/metrics.RegistrySnapshot.
func (r *Registry) WorkerCounts() (healthy, evicted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers), r.totalEvicted
}

// ModelAndReplicaCounts implements pkg/metrics.RegistrySnapshot.
func (r *Registry) ModelAndReplicaCounts() (models, replicas int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	models = len(r.replicas)
	for _, info := range r.replicas {
		for _, refs := range info.WorkerRefs {
			if refs != nil {
				replicas++
			}
		}
	}
	return models, replicas
}
