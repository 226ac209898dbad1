package external

import (
	"sync"

	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/types"
)

// MemoryStatusGuard is an in-process StatusGuard, used by tests and by
// `helios serve`, which has no external status service.
type MemoryStatusGuard struct {
	mu        sync.Mutex
	instances map[string]types.InstanceInfo
}

// NewMemoryStatusGuard creates an empty MemoryStatusGuard.
func NewMemoryStatusGuard() *MemoryStatusGuard {
	return &MemoryStatusGuard{instances: make(map[string]types.InstanceInfo)}
}

func (g *MemoryStatusGuard) SetInstanceInfo(modelUID string, info types.InstanceInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instances[modelUID] = info
	return nil
}

func (g *MemoryStatusGuard) UpdateInstanceInfo(modelUID string, mutate func(*types.InstanceInfo)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.instances[modelUID]
	if !ok {
		return superr.NewNotFound("instance", modelUID)
	}
	mutate(&info)
	g.instances[modelUID] = info
	return nil
}

func (g *MemoryStatusGuard) GetInstanceInfo(modelUID string) (types.InstanceInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.instances[modelUID]
	if !ok {
		return types.InstanceInfo{}, superr.NewNotFound("instance", modelUID)
	}
	return info, nil
}

func (g *MemoryStatusGuard) GetInstanceCount() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.instances), nil
}

// DeleteInstanceInfo removes modelUID's InstanceInfo, used by the
// Termination Coordinator once a model has fully torn down.
func (g *MemoryStatusGuard) DeleteInstanceInfo(modelUID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.instances, modelUID)
	return nil
}

// MemoryProgressTracker is an in-process ProgressTracker.
type MemoryProgressTracker struct {
	mu       sync.Mutex
	progress map[string]float64
}

// NewMemoryProgressTracker creates an empty MemoryProgressTracker.
func NewMemoryProgressTracker() *MemoryProgressTracker {
	return &MemoryProgressTracker{progress: make(map[string]float64)}
}

func (p *MemoryProgressTracker) GetProgress(key string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.progress[key]
	return v, ok
}

// Set records the fractional completion for key, called by whatever is
// driving a launch (a worker's load-progress callback in production, a
// test harness in unit tests).
func (p *MemoryProgressTracker) Set(key string, fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress[key] = fraction
}

// Clear removes key, called once a launch finishes.
func (p *MemoryProgressTracker) Clear(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.progress, key)
}
