package registry

import (
	"testing"
	"time"

	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddWorkerRejectsDuplicate(t *testing.T) {
	r := New()
	now := time.Now()
	require.NoError(t, r.AddWorker("10.0.0.1:9000", 3, now))

	err := r.AddWorker("10.0.0.1:9000", 3, now)
	assert.Error(t, err)
	assert.True(t, superr.IsValidation(err) == false) // sanity: not misclassified
}

func TestRemoveWorkerIsIdempotent(t *testing.T) {
	r := New()
	now := time.Now()
	require.NoError(t, r.AddWorker("10.0.0.1:9000", 3, now))

	invalidated := r.RemoveWorker("10.0.0.1:9000")
	assert.Empty(t, invalidated)

	// second removal of the same, now-absent, address is a no-op.
	invalidated = r.RemoveWorker("10.0.0.1:9000")
	assert.Empty(t, invalidated)

	_, ok := r.GetWorker("10.0.0.1:9000")
	assert.False(t, ok)
}

func TestRemoveWorkerPurgesDependentReplicas(t *testing.T) {
	r := New()
	now := time.Now()
	require.NoError(t, r.AddWorker("w1:9000", 3, now))
	require.NoError(t, r.AddWorker("w2:9000", 3, now))

	require.NoError(t, r.CreateReplicaInfo("model-a", 2))
	require.NoError(t, r.BindReplicaSlot("model-a", 0, []string{"w1:9000"}))
	require.NoError(t, r.BindReplicaSlot("model-a", 1, []string{"w2:9000"}))

	invalidated := r.RemoveWorker("w1:9000")
	assert.Equal(t, []string{"model-a"}, invalidated)

	_, ok := r.GetReplicaInfo("model-a")
	assert.False(t, ok)

	_, ok = r.ReplicaWorkers(BuildReplicaUID("model-a", 0, 2))
	assert.False(t, ok)
	_, ok = r.ReplicaWorkers(BuildReplicaUID("model-a", 1, 2))
	assert.False(t, ok)
}

func TestReportStatusRequiresRegisteredWorker(t *testing.T) {
	r := New()
	err := r.ReportStatus("ghost:9000", nil, time.Now(), 3)
	assert.True(t, superr.IsNotFound(err))
}

func TestReportStatusResetsFailureBudget(t *testing.T) {
	r := New()
	now := time.Now()
	require.NoError(t, r.AddWorker("w1:9000", 3, now))

	later := now.Add(time.Minute)
	status := map[string]types.WorkerStatus{"cpu": {CPU: &types.CPUMemStatus{UsagePercent: 10}}}
	require.NoError(t, r.ReportStatus("w1:9000", status, later, 3))

	w, ok := r.GetWorker("w1:9000")
	require.True(t, ok)
	assert.Equal(t, 3, w.FailureRemaining)
	assert.Equal(t, later, w.LastUpdateTime)
}

func TestLookupByIP(t *testing.T) {
	r := New()
	now := time.Now()
	require.NoError(t, r.AddWorker("10.1.2.3:9000", 3, now))

	w, ok := r.LookupByIP("10.1.2.3")
	require.True(t, ok)
	assert.Equal(t, "10.1.2.3:9000", w.Address)

	_, ok = r.LookupByIP("10.9.9.9")
	assert.False(t, ok)
}

func TestCreateReplicaInfoRejectsDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.CreateReplicaInfo("model-a", 1))
	err := r.CreateReplicaInfo("model-a", 1)
	assert.Error(t, err)
}

func TestRoundRobinFairness(t *testing.T) {
	r := New()
	require.NoError(t, r.CreateReplicaInfo("model-a", 4))
	for i := 0; i < 4; i++ {
		require.NoError(t, r.BindReplicaSlot("model-a", i, []string{"w"}))
	}

	counts := make(map[int]int)
	for call := 0; call < 12; call++ {
		slot, err := r.AdvanceRoundRobin("model-a")
		require.NoError(t, err)
		counts[slot]++
	}

	for slot := 0; slot < 4; slot++ {
		assert.Equal(t, 3, counts[slot], "slot %d", slot)
	}
}

func TestRoundRobinSkipsUnboundSlots(t *testing.T) {
	r := New()
	require.NoError(t, r.CreateReplicaInfo("model-a", 2))
	require.NoError(t, r.BindReplicaSlot("model-a", 0, []string{"w"}))
	// slot 1 left unbound (mid-launch, or purged by an eviction).

	for i := 0; i < 5; i++ {
		slot, err := r.AdvanceRoundRobin("model-a")
		require.NoError(t, err)
		assert.Equal(t, 0, slot)
	}
}

func TestAdvanceRoundRobinNoBoundSlotsReturnsNotFound(t *testing.T) {
	r := New()
	require.NoError(t, r.CreateReplicaInfo("model-a", 2))
	_, err := r.AdvanceRoundRobin("model-a")
	assert.True(t, superr.IsNotFound(err))
}

func TestSweepHealthEvictsAndPurges(t *testing.T) {
	r := New()
	t0 := time.Now()
	require.NoError(t, r.AddWorker("w1:9000", 2, t0))
	require.NoError(t, r.CreateReplicaInfo("model-a", 1))
	require.NoError(t, r.BindReplicaSlot("model-a", 0, []string{"w1:9000"}))

	timeout := 10 * time.Second

	// first stale sweep: failure budget 2 -> 1, not yet evicted.
	results := r.SweepHealth(t0.Add(11*time.Second), timeout, 2)
	assert.Empty(t, results)
	w, ok := r.GetWorker("w1:9000")
	require.True(t, ok)
	assert.Equal(t, 1, w.FailureRemaining)

	// second stale sweep: failure budget 1 -> 0, evicted.
	results = r.SweepHealth(t0.Add(22*time.Second), timeout, 2)
	require.Len(t, results, 1)
	assert.Equal(t, "w1:9000", results[0].Address)
	assert.Equal(t, []string{"model-a"}, results[0].InvalidatedModels)

	_, ok = r.GetWorker("w1:9000")
	assert.False(t, ok)

	healthy, evicted := r.WorkerCounts()
	assert.Equal(t, 0, healthy)
	assert.Equal(t, 1, evicted)
}

func TestSweepHealthResetsBudgetOnFreshReport(t *testing.T) {
	r := New()
	t0 := time.Now()
	require.NoError(t, r.AddWorker("w1:9000", 2, t0))

	timeout := 10 * time.Second
	r.SweepHealth(t0.Add(11*time.Second), timeout, 2)

	// worker reports in before next sweep.
	require.NoError(t, r.ReportStatus("w1:9000", nil, t0.Add(12*time.Second), 2))

	results := r.SweepHealth(t0.Add(13*time.Second), timeout, 2)
	assert.Empty(t, results)
	w, ok := r.GetWorker("w1:9000")
	require.True(t, ok)
	assert.Equal(t, 2, w.FailureRemaining)
}

func TestModelAndReplicaCounts(t *testing.T) {
	r := New()
	require.NoError(t, r.CreateReplicaInfo("model-a", 2))
	require.NoError(t, r.BindReplicaSlot("model-a", 0, []string{"w1"}))
	require.NoError(t, r.CreateReplicaInfo("model-b", 1))

	models, replicas := r.ModelAndReplicaCounts()
	assert.Equal(t, 2, models)
	assert.Equal(t, 1, replicas)
}
