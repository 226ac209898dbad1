package status

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/pkg/external"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSample() types.CPUMemStatus {
	return types.CPUMemStatus{UsagePercent: 1, TotalMemory: 100, UsedMemory: 10}
}

func TestDescribeModelUsesSlotZeroAndDoesNotAdvanceCursor(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	dialer.Register(fake.New("w1:9000"))
	dialer.Register(fake.New("w2:9000"))
	require.NoError(t, reg.CreateReplicaInfo("m1", 2))
	require.NoError(t, reg.BindReplicaSlot("m1", 0, []string{"w1:9000"}))
	require.NoError(t, reg.BindReplicaSlot("m1", 1, []string{"w2:9000"}))

	s := New(reg, dialer, external.NewMemoryStatusGuard(), selfSample)
	desc, err := s.DescribeModel(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", desc.ModelUID)
	assert.Equal(t, 2, desc.Replica)

	// describe_model must never consume the round-robin cursor: the next
	// route still starts at slot 0.
	slot, err := reg.AdvanceRoundRobin("m1")
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
}

func TestDescribeModelNotFound(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	s := New(reg, dialer, external.NewMemoryStatusGuard(), selfSample)
	_, err := s.DescribeModel(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestClusterDeviceInfoMergesWorkerStatus(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	require.NoError(t, reg.AddWorker("w1:9000", 3, time.Now()))
	require.NoError(t, reg.ReportStatus("w1:9000", map[string]types.WorkerStatus{
		"cpu": {CPU: &types.CPUMemStatus{UsagePercent: 50}},
	}, time.Now(), 3))

	s := New(reg, dialer, external.NewMemoryStatusGuard(), selfSample)
	info := s.ClusterDeviceInfo(true)
	assert.Equal(t, float64(1), info.Supervisor.UsagePercent)
	require.Contains(t, info.Workers, "w1:9000")
	assert.Equal(t, 50.0, info.Workers["w1:9000"]["cpu"].CPU.UsagePercent)
}

func TestGetStatusReportsUptimeAndWorkers(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	require.NoError(t, reg.AddWorker("w1:9000", 3, time.Now()))

	s := New(reg, dialer, external.NewMemoryStatusGuard(), selfSample)
	startedAt := time.Now().Add(-time.Minute)
	uptime, workers := s.GetStatus(startedAt)
	assert.GreaterOrEqual(t, uptime, time.Minute)
	assert.Contains(t, workers, "w1:9000")
}

func TestInstanceInfoDelegatesToStatusGuard(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	sg := external.NewMemoryStatusGuard()
	require.NoError(t, sg.SetInstanceInfo("m1", types.InstanceInfo{ModelUID: "m1", Status: types.InstanceReady}))

	s := New(reg, dialer, sg, selfSample)
	info, err := s.GetInstanceInfo("m1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceReady, info.Status)

	count, err := s.GetInstanceCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueryEnginesByModelNameUnionsAcrossWorkers(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	dialer.Register(fake.New("w1:9000"))
	dialer.Register(fake.New("w2:9000"))
	require.NoError(t, reg.AddWorker("w1:9000", 3, time.Now()))
	require.NoError(t, reg.AddWorker("w2:9000", 3, time.Now()))

	s := New(reg, dialer, external.NewMemoryStatusGuard(), selfSample)
	engines, err := s.QueryEnginesByModelName(context.Background(), "llama", "LLM")
	require.NoError(t, err)
	assert.Equal(t, []string{"default-engine"}, engines)
}

func TestDeletableModelsFansOutAcrossWorkers(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	dialer.Register(fake.New("w1:9000"))
	dialer.Register(fake.New("w2:9000"))
	require.NoError(t, reg.AddWorker("w1:9000", 3, time.Now()))
	require.NoError(t, reg.AddWorker("w2:9000", 3, time.Now()))

	s := New(reg, dialer, external.NewMemoryStatusGuard(), selfSample)
	deletable, err := s.DeletableModels(context.Background(), "v1")
	require.NoError(t, err)
	assert.Empty(t, deletable)
}
