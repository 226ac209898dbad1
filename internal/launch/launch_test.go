package launch

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/helios/internal/collective"
	"github.com/cuemby/helios/internal/placement"
	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/internal/terminate"
	"github.com/cuemby/helios/pkg/external"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Coordinator, *registry.Registry, *fake.Dialer, *external.MemoryStatusGuard) {
	t.Helper()
	reg := registry.New()
	dialer := fake.NewDialer()
	sg := external.NewMemoryStatusGuard()
	pt := external.NewMemoryProgressTracker()
	coll := collective.New()
	term := terminate.New(reg, dialer, sg, coll)
	c := New(reg, dialer, placement.New(), sg, pt, coll, term)
	return c, reg, dialer, sg
}

func addWorker(t *testing.T, reg *registry.Registry, address string) {
	t.Helper()
	require.NoError(t, reg.AddWorker(address, 3, time.Now()))
}

func TestLaunchReplicatedHappyPath(t *testing.T) {
	c, reg, dialer, sg := setup(t)
	addWorker(t, reg, "w1:9000")
	addWorker(t, reg, "w2:9000")
	dialer.Register(fake.New("w1:9000"))
	dialer.Register(fake.New("w2:9000"))

	uid, err := c.Launch(context.Background(), types.LaunchRequest{ModelUID: "m1", ModelName: "llama", Replica: 2}, true)
	require.NoError(t, err)
	assert.Equal(t, "m1", uid)

	info, ok := reg.GetReplicaInfo("m1")
	require.True(t, ok)
	assert.Len(t, info.WorkerRefs, 2)
	for _, refs := range info.WorkerRefs {
		assert.Len(t, refs, 1)
	}

	instance, err := sg.GetInstanceInfo("m1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceReady, instance.Status)
}

func TestLaunchSynthesizesModelUIDOnCollision(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w1:9000")
	dialer.Register(fake.New("w1:9000"))

	uid1, err := c.Launch(context.Background(), types.LaunchRequest{ModelName: "llama", Replica: 1}, true)
	require.NoError(t, err)
	assert.Equal(t, "llama", uid1)

	uid2, err := c.Launch(context.Background(), types.LaunchRequest{ModelName: "llama", Replica: 1}, true)
	require.NoError(t, err)
	assert.NotEqual(t, uid1, uid2)
	assert.Contains(t, uid2, "llama-")
}

func TestLaunchRejectsDuplicateModelUID(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w1:9000")
	dialer.Register(fake.New("w1:9000"))

	_, err := c.Launch(context.Background(), types.LaunchRequest{ModelUID: "dup", ModelName: "llama", Replica: 1}, true)
	require.NoError(t, err)

	_, err = c.Launch(context.Background(), types.LaunchRequest{ModelUID: "dup", ModelName: "llama", Replica: 1}, true)
	require.Error(t, err)
	var exists *superr.AlreadyExistsError
	assert.ErrorAs(t, err, &exists)
}

func TestLaunchModelUIDLengthBoundaries(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w1:9000")
	dialer.Register(fake.New("w1:9000"))

	oneChar := "a"
	_, err := c.Launch(context.Background(), types.LaunchRequest{ModelUID: oneChar, ModelName: "m", Replica: 1}, true)
	require.NoError(t, err)

	hundred := make([]byte, 100)
	for i := range hundred {
		hundred[i] = 'b'
	}
	_, err = c.Launch(context.Background(), types.LaunchRequest{ModelUID: string(hundred), ModelName: "m", Replica: 1}, true)
	require.NoError(t, err)

	hundredOne := make([]byte, 101)
	for i := range hundredOne {
		hundredOne[i] = 'c'
	}
	_, err = c.Launch(context.Background(), types.LaunchRequest{ModelUID: string(hundredOne), ModelName: "m", Replica: 1}, true)
	require.Error(t, err)
	var ve *superr.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestLaunchRejectsNegativeRequestLimits(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w1:9000")
	dialer.Register(fake.New("w1:9000"))

	_, err := c.Launch(context.Background(), types.LaunchRequest{ModelUID: "m1", ModelName: "m", Replica: 1, RequestLimits: -1}, true)
	require.Error(t, err)

	_, err = c.Launch(context.Background(), types.LaunchRequest{ModelUID: "m2", ModelName: "m", Replica: 1, RequestLimits: 0}, true)
	require.NoError(t, err)
}

func TestLaunchDisablesCollectiveForSingleReplica(t *testing.T) {
	c, reg, dialer, sg := setup(t)
	addWorker(t, reg, "w1:9000")
	dialer.Register(fake.New("w1:9000"))

	uid, err := c.Launch(context.Background(), types.LaunchRequest{
		ModelUID: "m1", ModelName: "m", Replica: 1, EnableXavier: true, CollectiveCapableEngine: true,
	}, true)
	require.NoError(t, err)

	instance, err := sg.GetInstanceInfo(uid)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceReady, instance.Status)
	_, _, ok := c.collective.Get(uid)
	assert.False(t, ok, "collective actors must not be created when replica < 2")
}

func TestLaunchCoercesNWorkerOnSingleNodeCluster(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w1:9000")
	dialer.Register(fake.New("w1:9000"))

	_, err := c.Launch(context.Background(), types.LaunchRequest{ModelUID: "m1", ModelName: "m", Replica: 1, NWorker: 4}, true)
	require.NoError(t, err)

	info, ok := reg.GetReplicaInfo("m1")
	require.True(t, ok)
	assert.Len(t, info.WorkerRefs[0], 1, "n_worker should have been coerced to 1")
}

func TestLaunchShardedRollsBackOnWorkerFailure(t *testing.T) {
	c, reg, dialer, sg := setup(t)
	addWorker(t, reg, "w1:9000")
	addWorker(t, reg, "w2:9000")
	w1 := fake.New("w1:9000")
	w2 := fake.New("w2:9000")
	w2.LaunchErr = assertErr{}
	dialer.Register(w1)
	dialer.Register(w2)

	_, err := c.Launch(context.Background(), types.LaunchRequest{ModelUID: "m1", ModelName: "m", Replica: 1, NWorker: 2}, true)
	require.Error(t, err)

	_, ok := reg.GetReplicaInfo("m1")
	assert.False(t, ok, "failed launch must roll back its ReplicaInfo")
	instance, err := sg.GetInstanceInfo("m1")
	require.NoError(t, err, "rollback keeps the InstanceInfo, marked ERROR")
	assert.Equal(t, types.InstanceError, instance.Status)
}

func TestLaunchShardedDriverInfoOffByOneLeniency(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w1:9000")
	addWorker(t, reg, "w2:9000")
	addWorker(t, reg, "w3:9000")
	w1 := fake.New("w1:9000")
	w1.LaunchDriverInfo = &types.DriverInfo{Address: "w1:9000"}
	w2 := fake.New("w2:9000")
	w3 := fake.New("w3:9000")
	dialer.Register(w1)
	dialer.Register(w2)
	dialer.Register(w3)

	_, err := c.Launch(context.Background(), types.LaunchRequest{ModelUID: "m1", ModelName: "m", Replica: 1, NWorker: 3}, true)
	require.NoError(t, err)

	require.Len(t, w2.LaunchCalls, 1)
	assert.Nil(t, w2.LaunchCalls[0].DriverInfo, "shard 1 does not receive driver_info (preserved leniency)")
	require.Len(t, w3.LaunchCalls, 1)
	assert.NotNil(t, w3.LaunchCalls[0].DriverInfo, "shard 2 receives driver_info")
}

func TestLaunchShardedRejectsInsufficientWorkers(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w1:9000")
	addWorker(t, reg, "w2:9000")
	dialer.Register(fake.New("w1:9000"))
	dialer.Register(fake.New("w2:9000"))

	_, err := c.Launch(context.Background(), types.LaunchRequest{ModelUID: "m1", ModelName: "m", Replica: 1, NWorker: 1}, true)
	require.NoError(t, err)

	_, err = c.Launch(context.Background(), types.LaunchRequest{ModelUID: "m2", ModelName: "m", Replica: 1, NWorker: 5}, true)
	require.Error(t, err)
}

func TestLaunchCollectiveWorldSize(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w0:9000")
	addWorker(t, reg, "w1:9000")
	addWorker(t, reg, "w2:9000")
	w0 := fake.New("w0:9000")
	w0.LaunchRank0Address = "w0:9000"
	w0.LaunchRank0Port = 29500
	dialer.Register(w0)
	dialer.Register(fake.New("w1:9000"))
	dialer.Register(fake.New("w2:9000"))

	uid, err := c.Launch(context.Background(), types.LaunchRequest{
		ModelUID: "m1", ModelName: "m", Replica: 2, EnableXavier: true, CollectiveCapableEngine: true,
	}, true)
	require.NoError(t, err)

	_, mgr, ok := c.collective.Get(uid)
	require.True(t, ok)
	assert.Equal(t, 3, mgr.WorldSize())
	assert.Len(t, mgr.Ranks(), 3)
}

func TestCancelLaunchDeletesRecordsAndFansOutBestEffort(t *testing.T) {
	c, reg, dialer, sg := setup(t)
	w1 := fake.New("w1:9000")
	dialer.Register(w1)
	require.NoError(t, reg.CreateReplicaInfo("m1", 1))
	require.NoError(t, reg.BindReplicaSlot("m1", 0, []string{"w1:9000"}))
	require.NoError(t, sg.SetInstanceInfo("m1", types.InstanceInfo{ModelUID: "m1", Status: types.InstanceCreating}))

	require.NoError(t, c.CancelLaunch(context.Background(), "m1"))

	_, ok := reg.GetReplicaInfo("m1")
	assert.False(t, ok)
	assert.Len(t, w1.CancelCalls, 1)
}

func TestCancelLaunchUnknownModel(t *testing.T) {
	c, _, _, _ := setup(t)
	err := c.CancelLaunch(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestLaunchProgressIsZeroWithNoTrackedKeys(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w1:9000")
	dialer.Register(fake.New("w1:9000"))

	uid, err := c.Launch(context.Background(), types.LaunchRequest{ModelUID: "m1", ModelName: "m", Replica: 1}, true)
	require.NoError(t, err)

	frac, err := c.LaunchProgress(uid)
	require.NoError(t, err)
	assert.Equal(t, 0.0, frac)
}

func TestLaunchProgressAveragesTrackedKeys(t *testing.T) {
	c, reg, dialer, _ := setup(t)
	addWorker(t, reg, "w1:9000")
	addWorker(t, reg, "w2:9000")
	dialer.Register(fake.New("w1:9000"))
	dialer.Register(fake.New("w2:9000"))

	require.NoError(t, reg.CreateReplicaInfo("m1", 2))
	require.NoError(t, reg.BindReplicaSlot("m1", 0, []string{"w1:9000"}))
	require.NoError(t, reg.BindReplicaSlot("m1", 1, []string{"w2:9000"}))

	pt := c.progress.(*external.MemoryProgressTracker)
	pt.Set("launching-"+registry.BuildReplicaUID("m1", 0, 2), 0.5)
	pt.Set("launching-"+registry.BuildReplicaUID("m1", 1, 2), 1.0)

	frac, err := c.LaunchProgress("m1")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, frac, 0.0001)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
