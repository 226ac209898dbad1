package external

import (
	"testing"

	"github.com/cuemby/helios/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatusGuardRoundTrip(t *testing.T) {
	g := NewMemoryStatusGuard()
	require.NoError(t, g.SetInstanceInfo("m1", types.InstanceInfo{ModelUID: "m1", Status: types.InstanceCreating}))

	info, err := g.GetInstanceInfo("m1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceCreating, info.Status)

	require.NoError(t, g.UpdateInstanceInfo("m1", func(i *types.InstanceInfo) {
		i.Status = types.InstanceReady
	}))
	info, err = g.GetInstanceInfo("m1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceReady, info.Status)

	count, err := g.GetInstanceCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, g.DeleteInstanceInfo("m1"))
	_, err = g.GetInstanceInfo("m1")
	assert.Error(t, err)
}

func TestMemoryProgressTracker(t *testing.T) {
	p := NewMemoryProgressTracker()
	_, ok := p.GetProgress("launching-x")
	assert.False(t, ok)

	p.Set("launching-x", 0.5)
	v, ok := p.GetProgress("launching-x")
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	p.Clear("launching-x")
	_, ok = p.GetProgress("launching-x")
	assert.False(t, ok)
}

func TestMemoryCacheTracker(t *testing.T) {
	c := NewMemoryCacheTracker()
	require.NoError(t, c.RecordModelVersion(ModelVersion{ModelName: "llama", ModelVersion: "v1"}))
	require.NoError(t, c.RecordModelVersion(ModelVersion{ModelName: "llama", ModelVersion: "v2"}))

	count, err := c.GetModelVersionCount("llama")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, c.UnregisterModelVersion("llama", "v1"))
	versions, err := c.GetModelVersions("llama")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "v2", versions[0].ModelVersion)
}
