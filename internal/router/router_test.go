package router

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelRoundRobinsAcrossReplicas(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	dialer.Register(fake.New("w1:9000"))
	dialer.Register(fake.New("w2:9000"))
	require.NoError(t, reg.CreateReplicaInfo("m1", 2))
	require.NoError(t, reg.BindReplicaSlot("m1", 0, []string{"w1:9000"}))
	require.NoError(t, reg.BindReplicaSlot("m1", 1, []string{"w2:9000"}))

	r := New(reg, dialer)
	h1, err := r.GetModel(context.Background(), "m1")
	require.NoError(t, err)
	h2, err := r.GetModel(context.Background(), "m1")
	require.NoError(t, err)
	h3, err := r.GetModel(context.Background(), "m1")
	require.NoError(t, err)

	assert.Equal(t, "w1:9000", h1.Address)
	assert.Equal(t, "w2:9000", h2.Address)
	assert.Equal(t, "w1:9000", h3.Address)
}

func TestGetModelAlwaysUsesShardZero(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	dialer.Register(fake.New("driver:9000"))
	dialer.Register(fake.New("shard1:9000"))
	require.NoError(t, reg.CreateReplicaInfo("m1", 1))
	require.NoError(t, reg.BindReplicaSlot("m1", 0, []string{"driver:9000", "shard1:9000"}))

	r := New(reg, dialer)
	h, err := r.GetModel(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "driver:9000", h.Address)
}

func TestGetModelNotFound(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	r := New(reg, dialer)
	_, err := r.GetModel(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestAbortRequestStopsAtFirstDone(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	w1 := fake.New("w1:9000")
	w1.AbortResponses["m1-replica-0-of-2"] = types.AbortNotFound
	w2 := fake.New("w2:9000")
	w2.AbortResponses["m1-replica-1-of-2"] = types.AbortDone
	dialer.Register(w1)
	dialer.Register(w2)
	require.NoError(t, reg.CreateReplicaInfo("m1", 2))
	require.NoError(t, reg.BindReplicaSlot("m1", 0, []string{"w1:9000"}))
	require.NoError(t, reg.BindReplicaSlot("m1", 1, []string{"w2:9000"}))

	r := New(reg, dialer)
	tok, err := r.AbortRequest(context.Background(), "m1", "req-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.AbortDone, tok)
}

func TestAbortRequestReturnsLastNonNoOp(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	w1 := fake.New("w1:9000")
	w1.AbortResponses["m1-replica-0-of-2"] = types.AbortNotFound
	w2 := fake.New("w2:9000")
	// w2 has no canned response, defaults to NO_OP.
	dialer.Register(w1)
	dialer.Register(w2)
	require.NoError(t, reg.CreateReplicaInfo("m1", 2))
	require.NoError(t, reg.BindReplicaSlot("m1", 0, []string{"w1:9000"}))
	require.NoError(t, reg.BindReplicaSlot("m1", 1, []string{"w2:9000"}))

	r := New(reg, dialer)
	tok, err := r.AbortRequest(context.Background(), "m1", "req-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.AbortNotFound, tok)
}

func TestAbortRequestDefaultsToNoOp(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	w1 := fake.New("w1:9000")
	dialer.Register(w1)
	require.NoError(t, reg.CreateReplicaInfo("m1", 1))
	require.NoError(t, reg.BindReplicaSlot("m1", 0, []string{"w1:9000"}))

	r := New(reg, dialer)
	tok, err := r.AbortRequest(context.Background(), "m1", "req-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.AbortNoOp, tok)
}

func TestAbortClusterWalksEveryModel(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	w1 := fake.New("w1:9000")
	w2 := fake.New("w2:9000")
	w2.AbortResponses["m2-replica-0-of-1"] = types.AbortDone
	dialer.Register(w1)
	dialer.Register(w2)
	require.NoError(t, reg.CreateReplicaInfo("m1", 1))
	require.NoError(t, reg.BindReplicaSlot("m1", 0, []string{"w1:9000"}))
	require.NoError(t, reg.CreateReplicaInfo("m2", 1))
	require.NoError(t, reg.BindReplicaSlot("m2", 0, []string{"w2:9000"}))

	r := New(reg, dialer)
	tok := r.AbortCluster(context.Background(), "req-1", time.Second)
	assert.Equal(t, types.AbortDone, tok)
}
