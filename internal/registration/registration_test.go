package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/pkg/external"
	"github.com/cuemby/helios/pkg/workerclient/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRegistrar struct {
	versions     []external.ModelVersion
	registerErr  error
	unregistered []string
}

func (s *stubRegistrar) Register(ctx context.Context, modelType, spec string, persist bool) ([]external.ModelVersion, error) {
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return s.versions, nil
}

func (s *stubRegistrar) Unregister(ctx context.Context, modelType, modelName string) error {
	s.unregistered = append(s.unregistered, modelName)
	return nil
}

type failingCache struct {
	*external.MemoryCacheTracker
	failOn string
}

func (f *failingCache) RecordModelVersion(v external.ModelVersion) error {
	if v.ModelName == f.failOn {
		return errors.New("cache push failed")
	}
	return f.MemoryCacheTracker.RecordModelVersion(v)
}

func TestRegisterModelAppliesLocallyInSingleNodeMode(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	cache := external.NewMemoryCacheTracker()
	local := &stubRegistrar{versions: []external.ModelVersion{{ModelName: "llama", ModelVersion: "v1"}}}

	b := New(reg, dialer, cache, local, nil)
	err := b.RegisterModel(context.Background(), "LLM", "spec", false, "", "", "")
	require.NoError(t, err)

	count, err := cache.GetModelVersionCount("llama")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegisterModelForwardsToWorkerIPInMultiNode(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	require.NoError(t, reg.AddWorker("10.0.0.1:9000", 3, time.Now()))
	require.NoError(t, reg.AddWorker("10.0.0.2:9000", 3, time.Now()))
	w1 := fake.New("10.0.0.1:9000")
	dialer.Register(w1)
	dialer.Register(fake.New("10.0.0.2:9000"))

	cache := external.NewMemoryCacheTracker()
	local := &stubRegistrar{registerErr: errors.New("applied locally")}
	b := New(reg, dialer, cache, local, nil)

	err := b.RegisterModel(context.Background(), "LLM", "spec", false, "10.0.0.1", "", "")
	// forwarded to the worker, never applied locally: the local registrar
	// would have failed the call.
	require.NoError(t, err)
	assert.Nil(t, local.versions)
}

func TestRegisterModelCompensatesOnCachePushFailure(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	cache := &failingCache{MemoryCacheTracker: external.NewMemoryCacheTracker(), failOn: "bad"}
	local := &stubRegistrar{versions: []external.ModelVersion{
		{ModelName: "good"}, {ModelName: "bad"},
	}}

	b := New(reg, dialer, cache, local, nil)
	err := b.RegisterModel(context.Background(), "LLM", "spec", false, "", "", "")
	require.Error(t, err)
	assert.Contains(t, local.unregistered, "good")
	assert.Contains(t, local.unregistered, "bad")
}

func TestUnregisterModelBroadcastsInMultiNodeMode(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	require.NoError(t, reg.AddWorker("w1:9000", 3, time.Now()))
	require.NoError(t, reg.AddWorker("w2:9000", 3, time.Now()))
	w1 := fake.New("w1:9000")
	w2 := fake.New("w2:9000")
	dialer.Register(w1)
	dialer.Register(w2)

	cache := external.NewMemoryCacheTracker()
	require.NoError(t, cache.RecordModelVersion(external.ModelVersion{ModelName: "llama", ModelVersion: "v1"}))
	local := &stubRegistrar{}
	b := New(reg, dialer, cache, local, nil)

	err := b.UnregisterModel(context.Background(), "LLM", "llama", "v1", "")
	require.NoError(t, err)
	assert.Contains(t, local.unregistered, "llama")

	count, err := cache.GetModelVersionCount("llama")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRegisterModelValidatesEngineWhenConfigured(t *testing.T) {
	reg := registry.New()
	dialer := fake.NewDialer()
	cache := external.NewMemoryCacheTracker()
	local := &stubRegistrar{versions: []external.ModelVersion{{ModelName: "llama"}}}
	validate := func(ctx context.Context, modelName, modelType string) ([]string, error) {
		return []string{"vllm"}, nil
	}

	b := New(reg, dialer, cache, local, validate)
	err := b.RegisterModel(context.Background(), "LLM", "spec", false, "", "transformers", "llama")
	require.Error(t, err)

	err = b.RegisterModel(context.Background(), "LLM", "spec", false, "", "vllm", "llama")
	require.NoError(t, err)
}
