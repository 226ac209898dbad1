// Package fake provides an in-memory Worker implementation for tests:
// callers configure canned responses and failures per method instead of
// standing up a real gRPC server.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient"
)

// Worker is a scriptable fake of workerclient.Worker.
type Worker struct {
	Address string

	mu sync.Mutex

	ModelCount int

	LaunchErr        error
	LaunchSubpool    string
	LaunchDriverInfo *types.DriverInfo
	LaunchCalls      []workerclient.LaunchParams

	WaitForLoadErr error
	WaitForLoadCalls []string

	TerminateErr    error
	TerminateCalls  []string

	CancelCalls []string

	AbortResponses map[string]types.AbortToken // keyed by replicaUID
	AbortCalls     []string

	StartTransferErr  error
	StartTransferCalls []string

	LaunchRank0Address string
	LaunchRank0Port    int
	LaunchRank0Err     error
}

// New creates a fake Worker at address with empty canned state.
func New(address string) *Worker {
	return &Worker{
		Address:        address,
		AbortResponses: make(map[string]types.AbortToken),
	}
}

func (w *Worker) GetModelCount(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ModelCount, nil
}

func (w *Worker) GetDevicesCount(ctx context.Context) (int, error) { return 1, nil }

func (w *Worker) LaunchBuiltinModel(ctx context.Context, params workerclient.LaunchParams) (string, *types.DriverInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.LaunchCalls = append(w.LaunchCalls, params)
	if w.LaunchErr != nil {
		return "", nil, w.LaunchErr
	}
	subpool := w.LaunchSubpool
	if subpool == "" {
		subpool = w.Address
	}
	return subpool, w.LaunchDriverInfo, nil
}

func (w *Worker) LaunchRank0Model(ctx context.Context, modelUID string, xavier types.XavierConfig) (string, int, error) {
	if w.LaunchRank0Err != nil {
		return "", 0, w.LaunchRank0Err
	}
	addr := w.LaunchRank0Address
	if addr == "" {
		addr = w.Address
	}
	return addr, w.LaunchRank0Port, nil
}

func (w *Worker) WaitForLoad(ctx context.Context, replicaUID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.WaitForLoadCalls = append(w.WaitForLoadCalls, replicaUID)
	return w.WaitForLoadErr
}

func (w *Worker) TerminateModel(ctx context.Context, replicaUID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.TerminateCalls = append(w.TerminateCalls, replicaUID)
	return w.TerminateErr
}

func (w *Worker) CancelLaunchModel(ctx context.Context, replicaUID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.CancelCalls = append(w.CancelCalls, replicaUID)
	return nil
}

func (w *Worker) GetModel(ctx context.Context, replicaUID string) (string, error) {
	return w.Address, nil
}

func (w *Worker) DescribeModel(ctx context.Context, replicaUID string) (types.ModelDescription, error) {
	return types.ModelDescription{ModelUID: replicaUID}, nil
}

func (w *Worker) ListModels(ctx context.Context) ([]types.ModelDescription, error) { return nil, nil }

func (w *Worker) ListModelRegistrations(ctx context.Context, modelType string, detailed bool) ([]workerclient.ModelRegistration, error) {
	return nil, nil
}

func (w *Worker) GetModelRegistration(ctx context.Context, modelType, name string) (workerclient.ModelRegistration, error) {
	return workerclient.ModelRegistration{ModelType: modelType, ModelName: name}, nil
}

func (w *Worker) QueryEnginesByModelName(ctx context.Context, name, modelType string) ([]string, error) {
	return []string{"default-engine"}, nil
}

func (w *Worker) RegisterModel(ctx context.Context, modelType, spec string, persist bool) error {
	return nil
}

func (w *Worker) UnregisterModel(ctx context.Context, modelType, name string) error { return nil }

func (w *Worker) StartTransferForVLLM(ctx context.Context, replicaUID string, rankAddresses []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.StartTransferCalls = append(w.StartTransferCalls, replicaUID)
	return w.StartTransferErr
}

func (w *Worker) AbortRequest(ctx context.Context, replicaUID, requestID string, blockDuration time.Duration) (types.AbortToken, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.AbortCalls = append(w.AbortCalls, replicaUID)
	if tok, ok := w.AbortResponses[replicaUID]; ok {
		return tok, nil
	}
	return types.AbortNoOp, nil
}

func (w *Worker) ListCachedModels(ctx context.Context, name string) ([]workerclient.CachedModel, error) {
	return nil, nil
}

func (w *Worker) ListDeletableModels(ctx context.Context, version string) ([]string, error) {
	return nil, nil
}

func (w *Worker) ConfirmAndRemoveModel(ctx context.Context, version string) error { return nil }

func (w *Worker) TriggerExit(ctx context.Context) error { return nil }

func (w *Worker) GetWorkersInfo(ctx context.Context) (workerclient.WorkersInfo, error) {
	return workerclient.WorkersInfo{Address: w.Address}, nil
}

// Dialer resolves addresses to pre-registered fake workers, for tests that
// exercise code paths going through a workerclient.Dialer rather than a
// Worker handle directly.
type Dialer struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

// NewDialer creates an empty fake Dialer.
func NewDialer() *Dialer {
	return &Dialer{workers: make(map[string]*Worker)}
}

// Register adds w under its own Address.
func (d *Dialer) Register(w *Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers[w.Address] = w
}

// Dial implements workerclient.Dialer.
func (d *Dialer) Dial(address string) (workerclient.Worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[address]
	if !ok {
		return nil, superr.NewNotFound("worker", address)
	}
	return w, nil
}
