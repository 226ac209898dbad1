// Package workerclient defines the capability handle the supervisor uses to
// talk to a remote worker (spec §6 "Worker contract") and a concrete gRPC
// transport for it. The wire format itself is explicitly out of scope
// (spec §1), so the concrete client below trades protobuf-generated
// messages for a JSON codec riding over the same grpc.ClientConn — the
// transport (dialing, deadlines, status codes) is real, the payload shape
// is ours to pick.
package workerclient

import (
	"context"
	"time"

	"github.com/cuemby/helios/pkg/types"
)

// LaunchParams carries one launch_builtin_model call (spec §6). Shard is
// nil for the replicated protocol; for the sharded protocol it holds the
// shard index being launched, NWorker is the total shard count K, and
// DriverInfo is nil for shard 0 and populated (normally) for shard>0.
type LaunchParams struct {
	types.LaunchRequest
	ReplicaUID   string
	XavierConfig *types.XavierConfig
	Shard        *int
	NWorker      int
	DriverInfo   *types.DriverInfo
}

// ModelRegistration describes a registered model spec, as returned by
// list_model_registrations / get_model_registration.
type ModelRegistration struct {
	ModelName string
	ModelType string
	Spec      string
}

// CachedModel describes one entry returned by list_cached_models.
type CachedModel struct {
	ModelName    string
	ModelVersion string
	Path         string
}

// WorkersInfo is the worker-local resource summary returned by
// get_workers_info (spec §6 supplemented feature).
type WorkersInfo struct {
	Address   string
	CPUStatus types.CPUMemStatus
	GPUs      []types.GPUStatus
}

// Worker is every RPC the supervisor can make against a registered worker
// (spec §6). Implementations must treat ctx's deadline as the call's
// timeout; the supervisor itself applies no additional deadline (spec §5).
type Worker interface {
	GetModelCount(ctx context.Context) (int, error)
	GetDevicesCount(ctx context.Context) (int, error)

	LaunchBuiltinModel(ctx context.Context, params LaunchParams) (subpoolAddress string, driverInfo *types.DriverInfo, err error)
	LaunchRank0Model(ctx context.Context, modelUID string, xavier types.XavierConfig) (address string, port int, err error)
	WaitForLoad(ctx context.Context, replicaUID string) error
	TerminateModel(ctx context.Context, replicaUID string) error
	CancelLaunchModel(ctx context.Context, replicaUID string) error

	GetModel(ctx context.Context, replicaUID string) (address string, err error)
	DescribeModel(ctx context.Context, replicaUID string) (types.ModelDescription, error)
	ListModels(ctx context.Context) ([]types.ModelDescription, error)

	ListModelRegistrations(ctx context.Context, modelType string, detailed bool) ([]ModelRegistration, error)
	GetModelRegistration(ctx context.Context, modelType, name string) (ModelRegistration, error)
	QueryEnginesByModelName(ctx context.Context, name, modelType string) ([]string, error)
	RegisterModel(ctx context.Context, modelType, spec string, persist bool) error
	UnregisterModel(ctx context.Context, modelType, name string) error

	StartTransferForVLLM(ctx context.Context, replicaUID string, rankAddresses []string) error
	AbortRequest(ctx context.Context, replicaUID, requestID string, blockDuration time.Duration) (types.AbortToken, error)

	ListCachedModels(ctx context.Context, name string) ([]CachedModel, error)
	ListDeletableModels(ctx context.Context, version string) ([]string, error)
	ConfirmAndRemoveModel(ctx context.Context, version string) error

	TriggerExit(ctx context.Context) error
	GetWorkersInfo(ctx context.Context) (WorkersInfo, error)
}

// Dialer resolves a worker address to a live Worker handle. The Worker
// Registry stores addresses, not handles, and asks a Dialer for a handle
// whenever an operation needs to make an RPC — this keeps the registry free
// of transport concerns (spec §4.A "obtains a handle via directory
// lookup").
type Dialer interface {
	Dial(address string) (Worker, error)
}
