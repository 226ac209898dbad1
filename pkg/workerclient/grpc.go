package workerclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/log"
	"github.com/cuemby/helios/pkg/metrics"
	"github.com/cuemby/helios/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const serviceName = "/helios.worker.Worker/"

// grpcWorker is the real Worker implementation: every call is a gRPC unary
// Invoke over conn using the JSON codec registered in codec.go.
type grpcWorker struct {
	address string
	conn    *grpc.ClientConn
}

// DialGRPC opens a plain (insecure) gRPC connection to a worker address.
// helios has no certificate-provisioning layer of its own (that concern
// belongs to whatever deploys workers, not the supervisor core the spec
// describes), so unlike the teacher's mTLS client.go this dials with
// insecure.NewCredentials().
func DialGRPC(address string) (Worker, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("workerclient: dial %s: %w", address, err)
	}
	return &grpcWorker{address: address, conn: conn}, nil
}

type grpcDialer struct{}

// NewGRPCDialer returns a Dialer backed by DialGRPC.
func NewGRPCDialer() Dialer { return grpcDialer{} }

func (grpcDialer) Dial(address string) (Worker, error) { return DialGRPC(address) }

func (w *grpcWorker) invoke(ctx context.Context, method string, req, resp any) error {
	timer := metrics.NewTimer()
	err := w.conn.Invoke(ctx, serviceName+method, req, resp, grpc.CallContentSubtype(jsonCodec{}.Name()))
	timer.ObserveDurationVec(metrics.WorkerRPCDuration, method)
	if err != nil {
		code := status.Code(err)
		metrics.WorkerRPCFailuresTotal.WithLabelValues(method, code.String()).Inc()
		log.WithComponent("workerclient").Error().
			Err(err).Str("address", w.address).Str("method", method).Str("code", code.String()).
			Msg("worker rpc failed")
		return superr.NewWorkerRPC(w.address, method, err)
	}
	return nil
}

func (w *grpcWorker) GetModelCount(ctx context.Context) (int, error) {
	var resp struct{ Count int }
	if err := w.invoke(ctx, "GetModelCount", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (w *grpcWorker) GetDevicesCount(ctx context.Context) (int, error) {
	var resp struct{ Count int }
	if err := w.invoke(ctx, "GetDevicesCount", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (w *grpcWorker) LaunchBuiltinModel(ctx context.Context, params LaunchParams) (string, *types.DriverInfo, error) {
	req := struct {
		Params      LaunchParams
		RequestedAt *timestamppb.Timestamp
	}{Params: params, RequestedAt: timestamppb.New(time.Now())}

	var resp struct {
		SubpoolAddress string
		DriverInfo     *types.DriverInfo
	}
	if err := w.invoke(ctx, "LaunchBuiltinModel", req, &resp); err != nil {
		return "", nil, err
	}
	return resp.SubpoolAddress, resp.DriverInfo, nil
}

func (w *grpcWorker) LaunchRank0Model(ctx context.Context, modelUID string, xavier types.XavierConfig) (string, int, error) {
	req := struct {
		ModelUID string
		Xavier   types.XavierConfig
	}{ModelUID: modelUID, Xavier: xavier}

	var resp struct {
		Address string
		Port    int
	}
	if err := w.invoke(ctx, "LaunchRank0Model", req, &resp); err != nil {
		return "", 0, err
	}
	return resp.Address, resp.Port, nil
}

func (w *grpcWorker) WaitForLoad(ctx context.Context, replicaUID string) error {
	return w.invoke(ctx, "WaitForLoad", struct{ ReplicaUID string }{replicaUID}, &struct{}{})
}

func (w *grpcWorker) TerminateModel(ctx context.Context, replicaUID string) error {
	req := struct {
		ReplicaUID  string
		RequestedAt *timestamppb.Timestamp
	}{ReplicaUID: replicaUID, RequestedAt: timestamppb.New(time.Now())}
	return w.invoke(ctx, "TerminateModel", req, &struct{}{})
}

func (w *grpcWorker) CancelLaunchModel(ctx context.Context, replicaUID string) error {
	return w.invoke(ctx, "CancelLaunchModel", struct{ ReplicaUID string }{replicaUID}, &struct{}{})
}

func (w *grpcWorker) GetModel(ctx context.Context, replicaUID string) (string, error) {
	var resp struct{ Address string }
	if err := w.invoke(ctx, "GetModel", struct{ ReplicaUID string }{replicaUID}, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

func (w *grpcWorker) DescribeModel(ctx context.Context, replicaUID string) (types.ModelDescription, error) {
	var resp types.ModelDescription
	err := w.invoke(ctx, "DescribeModel", struct{ ReplicaUID string }{replicaUID}, &resp)
	return resp, err
}

func (w *grpcWorker) ListModels(ctx context.Context) ([]types.ModelDescription, error) {
	var resp struct{ Models []types.ModelDescription }
	if err := w.invoke(ctx, "ListModels", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

func (w *grpcWorker) ListModelRegistrations(ctx context.Context, modelType string, detailed bool) ([]ModelRegistration, error) {
	req := struct {
		ModelType string
		Detailed  bool
	}{modelType, detailed}
	var resp struct{ Registrations []ModelRegistration }
	if err := w.invoke(ctx, "ListModelRegistrations", req, &resp); err != nil {
		return nil, err
	}
	return resp.Registrations, nil
}

func (w *grpcWorker) GetModelRegistration(ctx context.Context, modelType, name string) (ModelRegistration, error) {
	req := struct{ ModelType, Name string }{modelType, name}
	var resp ModelRegistration
	err := w.invoke(ctx, "GetModelRegistration", req, &resp)
	return resp, err
}

func (w *grpcWorker) QueryEnginesByModelName(ctx context.Context, name, modelType string) ([]string, error) {
	req := struct{ Name, ModelType string }{name, modelType}
	var resp struct{ Engines []string }
	if err := w.invoke(ctx, "QueryEnginesByModelName", req, &resp); err != nil {
		return nil, err
	}
	return resp.Engines, nil
}

func (w *grpcWorker) RegisterModel(ctx context.Context, modelType, spec string, persist bool) error {
	req := struct {
		ModelType string
		Spec      string
		Persist   bool
	}{modelType, spec, persist}
	return w.invoke(ctx, "RegisterModel", req, &struct{}{})
}

func (w *grpcWorker) UnregisterModel(ctx context.Context, modelType, name string) error {
	req := struct{ ModelType, Name string }{modelType, name}
	return w.invoke(ctx, "UnregisterModel", req, &struct{}{})
}

func (w *grpcWorker) StartTransferForVLLM(ctx context.Context, replicaUID string, rankAddresses []string) error {
	req := struct {
		ReplicaUID    string
		RankAddresses []string
	}{replicaUID, rankAddresses}
	return w.invoke(ctx, "StartTransferForVLLM", req, &struct{}{})
}

func (w *grpcWorker) AbortRequest(ctx context.Context, replicaUID, requestID string, blockDuration time.Duration) (types.AbortToken, error) {
	req := struct {
		ReplicaUID    string
		RequestID     string
		BlockDuration time.Duration
	}{replicaUID, requestID, blockDuration}
	var resp struct{ Token types.AbortToken }
	if err := w.invoke(ctx, "AbortRequest", req, &resp); err != nil {
		return types.AbortNoOp, err
	}
	return resp.Token, nil
}

func (w *grpcWorker) ListCachedModels(ctx context.Context, name string) ([]CachedModel, error) {
	var resp struct{ Models []CachedModel }
	if err := w.invoke(ctx, "ListCachedModels", struct{ Name string }{name}, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

func (w *grpcWorker) ListDeletableModels(ctx context.Context, version string) ([]string, error) {
	var resp struct{ Versions []string }
	if err := w.invoke(ctx, "ListDeletableModels", struct{ Version string }{version}, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

func (w *grpcWorker) ConfirmAndRemoveModel(ctx context.Context, version string) error {
	return w.invoke(ctx, "ConfirmAndRemoveModel", struct{ Version string }{version}, &struct{}{})
}

func (w *grpcWorker) TriggerExit(ctx context.Context) error {
	return w.invoke(ctx, "TriggerExit", struct{}{}, &struct{}{})
}

func (w *grpcWorker) GetWorkersInfo(ctx context.Context) (WorkersInfo, error) {
	var resp WorkersInfo
	err := w.invoke(ctx, "GetWorkersInfo", struct{}{}, &resp)
	return resp, err
}

// Close releases the underlying connection.
func (w *grpcWorker) Close() error { return w.conn.Close() }

// IsUnavailable classifies a worker RPC error as a transport-level
// unreachability failure (vs. an application error the worker returned
// deliberately): true for a WorkerRPCError whose gRPC code is Unavailable
// or DeadlineExceeded.
func IsUnavailable(err error) bool {
	var wrpc *superr.WorkerRPCError
	if !errors.As(err, &wrpc) {
		return false
	}
	code := status.Code(wrpc.Err)
	return code == codes.Unavailable || code == codes.DeadlineExceeded
}
