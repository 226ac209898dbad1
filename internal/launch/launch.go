// Package launch implements the Launch Coordinator (spec §4.D): the
// largest supervisor operation, bringing up a new model instance across
// one or more workers via the replicated protocol, the sharded protocol, or
// both layered with collective bring-up, and rolling the whole thing back
// through the Termination Coordinator on any failure. Grounded on warren's
// scheduler.go placement-then-launch flow, generalized from "one container"
// to "N replicas, each possibly K shards, possibly collective."
package launch

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/helios/internal/collective"
	"github.com/cuemby/helios/internal/placement"
	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/internal/terminate"
	"github.com/cuemby/helios/pkg/external"
	"github.com/cuemby/helios/pkg/log"
	"github.com/cuemby/helios/pkg/metrics"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient"
	"github.com/google/uuid"
)

const (
	minModelUIDLen = 1
	maxModelUIDLen = 100
)

// Coordinator implements launch_builtin_model, cancel_launch_model, and
// launch_progress.
type Coordinator struct {
	registry    *registry.Registry
	dialer      workerclient.Dialer
	selector    *placement.Selector
	statusGuard external.StatusGuard
	progress    external.ProgressTracker
	collective  *collective.Manager
	terminator  *terminate.Coordinator

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
}

// New creates a Coordinator.
func New(
	reg *registry.Registry,
	dialer workerclient.Dialer,
	selector *placement.Selector,
	statusGuard external.StatusGuard,
	progress external.ProgressTracker,
	coll *collective.Manager,
	terminator *terminate.Coordinator,
) *Coordinator {
	return &Coordinator{
		registry:    reg,
		dialer:      dialer,
		selector:    selector,
		statusGuard: statusGuard,
		progress:    progress,
		collective:  coll,
		terminator:  terminator,
		inFlight:    make(map[string]context.CancelFunc),
	}
}

// Launch runs launch_builtin_model for req (spec §4.D). When waitReady is
// false it returns as soon as the ReplicaInfo/InstanceInfo records exist and
// continues the worker protocol in the background; CancelLaunch can abort
// that background work. It returns the (possibly synthesized) model UID.
func (c *Coordinator) Launch(ctx context.Context, req types.LaunchRequest, waitReady bool) (string, error) {
	modelUID, prepared, err := c.prepare(req)
	if err != nil {
		return "", err
	}

	if !waitReady {
		bgCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.inFlight[modelUID] = cancel
		c.mu.Unlock()

		go func() {
			defer func() {
				c.mu.Lock()
				delete(c.inFlight, modelUID)
				c.mu.Unlock()
			}()
			if err := c.runProtocol(bgCtx, modelUID, prepared); err != nil {
				log.WithComponent("launch").With().Str("model_uid", modelUID).Logger().
					Error().Err(err).Msg("background launch failed")
			}
		}()
		return modelUID, nil
	}

	if err := c.runProtocol(ctx, modelUID, prepared); err != nil {
		return "", err
	}
	return modelUID, nil
}

// prepare validates req, synthesizes a model UID if none was given,
// coerces the single-node/single-replica boundary cases (spec §8), creates
// the ReplicaInfo record, and publishes InstanceInfo=CREATING — all before
// any worker is contacted (spec §5 invariant 1).
func (c *Coordinator) prepare(req types.LaunchRequest) (string, types.LaunchRequest, error) {
	logger := log.WithComponent("launch")

	modelUID := req.ModelUID
	if modelUID == "" {
		modelUID = req.ModelName
		if _, exists := c.registry.GetReplicaInfo(modelUID); exists {
			modelUID = fmt.Sprintf("%s-%s", modelUID, uuid.NewString()[:8])
		}
	}
	if len(modelUID) < minModelUIDLen || len(modelUID) > maxModelUIDLen {
		return "", req, superr.NewValidation("model_uid", "must be between 1 and 100 characters")
	}
	if req.RequestLimits < 0 {
		return "", req, superr.NewValidation("request_limits", "must be >= 0")
	}
	if _, exists := c.registry.GetReplicaInfo(modelUID); exists {
		return "", req, superr.NewAlreadyExists("model", modelUID)
	}

	req.ModelUID = modelUID
	if req.Replica <= 0 {
		req.Replica = 1
	}
	if req.NWorker <= 0 {
		req.NWorker = 1
	}

	if req.Replica == 1 && req.EnableXavier {
		logger.Warn().Str("model_uid", modelUID).
			Msg("collective bring-up requires replica >= 2, disabling enable_xavier")
		req.EnableXavier = false
	}

	if req.NWorker > 1 {
		if workers := c.registry.ListWorkers(); len(workers) <= 1 {
			logger.Warn().Str("model_uid", modelUID).Int("n_worker", req.NWorker).
				Msg("single-node cluster cannot satisfy n_worker > 1, coercing to 1")
			req.NWorker = 1
		}
	}

	if err := c.registry.CreateReplicaInfo(modelUID, req.Replica); err != nil {
		return "", req, err
	}
	_ = c.statusGuard.SetInstanceInfo(modelUID, types.InstanceInfo{
		ModelUID:     modelUID,
		ModelName:    req.ModelName,
		ModelVersion: req.ModelVersion,
		Replica:      req.Replica,
		NWorker:      req.NWorker,
		Status:       types.InstanceCreating,
	})

	return modelUID, req, nil
}

// runProtocol drives the worker-facing half of a launch: the replicated or
// sharded protocol, then collective bring-up if enabled, then READY. Any
// failure rolls the whole launch back via the Termination Coordinator
// (spec §4.D "On any failure").
func (c *Coordinator) runProtocol(ctx context.Context, modelUID string, req types.LaunchRequest) (err error) {
	protocol := "replicated"
	if req.NWorker > 1 {
		protocol = "sharded"
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LaunchDuration, protocol)

	defer func() {
		if err != nil {
			metrics.LaunchesTotal.WithLabelValues("error").Inc()
			metrics.RollbacksTotal.Inc()
			log.WithComponent("launch").With().Str("model_uid", modelUID).Logger().
				Error().Err(err).Msg("launch failed, rolling back")
			prev, getErr := c.statusGuard.GetInstanceInfo(modelUID)
			_ = c.terminator.Terminate(context.Background(), modelUID, true)
			if getErr == nil {
				prev.Status = types.InstanceError
				_ = c.statusGuard.SetInstanceInfo(modelUID, prev)
			}
		} else {
			metrics.LaunchesTotal.WithLabelValues("ready").Inc()
		}
	}()

	collectiveEnabled := req.EnableXavier && req.CollectiveCapableEngine && req.Replica >= 2

	var xaviers []*types.XavierConfig
	var rank0 *rank0Handle
	if collectiveEnabled {
		rank0, xaviers, err = c.bringUpRank0(ctx, modelUID, req)
		if err != nil {
			return err
		}
	}

	if req.NWorker > 1 {
		err = c.launchSharded(ctx, modelUID, req, xaviers)
	} else {
		err = c.launchReplicated(ctx, modelUID, req, xaviers)
	}
	if err != nil {
		return err
	}

	if collectiveEnabled {
		if err = c.finishCollectiveBringUp(ctx, modelUID, req, rank0); err != nil {
			return err
		}
	}

	_ = c.statusGuard.UpdateInstanceInfo(modelUID, func(i *types.InstanceInfo) {
		i.Status = types.InstanceReady
	})
	return nil
}

// candidates builds the current Placement Selector candidate set by calling
// get_model_count on every registered worker concurrently (spec §4.C: "call
// get_model_count on each candidate... pick the minimum"), matching the
// fan-out-then-join shape of collective.BringUp's start_transfer_for_vllm
// fan-out: one goroutine per worker writing into an index-aligned results
// slice, joined with a single sync.WaitGroup. A worker that fails to dial or
// answer is excluded from the candidate set entirely (logged, not defaulted
// to zero load) rather than trusted with stale bookkeeping.
func (c *Coordinator) candidates(ctx context.Context) []placement.Candidate {
	workers := c.registry.ListWorkers()
	counts := make([]int, len(workers))
	errs := make([]error, len(workers))

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, address string) {
			defer wg.Done()
			worker, err := c.dialer.Dial(address)
			if err != nil {
				errs[i] = err
				return
			}
			count, err := worker.GetModelCount(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			counts[i] = count
		}(i, w.Address)
	}
	wg.Wait()

	out := make([]placement.Candidate, 0, len(workers))
	for i, w := range workers {
		if errs[i] != nil {
			log.WithComponent("launch").Warn().Err(errs[i]).Str("address", w.Address).
				Msg("get_model_count failed, excluding worker from placement")
			continue
		}
		out = append(out, placement.Candidate{Worker: w, Load: counts[i]})
	}
	return out
}

func (c *Coordinator) whitelist(req types.LaunchRequest) []string {
	if req.WorkerIP == "" {
		return nil
	}
	return []string{req.WorkerIP}
}

func (c *Coordinator) pickOne(ctx context.Context, req types.LaunchRequest) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementLatency)
	addr, err := c.selector.SelectOne(c.candidates(ctx), c.whitelist(req))
	if err != nil {
		metrics.PlacementFailuresTotal.Inc()
	}
	return addr, err
}

// launchReplicated implements the replicated protocol: one worker per
// replica slot, the requested GPU set split evenly across replicas.
func (c *Coordinator) launchReplicated(ctx context.Context, modelUID string, req types.LaunchRequest, xaviers []*types.XavierConfig) error {
	gpuSplits := splitGPUs(req.GPUIdx, req.Replica)

	for i := 0; i < req.Replica; i++ {
		addr, err := c.pickOne(ctx, req)
		if err != nil {
			return err
		}
		if err := c.registry.BindReplicaSlot(modelUID, i, []string{addr}); err != nil {
			return err
		}
		replicaUID := registry.BuildReplicaUID(modelUID, i, req.Replica)

		w, err := c.dialer.Dial(addr)
		if err != nil {
			return superr.NewWorkerRPC(addr, "Dial", err)
		}

		lp := workerclient.LaunchParams{LaunchRequest: req, ReplicaUID: replicaUID}
		lp.GPUIdx = gpuSplits[i]
		if xaviers != nil {
			lp.XavierConfig = xaviers[i]
		}
		if _, _, err := w.LaunchBuiltinModel(ctx, lp); err != nil {
			return superr.NewWorkerRPC(addr, "LaunchBuiltinModel", err)
		}
		if err := w.WaitForLoad(ctx, replicaUID); err != nil {
			return superr.NewWorkerRPC(addr, "WaitForLoad", err)
		}
	}
	return nil
}

// launchSharded implements the sharded protocol (n_worker > 1): for each
// replica, K shards are launched across K distinct candidate workers.
// Shard 0's launch returns driver_info, which is threaded into every shard
// after it — except that the leniency preserved from the original system
// only requires this for i_worker > 1 (i.e. the third shard onward); shard
// 1 may launch without it if a worker race means it is not yet available
// (spec §9 Open Question, preserved rather than hardened).
func (c *Coordinator) launchSharded(ctx context.Context, modelUID string, req types.LaunchRequest, xaviers []*types.XavierConfig) error {
	allWorkers := c.registry.ListWorkers()
	if len(allWorkers) < req.NWorker {
		return superr.NewValidation("n_worker", "exceeds the number of available candidate workers")
	}

	for i := 0; i < req.Replica; i++ {
		var driverInfo *types.DriverInfo
		var shardWorkers []string

		shardAddrs, err := c.selector.SelectMany(c.candidates(ctx), c.whitelist(req), req.NWorker)
		if err != nil {
			metrics.PlacementFailuresTotal.Inc()
			return err
		}
		for s := 0; s < req.NWorker; s++ {
			addr := shardAddrs[s]
			shardWorkers = append(shardWorkers, addr)
			if err := c.registry.BindReplicaSlot(modelUID, i, shardWorkers); err != nil {
				return err
			}
			replicaUID := registry.BuildReplicaUID(modelUID, i, req.Replica)

			w, err := c.dialer.Dial(addr)
			if err != nil {
				return superr.NewWorkerRPC(addr, "Dial", err)
			}

			shard := s
			lp := workerclient.LaunchParams{LaunchRequest: req, ReplicaUID: replicaUID, Shard: &shard, NWorker: req.NWorker}
			if s > 1 {
				lp.DriverInfo = driverInfo
			}
			if xaviers != nil {
				lp.XavierConfig = xaviers[i]
			}

			_, di, err := w.LaunchBuiltinModel(ctx, lp)
			if err != nil {
				return superr.NewWorkerRPC(addr, "LaunchBuiltinModel", err)
			}
			if s == 0 {
				driverInfo = di
			}
		}

		replicaUID := registry.BuildReplicaUID(modelUID, i, req.Replica)
		for _, addr := range shardWorkers {
			w, err := c.dialer.Dial(addr)
			if err != nil {
				return superr.NewWorkerRPC(addr, "Dial", err)
			}
			if err := w.WaitForLoad(ctx, replicaUID); err != nil {
				return superr.NewWorkerRPC(addr, "WaitForLoad", err)
			}
		}
	}
	return nil
}

// rank0Handle is the synthetic observer replica that anchors a collective
// bring-up's rendezvous store, launched before any real replica.
type rank0Handle struct {
	address    string
	storeAddr  string
	storePort  int
	replicaUID string
	worker     workerclient.Worker
}

// bringUpRank0 creates the auxiliary actors and the synthetic rank-0
// observer, returning the per-replica xavier configs needed at launch time
// (spec §4.D "Collective bring-up": rendezvous coordinates must be known
// before the corresponding replica is launched, not after).
func (c *Coordinator) bringUpRank0(ctx context.Context, modelUID string, req types.LaunchRequest) (*rank0Handle, []*types.XavierConfig, error) {
	worldSize := req.Replica + 1
	c.collective.Create(modelUID, worldSize)

	addr, err := c.pickOne(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	w, err := c.dialer.Dial(addr)
	if err != nil {
		return nil, nil, superr.NewWorkerRPC(addr, "Dial", err)
	}
	storeAddr, storePort, err := w.LaunchRank0Model(ctx, modelUID, types.XavierConfig{Rank: 0, WorldSize: worldSize})
	if err != nil {
		return nil, nil, superr.NewWorkerRPC(addr, "LaunchRank0Model", err)
	}
	c.collective.SetRank0Worker(modelUID, addr)

	xaviers := make([]*types.XavierConfig, req.Replica)
	for i := range xaviers {
		xaviers[i] = &types.XavierConfig{
			StoreAddress: storeAddr,
			StorePort:    storePort,
			Rank:         i + 1,
			WorldSize:    worldSize,
		}
	}

	return &rank0Handle{
		address:    addr,
		storeAddr:  storeAddr,
		storePort:  storePort,
		replicaUID: modelUID + "-rank0",
		worker:     w,
	}, xaviers, nil
}

// finishCollectiveBringUp runs the concurrent start_transfer_for_vllm
// fan-out and the strictly-ordered register_rank calls once the rank-0
// observer and every replica's driver shard are up.
func (c *Coordinator) finishCollectiveBringUp(ctx context.Context, modelUID string, req types.LaunchRequest, rank0 *rank0Handle) error {
	_, mgr, ok := c.collective.Get(modelUID)
	if !ok {
		return superr.NewNotFound("collective manager", modelUID)
	}

	ranks := []collective.Rank{{Rank: 0, Address: rank0.storeAddr, ReplicaUID: rank0.replicaUID, Worker: rank0.worker}}

	info, ok := c.registry.GetReplicaInfo(modelUID)
	if !ok {
		return superr.NewNotFound("model", modelUID)
	}
	for i := 0; i < req.Replica; i++ {
		driverAddr := info.WorkerRefs[i][0]
		w, err := c.dialer.Dial(driverAddr)
		if err != nil {
			return superr.NewWorkerRPC(driverAddr, "Dial", err)
		}
		replicaUID := registry.BuildReplicaUID(modelUID, i, req.Replica)
		ranks = append(ranks, collective.Rank{Rank: i + 1, Address: driverAddr, ReplicaUID: replicaUID, Worker: w})
	}

	return collective.BringUp(ctx, mgr, ranks)
}

// CancelLaunch implements cancel_launch_model: it cancels any in-flight
// background launch goroutine, best-effort cancels every worker's
// in-progress launch call, and discards the ReplicaInfo/InstanceInfo
// records regardless of whether any worker RPC succeeded.
func (c *Coordinator) CancelLaunch(ctx context.Context, modelUID string) error {
	info, ok := c.registry.GetReplicaInfo(modelUID)
	if !ok {
		return superr.NewNotFound("model", modelUID)
	}

	c.mu.Lock()
	if cancel, ok := c.inFlight[modelUID]; ok {
		cancel()
	}
	c.mu.Unlock()

	logger := log.WithComponent("launch").With().Str("model_uid", modelUID).Logger()
	for i, refs := range info.WorkerRefs {
		if refs == nil {
			continue
		}
		replicaUID := registry.BuildReplicaUID(modelUID, i, info.ReplicaCount)
		for _, addr := range refs {
			w, err := c.dialer.Dial(addr)
			if err == nil {
				err = w.CancelLaunchModel(ctx, replicaUID)
			}
			if err != nil {
				logger.Debug().Err(err).Str("address", addr).Msg("cancel_launch_model best-effort call failed")
			}
		}
	}

	c.registry.DeleteReplicaInfo(modelUID)
	_ = c.statusGuard.DeleteInstanceInfo(modelUID)
	metrics.LaunchesTotal.WithLabelValues("cancelled").Inc()
	return nil
}

// LaunchProgress implements launch_progress: the arithmetic mean of every
// replica slot's tracked progress fraction, or 0.0 if none are
// tracked yet (spec §4.D).
func (c *Coordinator) LaunchProgress(modelUID string) (float64, error) {
	info, ok := c.registry.GetReplicaInfo(modelUID)
	if !ok {
		return 0, superr.NewNotFound("model", modelUID)
	}

	var sum float64
	var n int
	for i := 0; i < info.ReplicaCount; i++ {
		replicaUID := registry.BuildReplicaUID(modelUID, i, info.ReplicaCount)
		if v, ok := c.progress.GetProgress("launching-" + replicaUID); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0.0, nil
	}
	return sum / float64(n), nil
}

// splitGPUs divides gpuIdx as evenly as possible across n replicas, giving
// the first (len(gpuIdx) mod n) replicas one extra index.
func splitGPUs(gpuIdx []int, n int) [][]int {
	out := make([][]int, n)
	if len(gpuIdx) == 0 || n == 0 {
		return out
	}
	per := len(gpuIdx) / n
	rem := len(gpuIdx) % n
	idx := 0
	for i := 0; i < n; i++ {
		count := per
		if i < rem {
			count++
		}
		out[i] = append([]int(nil), gpuIdx[idx:idx+count]...)
		idx += count
	}
	return out
}
