// Package supervisor wires every component into the single object the API
// layer (spec §2's "external API layer") talks to, and exposes the
// "Public operations" surface from spec §6 verbatim. Grounded on warren's
// pkg/manager top-level Manager struct, which plays the same
// wire-every-subsystem-together role for its cluster.
package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/helios/internal/collective"
	"github.com/cuemby/helios/internal/healthmon"
	"github.com/cuemby/helios/internal/launch"
	"github.com/cuemby/helios/internal/placement"
	"github.com/cuemby/helios/internal/registration"
	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/internal/router"
	"github.com/cuemby/helios/internal/status"
	"github.com/cuemby/helios/internal/terminate"
	"github.com/cuemby/helios/pkg/events"
	"github.com/cuemby/helios/pkg/external"
	"github.com/cuemby/helios/pkg/health"
	"github.com/cuemby/helios/pkg/log"
	"github.com/cuemby/helios/pkg/metrics"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient"
)

// Config bundles the numeric knobs spec §4.G/§6 names, loaded by cmd/helios
// from environment variables.
type Config struct {
	FailureThreshold    int
	HealthCheck         healthmon.Config
	CancelBlockDuration time.Duration
}

// Info is the payload for get_supervisor_info.
type Info struct {
	StartedAt time.Time
	Workers   int
	Models    int
	Replicas  int
}

// Supervisor composes every component and implements spec §6's Public
// operations surface.
type Supervisor struct {
	cfg Config

	registry   *registry.Registry
	dialer     workerclient.Dialer
	collective *collective.Manager

	launch       *launch.Coordinator
	terminate    *terminate.Coordinator
	router       *router.Router
	healthmon    *healthmon.Monitor
	status       *status.Surface
	registration *registration.Broker
	events       *events.Broker

	startedAt time.Time
}

// New wires every component together. selfSample supplies the supervisor's
// own CPU/mem reading for cluster_device_info; local is the caller's
// model-family registrar for register_model/unregister_model.
func New(
	cfg Config,
	dialer workerclient.Dialer,
	statusGuard external.StatusGuard,
	progress external.ProgressTracker,
	cache external.CacheTracker,
	local registration.LocalRegistrar,
	selfSample func() types.CPUMemStatus,
) *Supervisor {
	reg := registry.New()
	coll := collective.New()
	sel := placement.New()
	term := terminate.New(reg, dialer, statusGuard, coll)
	lc := launch.New(reg, dialer, sel, statusGuard, progress, coll, term)
	rt := router.New(reg, dialer)
	st := status.New(reg, dialer, statusGuard, selfSample)
	hm := healthmon.New(reg, cfg.HealthCheck)
	rb := registration.New(reg, dialer, cache, local, st.QueryEnginesByModelName)
	evb := events.NewBroker()

	hm.SetEvictionHook(func(address string, invalidatedModels []string) {
		evb.Publish(&events.Event{
			Type:    events.EventWorkerEvicted,
			Message: address,
			Metadata: map[string]string{
				"address":            address,
				"invalidated_models": strings.Join(invalidatedModels, ","),
			},
		})
	})

	return &Supervisor{
		cfg:          cfg,
		registry:     reg,
		dialer:       dialer,
		collective:   coll,
		launch:       lc,
		terminate:    term,
		router:       rt,
		healthmon:    hm,
		status:       st,
		registration: rb,
		events:       evb,
		startedAt:    time.Now(),
	}
}

// Events returns the supervisor's event broker, letting a caller (an API
// layer, an audit log) subscribe to worker and model lifecycle events.
func (s *Supervisor) Events() *events.Broker {
	return s.events
}

// RegistrySnapshot exposes the Worker/Replica registry's counters for
// metrics.Collector, which stays decoupled from registry internals.
func (s *Supervisor) RegistrySnapshot() metrics.RegistrySnapshot {
	return s.registry
}

// Start begins the Health Monitor's background sweep loop and the event
// broker's distribution loop.
func (s *Supervisor) Start() {
	s.healthmon.Start()
	s.events.Start()
}

// Stop halts the Health Monitor's sweep loop and the event broker.
func (s *Supervisor) Stop() {
	s.healthmon.Stop()
	s.events.Stop()
}

// LaunchBuiltinModel implements launch_builtin_model. When waitReady is
// false, Launch itself returns before the protocol completes in the
// background, so only model.launching is published here — the eventual
// model.ready/model.error would need the Launch Coordinator's own progress
// plumbing to observe, which status.GetInstanceInfo already exposes.
func (s *Supervisor) LaunchBuiltinModel(ctx context.Context, req types.LaunchRequest, waitReady bool) (string, error) {
	s.events.Publish(&events.Event{Type: events.EventModelLaunching, Message: req.ModelName})
	uid, err := s.launch.Launch(ctx, req, waitReady)
	if err != nil {
		s.events.Publish(&events.Event{Type: events.EventModelError, Message: req.ModelName,
			Metadata: map[string]string{"error": err.Error()}})
		return uid, err
	}
	if waitReady {
		s.events.Publish(&events.Event{Type: events.EventModelReady, Message: uid})
	}
	return uid, nil
}

// CancelLaunchModel implements cancel_launch_model.
func (s *Supervisor) CancelLaunchModel(ctx context.Context, modelUID string) error {
	return s.launch.CancelLaunch(ctx, modelUID)
}

// LaunchProgress implements launch_progress.
func (s *Supervisor) LaunchProgress(modelUID string) (float64, error) {
	return s.launch.LaunchProgress(modelUID)
}

// TerminateModel implements terminate_model.
func (s *Supervisor) TerminateModel(ctx context.Context, modelUID string, suppressException bool) error {
	err := s.terminate.Terminate(ctx, modelUID, suppressException)
	if err == nil {
		s.events.Publish(&events.Event{Type: events.EventModelTerminated, Message: modelUID})
	}
	return err
}

// GetModel implements get_model.
func (s *Supervisor) GetModel(ctx context.Context, modelUID string) (router.Handle, error) {
	return s.router.GetModel(ctx, modelUID)
}

// AbortRequest implements abort_request.
func (s *Supervisor) AbortRequest(ctx context.Context, modelUID, requestID string) (types.AbortToken, error) {
	return s.router.AbortRequest(ctx, modelUID, requestID, s.cfg.CancelBlockDuration)
}

// AbortCluster implements abort_cluster.
func (s *Supervisor) AbortCluster(ctx context.Context, requestID string) types.AbortToken {
	return s.router.AbortCluster(ctx, requestID, s.cfg.CancelBlockDuration)
}

// DescribeModel implements describe_model.
func (s *Supervisor) DescribeModel(ctx context.Context, modelUID string) (types.ModelDescription, error) {
	return s.status.DescribeModel(ctx, modelUID)
}

// ListModels implements list_models.
func (s *Supervisor) ListModels(ctx context.Context) ([]status.ModelSummary, error) {
	return s.status.ListModels(ctx)
}

// ListCachedModels implements list_cached_models.
func (s *Supervisor) ListCachedModels(ctx context.Context, name string) ([]workerclient.CachedModel, error) {
	return s.status.CachedModels(ctx, name)
}

// ListDeletableModels implements list_deletable_models.
func (s *Supervisor) ListDeletableModels(ctx context.Context, version string) ([]string, error) {
	return s.status.DeletableModels(ctx, version)
}

// ConfirmAndRemoveModel implements confirm_and_remove_model.
func (s *Supervisor) ConfirmAndRemoveModel(ctx context.Context, version string) error {
	return s.status.ConfirmRemoveModel(ctx, version)
}

// RegisterModel implements register_model.
func (s *Supervisor) RegisterModel(ctx context.Context, modelType, spec string, persist bool, workerIP, engine, modelName string) error {
	return s.registration.RegisterModel(ctx, modelType, spec, persist, workerIP, engine, modelName)
}

// UnregisterModel implements unregister_model.
func (s *Supervisor) UnregisterModel(ctx context.Context, modelType, modelName, modelVersion, workerIP string) error {
	return s.registration.UnregisterModel(ctx, modelType, modelName, modelVersion, workerIP)
}

// GetStatus implements get_status.
func (s *Supervisor) GetStatus() (uptime time.Duration, workers map[string]types.WorkerEntry) {
	return s.status.GetStatus(s.startedAt)
}

// GetClusterDeviceInfo implements get_cluster_device_info.
func (s *Supervisor) GetClusterDeviceInfo(detailed bool) status.ClusterDeviceInfo {
	return s.status.ClusterDeviceInfo(detailed)
}

// GetInstanceInfo implements get_instance_info.
func (s *Supervisor) GetInstanceInfo(modelUID string) (types.InstanceInfo, error) {
	return s.status.GetInstanceInfo(modelUID)
}

// GetInstanceCount implements get_instance_count.
func (s *Supervisor) GetInstanceCount() (int, error) {
	return s.status.GetInstanceCount()
}

// GetWorkersInfo implements get_workers_info.
func (s *Supervisor) GetWorkersInfo(ctx context.Context) []workerclient.WorkersInfo {
	return s.status.WorkersInfo(ctx)
}

// GetSupervisorInfo implements get_supervisor_info.
func (s *Supervisor) GetSupervisorInfo() Info {
	models, replicas := s.registry.ModelAndReplicaCounts()
	healthy, _ := s.registry.WorkerCounts()
	return Info{StartedAt: s.startedAt, Workers: healthy, Models: models, Replicas: replicas}
}

// AddWorker implements add_worker. It registers address with no active
// liveness probe; the Health Monitor falls back entirely to the passive
// staleness timer for it. Use AddWorkerWithHealthCheck to also attach an
// active probe.
func (s *Supervisor) AddWorker(address string) error {
	return s.addWorker(address, "")
}

// AddWorkerWithHealthCheck implements add_worker with a SPEC_FULL.md §3.G
// supplement: checkTarget names an endpoint the Health Monitor actively
// probes before a stale worker is ever evicted. An "http://"/"https://"
// prefix builds an HTTPChecker, anything else is dialed as a bare TCP
// address. An empty checkTarget is equivalent to plain AddWorker.
func (s *Supervisor) AddWorkerWithHealthCheck(address, checkTarget string) error {
	return s.addWorker(address, checkTarget)
}

func (s *Supervisor) addWorker(address, checkTarget string) error {
	err := s.registry.AddWorker(address, s.cfg.FailureThreshold, time.Now())
	if err != nil {
		return err
	}
	if checkTarget != "" {
		s.healthmon.RegisterChecker(address, newChecker(checkTarget))
	}
	s.events.Publish(&events.Event{Type: events.EventWorkerRegistered, Message: address})
	return nil
}

func newChecker(target string) health.Checker {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return health.NewHTTPChecker(target)
	}
	return health.NewTCPChecker(target)
}

// RemoveWorker implements remove_worker: returns the model UIDs invalidated
// by the removal.
func (s *Supervisor) RemoveWorker(address string) []string {
	s.healthmon.UnregisterChecker(address)
	invalidated := s.registry.RemoveWorker(address)
	s.events.Publish(&events.Event{Type: events.EventWorkerRemoved, Message: address,
		Metadata: map[string]string{"invalidated_models": strings.Join(invalidated, ",")}})
	return invalidated
}

// ReportWorkerStatus implements the worker-side status-push ingest path
// (spec §6 report_worker_status).
func (s *Supervisor) ReportWorkerStatus(address string, statusMap map[string]types.WorkerStatus) error {
	return s.registry.ReportStatus(address, statusMap, time.Now(), s.cfg.FailureThreshold)
}

// CallCollectiveManager implements call_collective_manager, letting a
// worker reach its model's CollectiveManager through the supervisor.
func (s *Supervisor) CallCollectiveManager(modelUID string, fn func(*collective.CollectiveManager) error) error {
	return s.collective.CallCollectiveManager(modelUID, fn)
}

// TriggerExit implements trigger_exit: best-effort broadcasts a shutdown
// request to every registered worker.
func (s *Supervisor) TriggerExit(ctx context.Context) error {
	logger := log.WithComponent("supervisor")
	var firstErr error
	for _, w := range s.registry.ListWorkers() {
		handle, err := s.dialer.Dial(w.Address)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := handle.TriggerExit(ctx); err != nil {
			logger.Warn().Err(err).Str("address", w.Address).Msg("trigger_exit failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
