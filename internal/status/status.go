// Package status implements the Status & Progress Surface (spec §4.I): the
// supervisor's read-only aggregations used by an API layer. Grounded on
// warren's pkg/metrics/collector.go self-resource sampling for the
// supervisor's own CPU/mem reading, merged here with every worker's
// reported status.
package status

import (
	"context"
	"time"

	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/external"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient"
)

// ClusterDeviceInfo merges the supervisor's own resource reading with every
// worker's last reported status (spec §4.I).
type ClusterDeviceInfo struct {
	Supervisor types.CPUMemStatus
	Workers    map[string]map[string]types.WorkerStatus
}

// ModelSummary is one entry of ListModels: a worker-reported model
// description re-keyed from replica UID to model UID and annotated with its
// replica count.
type ModelSummary struct {
	types.ModelDescription
	Address string
}

// Surface implements the read-only status and progress queries.
type Surface struct {
	registry    *registry.Registry
	dialer      workerclient.Dialer
	statusGuard external.StatusGuard
	selfSample  func() types.CPUMemStatus
}

// New creates a Surface. selfSample supplies the supervisor's own CPU/mem
// reading (cmd/helios supplies one built from runtime.MemStats).
func New(reg *registry.Registry, dialer workerclient.Dialer, statusGuard external.StatusGuard, selfSample func() types.CPUMemStatus) *Surface {
	return &Surface{registry: reg, dialer: dialer, statusGuard: statusGuard, selfSample: selfSample}
}

// ClusterDeviceInfo implements cluster_device_info. detailed is accepted for
// API parity but does not currently change the shape of Workers: both modes
// return whatever each worker last reported, per-resource-name.
func (s *Surface) ClusterDeviceInfo(detailed bool) ClusterDeviceInfo {
	info := ClusterDeviceInfo{
		Supervisor: s.selfSample(),
		Workers:    make(map[string]map[string]types.WorkerStatus),
	}
	for _, w := range s.registry.ListWorkers() {
		info.Workers[w.Address] = w.LastStatus
	}
	return info
}

// GetStatus implements get_status: uptime (measured from startedAt, which
// the caller supplies since the Surface itself tracks no clock state) and
// the raw worker-status map.
func (s *Surface) GetStatus(startedAt time.Time) (uptime time.Duration, workers map[string]types.WorkerEntry) {
	workers = make(map[string]types.WorkerEntry)
	for _, w := range s.registry.ListWorkers() {
		workers[w.Address] = w
	}
	return time.Since(startedAt), workers
}

// ListModels implements list_models: pulls list_models from every worker,
// re-keys each worker-side replica UID to its model UID, and annotates it
// with the model's replica count.
func (s *Surface) ListModels(ctx context.Context) ([]ModelSummary, error) {
	var out []ModelSummary
	for _, w := range s.registry.ListWorkers() {
		handle, err := s.dialer.Dial(w.Address)
		if err != nil {
			continue
		}
		descriptions, err := handle.ListModels(ctx)
		if err != nil {
			continue
		}
		for _, d := range descriptions {
			modelUID, _, parseErr := registry.ParseReplicaUID(d.ModelUID)
			if parseErr == nil {
				d.ModelUID = modelUID
			}
			if info, ok := s.registry.GetReplicaInfo(d.ModelUID); ok {
				d.Replica = info.ReplicaCount
			}
			out = append(out, ModelSummary{ModelDescription: d, Address: w.Address})
		}
	}
	return out, nil
}

// DescribeModel implements describe_model: always uses replica slot 0 and
// never advances the round-robin cursor (spec §3 invariant 5).
func (s *Surface) DescribeModel(ctx context.Context, modelUID string) (types.ModelDescription, error) {
	info, ok := s.registry.GetReplicaInfo(modelUID)
	if !ok {
		return types.ModelDescription{}, superr.NewNotFound("model", modelUID)
	}
	if len(info.WorkerRefs) == 0 || len(info.WorkerRefs[0]) == 0 {
		return types.ModelDescription{}, superr.NewNotFound("replica worker mapping", modelUID)
	}
	driver := info.WorkerRefs[0][0]

	w, err := s.dialer.Dial(driver)
	if err != nil {
		return types.ModelDescription{}, superr.NewWorkerRPC(driver, "Dial", err)
	}
	replicaUID := registry.BuildReplicaUID(modelUID, 0, info.ReplicaCount)
	desc, err := w.DescribeModel(ctx, replicaUID)
	if err != nil {
		return types.ModelDescription{}, superr.NewWorkerRPC(driver, "DescribeModel", err)
	}
	desc.ModelUID = modelUID
	desc.Replica = info.ReplicaCount
	return desc, nil
}

// GetInstanceInfo delegates to the external Status Guard.
func (s *Surface) GetInstanceInfo(modelUID string) (types.InstanceInfo, error) {
	return s.statusGuard.GetInstanceInfo(modelUID)
}

// GetInstanceCount delegates to the external Status Guard.
func (s *Surface) GetInstanceCount() (int, error) {
	return s.statusGuard.GetInstanceCount()
}

// WorkersInfo is a supplemented passthrough (spec.md §6 Worker contract
// get_workers_info, left uncalled by the distillation): the supervisor-local
// resource summary of every registered worker.
func (s *Surface) WorkersInfo(ctx context.Context) []workerclient.WorkersInfo {
	var out []workerclient.WorkersInfo
	for _, w := range s.registry.ListWorkers() {
		handle, err := s.dialer.Dial(w.Address)
		if err != nil {
			continue
		}
		info, err := handle.GetWorkersInfo(ctx)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}

// CachedModels is a supplemented passthrough (spec.md §6 list_cached_models)
// fanned out across every worker.
func (s *Surface) CachedModels(ctx context.Context, name string) ([]workerclient.CachedModel, error) {
	var out []workerclient.CachedModel
	for _, w := range s.registry.ListWorkers() {
		handle, err := s.dialer.Dial(w.Address)
		if err != nil {
			continue
		}
		cached, err := handle.ListCachedModels(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, cached...)
	}
	return out, nil
}

// DeletableModels is a supplemented passthrough (spec.md §6
// list_deletable_models) fanned out across every worker, surfacing which
// cached model versions a caller may confirm_and_remove_model on.
func (s *Surface) DeletableModels(ctx context.Context, version string) ([]string, error) {
	var out []string
	for _, w := range s.registry.ListWorkers() {
		handle, err := s.dialer.Dial(w.Address)
		if err != nil {
			continue
		}
		deletable, err := handle.ListDeletableModels(ctx, version)
		if err != nil {
			continue
		}
		out = append(out, deletable...)
	}
	return out, nil
}

// ConfirmRemoveModel is a supplemented passthrough (spec.md §6
// confirm_and_remove_model) forwarded to every worker so a cache eviction
// confirmed by the caller is applied cluster-wide.
func (s *Surface) ConfirmRemoveModel(ctx context.Context, version string) error {
	var firstErr error
	for _, w := range s.registry.ListWorkers() {
		handle, err := s.dialer.Dial(w.Address)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := handle.ConfirmAndRemoveModel(ctx, version); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// QueryEnginesByModelName is a supplemented passthrough (spec.md §6) used by
// the Registration Broker to validate an engine choice before registering;
// it asks every worker and returns the union of engines they report.
func (s *Surface) QueryEnginesByModelName(ctx context.Context, name, modelType string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range s.registry.ListWorkers() {
		handle, err := s.dialer.Dial(w.Address)
		if err != nil {
			continue
		}
		engines, err := handle.QueryEnginesByModelName(ctx, name, modelType)
		if err != nil {
			continue
		}
		for _, e := range engines {
			if _, ok := seen[e]; !ok {
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
	}
	return out, nil
}
