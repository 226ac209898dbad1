// Package registration implements the Registration Broker (spec §4.J):
// forwarding model-registration calls to the appropriate worker in a
// multi-node cluster, or applying them locally and pushing the result to
// the external CacheTracker, with compensating unregistration on a failed
// push. Grounded on warren's forward-or-apply-locally branch for
// node-targeted operations in pkg/manager.
package registration

import (
	"context"

	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/external"
	"github.com/cuemby/helios/pkg/log"
	"github.com/cuemby/helios/pkg/workerclient"
)

// LocalRegistrar applies a registration or unregistration on this
// supervisor's own model-family registry — the Go equivalent of the
// (spec_class, register_fn, unregister_fn) tuple lookup spec §4.J
// describes, kept as a caller-supplied strategy rather than a hand-rolled
// class registry.
type LocalRegistrar interface {
	Register(ctx context.Context, modelType, spec string, persist bool) ([]external.ModelVersion, error)
	Unregister(ctx context.Context, modelType, modelName string) error
}

// EngineValidator checks that engine is a valid choice for modelName before
// registration proceeds (spec.md §6 query_engines_by_model_name, a
// supplemented validation step).
type EngineValidator func(ctx context.Context, modelName, modelType string) ([]string, error)

// Broker implements register_model and unregister_model.
type Broker struct {
	registry *registry.Registry
	dialer   workerclient.Dialer
	cache    external.CacheTracker
	local    LocalRegistrar
	validate EngineValidator
}

// New creates a Broker. validate may be nil to skip engine validation.
func New(reg *registry.Registry, dialer workerclient.Dialer, cache external.CacheTracker, local LocalRegistrar, validate EngineValidator) *Broker {
	return &Broker{registry: reg, dialer: dialer, cache: cache, local: local, validate: validate}
}

// singleNode reports whether the cluster currently has at most one
// registered worker (spec §4.J "the cluster is not single-node").
func (b *Broker) singleNode() bool {
	return len(b.registry.ListWorkers()) <= 1
}

// RegisterModel implements register_model (spec §4.J). If workerIP is set
// and the cluster has more than one worker, the call is forwarded verbatim;
// otherwise it is applied locally and every resulting ModelVersion is
// pushed to the CacheTracker. If the push fails partway, every version
// registered so far is unregistered locally before the error is returned
// (raise_error=false compensation).
func (b *Broker) RegisterModel(ctx context.Context, modelType, spec string, persist bool, workerIP, engine, modelName string) error {
	if b.validate != nil && engine != "" {
		engines, err := b.validate(ctx, modelName, modelType)
		if err != nil {
			return err
		}
		if !contains(engines, engine) {
			return superr.NewValidation("engine", "not a supported engine for this model")
		}
	}

	if workerIP != "" && !b.singleNode() {
		w, ok := b.registry.LookupByIP(workerIP)
		if !ok {
			return superr.NewNotFound("worker", workerIP)
		}
		handle, err := b.dialer.Dial(w.Address)
		if err != nil {
			return superr.NewWorkerRPC(w.Address, "Dial", err)
		}
		if err := handle.RegisterModel(ctx, modelType, spec, persist); err != nil {
			return superr.NewWorkerRPC(w.Address, "RegisterModel", err)
		}
		return nil
	}

	versions, err := b.local.Register(ctx, modelType, spec, persist)
	if err != nil {
		return err
	}

	logger := log.WithComponent("registration")
	for i, v := range versions {
		if err := b.cache.RecordModelVersion(v); err != nil {
			for _, done := range versions[:i] {
				if uerr := b.local.Unregister(ctx, modelType, done.ModelName); uerr != nil {
					logger.Debug().Err(uerr).Str("model_name", done.ModelName).
						Msg("compensating unregister after cache push failure also failed")
				}
			}
			if uerr := b.local.Unregister(ctx, modelType, v.ModelName); uerr != nil {
				logger.Debug().Err(uerr).Str("model_name", v.ModelName).
					Msg("compensating unregister after cache push failure also failed")
			}
			return err
		}
	}
	return nil
}

// UnregisterModel implements unregister_model: mirrors RegisterModel's
// forward-or-local branch, and in multi-node mode additionally broadcasts
// the unregistration to every worker so no node keeps a stale copy.
func (b *Broker) UnregisterModel(ctx context.Context, modelType, modelName, modelVersion, workerIP string) error {
	if workerIP != "" && !b.singleNode() {
		w, ok := b.registry.LookupByIP(workerIP)
		if !ok {
			return superr.NewNotFound("worker", workerIP)
		}
		handle, err := b.dialer.Dial(w.Address)
		if err != nil {
			return superr.NewWorkerRPC(w.Address, "Dial", err)
		}
		if err := handle.UnregisterModel(ctx, modelType, modelName); err != nil {
			return superr.NewWorkerRPC(w.Address, "UnregisterModel", err)
		}
		return nil
	}

	err := b.local.Unregister(ctx, modelType, modelName)

	if !b.singleNode() {
		logger := log.WithComponent("registration")
		for _, w := range b.registry.ListWorkers() {
			handle, derr := b.dialer.Dial(w.Address)
			if derr != nil {
				logger.Debug().Err(derr).Str("address", w.Address).Msg("unregister broadcast dial failed")
				continue
			}
			if uerr := handle.UnregisterModel(ctx, modelType, modelName); uerr != nil {
				logger.Debug().Err(uerr).Str("address", w.Address).Msg("unregister broadcast call failed")
			}
		}
	}

	_ = b.cache.UnregisterModelVersion(modelName, modelVersion)
	return err
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
