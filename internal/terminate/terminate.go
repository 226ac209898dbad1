// Package terminate implements the Termination Coordinator (spec §4.E):
// tearing down every replica of a model_uid, tolerant of partial failure,
// grounded on warren's tolerant container-teardown loop in
// pkg/worker/worker.go (iterate, log-and-continue on a single failure
// rather than aborting the whole teardown).
package terminate

import (
	"context"

	"github.com/cuemby/helios/internal/collective"
	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/external"
	"github.com/cuemby/helios/pkg/log"
	"github.com/cuemby/helios/pkg/metrics"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient"
)

// Coordinator implements terminate_model.
type Coordinator struct {
	registry    *registry.Registry
	dialer      workerclient.Dialer
	statusGuard external.StatusGuard
	collective  *collective.Manager
}

// New creates a Coordinator.
func New(reg *registry.Registry, dialer workerclient.Dialer, statusGuard external.StatusGuard, coll *collective.Manager) *Coordinator {
	return &Coordinator{registry: reg, dialer: dialer, statusGuard: statusGuard, collective: coll}
}

// Terminate tears down every replica slot of modelUID (spec §4.E). If
// suppressException is true, per-worker and lookup failures are logged and
// swallowed rather than returned, matching the Launch Coordinator's
// rollback call and repeated calls to terminate_model being idempotent.
func (c *Coordinator) Terminate(ctx context.Context, modelUID string, suppressException bool) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TerminationDuration)

	logger := log.WithComponent("terminate").With().Str("model_uid", modelUID).Logger()

	info, ok := c.registry.GetReplicaInfo(modelUID)
	if !ok {
		if suppressException {
			return nil
		}
		return superr.NewNotFound("model", modelUID)
	}

	_ = c.statusGuard.UpdateInstanceInfo(modelUID, func(i *types.InstanceInfo) {
		i.Status = types.InstanceTerminating
	})

	var firstErr error
	recordErr := func(err error) {
		if !suppressException && firstErr == nil {
			firstErr = err
		}
	}

	for i, refs := range info.WorkerRefs {
		replicaUID := registry.BuildReplicaUID(modelUID, i, info.ReplicaCount)
		if refs == nil {
			logger.Debug().Str("replica_uid", replicaUID).Msg("replica slot never bound, skipping")
			recordErr(superr.NewNotFound("replica worker mapping", replicaUID))
			continue
		}
		for _, address := range refs {
			w, err := c.dialer.Dial(address)
			if err == nil {
				err = w.TerminateModel(ctx, replicaUID)
			}
			if err != nil {
				logger.Warn().Err(err).Str("address", address).Str("replica_uid", replicaUID).
					Msg("worker terminate_model failed")
				recordErr(err)
				continue
			}
		}
		c.registry.UnbindReplicaSlot(modelUID, i)
	}

	c.registry.DeleteReplicaInfo(modelUID)
	_ = c.statusGuard.DeleteInstanceInfo(modelUID)

	if rank0Addr, ok := c.collective.Rank0Worker(modelUID); ok {
		if w, err := c.dialer.Dial(rank0Addr); err == nil {
			if err := w.TerminateModel(ctx, modelUID+"-rank0"); err != nil {
				logger.Debug().Err(err).Msg("rank0 observer terminate_model failed")
			}
		}
	}

	// AuxiliaryActorFailure (spec §7): destroying CollectiveManager/
	// BlockTracker never blocks termination; the in-memory Destroy here
	// cannot itself fail, but the call site stays symmetric with a future
	// remote-actor implementation that could.
	c.collective.Destroy(modelUID)

	if firstErr != nil {
		return firstErr
	}
	return nil
}
