// Package router implements the Request Router (spec §4.F): resolving a
// model UID to a replica for inference, and fanning out abort_request
// across every replica of a model. Grounded on warren's pkg/scheduler
// round-robin pick-next, generalized from "pick a container" to "pick a
// replica slot, always the shard-0 driver."
package router

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/log"
	"github.com/cuemby/helios/pkg/metrics"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient"
)

// Handle is an RPC handle to the replica a request was routed to.
type Handle struct {
	ReplicaUID string
	Address    string
	Worker     workerclient.Worker
}

// Router implements get_model and abort_request.
type Router struct {
	registry *registry.Registry
	dialer   workerclient.Dialer
}

// New creates a Router.
func New(reg *registry.Registry, dialer workerclient.Dialer) *Router {
	return &Router{registry: reg, dialer: dialer}
}

// GetModel implements get_model: it advances modelUID's round-robin cursor
// once, computes the replica UID for the slot it lands on, and returns a
// handle bound to shard 0 (the driver), which accepts all inference calls
// and fans out internally for sharded replicas (spec §4.F).
func (r *Router) GetModel(ctx context.Context, modelUID string) (Handle, error) {
	slot, err := r.registry.AdvanceRoundRobin(modelUID)
	if err != nil {
		metrics.RouteRequestsTotal.WithLabelValues("not_found").Inc()
		return Handle{}, err
	}

	info, ok := r.registry.GetReplicaInfo(modelUID)
	if !ok {
		metrics.RouteRequestsTotal.WithLabelValues("not_found").Inc()
		return Handle{}, superr.NewNotFound("model", modelUID)
	}
	refs := info.WorkerRefs[slot]
	if len(refs) == 0 {
		metrics.RouteRequestsTotal.WithLabelValues("not_found").Inc()
		return Handle{}, superr.NewNotFound("replica worker mapping", modelUID)
	}
	driver := refs[0]

	w, err := r.dialer.Dial(driver)
	if err != nil {
		metrics.RouteRequestsTotal.WithLabelValues("not_found").Inc()
		return Handle{}, superr.NewWorkerRPC(driver, "Dial", err)
	}

	metrics.RouteRequestsTotal.WithLabelValues("ok").Inc()
	return Handle{
		ReplicaUID: registry.BuildReplicaUID(modelUID, slot, info.ReplicaCount),
		Address:    driver,
		Worker:     w,
	}, nil
}

// AbortRequest implements abort_request (spec §4.F): the caller does not
// know which replica holds requestID, so every replica of modelUID is
// walked in slot order and shard 0 is asked to abort it. The first DONE
// wins; otherwise the last non-NO_OP token seen is returned, defaulting to
// NO_OP.
func (r *Router) AbortRequest(ctx context.Context, modelUID, requestID string, blockDuration time.Duration) (types.AbortToken, error) {
	info, ok := r.registry.GetReplicaInfo(modelUID)
	if !ok {
		return types.AbortNoOp, superr.NewNotFound("model", modelUID)
	}

	result := types.AbortNoOp
	for i, refs := range info.WorkerRefs {
		if len(refs) == 0 {
			continue
		}
		replicaUID := registry.BuildReplicaUID(modelUID, i, info.ReplicaCount)
		w, err := r.dialer.Dial(refs[0])
		if err != nil {
			log.WithComponent("router").Warn().Err(err).Str("replica_uid", replicaUID).
				Msg("abort_request dial failed, skipping replica")
			continue
		}
		tok, err := w.AbortRequest(ctx, replicaUID, requestID, blockDuration)
		if err != nil {
			log.WithComponent("router").Warn().Err(err).Str("replica_uid", replicaUID).
				Msg("abort_request worker call failed, skipping replica")
			continue
		}
		if tok == types.AbortDone {
			metrics.AbortRequestsTotal.WithLabelValues(strings.ToLower(string(types.AbortDone))).Inc()
			return types.AbortDone, nil
		}
		if tok != types.AbortNoOp {
			result = tok
		}
	}

	metrics.AbortRequestsTotal.WithLabelValues(strings.ToLower(string(result))).Inc()
	return result, nil
}

// AbortCluster is a supplemented feature: it runs AbortRequest's walk over
// every live model UID, for an operator-triggered cluster-wide abort of a
// runaway request ID rather than requiring the caller to know model_uid in
// advance.
func (r *Router) AbortCluster(ctx context.Context, requestID string, blockDuration time.Duration) types.AbortToken {
	result := types.AbortNoOp
	for _, modelUID := range r.registry.ListModelUIDs() {
		tok, err := r.AbortRequest(ctx, modelUID, requestID, blockDuration)
		if err != nil {
			continue
		}
		if tok == types.AbortDone {
			return types.AbortDone
		}
		if tok != types.AbortNoOp {
			result = tok
		}
	}
	return result
}
