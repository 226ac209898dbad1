/*
Package types defines the core data structures shared across helios: the
worker entry the Worker Registry tracks, the replica bookkeeping the Replica
Registry owns, and the user-facing instance record mirrored into the
external Status Guard.

# Core Types

  - WorkerEntry: a remote executor's address, last reported resource
    status, and health countdown.
  - ReplicaInfo: the per-model-UID record of replica count and worker
    bindings, including sharded worker lists.
  - InstanceInfo: the user-visible lifecycle record (CREATING, READY,
    ERROR, TERMINATING).
  - LaunchRequest / XavierConfig / DriverInfo: parameters threaded through
    the Launch Coordinator's two protocols and its optional collective
    bring-up.

These types carry no behavior; they are shared vocabulary between
internal/registry, internal/launch, internal/terminate, internal/router,
internal/healthmon, and pkg/workerclient.
*/
package types
