// Package types holds the data model shared across the supervisor: workers,
// replicas, instances, and the wire-level status records workers push back.
package types

import "time"

// WorkerStatus is a snapshot of one resource on a worker: either a CPU/memory
// reading or a GPU reading. Exactly one of the two pointer fields is set.
type WorkerStatus struct {
	CPU *CPUMemStatus `json:"cpu,omitempty"`
	GPU *GPUStatus    `json:"gpu,omitempty"`
}

// CPUMemStatus is a plain CPU/memory resource reading.
type CPUMemStatus struct {
	UsagePercent float64 `json:"usage_percent"`
	TotalMemory  int64   `json:"total_memory"`
	UsedMemory   int64   `json:"used_memory"`
}

// GPUStatus is a single GPU device reading.
type GPUStatus struct {
	Index       int     `json:"index"`
	MemoryTotal int64   `json:"memory_total"`
	MemoryUsed  int64   `json:"memory_used"`
	Util        float64 `json:"util"`
}

// WorkerEntry is the Worker Registry's record for one remote executor
// (spec §3 "Worker"). FailureRemaining starts at the configured threshold and
// is decremented by the Health Monitor each sweep that finds the status
// stale; it is reset to the threshold whenever the worker reports status.
type WorkerEntry struct {
	Address          string
	LastStatus       map[string]WorkerStatus
	LastUpdateTime   time.Time
	FailureRemaining int
}

// ReplicaInfo is the per-model-UID record created at the start of a launch
// and destroyed at the end of a termination or a health eviction (spec §3).
type ReplicaInfo struct {
	ModelUID         string
	ReplicaCount     int
	RoundRobinCursor int
	// WorkerRefs[i] lists the worker addresses backing replica slot i, in
	// shard order; len>1 iff the replica is sharded and WorkerRefs[i][0] is
	// always the driver (shard 0).
	WorkerRefs [][]string
}

// InstanceStatus is the user-facing lifecycle state of a model instance.
type InstanceStatus string

const (
	InstanceCreating    InstanceStatus = "CREATING"
	InstanceReady       InstanceStatus = "READY"
	InstanceError       InstanceStatus = "ERROR"
	InstanceTerminating InstanceStatus = "TERMINATING"
)

// InstanceInfo mirrors a launch into the external Status Guard (spec §3).
type InstanceInfo struct {
	ModelUID     string
	ModelName    string
	ModelVersion string
	Replica      int
	NWorker      int
	Status       InstanceStatus
	CreatedTS    time.Time
}

// AbortToken is the result of a worker-side abort call (spec §4.F).
type AbortToken string

const (
	AbortDone     AbortToken = "DONE"
	AbortNotFound AbortToken = "NOT_FOUND"
	AbortNoOp     AbortToken = "NO_OP"
)

// LaunchRequest carries everything a single launch call needs; it is shared
// by the replicated and sharded protocols (spec §4.D).
type LaunchRequest struct {
	ModelUID                string
	ModelName                string
	ModelVersion             string
	Size                     string
	Format                   string
	Quantization             string
	Engine                   string
	ModelType                string
	NGPU                     int
	RequestLimits            int
	PEFTConfig               map[string]string
	GPUIdx                   []int
	DownloadHub              string
	ModelPath                string
	Replica                  int
	NWorker                  int
	WorkerIP                 string
	EnableXavier             bool
	CollectiveCapableEngine  bool
}

// XavierConfig carries collective rendezvous coordinates down to a worker
// launching one rank of a sharded, collective-enabled replica (spec §4.D).
type XavierConfig struct {
	StoreAddress string
	StorePort    int
	Rank         int
	WorldSize    int
}

// DriverInfo is returned by shard 0 of a sharded launch and threaded into
// every subsequent shard's launch call (spec §4.D).
type DriverInfo struct {
	Address string
	Extra   map[string]string
}

// ModelDescription is the worker-side description of a running replica,
// annotated with its replica count by the Status Surface (spec §4.I).
type ModelDescription struct {
	ModelUID     string
	ModelName    string
	ModelVersion string
	Replica      int
	Details      map[string]string
}
