// Package external defines the capability handles for the supervisor's
// out-of-core collaborators (spec §1, §6): the Status Guard, CacheTracker,
// and ProgressTracker. The supervisor never caches their facts beyond a
// single operation (spec §5 "Shared resource policy") — it always asks
// again rather than keeping a local copy.
package external

import "github.com/cuemby/helios/pkg/types"

// StatusGuard mirrors launches into user-facing InstanceInfo records.
type StatusGuard interface {
	SetInstanceInfo(modelUID string, info types.InstanceInfo) error
	UpdateInstanceInfo(modelUID string, mutate func(*types.InstanceInfo)) error
	GetInstanceInfo(modelUID string) (types.InstanceInfo, error)
	GetInstanceCount() (int, error)
	DeleteInstanceInfo(modelUID string) error
}

// ModelVersion is one cached model artifact tracked by a CacheTracker.
type ModelVersion struct {
	ModelName    string
	ModelVersion string
	Details      map[string]string
}

// CacheTracker records which model versions have been registered, backing
// the Registration Broker (spec §4.J).
type CacheTracker interface {
	RecordModelVersion(v ModelVersion) error
	UnregisterModelVersion(modelName, modelVersion string) error
	GetModelVersions(modelName string) ([]ModelVersion, error)
	GetModelVersionCount(modelName string) (int, error)
}

// ProgressTracker reports fractional completion for a keyed operation, used
// by the Launch Coordinator's launch_progress query (spec §4.D).
type ProgressTracker interface {
	GetProgress(key string) (fraction float64, ok bool)
}
