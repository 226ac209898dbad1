package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildReplicaUID synthesizes the worker-side key for replica slot i of a
// model launched with replica count n (spec §3 "Replica UID").
func BuildReplicaUID(modelUID string, i, n int) string {
	return fmt.Sprintf("%s-replica-%d-of-%d", modelUID, i, n)
}

// ParseReplicaUID is the inverse of BuildReplicaUID: it recovers the model
// UID and replica index, ignoring the redundant replica-count suffix. The
// round-trip law (spec §8) requires
// ParseReplicaUID(BuildReplicaUID(uid, i, n)) == (uid, i, nil) for all valid
// (uid, i, n).
func ParseReplicaUID(replicaUID string) (modelUID string, index int, err error) {
	const marker = "-replica-"
	pos := strings.LastIndex(replicaUID, marker)
	if pos < 0 {
		return "", 0, fmt.Errorf("registry: %q is not a replica uid", replicaUID)
	}
	modelUID = replicaUID[:pos]
	rest := replicaUID[pos+len(marker):]

	parts := strings.SplitN(rest, "-of-", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("registry: %q is not a replica uid", replicaUID)
	}
	index, err = strconv.Atoi(parts[0])
	if err != nil {
		return "", 0, fmt.Errorf("registry: %q has a non-numeric replica index: %w", replicaUID, err)
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return "", 0, fmt.Errorf("registry: %q has a non-numeric replica count: %w", replicaUID, err)
	}
	return modelUID, index, nil
}

// IterReplicaUIDs returns the n replica UIDs for modelUID in slot order.
func IterReplicaUIDs(modelUID string, n int) []string {
	uids := make([]string, n)
	for i := 0; i < n; i++ {
		uids[i] = BuildReplicaUID(modelUID, i, n)
	}
	return uids
}
