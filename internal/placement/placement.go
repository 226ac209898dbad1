// Package placement implements the Placement Selector (spec §4.C): picking
// which registered worker(s) should host a new replica or shard, favoring
// the least-loaded eligible candidate the way warren's scheduler picks the
// node with the fewest running containers.
package placement

import (
	"sort"

	"github.com/cuemby/helios/internal/superr"
	"github.com/cuemby/helios/pkg/types"
)

// Candidate is one worker available for placement, annotated with its
// current load. The caller (the Launch Coordinator) fills in Load by
// calling get_model_count on the worker itself (spec §4.C) rather than
// trusting the supervisor's own replica bookkeeping, so a model registered
// directly on a worker out-of-band still counts; Selector only compares it.
type Candidate struct {
	Worker types.WorkerEntry
	Load   int
}

// Selector picks workers for a launch. It holds no state: every call is
// given the full candidate set and filters it itself.
type Selector struct{}

// New creates a Selector.
func New() *Selector {
	return &Selector{}
}

// eligible filters candidates down to the caller-provided whitelist of
// worker addresses. A nil whitelist and an empty, non-nil whitelist are
// treated identically: both mean "no restriction, consider every
// candidate." This mirrors how the original system reads an optional
// worker_ip filter off a request object, where "not given" and "given as
// empty" collapse to the same code path; preserved rather than
// disambiguated (spec §9 Open Question).
func eligible(candidates []Candidate, whitelist []string) []Candidate {
	if len(whitelist) == 0 {
		return candidates
	}
	allowed := make(map[string]struct{}, len(whitelist))
	for _, addr := range whitelist {
		allowed[addr] = struct{}{}
	}
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := allowed[c.Worker.Address]; ok {
			out = append(out, c)
		}
	}
	return out
}

// SelectOne returns the least-loaded eligible candidate's address, breaking
// ties by address for determinism. It returns a PlacementError if no
// candidate survives filtering.
func (s *Selector) SelectOne(candidates []Candidate, whitelist []string) (string, error) {
	elig := eligible(candidates, whitelist)
	if len(elig) == 0 {
		return "", superr.NewPlacement("no eligible worker for replica placement")
	}
	sort.Slice(elig, func(i, j int) bool {
		if elig[i].Load != elig[j].Load {
			return elig[i].Load < elig[j].Load
		}
		return elig[i].Worker.Address < elig[j].Worker.Address
	})
	return elig[0].Worker.Address, nil
}

// SelectMany returns n distinct worker addresses for a sharded launch,
// least-loaded first, in the order shards should be assigned (shard 0,
// the driver, gets the least-loaded worker). It returns a PlacementError if
// fewer than n eligible workers are available; callers needing the
// single-node coercion behavior (spec §8) must apply it before calling,
// since that decision belongs to the launch validation step, not
// selection.
func (s *Selector) SelectMany(candidates []Candidate, whitelist []string, n int) ([]string, error) {
	elig := eligible(candidates, whitelist)
	if len(elig) < n {
		return nil, superr.NewPlacement("not enough eligible workers for sharded placement")
	}
	sort.Slice(elig, func(i, j int) bool {
		if elig[i].Load != elig[j].Load {
			return elig[i].Load < elig[j].Load
		}
		return elig[i].Worker.Address < elig[j].Worker.Address
	})
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = elig[i].Worker.Address
	}
	return out, nil
}
