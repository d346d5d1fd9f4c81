package update

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/state"
)

// #region update-function
// Update is a pure function that computes the next state version from the
// current one and a delta. The result is always normalized and hashed.
func Update(old state.StateRecord, delta Delta, config UpdateConfig) UpdateResult {
	start := time.Now()
	next := old.Components.Clone()
	if next == nil {
		next = state.State{}
	}

	// 1. Scale and clamp the change vector
	scaled := make(map[int]float64, len(delta.Changes))
	var sumSq float64
	for id, d := range delta.Changes {
		v := d * config.LearningRate
		scaled[id] = v
		sumSq += v * v
	}
	deltaNorm := math.Sqrt(sumSq)
	if config.MaxDeltaNorm > 0 && deltaNorm > config.MaxDeltaNorm {
		scale := config.MaxDeltaNorm / deltaNorm
		for id := range scaled {
			scaled[id] *= scale
		}
		deltaNorm = config.MaxDeltaNorm
	}

	// 2. Decay untouched components
	var decaySumSq float64
	if config.DecayRate > 0 {
		for id, w := range next {
			if _, ok := scaled[id]; ok {
				continue
			}
			amount := w * config.DecayRate
			next[id] = w - amount
			decaySumSq += amount * amount
		}
	}

	// 3. Apply changes and removals
	touched := make([]int, 0, len(scaled))
	for id, v := range scaled {
		next[id] += v
		touched = append(touched, id)
	}
	sort.Ints(touched)
	for _, id := range delta.Remove {
		delete(next, id)
	}

	// 4. Normalize, then prune negligible components
	next = next.Normalize()
	pruned := 0
	for id, w := range next {
		if math.Abs(w) < config.PruneBelow {
			delete(next, id)
			pruned++
		}
	}
	if pruned > 0 {
		next = next.Normalize()
	}

	hash := codec.StateHash(next)
	newRec := state.StateRecord{
		VersionID:  uuid.New().String(),
		ParentID:   old.VersionID,
		Components: next,
		StateHash:  hash,
		CreatedAt:  time.Now().UTC(),
	}

	decision := Decision{Action: "no_op", Reason: "no state change"}
	if hash != codec.StateHash(old.Components) {
		decision = Decision{
			Action: "commit",
			Reason: fmt.Sprintf("touched %v, removed %d, delta norm %.6f", touched, len(delta.Remove), deltaNorm),
		}
	}

	return UpdateResult{
		NewState: newRec,
		Decision: decision,
		Metrics: Metrics{
			DeltaNorm:    deltaNorm,
			Touched:      touched,
			Pruned:       pruned,
			DecayNorm:    math.Sqrt(decaySumSq),
			UpdateTimeMs: time.Since(start).Milliseconds(),
		},
	}
}

// #endregion update-function
