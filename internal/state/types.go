package state

import (
	"math"
	"sort"
	"time"
)

// #region state
// State is the shared application state: component id → weight.
// Iteration order carries no meaning; use SortedIDs for a stable walk.
type State map[int]float64

// SortedIDs returns the component ids in ascending order.
func (s State) SortedIDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Clone returns an independent copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for id, w := range s {
		out[id] = w
	}
	return out
}

// Energy returns the sum of squared weights.
func (s State) Energy() float64 {
	var sum float64
	for _, w := range s {
		sum += w * w
	}
	return sum
}

// Norm returns the L2 norm of the weights.
func (s State) Norm() float64 {
	return math.Sqrt(s.Energy())
}

// Normalize returns a copy scaled to unit L2 norm.
// A zero state is returned unchanged.
func (s State) Normalize() State {
	out := s.Clone()
	norm := s.Norm()
	if norm == 0 {
		return out
	}
	for id := range out {
		out[id] /= norm
	}
	return out
}

// #endregion state

// #region state-record
// StateRecord is a committed, versioned snapshot of a State.
type StateRecord struct {
	VersionID   string
	ParentID    string
	Components  State
	StateHash   string
	CreatedAt   time.Time
	MetricsJSON string
}

// #endregion state-record

// #region decision-row
// DecisionRow pairs a committed version with the decision that produced it.
type DecisionRow struct {
	VersionID  string    `json:"version_id,omitempty"`
	StateHash  string    `json:"state_hash"`
	RoundID    string    `json:"round_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Confidence float64   `json:"confidence"`
	Decision   string    `json:"decision"` // "commit" | "reject" | "no_op" | lower-cased round status
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// #endregion decision-row
