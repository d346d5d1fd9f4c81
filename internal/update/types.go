package update

import "github.com/danielpatrickdp/meshsync/internal/state"

// #region delta
// Delta is a proposed change to the shared state.
type Delta struct {
	Source  string          // node that proposed the change
	Changes map[int]float64 // component → additive change
	Remove  []int           // components to drop
}

// #endregion delta

// #region decision
// Decision records what the update function decided.
type Decision struct {
	Action string // "commit" | "no_op"
	Reason string
}

// #endregion decision

// #region metrics
// Metrics captures telemetry from an update cycle.
type Metrics struct {
	DeltaNorm    float64
	Touched      []int
	Pruned       int
	DecayNorm    float64
	UpdateTimeMs int64
}

// #endregion metrics

// #region update-config
// UpdateConfig holds scaling and decay parameters for the update function.
type UpdateConfig struct {
	LearningRate float64 // multiplier on incoming changes (default 1.0)
	DecayRate    float64 // multiplicative decay on untouched components (default 0)
	MaxDeltaNorm float64 // L2 clamp on the scaled change vector (default 1.0)
	PruneBelow   float64 // drop components whose magnitude falls under this after normalizing
}

// DefaultUpdateConfig returns the standard update parameters.
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{
		LearningRate: 1.0,
		DecayRate:    0,
		MaxDeltaNorm: 1.0,
		PruneBelow:   1e-6,
	}
}

// #endregion update-config

// #region update-result
// UpdateResult bundles everything returned by Update().
type UpdateResult struct {
	NewState state.StateRecord
	Decision Decision
	Metrics  Metrics
}

// #endregion update-result
