package gate

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoConsensus    VetoType = "consensus_not_accepted"
	VetoHashMismatch VetoType = "hash_mismatch"
	VetoCoverage     VetoType = "coverage_below_minimum"
	VetoEval         VetoType = "eval_failed"
	VetoDelta        VetoType = "delta_too_large"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds thresholds for commit decisions.
type GateConfig struct {
	MinCoverage  float64 // reject if propagation reached less than this share of targets
	MaxDeltaNorm float64 // reject if the update moved the state further than this
}

// DefaultGateConfig returns the standard commit thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinCoverage:  0.5,
		MaxDeltaNorm: 1.0,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string // "commit" | "reject"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
	SoftScore   float64      // 0-1 composite of soft signals (for logging)
}

// #endregion gate-decision
