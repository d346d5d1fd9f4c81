package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	VersionID   string
	StateHash   string
	RoundID     string
	Status      string
	Confidence  float64
	TriggerType string // "commit" | "round"
	Decision    string // "commit" | "reject" | "no_op" | lower-cased round status
	Reason      string
	RecordJSON  string
	CreatedAt   time.Time
}

// #endregion decision-entry

// #region gate-record
// GateRecord captures the complete gate inputs for a single commit attempt.
// Serialized as JSON into decision_log.record_json for deterministic replay.
type GateRecord struct {
	VersionID string `json:"version_id"`
	ParentID  string `json:"parent_id"`
	StateHash string `json:"state_hash"`

	// Proposed delta as submitted, before scaling
	Changes map[int]float64 `json:"changes"`
	Removed []int           `json:"removed,omitempty"`

	// Propagation session
	SessionID string            `json:"session_id,omitempty"`
	Session   GateRecordSession `json:"session"`

	// Consensus result as resolved
	Round GateRecordRound `json:"round"`

	// Update metrics
	DeltaNorm float64 `json:"delta_norm"`
	Touched   []int   `json:"touched"`

	// Eval outcome
	EvalPassed bool   `json:"eval_passed"`
	EvalReason string `json:"eval_reason"`

	// Gate thresholds active at decision time
	Thresholds GateRecordThresholds `json:"thresholds"`

	// Gate output
	GateAction    string  `json:"gate_action"`
	GateSoftScore float64 `json:"gate_soft_score"`
	GateVetoed    bool    `json:"gate_vetoed"`
	GateReason    string  `json:"gate_reason"`
}

// GateRecordSession captures the propagation metrics that fed the gate.
type GateRecordSession struct {
	TargetIDs       []string `json:"target_ids"`
	Targets         int      `json:"targets"`
	Reached         int      `json:"reached"`
	CoverageRatio   float64  `json:"coverage_ratio"`
	AverageHopCount float64  `json:"average_hop_count"`
	Corrected       int      `json:"corrected_transfers_used"`
	Fragments       int      `json:"fragments_distributed"`
}

// GateRecordRound captures the consensus result that fed the gate.
type GateRecordRound struct {
	RoundID      string           `json:"round_id"`
	StateHash    string           `json:"state_hash"`
	Status       string           `json:"status"`
	Algorithm    string           `json:"algorithm"`
	Confidence   float64          `json:"confidence"`
	VoteCount    int              `json:"vote_count"`
	Participants int              `json:"participants"`
	Votes        []GateRecordVote `json:"votes"`
}

// GateRecordVote is one counted vote, in voter order.
type GateRecordVote struct {
	VoterID string  `json:"voter_id"`
	Score   float64 `json:"score"`
}

// GateRecordThresholds captures the gate/eval config active at decision time.
type GateRecordThresholds struct {
	MinCoverage   float64 `json:"min_coverage"`
	MaxDeltaNorm  float64 `json:"max_delta_norm"`
	NormTolerance float64 `json:"norm_tolerance"`
}

// #endregion gate-record
