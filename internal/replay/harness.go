package replay

import (
	"log"
	"time"

	"github.com/danielpatrickdp/meshsync/internal/clock"
	"github.com/danielpatrickdp/meshsync/internal/consensus"
	"github.com/danielpatrickdp/meshsync/internal/eval"
	"github.com/danielpatrickdp/meshsync/internal/gate"
	"github.com/danielpatrickdp/meshsync/internal/orchestrator"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
	"github.com/danielpatrickdp/meshsync/internal/transfer"
	"github.com/danielpatrickdp/meshsync/internal/update"
)

// Epoch is the manual clock origin for every replay run.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// #region types
// VoteSpec is one scripted peer vote. After advances the replay clock before
// the vote is cast. An empty StateHash votes on the proposed hash.
type VoteSpec struct {
	VoterID   string
	Score     float64
	After     time.Duration
	StateHash string
}

// Step is a single recorded change: a delta proposed by the local node,
// propagated to Targets and put to a vote among Participants.
type Step struct {
	StepID       string
	Delta        update.Delta
	Targets      []string
	Participants int
	Votes        []VoteSpec
}

// ReplayConfig bundles every pipeline stage config for a replay run.
type ReplayConfig struct {
	NodeID       string
	Algorithm    consensus.Algorithm
	Sync         orchestrator.Config
	Consensus    consensus.Config
	UpdateConfig update.UpdateConfig
	GateConfig   gate.GateConfig
	EvalConfig   eval.EvalConfig
}

// DefaultReplayConfig returns defaults for all pipeline stages.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		NodeID:       "local",
		Algorithm:    consensus.AlgorithmCoherence,
		Sync:         orchestrator.DefaultConfig(),
		Consensus:    consensus.DefaultConfig(),
		UpdateConfig: update.DefaultUpdateConfig(),
		GateConfig:   gate.DefaultGateConfig(),
		EvalConfig:   eval.DefaultEvalConfig(),
	}
}

// ReplayResult captures the outcome of replaying one step through the full pipeline.
type ReplayResult struct {
	StepID string
	Action string // "commit" | "gate_reject" | "no_op"
	Reason string

	// Update stage
	UpdateDecision update.Decision
	UpdateMetrics  update.Metrics

	// Sync and consensus stages (nil if update was no_op)
	Session      *transfer.Session
	Round        *consensus.Result
	VotesDropped int

	// Eval and gate stages (nil if update was no_op)
	EvalResult   *eval.EvalResult
	GateDecision *gate.GateDecision

	// State after this step (equals previous if rejected)
	FinalVersionID string
	FinalHash      string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalSteps   int
	Commits      int
	GateRejects  int
	NoOps        int
	MeanCoverage float64 // over steps that propagated
	FinalState   state.StateRecord
}

// #endregion types

// #region replay
// Replay runs each step through update → sync → vote → eval → gate and
// advances the state on commit. It runs in memory against links with a
// manual clock starting at Epoch, so the same input always replays the same way.
func Replay(start state.StateRecord, links topology.Provider, steps []Step, config ReplayConfig) ([]ReplayResult, state.StateRecord) {
	clk := clock.NewManual(Epoch)
	orch := orchestrator.New(config.Sync, links, clk, nil)
	validator := consensus.NewValidator(config.NodeID, config.Consensus, clk)
	gateInst := gate.NewGate(config.GateConfig)
	evalInst := eval.NewEvalHarness(config.EvalConfig)

	current := start
	results := make([]ReplayResult, 0, len(steps))

	for _, step := range steps {
		// 1. Update
		updateResult := update.Update(current, step.Delta, config.UpdateConfig)
		if updateResult.Decision.Action == "no_op" {
			results = append(results, ReplayResult{
				StepID:         step.StepID,
				Action:         "no_op",
				Reason:         updateResult.Decision.Reason,
				UpdateDecision: updateResult.Decision,
				UpdateMetrics:  updateResult.Metrics,
				FinalVersionID: current.VersionID,
				FinalHash:      current.StateHash,
			})
			continue
		}
		next := updateResult.NewState

		// 2. Propagate
		sess := orch.Sync(config.NodeID, next.Components, step.Targets)

		// 3. Vote
		result, dropped := runRound(validator, clk, next.StateHash, step, config)

		// 4. Eval
		evalResult := evalInst.Run(next, sess.Metrics.CoverageRatio)

		// 5. Gate
		gateDecision := gateInst.Evaluate(next, result, sess, evalResult, updateResult.Metrics)

		r := ReplayResult{
			StepID:         step.StepID,
			Reason:         gateDecision.Reason,
			UpdateDecision: updateResult.Decision,
			UpdateMetrics:  updateResult.Metrics,
			Session:        sess,
			Round:          &result,
			VotesDropped:   dropped,
			EvalResult:     &evalResult,
			GateDecision:   &gateDecision,
		}
		if gateDecision.Action == "commit" {
			current = next
			r.Action = "commit"
		} else {
			r.Action = "gate_reject"
		}
		r.FinalVersionID = current.VersionID
		r.FinalHash = current.StateHash
		results = append(results, r)
	}

	return results, current
}

// runRound proposes hash, casts the scripted votes and resolves the round,
// letting it time out when the votes never reach a quorum.
func runRound(v *consensus.Validator, clk *clock.Manual, hash string, step Step, config ReplayConfig) (consensus.Result, int) {
	round, err := v.Propose(hash, step.Participants, config.Algorithm)
	if err != nil {
		log.Printf("[VOTE] step=%s: %v", step.StepID, err)
		return consensus.Result{
			StateHash: hash,
			Status:    consensus.StatusFailed,
			Algorithm: config.Algorithm,
		}, len(step.Votes)
	}

	dropped := 0
	for _, vs := range step.Votes {
		clk.Advance(vs.After)
		voteHash := vs.StateHash
		if voteHash == "" {
			voteHash = hash
		}
		if !v.SubmitVote(round.ID, consensus.NewVote(vs.VoterID, voteHash, vs.Score, clk.Now())) {
			dropped++
		}
	}

	result, ok := v.Resolve(round.ID)
	if !ok {
		clk.Advance(config.Consensus.RoundTimeout)
		result, _ = v.Resolve(round.ID)
	}
	return result, dropped
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, finalState state.StateRecord) ReplaySummary {
	s := ReplaySummary{
		TotalSteps: len(results),
		FinalState: finalState,
	}
	var coverage float64
	synced := 0
	for _, r := range results {
		switch r.Action {
		case "commit":
			s.Commits++
		case "gate_reject":
			s.GateRejects++
		case "no_op":
			s.NoOps++
		}
		if r.Session != nil {
			coverage += r.Session.Metrics.CoverageRatio
			synced++
		}
	}
	if synced > 0 {
		s.MeanCoverage = coverage / float64(synced)
	}
	return s
}

// #endregion replay
