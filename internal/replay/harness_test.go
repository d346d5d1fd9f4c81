package replay

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/consensus"
	"github.com/danielpatrickdp/meshsync/internal/gate"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
	"github.com/danielpatrickdp/meshsync/internal/update"
)

// helper: normalized two-component start state.
func startState() state.StateRecord {
	s := state.State{1: 0.6, 2: 0.8}
	return state.StateRecord{VersionID: "v0", Components: s, StateHash: codec.StateHash(s)}
}

// helper: local node with two strong neighbours.
func strongMesh() *topology.Static {
	top := topology.NewStatic()
	top.Connect("local", "a", 0.95)
	top.Connect("local", "b", 0.95)
	return top
}

// helper: step adding component 3, voted on by a and b.
func voteStep(id string, scoreA, scoreB float64) Step {
	return Step{
		StepID:       id,
		Delta:        update.Delta{Source: "local", Changes: map[int]float64{3: 0.2}},
		Targets:      []string{"a", "b"},
		Participants: 3,
		Votes: []VoteSpec{
			{VoterID: "a", Score: scoreA},
			{VoterID: "b", Score: scoreB},
		},
	}
}

// 1. Full commit path: accepted round, full coverage → commit, state advances.
func TestReplay_FullCommitPath(t *testing.T) {
	start := startState()
	results, final := Replay(start, strongMesh(), []Step{voteStep("step-1", 0.9, 0.9)}, DefaultReplayConfig())

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Action != "commit" {
		t.Fatalf("expected action=commit, got %s (%s)", r.Action, r.Reason)
	}
	if r.FinalVersionID == start.VersionID || final.VersionID != r.FinalVersionID {
		t.Error("expected state to advance to the new version")
	}
	if final.ParentID != start.VersionID {
		t.Errorf("expected parent %s, got %s", start.VersionID, final.ParentID)
	}
	if r.Session == nil || r.Session.Metrics.CoverageRatio != 1.0 {
		t.Errorf("expected full coverage, got %+v", r.Session)
	}
	if r.Session.Metrics.CorrectedTransfersUsed != 2 {
		t.Errorf("strong links should use corrected transfer, got %d", r.Session.Metrics.CorrectedTransfersUsed)
	}
	if r.Round == nil || r.Round.Status != consensus.StatusAccepted {
		t.Errorf("expected ACCEPTED round, got %+v", r.Round)
	}
	if r.Round.VoteCount != 3 {
		t.Errorf("expected self vote plus two peers, got %d", r.Round.VoteCount)
	}
	if r.EvalResult == nil || !r.EvalResult.Passed {
		t.Error("expected EvalResult.Passed=true")
	}
	if r.GateDecision == nil || r.GateDecision.Vetoed {
		t.Error("expected an unvetoed GateDecision")
	}
}

// 2. Rejected vote: low peer scores → gate_reject, state unchanged.
func TestReplay_VoteRejection(t *testing.T) {
	start := startState()
	results, final := Replay(start, strongMesh(), []Step{voteStep("step-1", 0.4, 0.4)}, DefaultReplayConfig())

	r := results[0]
	if r.Action != "gate_reject" {
		t.Fatalf("expected action=gate_reject, got %s", r.Action)
	}
	if r.Round.Status != consensus.StatusRejected {
		t.Errorf("expected REJECTED, got %s", r.Round.Status)
	}
	if r.GateDecision.VetoSignals[0].Type != gate.VetoConsensus {
		t.Errorf("expected consensus veto first, got %s", r.GateDecision.VetoSignals[0].Type)
	}
	if final.VersionID != start.VersionID || r.FinalHash != start.StateHash {
		t.Error("expected state unchanged after rejection")
	}
}

// 3. Empty delta → no_op; nothing is propagated or voted on.
func TestReplay_NoOp(t *testing.T) {
	step := Step{StepID: "step-1", Targets: []string{"a"}, Participants: 3}
	results, _ := Replay(startState(), strongMesh(), []Step{step}, DefaultReplayConfig())

	r := results[0]
	if r.Action != "no_op" {
		t.Fatalf("expected action=no_op, got %s", r.Action)
	}
	if r.Session != nil || r.Round != nil || r.GateDecision != nil {
		t.Error("no_op should skip sync, vote and gate")
	}
}

// 4. Too few votes: the round times out and the gate rejects.
func TestReplay_RoundTimeout(t *testing.T) {
	step := voteStep("step-1", 0.9, 0.9)
	step.Votes = step.Votes[:1]
	results, _ := Replay(startState(), strongMesh(), []Step{step}, DefaultReplayConfig())

	r := results[0]
	if r.Round.Status != consensus.StatusTimeout {
		t.Fatalf("expected TIMEOUT, got %s", r.Round.Status)
	}
	if r.Action != "gate_reject" {
		t.Errorf("expected gate_reject, got %s", r.Action)
	}
}

// 5. Invalid participant count: the round never opens.
func TestReplay_InvalidParticipants(t *testing.T) {
	step := voteStep("step-1", 0.9, 0.9)
	step.Participants = 0
	results, _ := Replay(startState(), strongMesh(), []Step{step}, DefaultReplayConfig())

	r := results[0]
	if r.Round.Status != consensus.StatusFailed {
		t.Errorf("expected FAILED, got %s", r.Round.Status)
	}
	if r.VotesDropped != 2 {
		t.Errorf("expected both votes dropped, got %d", r.VotesDropped)
	}
	if r.Action != "gate_reject" {
		t.Errorf("expected gate_reject, got %s", r.Action)
	}
}

// 6. Votes on the wrong hash are dropped and never count toward quorum.
func TestReplay_WrongHashVotesDropped(t *testing.T) {
	step := voteStep("step-1", 0.9, 0.9)
	step.Votes[1].StateHash = "ffffffffffffffff"
	results, _ := Replay(startState(), strongMesh(), []Step{step}, DefaultReplayConfig())

	r := results[0]
	if r.VotesDropped != 1 {
		t.Errorf("expected 1 dropped vote, got %d", r.VotesDropped)
	}
	if r.Round.Status != consensus.StatusTimeout {
		t.Errorf("expected TIMEOUT with one peer short, got %s", r.Round.Status)
	}
}

// 7. Unreachable targets pull coverage under the gate minimum.
func TestReplay_CoverageVeto(t *testing.T) {
	step := voteStep("step-1", 0.9, 0.9)
	step.Targets = []string{"a", "x", "y", "z"}
	results, _ := Replay(startState(), strongMesh(), []Step{step}, DefaultReplayConfig())

	r := results[0]
	if r.Session.Metrics.CoverageRatio != 0.25 {
		t.Fatalf("expected coverage 0.25, got %f", r.Session.Metrics.CoverageRatio)
	}
	found := false
	for _, v := range r.GateDecision.VetoSignals {
		if v.Type == gate.VetoCoverage {
			found = true
		}
	}
	if !found {
		t.Errorf("expected coverage veto, got %+v", r.GateDecision.VetoSignals)
	}
}

// 8. Multi-step: rejected steps build on the last committed state.
func TestReplay_MultiStep(t *testing.T) {
	steps := []Step{
		voteStep("step-1", 0.9, 0.9),
		voteStep("step-2", 0.1, 0.1),
		{
			StepID:       "step-3",
			Delta:        update.Delta{Changes: map[int]float64{4: 0.1}},
			Targets:      []string{"a", "b"},
			Participants: 3,
			Votes:        []VoteSpec{{VoterID: "a", Score: 1}, {VoterID: "b", Score: 1}},
		},
	}
	results, final := Replay(startState(), strongMesh(), steps, DefaultReplayConfig())

	want := []string{"commit", "gate_reject", "commit"}
	for i, w := range want {
		if results[i].Action != w {
			t.Errorf("step %d: expected %s, got %s", i+1, w, results[i].Action)
		}
	}
	if results[1].FinalVersionID != results[0].FinalVersionID {
		t.Error("rejected step should keep the step-1 version")
	}
	if final.ParentID != results[0].FinalVersionID {
		t.Errorf("step-3 should build on step-1, parent=%s", final.ParentID)
	}

	sum := Summarize(results, final)
	if sum.TotalSteps != 3 || sum.Commits != 2 || sum.GateRejects != 1 || sum.NoOps != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if math.Abs(sum.MeanCoverage-1.0) > 1e-9 {
		t.Errorf("expected mean coverage 1.0, got %f", sum.MeanCoverage)
	}
}
