package logging

import (
	"sort"

	"github.com/danielpatrickdp/meshsync/internal/consensus"
	"github.com/danielpatrickdp/meshsync/internal/eval"
	"github.com/danielpatrickdp/meshsync/internal/gate"
	"github.com/danielpatrickdp/meshsync/internal/transfer"
	"github.com/danielpatrickdp/meshsync/internal/update"
)

// #region gate-inputs
// GateInputs is everything that fed one gate decision.
type GateInputs struct {
	Delta      update.Delta
	Update     update.UpdateResult
	Session    *transfer.Session // nil if never propagated
	Round      consensus.Round
	Result     consensus.Result
	Eval       eval.EvalResult
	GateConfig gate.GateConfig
	EvalConfig eval.EvalConfig
	Decision   gate.GateDecision
}

// NewGateRecord flattens in into its JSON-serializable form.
func NewGateRecord(in GateInputs) GateRecord {
	proposed := in.Update.NewState
	rec := GateRecord{
		VersionID: proposed.VersionID,
		ParentID:  proposed.ParentID,
		StateHash: proposed.StateHash,
		Changes:   in.Delta.Changes,
		Removed:   in.Delta.Remove,
		Round: GateRecordRound{
			RoundID:      in.Result.RoundID,
			StateHash:    in.Result.StateHash,
			Status:       string(in.Result.Status),
			Algorithm:    string(in.Result.Algorithm),
			Confidence:   in.Result.Confidence,
			VoteCount:    in.Result.VoteCount,
			Participants: in.Round.Participants,
		},
		DeltaNorm:  in.Update.Metrics.DeltaNorm,
		Touched:    in.Update.Metrics.Touched,
		EvalPassed: in.Eval.Passed,
		EvalReason: in.Eval.Reason,
		Thresholds: GateRecordThresholds{
			MinCoverage:   in.GateConfig.MinCoverage,
			MaxDeltaNorm:  in.GateConfig.MaxDeltaNorm,
			NormTolerance: in.EvalConfig.NormTolerance,
		},
		GateAction:    in.Decision.Action,
		GateSoftScore: in.Decision.SoftScore,
		GateVetoed:    in.Decision.Vetoed,
		GateReason:    in.Decision.Reason,
	}

	voters := make([]string, 0, len(in.Round.Votes))
	for id := range in.Round.Votes {
		voters = append(voters, id)
	}
	sort.Strings(voters)
	for _, id := range voters {
		rec.Round.Votes = append(rec.Round.Votes, GateRecordVote{VoterID: id, Score: in.Round.Votes[id].Score})
	}

	if sess := in.Session; sess != nil {
		rec.SessionID = sess.ID
		rec.Session = GateRecordSession{
			TargetIDs:       append([]string(nil), sess.Targets...),
			Targets:         len(sess.Targets),
			Reached:         sess.Metrics.NodesReached,
			CoverageRatio:   sess.Metrics.CoverageRatio,
			AverageHopCount: sess.Metrics.AverageHopCount,
			Corrected:       sess.Metrics.CorrectedTransfersUsed,
			Fragments:       sess.Metrics.FragmentsDistributed,
		}
	}
	return rec
}

// #endregion gate-inputs
