package gate

import (
	"fmt"
	"log"
	"math"

	"github.com/danielpatrickdp/meshsync/internal/consensus"
	"github.com/danielpatrickdp/meshsync/internal/eval"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/transfer"
	"github.com/danielpatrickdp/meshsync/internal/update"
)

// #region gate
// Gate decides whether a proposed state version may be committed.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate checks hard vetoes first, then scores soft signals. sess may be
// nil when the version was never propagated; the coverage veto is skipped.
func (g *Gate) Evaluate(
	proposed state.StateRecord,
	result consensus.Result,
	sess *transfer.Session,
	evalResult eval.EvalResult,
	metrics update.Metrics,
) GateDecision {
	var vetoes []VetoSignal

	// --- Hard veto pass ---

	// 1. Consensus must have accepted
	if !result.Accepted() {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoConsensus,
			Reason: fmt.Sprintf("round %s resolved %s", result.RoundID, result.Status),
		})
	}

	// 2. The round must be about this version
	if result.StateHash != proposed.StateHash {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoHashMismatch,
			Reason: fmt.Sprintf("round voted on %s, proposed %s", result.StateHash, proposed.StateHash),
		})
	}

	// 3. Propagation coverage
	coverage := 1.0
	if sess != nil {
		coverage = sess.Metrics.CoverageRatio
		if sess.StateHash != proposed.StateHash {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoHashMismatch,
				Reason: fmt.Sprintf("session carried %s, proposed %s", sess.StateHash, proposed.StateHash),
			})
		}
		if coverage < g.config.MinCoverage {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoCoverage,
				Reason: fmt.Sprintf("coverage %.2f below %.2f", coverage, g.config.MinCoverage),
			})
		}
	}

	// 4. State validation
	if !evalResult.Passed {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoEval,
			Reason: evalResult.Reason,
		})
	}

	// 5. Delta norm exceeds cap
	if metrics.DeltaNorm > g.config.MaxDeltaNorm {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoDelta,
			Reason: fmt.Sprintf("delta norm %.4f exceeds cap %.4f", metrics.DeltaNorm, g.config.MaxDeltaNorm),
		})
	}

	if len(vetoes) > 0 {
		log.Printf("[GATE] reject %s: %d vetoes, first: %s", proposed.VersionID, len(vetoes), vetoes[0].Reason)
		return GateDecision{
			Action:      "reject",
			Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			VetoSignals: vetoes,
			SoftScore:   0,
		}
	}

	// --- Soft scoring ---
	softScore := computeSoftScore(result.Confidence, coverage, metrics.DeltaNorm)

	return GateDecision{
		Action:      "commit",
		Reason:      fmt.Sprintf("passed gate: soft_score=%.4f", softScore),
		Vetoed:      false,
		VetoSignals: nil,
		SoftScore:   softScore,
	}
}

// #endregion gate

// #region helpers
// computeSoftScore produces a 0-1 composite from vote confidence, coverage
// and delta stability. Logged but never blocks.
func computeSoftScore(confidence, coverage, deltaNorm float64) float64 {
	var score float64

	// Confidence component (weight 0.4); byzantine confidence can exceed 1
	score += 0.4 * math.Min(math.Max(confidence, 0), 1)

	// Coverage component (weight 0.3)
	score += 0.3 * math.Min(math.Max(coverage, 0), 1)

	// Delta stability component: smaller deltas are more stable (weight 0.3)
	if deltaNorm == 0 {
		score += 0.3
	} else if deltaNorm < 1.0 {
		score += 0.3 * (1.0 - deltaNorm)
	}

	return score
}

// #endregion helpers
