package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/state"
)

// #region eval-harness
// EvalHarness runs lightweight validation on a candidate state.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates rec before it is committed. coverage is the propagation
// session's coverage ratio; it is reported but never fails the run.
func (h *EvalHarness) Run(rec state.StateRecord, coverage float64) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	fail := func(reason string) {
		passed = false
		failReasons = append(failReasons, reason)
	}

	// 1. Component count
	count := len(rec.Components)
	countPass := count >= h.config.MinComponents
	metrics = append(metrics, EvalMetric{Name: "components", Value: float64(count), Pass: countPass})
	if !countPass {
		fail(fmt.Sprintf("%d components below minimum %d", count, h.config.MinComponents))
	}

	// 2. Finite weights
	nonFinite := 0
	for _, w := range rec.Components {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			nonFinite++
		}
	}
	finitePass := nonFinite == 0
	metrics = append(metrics, EvalMetric{Name: "non_finite", Value: float64(nonFinite), Pass: finitePass})
	if !finitePass {
		fail(fmt.Sprintf("%d non-finite weights", nonFinite))
	}

	// 3. Unit norm
	norm := rec.Components.Norm()
	normPass := finitePass && math.Abs(norm-1) <= h.config.NormTolerance
	metrics = append(metrics, EvalMetric{Name: "norm", Value: norm, Pass: normPass})
	if !normPass {
		fail(fmt.Sprintf("norm %.6f outside 1±%g", norm, h.config.NormTolerance))
	}

	// 4. Recorded hash matches the components
	if rec.StateHash != "" {
		hashPass := rec.StateHash == codec.StateHash(rec.Components)
		metrics = append(metrics, EvalMetric{Name: "hash_match", Value: boolValue(hashPass), Pass: hashPass})
		if !hashPass {
			fail("state hash does not match components")
		}
	}

	// 5. Coverage: informational only
	metrics = append(metrics, EvalMetric{
		Name:  "coverage",
		Value: coverage,
		Pass:  coverage >= h.config.CoverageBaseline,
	})

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
