package eval

// #region eval-config
// EvalConfig holds thresholds for pre-commit state validation.
type EvalConfig struct {
	MinComponents    int     // reject states with fewer components
	NormTolerance    float64 // reject if |‖s‖ − 1| exceeds this
	CoverageBaseline float64 // warn if session coverage falls below baseline
}

// DefaultEvalConfig returns the standard validation thresholds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinComponents:    1,
		NormTolerance:    1e-3,
		CoverageBaseline: 0.5,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of state validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
