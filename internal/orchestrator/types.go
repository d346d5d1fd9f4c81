package orchestrator

// #region imports
import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/danielpatrickdp/meshsync/internal/transfer"
)

// #endregion

// #region mode

// Mode selects how targets are routed to strategies.
type Mode string

const (
	ModeAdaptive       Mode = "adaptive"
	ModeCorrectedFirst Mode = "corrected_first"
	ModeWeightedOnly   Mode = "weighted_only"
	ModeWaveOnly       Mode = "wave_only"
	ModeCoherenceOnly  Mode = "coherence_only"
)

// ParseMode maps a mode name to a Mode. Unknown names report false.
func ParseMode(s string) (Mode, bool) {
	m := Mode(s)
	_, ok := Plans[m]
	return m, ok
}

// #endregion

// #region link-class

// LinkClass buckets a target by the quality of its direct link.
type LinkClass string

const (
	LinkStrong LinkClass = "strong"
	LinkWeak   LinkClass = "weak"
)

// #endregion

// #region config

// Config holds orchestrator tuning.
type Config struct {
	Mode      Mode
	Budget    time.Duration
	Corrected transfer.CorrectedConfig
	Weighted  transfer.WeightedConfig
	Wave      transfer.WaveConfig
}

// DefaultConfig returns adaptive routing with the standard strategy settings.
// Environment overrides: SYNC_MODE, SYNC_STRONG_THRESHOLD, SYNC_REDUNDANCY,
// SYNC_MIN_FRAGMENTS, SYNC_BUDGET.
func DefaultConfig() Config {
	cfg := Config{
		Mode:      ModeAdaptive,
		Budget:    transfer.DefaultBudget,
		Corrected: transfer.DefaultCorrectedConfig(),
		Weighted:  transfer.DefaultWeightedConfig(),
		Wave:      transfer.DefaultWaveConfig(),
	}
	if v := os.Getenv("SYNC_MODE"); v != "" {
		if m, ok := ParseMode(v); ok {
			cfg.Mode = m
		} else {
			log.Printf("[SYNC] ignoring unknown SYNC_MODE=%q", v)
		}
	}
	if v := os.Getenv("SYNC_STRONG_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Corrected.StrongThreshold = f
		}
	}
	if v := os.Getenv("SYNC_REDUNDANCY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Weighted.Redundancy = f
		}
	}
	if v := os.Getenv("SYNC_MIN_FRAGMENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Weighted.MinFragmentsPerNode = n
		}
	}
	if v := os.Getenv("SYNC_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Budget = d
		}
	}
	return cfg
}

// #endregion

// #region outcome-record

// OutcomeRecord is one strategy step of one session, split by link class.
type OutcomeRecord struct {
	SessionID string
	Mode      Mode
	Strategy  transfer.Kind
	LinkClass LinkClass
	Attempted int
	Reached   int
	CreatedAt time.Time
}

// #endregion
