package orchestrator

// #region imports
import (
	"database/sql"
	"math"
	"time"

	"github.com/danielpatrickdp/meshsync/internal/transfer"
)

// #endregion

// #region schema

const strategyOutcomesSchema = `
CREATE TABLE IF NOT EXISTS strategy_outcomes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL,
    mode        TEXT NOT NULL,
    strategy    TEXT NOT NULL,
    link_class  TEXT NOT NULL,
    attempted   INTEGER NOT NULL,
    reached     INTEGER NOT NULL,
    created_at  TEXT NOT NULL
);
`

const strategyOutcomesIndex = `
CREATE INDEX IF NOT EXISTS idx_strategy_outcomes_lookup
ON strategy_outcomes(link_class, strategy);
`

// minSamples is the row count a strategy needs before its rate is trusted.
const minSamples = 3

// #endregion

// #region memory-struct

// OutcomeMemory persists per-step reach counts in SQLite and reports
// decay-weighted success rates per strategy and link class.
type OutcomeMemory struct {
	db       *sql.DB
	halfLife float64 // hours
}

// NewOutcomeMemory initializes the strategy_outcomes table.
func NewOutcomeMemory(db *sql.DB) (*OutcomeMemory, error) {
	if _, err := db.Exec(strategyOutcomesSchema); err != nil {
		return nil, err
	}
	if _, err := db.Exec(strategyOutcomesIndex); err != nil {
		return nil, err
	}
	return &OutcomeMemory{db: db, halfLife: 7 * 24}, nil
}

// #endregion

// #region record-outcome

// RecordOutcome persists one outcome row.
func (m *OutcomeMemory) RecordOutcome(rec OutcomeRecord) error {
	_, err := m.db.Exec(`
		INSERT INTO strategy_outcomes
		(session_id, mode, strategy, link_class, attempted, reached, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		string(rec.Mode),
		string(rec.Strategy),
		string(rec.LinkClass),
		rec.Attempted,
		rec.Reached,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// #endregion

// #region success-rate

// StrategyStats is the decay-weighted reach rate of one strategy.
type StrategyStats struct {
	Strategy transfer.Kind
	Rate     float64
	Samples  int
}

// SuccessRates returns weighted reached/attempted per strategy for a link
// class, as of now. Strategies with no attempts are absent.
func (m *OutcomeMemory) SuccessRates(class LinkClass, now time.Time) (map[transfer.Kind]StrategyStats, error) {
	rows, err := m.db.Query(`
		SELECT strategy, attempted, reached, created_at
		FROM strategy_outcomes
		WHERE link_class = ? AND attempted > 0`,
		string(class),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type accum struct {
		reached   float64
		attempted float64
		count     int
	}
	acc := make(map[transfer.Kind]*accum)

	for rows.Next() {
		var kind string
		var attempted, reached int
		var createdAtStr string
		if err := rows.Scan(&kind, &attempted, &reached, &createdAtStr); err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			continue
		}
		weight := math.Exp(-now.Sub(createdAt).Hours() / m.halfLife)

		k := transfer.Kind(kind)
		a, ok := acc[k]
		if !ok {
			a = &accum{}
			acc[k] = a
		}
		a.reached += float64(reached) * weight
		a.attempted += float64(attempted) * weight
		a.count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[transfer.Kind]StrategyStats, len(acc))
	for k, a := range acc {
		var rate float64
		if a.attempted > 0 {
			rate = a.reached / a.attempted
		}
		out[k] = StrategyStats{Strategy: k, Rate: rate, Samples: a.count}
	}
	return out, nil
}

// BestStrategy returns the strategy with the highest weighted rate for class
// among those with at least three samples. Returns ("", 0, nil) otherwise.
func (m *OutcomeMemory) BestStrategy(class LinkClass, now time.Time) (transfer.Kind, float64, error) {
	stats, err := m.SuccessRates(class, now)
	if err != nil {
		return "", 0, err
	}
	var best transfer.Kind
	bestRate := -1.0
	for k, s := range stats {
		if s.Samples < minSamples {
			continue
		}
		if s.Rate > bestRate || (s.Rate == bestRate && k < best) {
			best, bestRate = k, s.Rate
		}
	}
	if best == "" {
		return "", 0, nil
	}
	return best, bestRate, nil
}

// #endregion
