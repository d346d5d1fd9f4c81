package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/meshsync/internal/consensus"
)

// #region log-decision
// LogDecision writes an entry to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO decision_log (version_id, state_hash, round_id, status, confidence, trigger_type, decision, reason, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(entry.VersionID),
		entry.StateHash,
		nullIfEmpty(entry.RoundID),
		nullIfEmpty(entry.Status),
		entry.Confidence,
		entry.TriggerType,
		entry.Decision,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.RecordJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// LogGateDecision stores record as the entry's record_json and logs it.
// A record that cannot be marshaled is an error and nothing is written.
func LogGateDecision(db *sql.DB, entry DecisionEntry, record GateRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal gate record: %w", err)
	}
	entry.RecordJSON = string(raw)
	return LogDecision(db, entry)
}

// #endregion log-decision

// #region round-recorder
// RoundRecorder writes every resolved consensus round to decision_log.
type RoundRecorder struct {
	db *sql.DB
}

// NewRoundRecorder returns a consensus.Recorder backed by db.
func NewRoundRecorder(db *sql.DB) *RoundRecorder {
	return &RoundRecorder{db: db}
}

// RecordResult logs r with trigger type "round".
func (r *RoundRecorder) RecordResult(res consensus.Result) error {
	return LogDecision(r.db, DecisionEntry{
		StateHash:   res.StateHash,
		RoundID:     res.RoundID,
		Status:      string(res.Status),
		Confidence:  res.Confidence,
		TriggerType: "round",
		Decision:    strings.ToLower(string(res.Status)),
		Reason:      fmt.Sprintf("%s votes=%d/%d", res.Algorithm, res.VoteCount, res.RequiredVotes),
		CreatedAt:   res.ResolvedAt,
	})
}

var _ consensus.Recorder = (*RoundRecorder)(nil)

// #endregion round-recorder

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
