package logging

import (
	"database/sql"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/consensus"
	"github.com/danielpatrickdp/meshsync/internal/state"
)

// #region helpers
func setupStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.NewStore(filepath.Join(t.TempDir(), "log.db"), codec.StateHash)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// #endregion helpers

// #region log-decision-tests
func TestLogDecision_Success(t *testing.T) {
	s := setupStore(t)

	rec := GateRecord{
		VersionID:  "v1",
		StateHash:  "00000000000000aa",
		Session:    GateRecordSession{Targets: 4, Reached: 3, CoverageRatio: 0.75},
		Round:      GateRecordRound{RoundID: "r1", Status: "ACCEPTED", Confidence: 0.9},
		GateAction: "commit",
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	err = LogDecision(s.DB(), DecisionEntry{
		VersionID:   "v1",
		StateHash:   "00000000000000aa",
		RoundID:     "r1",
		Status:      "ACCEPTED",
		Confidence:  0.9,
		TriggerType: "commit",
		Decision:    "commit",
		Reason:      "all checks passed",
		RecordJSON:  string(raw),
		CreatedAt:   time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := s.ListDecisions(10)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].VersionID != "v1" || rows[0].Decision != "commit" || rows[0].RoundID != "r1" {
		t.Errorf("unexpected row: %+v", rows[0])
	}

	var stored string
	s.DB().QueryRow("SELECT record_json FROM decision_log").Scan(&stored)
	var back GateRecord
	if err := json.Unmarshal([]byte(stored), &back); err != nil {
		t.Fatalf("unmarshal record_json: %v", err)
	}
	if back.Session.CoverageRatio != 0.75 || back.Round.RoundID != "r1" {
		t.Errorf("record_json lost fields: %+v", back)
	}
}

func TestLogDecision_ZeroCreatedAt(t *testing.T) {
	s := setupStore(t)

	before := time.Now().UTC()
	err := LogDecision(s.DB(), DecisionEntry{
		StateHash:   "0000000000000001",
		TriggerType: "commit",
		Decision:    "no_op",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	s.DB().QueryRow("SELECT created_at FROM decision_log").Scan(&createdAtStr)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogDecision_EmptyOptionalFields(t *testing.T) {
	s := setupStore(t)

	err := LogDecision(s.DB(), DecisionEntry{
		StateHash:   "0000000000000002",
		TriggerType: "commit",
		Decision:    "reject",
		CreatedAt:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var versionID, roundID, status, reason, recordJSON sql.NullString
	s.DB().QueryRow("SELECT version_id, round_id, status, reason, record_json FROM decision_log").Scan(
		&versionID, &roundID, &status, &reason, &recordJSON,
	)
	for name, v := range map[string]sql.NullString{
		"version_id":  versionID,
		"round_id":    roundID,
		"status":      status,
		"reason":      reason,
		"record_json": recordJSON,
	} {
		if v.Valid {
			t.Errorf("expected NULL %s for empty string", name)
		}
	}
}

func TestLogDecision_Error(t *testing.T) {
	s := setupStore(t)
	s.Close() // close to force error

	err := LogDecision(s.DB(), DecisionEntry{
		StateHash:   "0000000000000003",
		TriggerType: "commit",
		Decision:    "commit",
	})
	if err == nil {
		t.Fatal("expected error on closed db")
	}
}

func TestLogGateDecision(t *testing.T) {
	s := setupStore(t)
	entry := DecisionEntry{
		VersionID:   "v2",
		StateHash:   "00000000000000bb",
		RoundID:     "r2",
		TriggerType: "commit",
		Decision:    "commit",
		CreatedAt:   time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	}

	bad := GateRecord{VersionID: "v2", DeltaNorm: math.NaN()}
	if err := LogGateDecision(s.DB(), entry, bad); err == nil {
		t.Fatal("expected error for a record that cannot be marshaled")
	}
	var count int
	s.DB().QueryRow("SELECT COUNT(*) FROM decision_log").Scan(&count)
	if count != 0 {
		t.Fatalf("expected no row for a failed marshal, got %d", count)
	}

	good := GateRecord{VersionID: "v2", DeltaNorm: 0.2, GateAction: "commit"}
	if err := LogGateDecision(s.DB(), entry, good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stored string
	s.DB().QueryRow("SELECT record_json FROM decision_log").Scan(&stored)
	var back GateRecord
	if err := json.Unmarshal([]byte(stored), &back); err != nil {
		t.Fatalf("unmarshal record_json: %v", err)
	}
	if back.VersionID != "v2" || back.DeltaNorm != 0.2 {
		t.Errorf("record_json lost fields: %+v", back)
	}
}

// #endregion log-decision-tests

// #region round-recorder-tests
func TestRoundRecorder_WritesResolvedRounds(t *testing.T) {
	s := setupStore(t)
	rec := NewRoundRecorder(s.DB())

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	results := []consensus.Result{
		{RoundID: "r1", StateHash: "aa", Status: consensus.StatusAccepted, Algorithm: consensus.AlgorithmCoherence, Confidence: 0.9, VoteCount: 3, RequiredVotes: 3, ResolvedAt: at},
		{RoundID: "r2", StateHash: "bb", Status: consensus.StatusTimeout, Algorithm: consensus.AlgorithmMajority, VoteCount: 1, RequiredVotes: 3, ResolvedAt: at.Add(time.Second)},
	}
	for _, r := range results {
		if err := rec.RecordResult(r); err != nil {
			t.Fatalf("record %s: %v", r.RoundID, err)
		}
	}

	rows, err := s.ListDecisions(10)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// Newest first.
	if rows[0].RoundID != "r2" || rows[0].Decision != "timeout" || rows[0].Status != "TIMEOUT" {
		t.Errorf("unexpected newest row: %+v", rows[0])
	}
	if rows[1].Confidence != 0.9 || rows[1].Reason != "coherence votes=3/3" {
		t.Errorf("unexpected oldest row: %+v", rows[1])
	}
	if !rows[1].CreatedAt.Equal(at) {
		t.Errorf("expected resolved_at %v, got %v", at, rows[1].CreatedAt)
	}
}

// #endregion round-recorder-tests

// #region null-if-empty-tests
func TestNullIfEmpty_Empty(t *testing.T) {
	result := nullIfEmpty("")
	if result != nil {
		t.Errorf("expected nil for empty string, got %v", result)
	}
}

func TestNullIfEmpty_NonEmpty(t *testing.T) {
	result := nullIfEmpty("hello")
	if result != "hello" {
		t.Errorf("expected 'hello', got %v", result)
	}
}

// #endregion null-if-empty-tests
