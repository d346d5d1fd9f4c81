package orchestrator

import (
	"database/sql"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/meshsync/internal/transfer"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func record(t *testing.T, mem *OutcomeMemory, kind transfer.Kind, class LinkClass, attempted, reached int, at time.Time) {
	t.Helper()
	err := mem.RecordOutcome(OutcomeRecord{
		SessionID: "sess", Mode: ModeAdaptive, Strategy: kind, LinkClass: class,
		Attempted: attempted, Reached: reached, CreatedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOutcomeMemory_RecordAndQuery(t *testing.T) {
	mem, err := NewOutcomeMemory(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	// No data → empty result
	kind, _, err := mem.BestStrategy(LinkWeak, now)
	if err != nil {
		t.Fatal(err)
	}
	if kind != "" {
		t.Errorf("expected no strategy, got %q", kind)
	}

	// 2 samples → still below threshold of 3
	for i := 0; i < 2; i++ {
		record(t, mem, transfer.KindWeighted, LinkWeak, 4, 3, now)
	}
	kind, _, _ = mem.BestStrategy(LinkWeak, now)
	if kind != "" {
		t.Errorf("expected empty (below threshold), got %q", kind)
	}

	record(t, mem, transfer.KindWeighted, LinkWeak, 4, 3, now)
	kind, rate, err := mem.BestStrategy(LinkWeak, now)
	if err != nil {
		t.Fatal(err)
	}
	if kind != transfer.KindWeighted {
		t.Errorf("expected %q, got %q", transfer.KindWeighted, kind)
	}
	if math.Abs(rate-0.75) > 1e-9 {
		t.Errorf("expected rate 0.75, got %.2f", rate)
	}
}

func TestOutcomeMemory_BestStrategy_PicksHigherRate(t *testing.T) {
	mem, err := NewOutcomeMemory(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	for i := 0; i < 4; i++ {
		record(t, mem, transfer.KindWeighted, LinkWeak, 5, 2, now)
		record(t, mem, transfer.KindWave, LinkWeak, 5, 4, now)
		record(t, mem, transfer.KindCorrected, LinkStrong, 2, 2, now)
	}

	kind, _, err := mem.BestStrategy(LinkWeak, now)
	if err != nil {
		t.Fatal(err)
	}
	if kind != transfer.KindWave {
		t.Errorf("expected %q, got %q", transfer.KindWave, kind)
	}
}

func TestOutcomeMemory_DecayFavorsRecent(t *testing.T) {
	mem, err := NewOutcomeMemory(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	old := now.Add(-60 * 24 * time.Hour)

	// Old rows say wave never works; recent rows say it always does.
	for i := 0; i < 3; i++ {
		record(t, mem, transfer.KindWave, LinkWeak, 10, 0, old)
		record(t, mem, transfer.KindWave, LinkWeak, 10, 10, now)
	}
	stats, err := mem.SuccessRates(LinkWeak, now)
	if err != nil {
		t.Fatal(err)
	}
	if s := stats[transfer.KindWave]; s.Rate < 0.99 || s.Samples != 6 {
		t.Errorf("expected recent rows to dominate, got %+v", s)
	}
}
