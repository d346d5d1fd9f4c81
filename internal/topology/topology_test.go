package topology

import (
	"database/sql"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// #region test-static
func TestStaticQueries(t *testing.T) {
	top := NewStatic()
	top.Connect("a", "b", 0.9)
	top.SetLink("a", "c", 0.4)
	top.SetLink("a", "d", 0.9)
	top.SetLink("a", "e", 1.7) // clamped
	top.SetCoherence("a", 0.5)

	if q := top.LinkQuality("a", "b"); q != 0.9 {
		t.Errorf("expected 0.9, got %f", q)
	}
	if q := top.LinkQuality("b", "a"); q != 0.9 {
		t.Errorf("Connect should be symmetric, got %f", q)
	}
	if q := top.LinkQuality("c", "a"); q != 0 {
		t.Errorf("unknown link should be 0, got %f", q)
	}
	if q := top.LinkQuality("a", "e"); q != 1 {
		t.Errorf("expected clamp to 1, got %f", q)
	}

	want := []string{"e", "b", "d", "c"}
	got := top.Neighbors("a")
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if c := top.LocalCoherence("a"); c != 0.5 {
		t.Errorf("expected 0.5, got %f", c)
	}
	if c := top.LocalCoherence("zzz"); c != 1.0 {
		t.Errorf("expected default coherence 1.0, got %f", c)
	}
	if len(top.Links()) != 5 {
		t.Errorf("expected 5 directed links, got %d", len(top.Links()))
	}
}

func TestStaticClampsNonFinite(t *testing.T) {
	top := NewStatic()
	top.Connect("a", "b", math.NaN())
	top.SetLink("a", "c", math.Inf(1))
	top.SetCoherence("a", math.NaN())

	if q := top.LinkQuality("a", "b"); q != 0 {
		t.Errorf("NaN quality should clamp to 0, got %f", q)
	}
	if q := top.LinkQuality("b", "a"); q != 0 {
		t.Errorf("NaN quality should clamp to 0 in both directions, got %f", q)
	}
	if q := top.LinkQuality("a", "c"); q != 1 {
		t.Errorf("+Inf quality should clamp to 1, got %f", q)
	}
	if c := top.LocalCoherence("a"); c != 0 {
		t.Errorf("NaN coherence should clamp to 0, got %f", c)
	}
}

// #endregion test-static

// #region test-store
func TestStoreSetLinkAndLoad(t *testing.T) {
	db := setupTestDB(t)
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := s.Connect("a", "b", 0.95); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.SetLink("a", "c", 0.3); err != nil {
		t.Fatalf("set link: %v", err)
	}
	// Overwrite keeps one row.
	if err := s.SetLink("a", "c", 0.35); err != nil {
		t.Fatalf("set link: %v", err)
	}
	if err := s.SetCoherence("a", 0.92); err != nil {
		t.Fatalf("set coherence: %v", err)
	}

	links, err := s.Neighbors("a", 0)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	if links[0].Target != "b" || links[1].Quality != 0.35 {
		t.Errorf("unexpected links: %+v", links)
	}

	strong, _ := s.Neighbors("a", 0.5)
	if len(strong) != 1 {
		t.Errorf("expected 1 strong link, got %d", len(strong))
	}

	top, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if top.LinkQuality("b", "a") != 0.95 {
		t.Errorf("expected 0.95, got %f", top.LinkQuality("b", "a"))
	}
	if top.LocalCoherence("a") != 0.92 {
		t.Errorf("expected 0.92, got %f", top.LocalCoherence("a"))
	}
}

func TestStoreDecayAll(t *testing.T) {
	db := setupTestDB(t)
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	past := time.Now().UTC().Add(-96 * time.Hour).Format(time.RFC3339)
	db.Exec(
		`INSERT INTO links (source_id, target_id, quality, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		"old-a", "old-b", 0.03, past, past,
	)
	s.SetLink("new-a", "new-b", 0.5)

	// 0.03 * exp(-2 ln2) = 0.0075 < 0.01 → deleted
	deleted, err := s.DecayAll(48.0)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted link, got %d", deleted)
	}

	links, _ := s.Neighbors("new-a", 0)
	if len(links) != 1 || links[0].Quality < 0.49 {
		t.Errorf("fresh link should barely decay, got %+v", links)
	}
}

func TestStoreSeverNode(t *testing.T) {
	db := setupTestDB(t)
	s, _ := NewStore(db)

	s.Connect("a", "b", 0.5)
	s.Connect("b", "c", 0.5)
	s.SetCoherence("b", 0.7)

	if err := s.SeverNode("b"); err != nil {
		t.Fatalf("sever: %v", err)
	}
	for _, n := range []string{"a", "b", "c"} {
		links, _ := s.Neighbors(n, 0)
		if len(links) != 0 {
			t.Errorf("expected no links from %s, got %d", n, len(links))
		}
	}
	top, _ := s.Load()
	if top.LocalCoherence("b") != 1.0 {
		t.Errorf("coherence row should be gone, got %f", top.LocalCoherence("b"))
	}
}

// #endregion test-store
