package topology

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS links (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id   TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    quality     REAL NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    UNIQUE(source_id, target_id)
);
CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_id);

CREATE TABLE IF NOT EXISTS node_coherence (
    node_id     TEXT PRIMARY KEY,
    coherence   REAL NOT NULL,
    updated_at  TEXT NOT NULL
);
`

// #endregion schema

// #region store
// Store persists link measurements and node coherence in SQLite.
// Strategies never query it directly; Load a Static snapshot instead.
type Store struct {
	db *sql.DB
}

// NewStore creates tables and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("topology schema: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion store

// #region set-link
// SetLink inserts or replaces the quality of source→target.
func (s *Store) SetLink(source, target string, quality float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT INTO links (source_id, target_id, quality, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id) DO UPDATE SET
		   quality = excluded.quality,
		   updated_at = excluded.updated_at`,
		source, target, clamp01(quality), now, now,
	)
	if err != nil {
		return fmt.Errorf("set link %s->%s: %w", source, target, err)
	}
	return nil
}

// Connect stores the link in both directions.
func (s *Store) Connect(a, b string, quality float64) error {
	if err := s.SetLink(a, b, quality); err != nil {
		return err
	}
	return s.SetLink(b, a, quality)
}

// #endregion set-link

// #region set-coherence
// SetCoherence inserts or replaces a node's local coherence.
func (s *Store) SetCoherence(node string, coherence float64) error {
	_, err := s.db.Exec(
		`INSERT INTO node_coherence (node_id, coherence, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET coherence = excluded.coherence, updated_at = excluded.updated_at`,
		node, clamp01(coherence), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set coherence %s: %w", node, err)
	}
	return nil
}

// #endregion set-coherence

// #region neighbors
// Neighbors returns links out of node with quality >= minQuality, strongest first.
func (s *Store) Neighbors(node string, minQuality float64) ([]Link, error) {
	rows, err := s.db.Query(
		`SELECT source_id, target_id, quality FROM links
		 WHERE source_id = ? AND quality >= ?
		 ORDER BY quality DESC, target_id ASC`,
		node, minQuality,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.Source, &l.Target, &l.Quality); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// #endregion neighbors

// #region load
// Load reads every link and coherence row into a Static snapshot.
func (s *Store) Load() (*Static, error) {
	top := NewStatic()

	rows, err := s.db.Query(`SELECT source_id, target_id, quality FROM links`)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.Source, &l.Target, &l.Quality); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan link: %w", err)
		}
		top.SetLink(l.Source, l.Target, l.Quality)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	crows, err := s.db.Query(`SELECT node_id, coherence FROM node_coherence`)
	if err != nil {
		return nil, fmt.Errorf("load coherence: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var node string
		var c float64
		if err := crows.Scan(&node, &c); err != nil {
			return nil, fmt.Errorf("scan coherence: %w", err)
		}
		top.SetCoherence(node, c)
	}
	return top, crows.Err()
}

// #endregion load

// #region decay
// DecayAll applies exponential decay to link quality based on time since the
// last measurement. Links that fall below 0.01 are deleted; the count of
// deleted links is returned.
func (s *Store) DecayAll(halfLifeHours float64) (int64, error) {
	now := time.Now().UTC()
	halfLifeSec := halfLifeHours * 3600.0

	rows, err := s.db.Query(`SELECT id, quality, updated_at FROM links`)
	if err != nil {
		return 0, err
	}

	type decayItem struct {
		id      int64
		quality float64
	}
	var updates []decayItem
	var deletes []int64

	for rows.Next() {
		var id int64
		var quality float64
		var updatedAt string
		if err := rows.Scan(&id, &quality, &updatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		t, _ := time.Parse(time.RFC3339, updatedAt)
		ageSec := now.Sub(t).Seconds()
		if ageSec <= 0 {
			continue
		}
		decayed := quality * math.Exp(-ageSec*math.Ln2/halfLifeSec)
		if decayed < 0.01 {
			deletes = append(deletes, id)
		} else {
			updates = append(updates, decayItem{id, decayed})
		}
	}
	rows.Close()

	nowStr := now.Format(time.RFC3339)
	for _, u := range updates {
		if _, err := s.db.Exec(`UPDATE links SET quality = ?, updated_at = ? WHERE id = ?`, u.quality, nowStr, u.id); err != nil {
			return 0, err
		}
	}
	for _, id := range deletes {
		if _, err := s.db.Exec(`DELETE FROM links WHERE id = ?`, id); err != nil {
			return 0, err
		}
	}
	return int64(len(deletes)), nil
}

// #endregion decay

// #region sever
// SeverNode deletes every link touching node and its coherence row.
func (s *Store) SeverNode(node string) error {
	if _, err := s.db.Exec(`DELETE FROM links WHERE source_id = ? OR target_id = ?`, node, node); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM node_coherence WHERE node_id = ?`, node)
	return err
}

// #endregion sever
