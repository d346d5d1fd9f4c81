package state

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS state_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	components    BLOB NOT NULL,
	state_hash    TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	metrics_json  TEXT,
	FOREIGN KEY (parent_id) REFERENCES state_versions(version_id)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id    TEXT,
	state_hash    TEXT NOT NULL,
	round_id      TEXT,
	status        TEXT,
	confidence    REAL NOT NULL DEFAULT 0,
	trigger_type  TEXT NOT NULL,
	decision      TEXT NOT NULL,
	reason        TEXT,
	record_json   TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_state (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES state_versions(version_id)
);
`

// #endregion schema

// HashFunc derives the state hash stored alongside each version.
type HashFunc func(State) string

// #region store-struct
// Store manages versioned committed state in SQLite.
type Store struct {
	db   *sql.DB
	hash HashFunc
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
// hash computes the state hash persisted with every version.
func NewStore(dbPath string, hash HashFunc) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, hash: hash}, nil
}

// #endregion constructor

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (topology, logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #region create-initial
// CreateInitialState stores the given components as the root version and marks it active.
func (s *Store) CreateInitialState(initial State) (StateRecord, error) {
	rec := StateRecord{
		VersionID:  uuid.New().String(),
		Components: initial.Clone(),
		StateHash:  s.hash(initial),
		CreatedAt:  time.Now().UTC(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return StateRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO state_versions (version_id, parent_id, components, state_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.VersionID, nil, encodeComponents(rec.Components), rec.StateHash,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return StateRecord{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_state (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return StateRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return StateRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion create-initial

// #region get-current
// GetCurrent reads the active state version.
func (s *Store) GetCurrent() (StateRecord, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_state WHERE id = 1`).Scan(&versionID)
	if err != nil {
		return StateRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(versionID)
}

// #endregion get-current

// #region get-version
// GetVersion retrieves a specific state version by ID.
func (s *Store) GetVersion(id string) (StateRecord, error) {
	row := s.db.QueryRow(
		`SELECT version_id, parent_id, components, state_hash, created_at, metrics_json
		 FROM state_versions WHERE version_id = ?`, id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return StateRecord{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-version

// #region commit-state
// CommitState inserts a new version and updates the active pointer atomically.
// An empty StateHash is filled in from the store's hash function.
func (s *Store) CommitState(rec StateRecord) error {
	if rec.StateHash == "" {
		rec.StateHash = s.hash(rec.Components)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parentPtr interface{}
	if rec.ParentID != "" {
		parentPtr = rec.ParentID
	}
	var metricsPtr interface{}
	if rec.MetricsJSON != "" {
		metricsPtr = rec.MetricsJSON
	}

	_, err = tx.Exec(
		`INSERT INTO state_versions (version_id, parent_id, components, state_hash, created_at, metrics_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.VersionID, parentPtr, encodeComponents(rec.Components), rec.StateHash,
		rec.CreatedAt.Format(time.RFC3339Nano), metricsPtr,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(`UPDATE active_state SET version_id = ? WHERE id = 1`, rec.VersionID)
	if err != nil {
		return fmt.Errorf("update active: %w", err)
	}

	return tx.Commit()
}

// #endregion commit-state

// #region rollback
// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM state_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}

	_, err = s.db.Exec(`UPDATE active_state SET version_id = ? WHERE id = 1`, targetVersionID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent state versions, newest first.
func (s *Store) ListVersions(limit int) ([]StateRecord, error) {
	rows, err := s.db.Query(
		`SELECT version_id, parent_id, components, state_hash, created_at, metrics_json
		 FROM state_versions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []StateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-versions

// #region list-decisions
// ListDecisions returns the most recent decision_log rows, newest first.
func (s *Store) ListDecisions(limit int) ([]DecisionRow, error) {
	rows, err := s.db.Query(
		`SELECT version_id, state_hash, round_id, status, confidence, decision, reason, created_at
		 FROM decision_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRow
	for rows.Next() {
		var d DecisionRow
		var versionID, roundID, status, reason sql.NullString
		var createdStr string
		if err := rows.Scan(&versionID, &d.StateHash, &roundID, &status, &d.Confidence, &d.Decision, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.VersionID = versionID.String
		d.RoundID = roundID.String
		d.Status = status.String
		d.Reason = reason.String
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, d)
	}
	return out, rows.Err()
}

// #endregion list-decisions

// #region scan
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(r rowScanner) (StateRecord, error) {
	var rec StateRecord
	var parentID sql.NullString
	var blob []byte
	var createdStr string
	var metricsJSON sql.NullString

	if err := r.Scan(&rec.VersionID, &parentID, &blob, &rec.StateHash, &createdStr, &metricsJSON); err != nil {
		return StateRecord{}, err
	}
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	comps, err := decodeComponents(blob)
	if err != nil {
		return StateRecord{}, err
	}
	rec.Components = comps
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	if metricsJSON.Valid {
		rec.MetricsJSON = metricsJSON.String
	}
	return rec, nil
}

// #endregion scan

// #region component-encoding
// componentWidth is one (uint32 id, float64 weight) pair, little endian.
const componentWidth = 12

func encodeComponents(s State) []byte {
	ids := s.SortedIDs()
	buf := make([]byte, len(ids)*componentWidth)
	for i, id := range ids {
		off := i * componentWidth
		binary.LittleEndian.PutUint32(buf[off:], uint32(id))
		binary.LittleEndian.PutUint64(buf[off+4:], math.Float64bits(s[id]))
	}
	return buf
}

func decodeComponents(b []byte) (State, error) {
	if len(b)%componentWidth != 0 {
		return nil, fmt.Errorf("component blob length %d not a multiple of %d", len(b), componentWidth)
	}
	out := make(State, len(b)/componentWidth)
	for off := 0; off < len(b); off += componentWidth {
		id := int(binary.LittleEndian.Uint32(b[off:]))
		out[id] = math.Float64frombits(binary.LittleEndian.Uint64(b[off+4:]))
	}
	return out, nil
}

// #endregion component-encoding
