package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/logging"
	"github.com/danielpatrickdp/meshsync/internal/orchestrator"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/transfer"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to meshsync.db")
	last := flag.Int("last", 20, "show N most recent versions and decisions")
	version := flag.String("version", "", "show single version detail")
	outcomes := flag.Bool("outcomes", false, "show strategy success rates per link class")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/meshsync.db [--last N] [--version id] [--outcomes] [--json]")
		os.Exit(2)
	}

	store, err := state.NewStore(*dbPath, codec.StateHash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *version != "":
		err = runDetailMode(store, *version, *jsonOut)
	case *outcomes:
		err = runOutcomeMode(store, *jsonOut)
	default:
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	VersionID  string  `json:"version_id"`
	StateHash  string  `json:"state_hash"`
	Components int     `json:"components"`
	Norm       float64 `json:"norm"`
	CreatedAt  string  `json:"created_at"`
}

type listOutput struct {
	Versions  []listRow           `json:"versions"`
	Decisions []state.DecisionRow `json:"decisions"`
}

func runListMode(store *state.Store, last int, jsonOut bool) error {
	versions, err := store.ListVersions(last)
	if err != nil {
		return err
	}
	decisions, err := store.ListDecisions(last)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		return nil
	}

	// Store returns DESC, reverse for chronological
	out := listOutput{Versions: make([]listRow, len(versions)), Decisions: decisions}
	for i, v := range versions {
		out.Versions[len(versions)-1-i] = listRow{
			VersionID:  v.VersionID,
			StateHash:  v.StateHash,
			Components: len(v.Components),
			Norm:       v.Components.Norm(),
			CreatedAt:  v.CreatedAt.Format(time.RFC3339),
		}
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("%-12s  %-16s  %5s  %8s  %s\n", "Version", "Hash", "Comp", "Norm", "Time")
	fmt.Printf("%-12s+-%-16s+-%5s+-%8s+-%s\n", "------------", "----------------", "-----", "--------", "--------------------")
	for _, r := range out.Versions {
		fmt.Printf("%-12s  %-16s  %5d  %8.4f  %s\n", shortID(r.VersionID), r.StateHash, r.Components, r.Norm, r.CreatedAt)
	}

	if len(decisions) > 0 {
		fmt.Printf("\nDecisions (newest first):\n")
		fmt.Printf("%-12s  %-12s  %-9s  %6s  %-11s  %s\n", "Version", "Round", "Status", "Conf", "Decision", "Reason")
		for _, d := range decisions {
			fmt.Printf("%-12s  %-12s  %-9s  %6.3f  %-11s  %s\n",
				shortID(d.VersionID), shortID(d.RoundID), d.Status, d.Confidence, d.Decision, d.Reason)
		}
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	VersionID  string              `json:"version_id"`
	ParentID   string              `json:"parent_id,omitempty"`
	StateHash  string              `json:"state_hash"`
	HashValid  bool                `json:"hash_valid"`
	Norm       float64             `json:"norm"`
	Components map[int]float64     `json:"components"`
	CreatedAt  string              `json:"created_at"`
	GateRecord *logging.GateRecord `json:"gate_record,omitempty"`
}

func runDetailMode(store *state.Store, versionID string, jsonOut bool) error {
	rec, err := store.GetVersion(versionID)
	if err != nil {
		return err
	}

	out := detailOutput{
		VersionID:  rec.VersionID,
		ParentID:   rec.ParentID,
		StateHash:  rec.StateHash,
		HashValid:  codec.StateHash(rec.Components) == rec.StateHash,
		Norm:       rec.Components.Norm(),
		Components: rec.Components,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		GateRecord: loadGateRecord(store.DB(), versionID),
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Version:  %s\n", out.VersionID)
	if out.ParentID != "" {
		fmt.Printf("Parent:   %s\n", out.ParentID)
	}
	fmt.Printf("Hash:     %s (valid=%v)\n", out.StateHash, out.HashValid)
	fmt.Printf("Norm:     %.6f\n", out.Norm)
	fmt.Printf("Created:  %s\n", out.CreatedAt)
	fmt.Printf("\nComponents:\n")
	for _, id := range rec.Components.SortedIDs() {
		fmt.Printf("  %6d  %+.6f\n", id, rec.Components[id])
	}

	if gr := out.GateRecord; gr != nil {
		fmt.Printf("\nGate record:\n")
		fmt.Printf("  Session:  %s reached=%d/%d coverage=%.2f hops=%.2f corrected=%d fragments=%d\n",
			shortID(gr.SessionID), gr.Session.Reached, gr.Session.Targets, gr.Session.CoverageRatio,
			gr.Session.AverageHopCount, gr.Session.Corrected, gr.Session.Fragments)
		fmt.Printf("  Round:    %s %s %s confidence=%.3f votes=%d\n",
			shortID(gr.Round.RoundID), gr.Round.Algorithm, gr.Round.Status, gr.Round.Confidence, gr.Round.VoteCount)
		fmt.Printf("  Delta:    %.4f touched=%v\n", gr.DeltaNorm, gr.Touched)
		fmt.Printf("  Eval:     passed=%v %s\n", gr.EvalPassed, gr.EvalReason)
		fmt.Printf("  Gate:     %s score=%.4f vetoed=%v %s\n", gr.GateAction, gr.GateSoftScore, gr.GateVetoed, gr.GateReason)
	}
	return nil
}

// loadGateRecord returns the newest gate record logged for versionID, or nil.
func loadGateRecord(db *sql.DB, versionID string) *logging.GateRecord {
	var raw sql.NullString
	err := db.QueryRow(
		`SELECT record_json FROM decision_log WHERE version_id = ? AND record_json IS NOT NULL ORDER BY id DESC LIMIT 1`,
		versionID,
	).Scan(&raw)
	if err != nil || !raw.Valid {
		return nil
	}
	var gr logging.GateRecord
	if err := json.Unmarshal([]byte(raw.String), &gr); err != nil {
		return nil
	}
	return &gr
}

// #endregion detail-mode

// #region outcome-mode

type outcomeRow struct {
	LinkClass string  `json:"link_class"`
	Strategy  string  `json:"strategy"`
	Rate      float64 `json:"rate"`
	Samples   int     `json:"samples"`
}

func runOutcomeMode(store *state.Store, jsonOut bool) error {
	memory, err := orchestrator.NewOutcomeMemory(store.DB())
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	var rows []outcomeRow
	for _, class := range []orchestrator.LinkClass{orchestrator.LinkStrong, orchestrator.LinkWeak} {
		rates, err := memory.SuccessRates(class, now)
		if err != nil {
			return err
		}
		for _, kind := range []transfer.Kind{transfer.KindCorrected, transfer.KindWeighted, transfer.KindWave} {
			st, ok := rates[kind]
			if !ok {
				continue
			}
			rows = append(rows, outcomeRow{
				LinkClass: string(class),
				Strategy:  string(kind),
				Rate:      st.Rate,
				Samples:   st.Samples,
			})
		}
	}

	if jsonOut {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no strategy outcomes recorded")
		return nil
	}
	fmt.Printf("%-8s  %-10s  %6s  %s\n", "Class", "Strategy", "Rate", "Samples")
	for _, r := range rows {
		fmt.Printf("%-8s  %-10s  %6.3f  %d\n", r.LinkClass, r.Strategy, r.Rate, r.Samples)
	}
	return nil
}

// #endregion outcome-mode

// #region helpers

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// #endregion helpers
