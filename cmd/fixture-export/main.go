package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/logging"
	"github.com/danielpatrickdp/meshsync/internal/replay"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to meshsync.db")
	nodeID := flag.String("node", envOr("NODE_ID", "node-1"), "id of the node that proposed the exported rounds")
	last := flag.Int("last", 4, "number of most recent commit decisions to export")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/db --out path/to/fixture.json [--node id] [--last N]")
		os.Exit(2)
	}

	if err := run(*dbPath, *nodeID, *last, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, nodeID string, last int, outPath string) error {
	store, err := state.NewStore(dbPath, codec.StateHash)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	records, err := lastGateRecords(store.DB(), last)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no gate records found in last %d commit entries", last)
	}

	// The first exported step builds on its recorded parent.
	startState, err := store.GetVersion(records[0].ParentID)
	if err != nil {
		return fmt.Errorf("get start state %s: %w", records[0].ParentID, err)
	}

	topoStore, err := topology.NewStore(store.DB())
	if err != nil {
		return fmt.Errorf("topology store: %w", err)
	}
	top, err := topoStore.Load()
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}

	fixture := buildFixture(nodeID, startState, top, records)

	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}

	fmt.Printf("Exported %d steps to %s\n", len(records), outPath)
	for _, s := range fixture.ExpectedResults {
		fmt.Printf("  %s → %s (%s)\n", s.StepID, s.Action, s.Status)
	}
	return nil
}

// lastGateRecords returns the last n commit-trigger gate records, oldest first.
func lastGateRecords(db *sql.DB, n int) ([]logging.GateRecord, error) {
	rows, err := db.Query(
		`SELECT record_json FROM (
			SELECT id, record_json FROM decision_log
			WHERE trigger_type = 'commit' AND record_json IS NOT NULL
			ORDER BY id DESC LIMIT ?
		) sub ORDER BY id ASC`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []logging.GateRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var gr logging.GateRecord
		if err := json.Unmarshal([]byte(raw), &gr); err != nil || gr.VersionID == "" {
			continue // not GateRecord format
		}
		out = append(out, gr)
	}
	return out, rows.Err()
}

// #endregion extract

// #region build

func buildFixture(nodeID string, start state.StateRecord, top *topology.Static, records []logging.GateRecord) replay.Fixture {
	f := replay.Fixture{
		Description: fmt.Sprintf("Exported %d steps from node %s", len(records), nodeID),
		NodeID:      nodeID,
		StartState: replay.FixtureStartState{
			VersionID:  start.VersionID,
			Components: start.Components,
		},
		Topology: replay.FixtureTopology{Coherence: top.Coherence()},
	}
	for _, l := range top.Links() {
		f.Topology.Links = append(f.Topology.Links, replay.FixtureLink{
			Source:  l.Source,
			Target:  l.Target,
			Quality: l.Quality,
		})
	}

	// Thresholds are taken from the newest record.
	newest := records[len(records)-1]
	f.Config = replay.FixtureConfig{
		Algorithm:  newest.Round.Algorithm,
		GateConfig: replay.FixtureGateConfig{MinCoverage: newest.Thresholds.MinCoverage, MaxDeltaNorm: newest.Thresholds.MaxDeltaNorm},
		EvalConfig: replay.FixtureEvalConfig{NormTolerance: newest.Thresholds.NormTolerance},
	}

	for i, gr := range records {
		stepID := fmt.Sprintf("step-%d", i+1)
		step := replay.FixtureStep{
			StepID:       stepID,
			Delta:        replay.FixtureDelta{Changes: gr.Changes, Remove: gr.Removed},
			Targets:      gr.Session.TargetIDs,
			Participants: gr.Round.Participants,
		}
		for _, v := range gr.Round.Votes {
			if v.VoterID == nodeID {
				continue // replay casts its own self vote
			}
			step.Votes = append(step.Votes, replay.FixtureVote{VoterID: v.VoterID, Score: v.Score})
		}
		f.Steps = append(f.Steps, step)

		coverage := gr.Session.CoverageRatio
		f.ExpectedResults = append(f.ExpectedResults, replay.FixtureExpectedResult{
			StepID:   stepID,
			Action:   replayAction(gr.GateAction),
			Status:   gr.Round.Status,
			Coverage: &coverage,
		})
	}
	return f
}

// replayAction maps a logged gate action onto the replay vocabulary.
func replayAction(action string) string {
	if action == "reject" {
		return "gate_reject"
	}
	return action
}

// #endregion build

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
