package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/meshsync/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	jsonOut := flag.Bool("json", false, "output the replay summary as JSON")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--json]")
		os.Exit(2)
	}
	os.Exit(runFixtureMode(*fixturePath, *jsonOut))
}

// #endregion main

// #region output

func runFixtureMode(path string, jsonOut bool) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	config, err := f.ToReplayConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture config: %v\n", err)
		return 2
	}

	results, final := replay.Replay(f.StartState.ToStateRecord(), f.Topology.ToTopology(), f.DomainSteps(), config)
	mismatches := replay.Check(results, f.ExpectedResults)

	if jsonOut {
		summary := replay.Summarize(results, final)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(struct {
			Steps        int               `json:"steps"`
			Commits      int               `json:"commits"`
			GateRejects  int               `json:"gate_rejects"`
			NoOps        int               `json:"no_ops"`
			MeanCoverage float64           `json:"mean_coverage"`
			FinalVersion string            `json:"final_version"`
			FinalHash    string            `json:"final_hash"`
			Mismatches   []replay.Mismatch `json:"mismatches"`
		}{
			summary.TotalSteps, summary.Commits, summary.GateRejects, summary.NoOps,
			summary.MeanCoverage, final.VersionID, final.StateHash, mismatches,
		})
	} else {
		printComparison(results, f.ExpectedResults, mismatches)
	}

	if len(mismatches) > 0 {
		return 1
	}
	return 0
}

// printComparison outputs a per-step comparison table.
func printComparison(results []replay.ReplayResult, expected []replay.FixtureExpectedResult, mismatches []replay.Mismatch) {
	fmt.Printf("%-10s| %-12s| %-12s| %-9s| %8s| %s\n", "Step", "Expected", "Replayed", "Round", "Coverage", "Match")
	fmt.Printf("%-10s+%-13s+%-13s+%-10s+%9s+%s\n",
		"----------", "-------------", "-------------", "----------", "---------", "------")

	diff := make(map[string]bool)
	for _, m := range mismatches {
		diff[m.StepID] = true
	}

	for i, r := range results {
		exp := "—"
		if i < len(expected) {
			exp = expected[i].Action
		}
		status := "—"
		if r.Round != nil {
			status = string(r.Round.Status)
		}
		coverage := "—"
		if r.Session != nil {
			coverage = fmt.Sprintf("%.2f", r.Session.Metrics.CoverageRatio)
		}
		match := "OK"
		if diff[r.StepID] {
			match = "DIFF"
		}
		fmt.Printf("%-10s| %-12s| %-12s| %-9s| %8s| %s\n", r.StepID, exp, r.Action, status, coverage, match)
	}

	for _, m := range mismatches {
		fmt.Printf("  %s: %s want %s, got %s\n", m.StepID, m.Field, m.Want, m.Got)
	}
	fmt.Printf("\nSummary: %d steps, %d diverge\n", len(results), len(mismatches))
}

// #endregion output
