package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/consensus"
	"github.com/danielpatrickdp/meshsync/internal/orchestrator"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
	"github.com/danielpatrickdp/meshsync/internal/update"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	NodeID          string                  `json:"node_id"`
	StartState      FixtureStartState       `json:"start_state"`
	Topology        FixtureTopology         `json:"topology"`
	Config          FixtureConfig           `json:"config"`
	Steps           []FixtureStep           `json:"steps"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureStartState is the JSON-serializable initial state.
type FixtureStartState struct {
	VersionID  string      `json:"version_id"`
	Components state.State `json:"components"`
}

// FixtureTopology lists the links and per-node coherence of the mesh.
type FixtureTopology struct {
	Links     []FixtureLink      `json:"links"`
	Coherence map[string]float64 `json:"coherence,omitempty"`
}

// FixtureLink is one link; Symmetric adds the reverse direction too.
type FixtureLink struct {
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Quality   float64 `json:"quality"`
	Symmetric bool    `json:"symmetric,omitempty"`
}

// FixtureDelta mirrors update.Delta with JSON tags.
type FixtureDelta struct {
	Changes map[int]float64 `json:"changes"`
	Remove  []int           `json:"remove,omitempty"`
}

// FixtureVote mirrors VoteSpec with JSON tags.
type FixtureVote struct {
	VoterID   string  `json:"voter_id"`
	Score     float64 `json:"score"`
	AfterMs   int64   `json:"after_ms,omitempty"`
	StateHash string  `json:"state_hash,omitempty"`
}

// FixtureStep mirrors Step with JSON tags.
type FixtureStep struct {
	StepID       string        `json:"step_id"`
	Delta        FixtureDelta  `json:"delta"`
	Targets      []string      `json:"targets"`
	Participants int           `json:"participants"`
	Votes        []FixtureVote `json:"votes"`
}

// FixtureExpectedResult captures the expected action per step. Coverage and
// Status are checked only when set.
type FixtureExpectedResult struct {
	StepID   string   `json:"step_id"`
	Action   string   `json:"action"`
	Status   string   `json:"status,omitempty"`
	Coverage *float64 `json:"coverage,omitempty"`
}

// FixtureConfig overrides replay defaults; zero values keep the default.
type FixtureConfig struct {
	Mode            string              `json:"mode,omitempty"`
	Algorithm       string              `json:"algorithm,omitempty"`
	StrongThreshold float64             `json:"strong_threshold,omitempty"`
	Redundancy      float64             `json:"redundancy,omitempty"`
	MinFragments    int                 `json:"min_fragments,omitempty"`
	RoundTimeoutMs  int64               `json:"round_timeout_ms,omitempty"`
	SelfVote        *bool               `json:"self_vote,omitempty"`
	UpdateConfig    FixtureUpdateConfig `json:"update_config"`
	GateConfig      FixtureGateConfig   `json:"gate_config"`
	EvalConfig      FixtureEvalConfig   `json:"eval_config"`
}

// FixtureUpdateConfig mirrors update.UpdateConfig with JSON tags.
type FixtureUpdateConfig struct {
	LearningRate float64 `json:"learning_rate,omitempty"`
	DecayRate    float64 `json:"decay_rate,omitempty"`
	MaxDeltaNorm float64 `json:"max_delta_norm,omitempty"`
}

// FixtureGateConfig mirrors gate.GateConfig with JSON tags.
type FixtureGateConfig struct {
	MinCoverage  float64 `json:"min_coverage,omitempty"`
	MaxDeltaNorm float64 `json:"max_delta_norm,omitempty"`
}

// FixtureEvalConfig mirrors eval.EvalConfig with JSON tags.
type FixtureEvalConfig struct {
	MinComponents int     `json:"min_components,omitempty"`
	NormTolerance float64 `json:"norm_tolerance,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToStateRecord converts a FixtureStartState to a domain StateRecord.
func (s *FixtureStartState) ToStateRecord() state.StateRecord {
	return state.StateRecord{
		VersionID:  s.VersionID,
		Components: s.Components,
		StateHash:  codec.StateHash(s.Components),
		CreatedAt:  Epoch,
	}
}

// ToTopology builds the static mesh described by the fixture.
func (t *FixtureTopology) ToTopology() *topology.Static {
	top := topology.NewStatic()
	for _, l := range t.Links {
		if l.Symmetric {
			top.Connect(l.Source, l.Target, l.Quality)
		} else {
			top.SetLink(l.Source, l.Target, l.Quality)
		}
	}
	for node, c := range t.Coherence {
		top.SetCoherence(node, c)
	}
	return top
}

// ToStep converts a FixtureStep to a domain Step.
func (fs *FixtureStep) ToStep(source string) Step {
	votes := make([]VoteSpec, len(fs.Votes))
	for i, v := range fs.Votes {
		votes[i] = VoteSpec{
			VoterID:   v.VoterID,
			Score:     v.Score,
			After:     time.Duration(v.AfterMs) * time.Millisecond,
			StateHash: v.StateHash,
		}
	}
	return Step{
		StepID: fs.StepID,
		Delta: update.Delta{
			Source:  source,
			Changes: fs.Delta.Changes,
			Remove:  fs.Delta.Remove,
		},
		Targets:      fs.Targets,
		Participants: fs.Participants,
		Votes:        votes,
	}
}

// ToReplayConfig layers the fixture overrides onto DefaultReplayConfig.
func (f *Fixture) ToReplayConfig() (ReplayConfig, error) {
	cfg := DefaultReplayConfig()
	fc := f.Config
	if f.NodeID != "" {
		cfg.NodeID = f.NodeID
	}
	if fc.Mode != "" {
		m, ok := orchestrator.ParseMode(fc.Mode)
		if !ok {
			return cfg, fmt.Errorf("unknown mode %q", fc.Mode)
		}
		cfg.Sync.Mode = m
	}
	if fc.Algorithm != "" {
		a, err := consensus.ParseAlgorithm(fc.Algorithm)
		if err != nil {
			return cfg, err
		}
		cfg.Algorithm = a
	}
	if fc.StrongThreshold > 0 {
		cfg.Sync.Corrected.StrongThreshold = fc.StrongThreshold
	}
	if fc.Redundancy > 0 {
		cfg.Sync.Weighted.Redundancy = fc.Redundancy
	}
	if fc.MinFragments > 0 {
		cfg.Sync.Weighted.MinFragmentsPerNode = fc.MinFragments
	}
	if fc.RoundTimeoutMs > 0 {
		cfg.Consensus.RoundTimeout = time.Duration(fc.RoundTimeoutMs) * time.Millisecond
	}
	if fc.SelfVote != nil {
		cfg.Consensus.SelfVote = *fc.SelfVote
	}
	if fc.UpdateConfig.LearningRate > 0 {
		cfg.UpdateConfig.LearningRate = fc.UpdateConfig.LearningRate
	}
	if fc.UpdateConfig.DecayRate > 0 {
		cfg.UpdateConfig.DecayRate = fc.UpdateConfig.DecayRate
	}
	if fc.UpdateConfig.MaxDeltaNorm > 0 {
		cfg.UpdateConfig.MaxDeltaNorm = fc.UpdateConfig.MaxDeltaNorm
	}
	if fc.GateConfig.MinCoverage > 0 {
		cfg.GateConfig.MinCoverage = fc.GateConfig.MinCoverage
	}
	if fc.GateConfig.MaxDeltaNorm > 0 {
		cfg.GateConfig.MaxDeltaNorm = fc.GateConfig.MaxDeltaNorm
	}
	if fc.EvalConfig.MinComponents > 0 {
		cfg.EvalConfig.MinComponents = fc.EvalConfig.MinComponents
	}
	if fc.EvalConfig.NormTolerance > 0 {
		cfg.EvalConfig.NormTolerance = fc.EvalConfig.NormTolerance
	}
	return cfg, nil
}

// DomainSteps converts every fixture step, with the fixture node as delta source.
func (f *Fixture) DomainSteps() []Step {
	out := make([]Step, len(f.Steps))
	for i := range f.Steps {
		out[i] = f.Steps[i].ToStep(f.NodeID)
	}
	return out
}

// #endregion fixture-loader

// #region fixture-check

// Mismatch describes one divergence between a replayed step and its expectation.
type Mismatch struct {
	StepID string `json:"step_id"`
	Field  string `json:"field"`
	Want   string `json:"want"`
	Got    string `json:"got"`
}

// Check compares results against the fixture's expected results, in order.
// Coverage is compared to within 1e-9.
func Check(results []ReplayResult, expected []FixtureExpectedResult) []Mismatch {
	var out []Mismatch
	for i, exp := range expected {
		if i >= len(results) {
			out = append(out, Mismatch{StepID: exp.StepID, Field: "step", Want: exp.Action, Got: "missing"})
			continue
		}
		r := results[i]
		if r.Action != exp.Action {
			out = append(out, Mismatch{StepID: exp.StepID, Field: "action", Want: exp.Action, Got: r.Action})
		}
		if exp.Status != "" {
			got := ""
			if r.Round != nil {
				got = string(r.Round.Status)
			}
			if got != exp.Status {
				out = append(out, Mismatch{StepID: exp.StepID, Field: "status", Want: exp.Status, Got: got})
			}
		}
		if exp.Coverage != nil {
			got := 0.0
			if r.Session != nil {
				got = r.Session.Metrics.CoverageRatio
			}
			if d := got - *exp.Coverage; d > 1e-9 || d < -1e-9 {
				out = append(out, Mismatch{
					StepID: exp.StepID,
					Field:  "coverage",
					Want:   fmt.Sprintf("%.4f", *exp.Coverage),
					Got:    fmt.Sprintf("%.4f", got),
				})
			}
		}
	}
	return out
}

// #endregion fixture-check
