package transfer

import (
	"sort"
	"time"
)

// DefaultBudget is the wall-clock allowance for one propagation session.
const DefaultBudget = 10 * time.Second

// #region metrics
// Metrics summarizes a session. NodesReached, AverageHopCount and
// CoverageRatio always describe the current reached set.
type Metrics struct {
	NodesReached           int           `json:"nodes_reached"`
	Elapsed                time.Duration `json:"elapsed"`
	CorrectedTransfersUsed int           `json:"corrected_transfers_used"`
	FragmentsDistributed   int           `json:"fragments_distributed"`
	AverageHopCount        float64       `json:"average_hop_count"`
	CoverageRatio          float64       `json:"coverage_ratio"`
}

// #endregion metrics

// #region session
// Session is one propagation run against a target set. It is owned by the
// orchestrator that created it and must not be shared between goroutines.
type Session struct {
	ID        string
	Source    string
	StateHash string
	Strategy  string
	Targets   []string
	Reached   map[string]int // peer → hop count
	Pending   map[string]bool
	Failed    map[string]bool
	Metrics   Metrics
	StartTime time.Time
	Budget    time.Duration
}

// NewSession creates a session with every (deduplicated) target pending.
// The source is never its own target.
func NewSession(id, source, stateHash string, targets []string, start time.Time) *Session {
	s := &Session{
		ID:        id,
		Source:    source,
		StateHash: stateHash,
		Reached:   make(map[string]int),
		Pending:   make(map[string]bool),
		Failed:    make(map[string]bool),
		StartTime: start,
		Budget:    DefaultBudget,
	}
	for _, t := range targets {
		if t == source || s.Pending[t] {
			continue
		}
		s.Pending[t] = true
		s.Targets = append(s.Targets, t)
	}
	return s
}

// Sub returns a child session over a subset of this session's targets,
// sharing its identity, start time and budget.
func (s *Session) Sub(strategy Kind, targets []string) *Session {
	sub := NewSession(s.ID+"/"+string(strategy), s.Source, s.StateHash, targets, s.StartTime)
	sub.Strategy = string(strategy)
	sub.Budget = s.Budget
	return sub
}

// #endregion session

// #region marks
// IsTarget reports whether peer belongs to the session's target set.
func (s *Session) IsTarget(peer string) bool {
	if s.Pending[peer] || s.Failed[peer] {
		return true
	}
	_, ok := s.Reached[peer]
	return ok
}

// MarkReached records peer as reached after hops link traversals.
// Non-targets and repeat marks are ignored.
func (s *Session) MarkReached(peer string, hops int) {
	if !s.IsTarget(peer) {
		return
	}
	if _, ok := s.Reached[peer]; ok {
		return
	}
	delete(s.Pending, peer)
	delete(s.Failed, peer)
	s.Reached[peer] = hops

	n := float64(len(s.Reached))
	s.Metrics.NodesReached = len(s.Reached)
	s.Metrics.AverageHopCount += (float64(hops) - s.Metrics.AverageHopCount) / n
	s.Metrics.CoverageRatio = s.coverage()
}

// MarkFailed records that the current strategy could not reach peer.
// A peer that is already reached stays reached.
func (s *Session) MarkFailed(peer string) {
	if !s.IsTarget(peer) {
		return
	}
	if _, ok := s.Reached[peer]; ok {
		return
	}
	delete(s.Pending, peer)
	s.Failed[peer] = true
}

// #endregion marks

// #region merge
// Merge folds a child session into this one. Counters add; hop average and
// coverage are recomputed from the merged reached set.
func (s *Session) Merge(sub *Session) {
	for peer, hops := range sub.Reached {
		if !s.IsTarget(peer) {
			continue
		}
		if _, ok := s.Reached[peer]; ok {
			continue
		}
		delete(s.Pending, peer)
		delete(s.Failed, peer)
		s.Reached[peer] = hops
	}
	for peer := range sub.Failed {
		s.MarkFailed(peer)
	}
	s.Metrics.CorrectedTransfersUsed += sub.Metrics.CorrectedTransfersUsed
	s.Metrics.FragmentsDistributed += sub.Metrics.FragmentsDistributed
	s.recompute()
}

// Finish stamps the elapsed time. When the budget has not run out, every
// still-pending target is marked failed: all strategies have been tried.
func (s *Session) Finish(now time.Time) {
	s.Metrics.Elapsed = now.Sub(s.StartTime)
	if s.Metrics.Elapsed > s.Budget {
		return
	}
	for peer := range s.Pending {
		s.Failed[peer] = true
	}
	s.Pending = make(map[string]bool)
}

func (s *Session) recompute() {
	s.Metrics.NodesReached = len(s.Reached)
	s.Metrics.AverageHopCount = 0
	if len(s.Reached) > 0 {
		total := 0
		for _, h := range s.Reached {
			total += h
		}
		s.Metrics.AverageHopCount = float64(total) / float64(len(s.Reached))
	}
	s.Metrics.CoverageRatio = s.coverage()
}

func (s *Session) coverage() float64 {
	if len(s.Targets) == 0 {
		return 0
	}
	return float64(len(s.Reached)) / float64(len(s.Targets))
}

// #endregion merge

// #region queries
// IsComplete reports whether nothing is pending or the budget is spent.
func (s *Session) IsComplete(now time.Time) bool {
	return len(s.Pending) == 0 || now.Sub(s.StartTime) > s.Budget
}

// Expired reports whether the session budget is spent at now.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.StartTime) > s.Budget
}

// Unreached returns targets not yet reached (pending or failed), sorted.
func (s *Session) Unreached() []string {
	var out []string
	for _, t := range s.Targets {
		if _, ok := s.Reached[t]; !ok {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Remaining returns the pending targets, sorted.
func (s *Session) Remaining() []string {
	return sortedKeys(s.Pending)
}

// ReachedSet returns the reached targets, sorted.
func (s *Session) ReachedSet() []string {
	out := make([]string, 0, len(s.Reached))
	for p := range s.Reached {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// FailedSet returns the failed targets, sorted.
func (s *Session) FailedSet() []string {
	return sortedKeys(s.Failed)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// #endregion queries
