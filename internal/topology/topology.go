package topology

import (
	"math"
	"sort"
)

// #region provider
// Provider answers link and node queries for the propagation layer.
// Implementations must be side-effect free.
type Provider interface {
	// LinkQuality returns the quality in [0,1] of the directed link source→target.
	// Unknown links report 0.
	LinkQuality(source, target string) float64
	// Neighbors returns the nodes reachable over one link from node,
	// strongest link first.
	Neighbors(node string) []string
	// LocalCoherence returns the node's own coherence in [0,1].
	LocalCoherence(node string) float64
}

// #endregion provider

// #region link
// Link is one directed, quality-scored edge.
type Link struct {
	Source  string  `json:"source"`
	Target  string  `json:"target"`
	Quality float64 `json:"quality"`
}

// #endregion link

// #region static
// Static is an in-memory Provider. Build it, then treat it as read-only:
// it is not safe to mutate while strategies query it.
type Static struct {
	links     map[string]map[string]float64
	coherence map[string]float64

	// DefaultCoherence is reported for nodes without an explicit value.
	DefaultCoherence float64
}

// NewStatic returns an empty topology whose nodes default to full coherence.
func NewStatic() *Static {
	return &Static{
		links:            make(map[string]map[string]float64),
		coherence:        make(map[string]float64),
		DefaultCoherence: 1.0,
	}
}

// SetLink records the directed link source→target, clamping quality to [0,1].
func (s *Static) SetLink(source, target string, quality float64) {
	out, ok := s.links[source]
	if !ok {
		out = make(map[string]float64)
		s.links[source] = out
	}
	out[target] = clamp01(quality)
}

// Connect records the link in both directions.
func (s *Static) Connect(a, b string, quality float64) {
	s.SetLink(a, b, quality)
	s.SetLink(b, a, quality)
}

// SetCoherence records a node's local coherence.
func (s *Static) SetCoherence(node string, coherence float64) {
	s.coherence[node] = clamp01(coherence)
}

// LinkQuality implements Provider.
func (s *Static) LinkQuality(source, target string) float64 {
	return s.links[source][target]
}

// Neighbors implements Provider. Ties on quality are broken by node name.
func (s *Static) Neighbors(node string) []string {
	out := s.links[node]
	nodes := make([]string, 0, len(out))
	for n := range out {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		qi, qj := out[nodes[i]], out[nodes[j]]
		if qi != qj {
			return qi > qj
		}
		return nodes[i] < nodes[j]
	})
	return nodes
}

// LocalCoherence implements Provider.
func (s *Static) LocalCoherence(node string) float64 {
	if c, ok := s.coherence[node]; ok {
		return c
	}
	return s.DefaultCoherence
}

// Links returns every directed link, ordered by source then target.
func (s *Static) Links() []Link {
	var all []Link
	for src, out := range s.links {
		for tgt, q := range out {
			all = append(all, Link{Source: src, Target: tgt, Quality: q})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Source != all[j].Source {
			return all[i].Source < all[j].Source
		}
		return all[i].Target < all[j].Target
	})
	return all
}

// Coherence returns a copy of the explicit per-node coherence values.
func (s *Static) Coherence() map[string]float64 {
	out := make(map[string]float64, len(s.coherence))
	for n, c := range s.coherence {
		out[n] = c
	}
	return out
}

// #endregion static

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
