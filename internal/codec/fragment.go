package codec

import (
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/meshsync/internal/state"
)

// ErrReconstruction is returned when a fragment set is too small to rebuild a state.
// Callers may fetch more fragments or fall back to another strategy.
var ErrReconstruction = errors.New("reconstruction failed")

const twoPi = 2 * math.Pi

// #region fragment
// Fragment is one redundant piece of an encoded State.
type Fragment struct {
	ComponentID int     `json:"component_id"`
	Weight      float64 `json:"weight"`
	Phase       float64 `json:"phase"`     // [0, 2π), distinguishes copies
	Coherence   float64 `json:"coherence"` // 1.0 on primaries, discounted on copies
	Energy      float64 `json:"energy"`    // w² / Σw² of the source state
	Components  int     `json:"components"`
	Primary     bool    `json:"primary"`
}

// #endregion fragment

// #region config
// Config tunes the codec.
type Config struct {
	CoherenceThreshold float64 // decode keeps components at or above this
	RedundantDiscount  float64 // coherence multiplier for non-primary copies
}

// DefaultConfig returns the standard codec thresholds.
func DefaultConfig() Config {
	return Config{
		CoherenceThreshold: 0.85,
		RedundantDiscount:  0.9,
	}
}

// Codec turns states into fragment sets and back. It holds no mutable state
// and is safe for concurrent use.
type Codec struct {
	config Config
}

// New returns a Codec with the given configuration.
func New(config Config) *Codec {
	return &Codec{config: config}
}

// #endregion config

// #region encode
// Encode emits, per component, one primary fragment plus floor(redundancy)-1
// copies at evenly spaced phase offsets. Redundancy below 1 is treated as 1.
func (c *Codec) Encode(s state.State, redundancy float64) []Fragment {
	if redundancy < 1 {
		redundancy = 1
	}
	copies := int(math.Floor(redundancy))
	ids := s.SortedIDs()
	n := len(ids)
	total := s.Energy()

	frags := make([]Fragment, 0, n*copies)
	for i, id := range ids {
		w := s[id]
		var energy float64
		if total > 0 {
			energy = w * w / total
		}
		primary := wrapPhase(math.Mod(float64(id)*math.Phi, twoPi) + twoPi*float64(i)/float64(n))
		frags = append(frags, Fragment{
			ComponentID: id,
			Weight:      w,
			Phase:       primary,
			Coherence:   1.0,
			Energy:      energy,
			Components:  n,
			Primary:     true,
		})
		for r := 1; r < copies; r++ {
			frags = append(frags, Fragment{
				ComponentID: id,
				Weight:      w,
				Phase:       wrapPhase(primary + twoPi*float64(r)/redundancy),
				Coherence:   c.config.RedundantDiscount,
				Energy:      energy,
				Components:  n,
			})
		}
	}
	return frags
}

// #endregion encode

// #region decode
// Decode rebuilds a state from a partial fragment set. Duplicate copies
// (same component and phase) count once, so the reconstruction check uses
// the number of distinct fragments, not len(frags). That count must reach
// the square root of the source component count, taken as the largest
// Fragment.Components in the set; when it is 0 (hand-built fragments) or
// smaller than the number of distinct component ids, the distinct id count
// is used instead. Falling short is ErrReconstruction. Components whose
// averaged coherence falls under the threshold are dropped silently.
func (c *Codec) Decode(frags []Fragment) (state.State, error) {
	if len(frags) == 0 {
		return nil, fmt.Errorf("%w: no fragments", ErrReconstruction)
	}

	type phaseKey struct {
		id    int
		phase int64
	}
	type group struct {
		weightSum    float64
		coherenceSum float64
		count        int
	}

	seen := make(map[phaseKey]bool, len(frags))
	groups := make(map[int]*group)
	sourceComponents := 0
	unique := 0
	for _, f := range frags {
		key := phaseKey{f.ComponentID, int64(math.Round(f.Phase * 1e9))}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique++

		g, ok := groups[f.ComponentID]
		if !ok {
			g = &group{}
			groups[f.ComponentID] = g
		}
		g.weightSum += f.Weight
		g.coherenceSum += f.Coherence
		g.count++
		if f.Components > sourceComponents {
			sourceComponents = f.Components
		}
	}
	if len(groups) > sourceComponents {
		sourceComponents = len(groups)
	}

	threshold := math.Sqrt(float64(sourceComponents))
	if float64(unique) < threshold {
		return nil, fmt.Errorf("%w: %d fragments below threshold %.2f", ErrReconstruction, unique, threshold)
	}

	out := make(state.State, len(groups))
	for id, g := range groups {
		coherence := g.coherenceSum / float64(g.count)
		if coherence < c.config.CoherenceThreshold {
			continue
		}
		out[id] = g.weightSum / float64(g.count)
	}
	return out, nil
}

// #endregion decode

// #region package-helpers
var defaultCodec = New(DefaultConfig())

// Encode encodes with the default configuration.
func Encode(s state.State, redundancy float64) []Fragment {
	return defaultCodec.Encode(s, redundancy)
}

// Decode decodes with the default configuration.
func Decode(frags []Fragment) (state.State, error) {
	return defaultCodec.Decode(frags)
}

func wrapPhase(p float64) float64 {
	p = math.Mod(p, twoPi)
	if p < 0 {
		p += twoPi
	}
	return p
}

// #endregion package-helpers
