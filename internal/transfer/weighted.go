package transfer

import (
	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
)

// FragmentDeliverFunc hands a fragment set to target and reports success.
type FragmentDeliverFunc func(target string, frags []codec.Fragment) bool

// WeightedConfig controls fragment distribution.
type WeightedConfig struct {
	Redundancy          float64
	MinFragmentsPerNode int
}

// DefaultWeightedConfig returns redundancy 2 and a three-fragment minimum.
func DefaultWeightedConfig() WeightedConfig {
	return WeightedConfig{
		Redundancy:          2.0,
		MinFragmentsPerNode: 3,
	}
}

// WeightedDistribution encodes the state once and splits the fragments
// across targets in proportion to link quality.
type WeightedDistribution struct {
	config  WeightedConfig
	codec   *codec.Codec
	Deliver FragmentDeliverFunc // nil delivers everything
}

// NewWeightedDistribution returns a distribution strategy using cdc for encoding.
// A nil codec uses the default configuration.
func NewWeightedDistribution(config WeightedConfig, cdc *codec.Codec) *WeightedDistribution {
	if cdc == nil {
		cdc = codec.New(codec.DefaultConfig())
	}
	return &WeightedDistribution{config: config, codec: cdc}
}

func (w *WeightedDistribution) Kind() Kind { return KindWeighted }

// Run distributes fragments over the targets still pending in sess. A target
// is reached when it receives at least MinFragmentsPerNode fragments.
func (w *WeightedDistribution) Run(src state.State, targets []string, links topology.Provider, sess *Session) {
	qualities := make(map[string]float64)
	var remaining []string
	for _, t := range targets {
		if !sess.Pending[t] {
			continue
		}
		qualities[t] = links.LinkQuality(sess.Source, t)
		remaining = append(remaining, t)
	}
	if len(remaining) == 0 {
		return
	}

	frags := w.codec.Encode(src, w.config.Redundancy)
	shares := codec.Distribute(frags, qualities)

	for _, t := range remaining {
		got := shares[t]
		sess.Metrics.FragmentsDistributed += len(got)
		if len(got) < w.config.MinFragmentsPerNode {
			sess.MarkFailed(t)
			continue
		}
		if w.Deliver != nil && !w.Deliver(t, got) {
			sess.MarkFailed(t)
			continue
		}
		sess.MarkReached(t, 1)
	}
}
