package transfer

import (
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
)

// Kind names a propagation strategy.
type Kind string

const (
	KindCorrected Kind = "corrected"
	KindWeighted  Kind = "weighted"
	KindWave      Kind = "wave"
)

// Strategy moves a state toward a set of targets, recording outcomes in the
// session. The set is closed: CorrectedTransfer, WeightedDistribution and
// WaveBroadcast are the only implementations.
type Strategy interface {
	Kind() Kind
	Run(src state.State, targets []string, links topology.Provider, sess *Session)
	sealed()
}

func (*CorrectedTransfer) sealed()    {}
func (*WeightedDistribution) sealed() {}
func (*WaveBroadcast) sealed()        {}
