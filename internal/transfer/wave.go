package transfer

import (
	"log"

	"github.com/danielpatrickdp/meshsync/internal/clock"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
)

// WaveConfig controls amplitude decay during broadcast.
type WaveConfig struct {
	Decay              float64
	CoherenceThreshold float64
}

// DefaultWaveConfig returns decay 0.9 and threshold 0.7.
func DefaultWaveConfig() WaveConfig {
	return WaveConfig{
		Decay:              0.9,
		CoherenceThreshold: 0.7,
	}
}

// WaveBroadcast floods the link graph breadth first from the source. Peers
// outside the target set relay the wave but are not recorded.
type WaveBroadcast struct {
	config WaveConfig
	clock  clock.Clock
}

// NewWaveBroadcast returns a wave strategy that checks the session budget
// against clk.
func NewWaveBroadcast(config WaveConfig, clk clock.Clock) *WaveBroadcast {
	if clk == nil {
		clk = clock.Real{}
	}
	return &WaveBroadcast{config: config, clock: clk}
}

func (w *WaveBroadcast) Kind() Kind { return KindWave }

type waveNode struct {
	peer      string
	amplitude float64
	hops      int
}

// Run propagates until the frontier empties or the session budget is spent.
// Running out of budget leaves unreached targets pending; an exhausted
// frontier marks them failed.
func (w *WaveBroadcast) Run(_ state.State, targets []string, links topology.Provider, sess *Session) {
	want := make(map[string]bool, len(targets))
	for _, t := range targets {
		if sess.Pending[t] || sess.Failed[t] {
			want[t] = true
		}
	}
	if len(want) == 0 {
		return
	}

	visited := map[string]bool{sess.Source: true}
	frontier := []waveNode{{peer: sess.Source, amplitude: 1.0}}

	for len(frontier) > 0 {
		var next []waveNode
		for _, n := range frontier {
			if sess.Expired(w.clock.Now()) {
				log.Printf("[XFER] wave budget spent at hop %d, reached=%d", n.hops, len(sess.Reached))
				return
			}
			for _, nb := range links.Neighbors(n.peer) {
				if visited[nb] {
					continue
				}
				k := links.LinkQuality(n.peer, nb)
				amp := n.amplitude * k * w.config.Decay
				if amp < w.config.CoherenceThreshold {
					continue
				}
				visited[nb] = true
				if want[nb] {
					sess.MarkReached(nb, n.hops+1)
				}
				next = append(next, waveNode{peer: nb, amplitude: amp, hops: n.hops + 1})
			}
		}
		frontier = next
	}

	for t := range want {
		sess.MarkFailed(t)
	}
}
