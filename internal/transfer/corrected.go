package transfer

import (
	"log"
	"math"

	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
)

// #region corrections
// Basis selects which correction a token applies.
type Basis int

const (
	BasisX Basis = iota // negate
	BasisZ              // phase flip, multiply by cos(π)
)

// CorrectionToken is one basis measurement for a component.
type CorrectionToken struct {
	Basis      Basis
	Bit        int
	Confidence float64
}

// CorrectionPair holds both tokens derived for one component.
type CorrectionPair struct {
	ComponentID int
	X           CorrectionToken
	Z           CorrectionToken
}

// DeriveCorrections computes one pair per component in ascending id order.
// Each pair depends only on its own (id, weight).
func DeriveCorrections(s state.State) []CorrectionPair {
	pairs := make([]CorrectionPair, 0, len(s))
	for _, id := range s.SortedIDs() {
		w := s[id]
		x := 0
		if mod(id, 4) < 2 {
			x = 1
		}
		z := 0
		if mod(id, 2) == 0 {
			z = 1
		}
		pairs = append(pairs, CorrectionPair{
			ComponentID: id,
			X:           CorrectionToken{Basis: BasisX, Bit: x, Confidence: 0.9 + 0.1*w*w},
			Z:           CorrectionToken{Basis: BasisZ, Bit: z, Confidence: 0.95 + 0.05*w*w},
		})
	}
	return pairs
}

// ApplyCorrections returns a copy of s with every pair applied. Applying the
// same pairs twice restores the original weights exactly.
func ApplyCorrections(s state.State, pairs []CorrectionPair) state.State {
	out := s.Clone()
	for _, p := range pairs {
		w, ok := out[p.ComponentID]
		if !ok {
			continue
		}
		if p.X.Bit == 1 {
			w = -w
		}
		if p.Z.Bit == 1 {
			w *= math.Cos(math.Pi)
		}
		out[p.ComponentID] = w
	}
	return out
}

// MeanConfidence averages every token confidence across pairs.
func MeanConfidence(pairs []CorrectionPair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pairs {
		sum += p.X.Confidence + p.Z.Confidence
	}
	return sum / float64(2*len(pairs))
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// #endregion corrections

// #region corrected-transfer
// DeliverFunc hands a corrected payload to target and reports whether the
// receiver got it.
type DeliverFunc func(target string, payload state.State) bool

// CorrectedConfig gates corrected transfer to strong links on coherent nodes.
type CorrectedConfig struct {
	StrongThreshold   float64
	MinLocalCoherence float64
}

// DefaultCorrectedConfig returns the standard gate.
func DefaultCorrectedConfig() CorrectedConfig {
	return CorrectedConfig{
		StrongThreshold:   0.85,
		MinLocalCoherence: 0.9,
	}
}

// CorrectedTransfer sends the whole state to each target over a direct link.
// It succeeds or fails per target, never per component.
type CorrectedTransfer struct {
	config  CorrectedConfig
	Deliver DeliverFunc // nil delivers everything
}

// NewCorrectedTransfer returns a corrected transfer strategy.
func NewCorrectedTransfer(config CorrectedConfig) *CorrectedTransfer {
	return &CorrectedTransfer{config: config}
}

func (c *CorrectedTransfer) Kind() Kind { return KindCorrected }

// Run attempts every target in order. A target fails when the gate rejects
// the link, delivery fails, or the restored state does not hash to the source.
func (c *CorrectedTransfer) Run(src state.State, targets []string, links topology.Provider, sess *Session) {
	pairs := DeriveCorrections(src)
	payload := ApplyCorrections(src, pairs)
	want := codec.StateHash(src)
	coherence := links.LocalCoherence(sess.Source)

	for _, t := range targets {
		q := links.LinkQuality(sess.Source, t)
		if q < c.config.StrongThreshold || coherence < c.config.MinLocalCoherence {
			sess.MarkFailed(t)
			continue
		}
		if len(pairs) == 0 || len(pairs) != len(src) {
			sess.MarkFailed(t)
			continue
		}
		if c.Deliver != nil && !c.Deliver(t, payload) {
			log.Printf("[XFER] corrected delivery to %s failed", t)
			sess.MarkFailed(t)
			continue
		}
		if codec.StateHash(ApplyCorrections(payload, pairs)) != want {
			log.Printf("[XFER] corrected payload for %s did not restore", t)
			sess.MarkFailed(t)
			continue
		}
		sess.MarkReached(t, 1)
		sess.Metrics.CorrectedTransfersUsed++
	}
}

// #endregion corrected-transfer
