package orchestrator

import "github.com/danielpatrickdp/meshsync/internal/topology"

// #region classify

// Classification partitions targets by direct link quality.
// Both slices keep the caller's target order.
type Classification struct {
	Strong []string
	Weak   []string
}

// Class reports which bucket peer landed in.
func (c Classification) Class(peer string) LinkClass {
	for _, p := range c.Strong {
		if p == peer {
			return LinkStrong
		}
	}
	return LinkWeak
}

// ClassifyLinks puts targets whose link from source has quality at or above
// threshold in Strong and everything else in Weak.
func ClassifyLinks(links topology.Provider, source string, targets []string, threshold float64) Classification {
	var c Classification
	for _, t := range targets {
		if links.LinkQuality(source, t) >= threshold {
			c.Strong = append(c.Strong, t)
		} else {
			c.Weak = append(c.Weak, t)
		}
	}
	return c
}

// #endregion
