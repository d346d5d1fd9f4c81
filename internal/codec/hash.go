package codec

import (
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/meshsync/internal/state"
)

// #region state-hash
// StateHash folds ids and micro-rounded weights in ascending id order into a
// uint64 (wrapping), rendered as 16 hex digits. Insertion order never matters.
func StateHash(s state.State) string {
	var h uint64
	for _, id := range s.SortedIDs() {
		h = h*31 + uint64(int64(id))
		h = h*31 + uint64(int64(math.Round(s[id]*1e6)))
	}
	return fmt.Sprintf("%016x", h)
}

// #endregion state-hash

// #region distribute
// Distribute splits fragments across peers by link quality. Peers are taken
// strongest first; each receives ceil(total·q/Σq) fragments in order, and any
// remainder is dealt round-robin in the same order. A non-finite or
// non-positive quality counts as zero: that peer only takes round-robin
// leftovers. Peers that receive nothing are absent from the result.
func Distribute(frags []Fragment, qualities map[string]float64) map[string][]Fragment {
	out := make(map[string][]Fragment)
	if len(frags) == 0 || len(qualities) == 0 {
		return out
	}

	peers := make([]string, 0, len(qualities))
	usable := make(map[string]float64, len(qualities))
	var sum float64
	for p, q := range qualities {
		peers = append(peers, p)
		if math.IsNaN(q) || math.IsInf(q, 0) || q <= 0 {
			q = 0
		}
		usable[p] = q
		sum += q
	}
	sort.Slice(peers, func(i, j int) bool {
		qi, qj := usable[peers[i]], usable[peers[j]]
		if qi != qj {
			return qi > qj
		}
		return peers[i] < peers[j]
	})

	total := len(frags)
	next := 0
	if sum > 0 {
		for _, p := range peers {
			if next >= total {
				break
			}
			q := usable[p]
			if q <= 0 {
				continue
			}
			share := int(math.Ceil(float64(total) * (q / sum)))
			if share > total-next {
				share = total - next
			}
			out[p] = append(out[p], frags[next:next+share]...)
			next += share
		}
	}

	for i := 0; next < total; i++ {
		p := peers[i%len(peers)]
		out[p] = append(out[p], frags[next])
		next++
	}

	for p, fs := range out {
		if len(fs) == 0 {
			delete(out, p)
		}
	}
	return out
}

// #endregion distribute
