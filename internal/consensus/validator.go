package consensus

// #region imports
import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/meshsync/internal/clock"
)

// #endregion

// #region validator-struct

// Validator owns a set of consensus rounds. All methods are safe for
// concurrent use; a single mutex makes vote submission and resolution
// atomic with respect to each other.
type Validator struct {
	mu       sync.Mutex
	nodeID   string
	config   Config
	clock    clock.Clock
	recorder Recorder

	rounds   map[string]*Round
	results  map[string]Result
	resolved []string // resolution order, oldest first
	unpolled []Result
}

// NewValidator creates a validator for nodeID. clk nil uses the wall clock.
func NewValidator(nodeID string, cfg Config, clk clock.Clock) *Validator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Validator{
		nodeID:  nodeID,
		config:  cfg,
		clock:   clk,
		rounds:  make(map[string]*Round),
		results: make(map[string]Result),
	}
}

// SetRecorder installs r to receive every resolved result.
func (v *Validator) SetRecorder(r Recorder) {
	v.mu.Lock()
	v.recorder = r
	v.mu.Unlock()
}

// NodeID returns the local voter id.
func (v *Validator) NodeID() string {
	return v.nodeID
}

// #endregion

// #region propose

// Propose opens a PENDING round over stateHash. When self-voting is enabled
// the local node's vote is already counted, which may resolve the round at
// once if the quorum is one.
func (v *Validator) Propose(stateHash string, participants int, algo Algorithm) (Round, error) {
	required, err := RequiredVotes(participants, algo)
	if err != nil {
		return Round{}, fmt.Errorf("propose: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	r := &Round{
		ID:            uuid.New().String(),
		ProposedHash:  stateHash,
		Votes:         make(map[string]Vote),
		Participants:  participants,
		RequiredVotes: required,
		Timeout:       v.config.RoundTimeout,
		Algorithm:     algo,
		Status:        StatusPending,
		CreatedAt:     now,
	}
	v.rounds[r.ID] = r

	if v.config.SelfVote {
		r.Votes[v.nodeID] = NewVote(v.nodeID, stateHash, v.config.SelfScore, now)
	}
	log.Printf("[VOTE] propose round=%s hash=%s algo=%s participants=%d required=%d",
		r.ID, stateHash, algo, participants, required)

	v.resolveLocked(r, now)
	return r.clone(), nil
}

// #endregion

// #region submit-vote

// SubmitVote counts vote toward roundID and reports whether it was accepted.
// Rejections are never escalated; see AddVote for the reason.
func (v *Validator) SubmitVote(roundID string, vote Vote) bool {
	if err := v.AddVote(roundID, vote); err != nil {
		log.Printf("[VOTE] drop vote round=%s voter=%s: %v", roundID, vote.VoterID, err)
		return false
	}
	return true
}

// AddVote is SubmitVote with the rejection reason. A vote replaces any
// earlier vote from the same voter. The clock is read once and that instant
// decides both the timeout check and any resolution the vote triggers.
func (v *Validator) AddVote(roundID string, vote Vote) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	r, ok := v.rounds[roundID]
	if !ok {
		return ErrUnknownRound
	}
	if r.Status != StatusPending {
		return ErrRoundResolved
	}
	if v.timedOut(r, now) {
		v.resolveLocked(r, now)
		return ErrRoundResolved
	}
	if vote.StateHash != r.ProposedHash {
		return ErrHashMismatch
	}
	if err := vote.Verify(now, v.config.MaxTimestampDrift); err != nil {
		return err
	}

	r.Votes[vote.VoterID] = vote
	v.resolveLocked(r, now)
	return nil
}

// #endregion

// #region resolve

// Resolve evaluates roundID as of now. It returns the result and true once
// the round has resolved, or false while it is still pending.
func (v *Validator) Resolve(roundID string) (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, ok := v.rounds[roundID]
	if !ok {
		return Result{}, false
	}
	return v.resolveLocked(r, v.clock.Now())
}

// Poll resolves every due round and returns all results resolved since the
// previous Poll, in resolution order.
func (v *Validator) Poll() []Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	ids := make([]string, 0, len(v.rounds))
	for id, r := range v.rounds {
		if r.Status == StatusPending {
			ids = append(ids, id)
		}
	}
	// Oldest rounds resolve first so results come out in a stable order.
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := v.rounds[ids[i]], v.rounds[ids[j]]
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.Before(rj.CreatedAt)
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		v.resolveLocked(v.rounds[id], now)
	}

	out := v.unpolled
	v.unpolled = nil
	return out
}

// Round returns a snapshot of roundID.
func (v *Validator) Round(roundID string) (Round, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.rounds[roundID]
	if !ok {
		return Round{}, false
	}
	return r.clone(), true
}

// Pending returns the ids of rounds still open, oldest first.
func (v *Validator) Pending() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []*Round
	for _, r := range v.rounds {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	ids := make([]string, len(out))
	for i, r := range out {
		ids[i] = r.ID
	}
	return ids
}

func (v *Validator) timedOut(r *Round, now time.Time) bool {
	return now.Sub(r.CreatedAt) >= r.Timeout
}

// resolveLocked decides r at now if it is due. Timeout wins over quorum.
func (v *Validator) resolveLocked(r *Round, now time.Time) (Result, bool) {
	if r.Status != StatusPending {
		return v.results[r.ID], true
	}

	var res Result
	switch {
	case v.timedOut(r, now):
		res = v.snapshot(r, now)
		res.Status = StatusTimeout
		if len(r.Votes) == 0 {
			res.Status = StatusFailed
		}
	case len(r.Votes) >= r.RequiredVotes:
		res = v.tally(r, now)
	default:
		return Result{}, false
	}

	r.Status = res.Status
	v.results[r.ID] = res
	v.unpolled = append(v.unpolled, res)
	v.resolved = append(v.resolved, r.ID)
	log.Printf("[VOTE] round=%s resolved %s confidence=%.3f votes=%d/%d",
		r.ID, res.Status, res.Confidence, res.VoteCount, res.RequiredVotes)

	if v.recorder != nil {
		if err := v.recorder.RecordResult(res); err != nil {
			log.Printf("[VOTE] failed to record result for round %s: %v", r.ID, err)
		}
	}
	v.evictLocked()
	return res, true
}

// evictLocked forgets the oldest resolved rounds beyond RetainResolved.
// Unpolled results are already queued and still reach the next Poll.
func (v *Validator) evictLocked() {
	limit := v.config.RetainResolved
	if limit <= 0 {
		return
	}
	for len(v.resolved) > limit {
		id := v.resolved[0]
		v.resolved = v.resolved[1:]
		delete(v.rounds, id)
		delete(v.results, id)
	}
}

// #endregion

// #region tally

func (v *Validator) snapshot(r *Round, now time.Time) Result {
	return Result{
		RoundID:        r.ID,
		StateHash:      r.ProposedHash,
		Status:         StatusPending,
		Algorithm:      r.Algorithm,
		CoherenceScore: meanScore(r.Votes),
		VoteCount:      len(r.Votes),
		RequiredVotes:  r.RequiredVotes,
		ResolvedAt:     now,
	}
}

// tally applies the round's algorithm to its votes.
func (v *Validator) tally(r *Round, now time.Time) Result {
	res := v.snapshot(r, now)
	if len(r.Votes) == 0 {
		res.Status = StatusFailed
		return res
	}

	avg := res.CoherenceScore
	accepted := false
	switch r.Algorithm {
	case AlgorithmCoherence:
		res.Confidence = avg
		accepted = avg >= v.config.CoherenceThreshold
	case AlgorithmMajority:
		res.Confidence = float64(len(r.Votes)) / float64(r.RequiredVotes)
		accepted = len(r.Votes) >= r.RequiredVotes/2+1
	case AlgorithmWeighted:
		res.Confidence = avg
		accepted = avg >= v.config.WeightedThreshold
	case AlgorithmByzantine:
		high := 0
		for _, vote := range r.Votes {
			if vote.Score > v.config.ByzantineScore {
				high++
			}
		}
		// Confidence is over participants, not the quorum.
		res.Confidence = float64(high) / float64(r.Participants)
		accepted = high >= r.RequiredVotes
	}

	res.Status = StatusRejected
	if accepted {
		res.Status = StatusAccepted
	}
	return res
}

func meanScore(votes map[string]Vote) float64 {
	if len(votes) == 0 {
		return 0
	}
	// Sum in voter order so the mean does not depend on map iteration.
	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var sum float64
	for _, id := range ids {
		sum += votes[id].Score
	}
	return sum / float64(len(votes))
}

// #endregion
