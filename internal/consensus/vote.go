package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Vote is one node's opinion on a proposed state hash. Token lets the
// receiver re-derive the vote's fields; it is a consistency check, not a
// signature.
type Vote struct {
	VoterID   string    `json:"voter_id"`
	StateHash string    `json:"state_hash"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
	Token     string    `json:"token"`
}

// NewVote builds a vote with its token filled in.
func NewVote(voterID, stateHash string, score float64, ts time.Time) Vote {
	v := Vote{
		VoterID:   voterID,
		StateHash: stateHash,
		Score:     score,
		Timestamp: ts,
	}
	v.Token = VoteToken(v)
	return v
}

// VoteToken derives the token for v's fields. The score is rounded to six
// decimals so a token survives a text round trip.
func VoteToken(v Vote) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d",
		v.VoterID, v.StateHash, int64(math.Round(v.Score*1e6)), v.Timestamp.UnixNano())))
	return hex.EncodeToString(sum[:])
}

// Verify checks the vote against now: voter present, score in [0,1],
// timestamp within drift of now, token matching.
func (v Vote) Verify(now time.Time, drift time.Duration) error {
	if v.VoterID == "" {
		return fmt.Errorf("%w: missing voter", ErrInvalidVote)
	}
	if math.IsNaN(v.Score) || v.Score < 0 || v.Score > 1 {
		return fmt.Errorf("%w: score %v outside [0,1]", ErrInvalidVote, v.Score)
	}
	if drift > 0 {
		if v.Timestamp.After(now.Add(drift)) {
			return fmt.Errorf("%w: timestamp too far in future", ErrInvalidVote)
		}
		if v.Timestamp.Before(now.Add(-drift)) {
			return fmt.Errorf("%w: timestamp too far in past", ErrInvalidVote)
		}
	}
	if v.Token != VoteToken(v) {
		return fmt.Errorf("%w: token mismatch", ErrInvalidVote)
	}
	return nil
}
