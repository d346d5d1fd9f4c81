package consensus

// #region imports
import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"
)

// #endregion

// #region errors

var (
	ErrUnknownAlgorithm    = errors.New("unknown consensus algorithm")
	ErrInvalidParticipants = errors.New("participant count must be positive")
	ErrUnknownRound        = errors.New("unknown round")
	ErrRoundResolved       = errors.New("round already resolved")
	ErrHashMismatch        = errors.New("vote state hash does not match proposal")
	ErrInvalidVote         = errors.New("invalid vote")
)

// #endregion

// #region algorithm

// Algorithm selects how a round's votes are tallied.
type Algorithm string

const (
	AlgorithmCoherence Algorithm = "coherence"
	AlgorithmMajority  Algorithm = "majority"
	AlgorithmWeighted  Algorithm = "weighted"
	AlgorithmByzantine Algorithm = "byzantine"
)

// ParseAlgorithm maps a name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case AlgorithmCoherence, AlgorithmMajority, AlgorithmWeighted, AlgorithmByzantine:
		return a, nil
	}
	return "", ErrUnknownAlgorithm
}

// RequiredVotes returns the quorum for n participants under algo.
func RequiredVotes(n int, algo Algorithm) (int, error) {
	if n <= 0 {
		return 0, ErrInvalidParticipants
	}
	switch algo {
	case AlgorithmByzantine:
		return (2*n+2)/3 + 1, nil // ceil(2n/3) + 1
	case AlgorithmMajority:
		return n/2 + 1, nil
	case AlgorithmCoherence, AlgorithmWeighted:
		req := (67*n + 99) / 100 // ceil(0.67n)
		if req < 3 {
			req = 3
		}
		return req, nil
	}
	return 0, ErrUnknownAlgorithm
}

// #endregion

// #region status

// Status is a round's lifecycle state. Everything but StatusPending is terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusTimeout  Status = "TIMEOUT"
	StatusFailed   Status = "FAILED"
)

// #endregion

// #region round

// Round is one proposal and the votes gathered for it.
type Round struct {
	ID            string
	ProposedHash  string
	Votes         map[string]Vote // voter → latest vote
	Participants  int
	RequiredVotes int
	Timeout       time.Duration
	Algorithm     Algorithm
	Status        Status
	CreatedAt     time.Time
}

func (r *Round) clone() Round {
	out := *r
	out.Votes = make(map[string]Vote, len(r.Votes))
	for k, v := range r.Votes {
		out.Votes[k] = v
	}
	return out
}

// Result is the snapshot taken when a round resolves.
type Result struct {
	RoundID        string    `json:"round_id"`
	StateHash      string    `json:"state_hash"`
	Status         Status    `json:"status"`
	Algorithm      Algorithm `json:"algorithm"`
	Confidence     float64   `json:"confidence"`
	CoherenceScore float64   `json:"coherence_score"`
	VoteCount      int       `json:"vote_count"`
	RequiredVotes  int       `json:"required_votes"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// Accepted reports whether the round passed.
func (r Result) Accepted() bool {
	return r.Status == StatusAccepted
}

// Recorder receives every result exactly once, at resolution.
type Recorder interface {
	RecordResult(Result) error
}

// #endregion

// #region config

// Config holds validator thresholds.
type Config struct {
	RoundTimeout       time.Duration
	SelfVote           bool
	SelfScore          float64
	MaxTimestampDrift  time.Duration
	CoherenceThreshold float64 // coherence algorithm: mean score
	WeightedThreshold  float64 // weighted algorithm: mean score
	ByzantineScore     float64 // byzantine algorithm: per-vote score floor (exclusive)
	RetainResolved     int     // resolved rounds kept for lookup; <= 0 keeps all
}

// DefaultConfig returns standard thresholds. CONSENSUS_ROUND_TIMEOUT and
// CONSENSUS_SELF_VOTE override the timeout and self-vote switch.
func DefaultConfig() Config {
	cfg := Config{
		RoundTimeout:       30 * time.Second,
		SelfVote:           true,
		SelfScore:          1.0,
		MaxTimestampDrift:  10 * time.Minute,
		CoherenceThreshold: 0.85,
		WeightedThreshold:  0.67,
		ByzantineScore:     0.8,
		RetainResolved:     1024,
	}
	if v := os.Getenv("CONSENSUS_ROUND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RoundTimeout = d
		} else {
			log.Printf("[VOTE] ignoring CONSENSUS_ROUND_TIMEOUT=%q: %v", v, err)
		}
	}
	if v := os.Getenv("CONSENSUS_SELF_VOTE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SelfVote = b
		}
	}
	return cfg
}

// #endregion
