package transport

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/danielpatrickdp/meshsync/internal/consensus"
)

// ErrMalformedVote is returned when an envelope is missing fields or has
// fields of the wrong type.
var ErrMalformedVote = errors.New("malformed vote envelope")

// #region encode
// EncodeVote packs a vote for roundID into a Struct envelope. The timestamp
// travels as an RFC 3339 string with nanoseconds so the token re-derives.
func EncodeVote(roundID string, v consensus.Vote) (*structpb.Struct, error) {
	ts := timestamppb.New(v.Timestamp)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("encode vote timestamp: %w", err)
	}
	return structpb.NewStruct(map[string]any{
		"round_id":   roundID,
		"voter_id":   v.VoterID,
		"state_hash": v.StateHash,
		"score":      v.Score,
		"timestamp":  ts.AsTime().Format(time.RFC3339Nano),
		"token":      v.Token,
	})
}

// #endregion encode

// #region decode
// DecodeVote unpacks an envelope built by EncodeVote.
func DecodeVote(s *structpb.Struct) (string, consensus.Vote, error) {
	fields := s.GetFields()
	str := func(key string) (string, error) {
		f, ok := fields[key]
		if !ok {
			return "", fmt.Errorf("%w: missing %s", ErrMalformedVote, key)
		}
		sv, ok := f.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return "", fmt.Errorf("%w: %s is not a string", ErrMalformedVote, key)
		}
		return sv.StringValue, nil
	}

	roundID, err := str("round_id")
	if err != nil {
		return "", consensus.Vote{}, err
	}
	var v consensus.Vote
	if v.VoterID, err = str("voter_id"); err != nil {
		return "", consensus.Vote{}, err
	}
	if v.StateHash, err = str("state_hash"); err != nil {
		return "", consensus.Vote{}, err
	}
	if v.Token, err = str("token"); err != nil {
		return "", consensus.Vote{}, err
	}
	raw, err := str("timestamp")
	if err != nil {
		return "", consensus.Vote{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", consensus.Vote{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedVote, err)
	}
	v.Timestamp = ts

	score, ok := fields["score"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return "", consensus.Vote{}, fmt.Errorf("%w: score is not a number", ErrMalformedVote)
	}
	v.Score = score.NumberValue
	return roundID, v, nil
}

// #endregion decode
