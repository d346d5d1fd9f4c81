package transport

import (
	"context"
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/danielpatrickdp/meshsync/internal/consensus"
)

// VoteSink receives decoded votes. consensus.Validator satisfies it.
type VoteSink interface {
	AddVote(roundID string, v consensus.Vote) error
}

// Server adapts a VoteSink to VoteServiceServer.
type Server struct {
	sink VoteSink
}

// NewServer returns a Server feeding sink.
func NewServer(sink VoteSink) *Server {
	return &Server{sink: sink}
}

// SubmitVote decodes the envelope and hands the vote to the sink. A vote
// the sink rejects is acknowledged with false, not an RPC error.
func (s *Server) SubmitVote(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	roundID, v, err := DecodeVote(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.sink.AddVote(roundID, v); err != nil {
		log.Printf("[RPC] vote from %s for round %s rejected: %v", v.VoterID, roundID, err)
		return wrapperspb.Bool(false), nil
	}
	return wrapperspb.Bool(true), nil
}
