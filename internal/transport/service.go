package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region service-desc
const (
	serviceName      = "meshsync.VoteService"
	submitVoteMethod = "/meshsync.VoteService/SubmitVote"
)

// VoteServiceServer is the server side of meshsync.VoteService.
// Requests are vote envelopes; the response acknowledges whether the
// receiving validator counted the vote.
type VoteServiceServer interface {
	SubmitVote(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
}

// VoteServiceDesc describes meshsync.VoteService for grpc.Server.
var VoteServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*VoteServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitVote",
			Handler:    submitVoteHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshsync/vote.proto",
}

// RegisterVoteServiceServer registers srv on s.
func RegisterVoteServiceServer(s grpc.ServiceRegistrar, srv VoteServiceServer) {
	s.RegisterService(&VoteServiceDesc, srv)
}

func submitVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VoteServiceServer).SubmitVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: submitVoteMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VoteServiceServer).SubmitVote(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc
