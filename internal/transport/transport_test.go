package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/danielpatrickdp/meshsync/internal/clock"
	"github.com/danielpatrickdp/meshsync/internal/consensus"
)

const testHash = "0123456789abcdef"

var epoch = time.Date(2026, 6, 1, 8, 30, 0, 123456789, time.UTC)

// startPeer serves a validator over bufconn and returns a client for it.
func startPeer(t *testing.T, name string) (*consensus.Validator, *Client) {
	t.Helper()
	cfg := consensus.DefaultConfig()
	cfg.SelfVote = false
	v := consensus.NewValidator(name, cfg, clock.NewManual(epoch))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterVoteServiceServer(srv, NewServer(v))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///"+name,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial %s: %v", name, err)
	}
	c := NewVoteClientWithConn(name, conn)
	t.Cleanup(func() { c.Close() })
	return v, c
}

func TestEnvelopeRoundTrip(t *testing.T) {
	v := consensus.NewVote("node-a", testHash, 0.875, epoch)
	env, err := EncodeVote("round-1", v)
	if err != nil {
		t.Fatal(err)
	}
	roundID, got, err := DecodeVote(env)
	if err != nil {
		t.Fatal(err)
	}
	if roundID != "round-1" || got.VoterID != "node-a" || got.Score != 0.875 {
		t.Errorf("unexpected decode %s %+v", roundID, got)
	}
	if !got.Timestamp.Equal(epoch) {
		t.Errorf("timestamp lost precision: %v", got.Timestamp)
	}
	if err := got.Verify(epoch, time.Minute); err != nil {
		t.Errorf("decoded vote should verify: %v", err)
	}
}

func TestDecodeVote_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"empty", map[string]any{}},
		{"score-string", map[string]any{
			"round_id": "r", "voter_id": "a", "state_hash": "h", "token": "t",
			"timestamp": epoch.Format(time.RFC3339Nano), "score": "high",
		}},
		{"bad-time", map[string]any{
			"round_id": "r", "voter_id": "a", "state_hash": "h", "token": "t",
			"timestamp": "yesterday", "score": 0.5,
		}},
		{"voter-number", map[string]any{
			"round_id": "r", "voter_id": 7.0, "state_hash": "h", "token": "t",
			"timestamp": epoch.Format(time.RFC3339Nano), "score": 0.5,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tt.fields)
			if err != nil {
				t.Fatal(err)
			}
			if _, _, err := DecodeVote(s); !errors.Is(err, ErrMalformedVote) {
				t.Errorf("expected ErrMalformedVote, got %v", err)
			}
		})
	}
}

func TestSendVote(t *testing.T) {
	v, c := startPeer(t, "peer-b")
	round, err := v.Propose(testHash, 3, consensus.AlgorithmCoherence)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ok, err := c.SendVote(ctx, round.ID, consensus.NewVote("node-a", testHash, 0.9, epoch))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !ok {
		t.Error("valid vote should be acknowledged")
	}
	snap, _ := v.Round(round.ID)
	if _, ok := snap.Votes["node-a"]; !ok {
		t.Error("vote should reach the remote validator")
	}

	ok, err = c.SendVote(ctx, round.ID, consensus.NewVote("node-c", "ffffffffffffffff", 0.9, epoch))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ok {
		t.Error("a vote for another hash should be refused")
	}
}

func TestSubmitVote_InvalidArgument(t *testing.T) {
	_, c := startPeer(t, "peer-x")
	out := new(wrapperspb.BoolValue)
	err := c.conn.Invoke(context.Background(), submitVoteMethod, &structpb.Struct{}, out)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestBroadcast(t *testing.T) {
	va, ca := startPeer(t, "peer-a")
	_, cb := startPeer(t, "peer-b")

	// peer-b has no such round and refuses.
	ra, _ := va.Propose(testHash, 3, consensus.AlgorithmCoherence)

	acked, err := Broadcast(context.Background(), []*Client{ca, cb}, ra.ID,
		consensus.NewVote("node-z", testHash, 0.95, epoch))
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if acked != 1 {
		t.Errorf("expected 1 ack, got %d", acked)
	}
}
