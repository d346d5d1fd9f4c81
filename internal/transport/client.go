package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/danielpatrickdp/meshsync/internal/consensus"
)

// #region client-struct
// Client sends votes to one peer's VoteService.
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// #endregion client-struct

// #region constructor
// NewVoteClient connects to the vote service at addr.
func NewVoteClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// NewVoteClientWithConn wraps an existing connection. The client takes
// ownership and closes conn on Close.
func NewVoteClientWithConn(addr string, conn *grpc.ClientConn) *Client {
	return &Client{addr: addr, conn: conn}
}

// #endregion constructor

// Addr returns the peer address.
func (c *Client) Addr() string {
	return c.addr
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// #region send
// SendVote delivers a vote for roundID and reports whether the peer counted it.
func (c *Client) SendVote(ctx context.Context, roundID string, v consensus.Vote) (bool, error) {
	req, err := EncodeVote(roundID, v)
	if err != nil {
		return false, err
	}
	out := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(ctx, submitVoteMethod, req, out); err != nil {
		return false, fmt.Errorf("submit vote to %s: %w", c.addr, err)
	}
	return out.GetValue(), nil
}

// Broadcast sends the vote to every client concurrently. It returns how many
// peers counted the vote and the joined transport errors, if any.
func Broadcast(ctx context.Context, clients []*Client, roundID string, v consensus.Vote) (int, error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		acked int
		errs  []error
	)
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			ok, err := c.SendVote(ctx, roundID, v)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				acked++
			}
		}(c)
	}
	wg.Wait()
	return acked, errors.Join(errs...)
}

// #endregion send
