package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dreamware/flashsync/internal/cluster"
)

// DefaultPort is the port the controller listens on unless configured otherwise.
const DefaultPort = 50099

// Client is a worker's handle on the controller's Sync service.
type Client struct {
	conn  *grpc.ClientConn
	group string
}

// Dial connects to the controller at target over an insecure channel.
// The connection is established lazily on the first call.
//
// Example:
//
//	client, err := rpc.Dial("localhost:50099")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	_, err = client.Barrier(ctx, 4)
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial controller %s: %w", target, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// WithGroup returns a client whose calls target the named group. The returned
// client shares the connection.
func (c *Client) WithGroup(name string) *Client {
	return &Client{conn: c.conn, group: name}
}

// Group returns the group this client's calls target.
func (c *Client) Group() string {
	return c.group
}

// Barrier blocks until numWorkers members have arrived and returns the released generation.
func (c *Client) Barrier(ctx context.Context, numWorkers uint32) (uint64, error) {
	req := &cluster.BarrierRequest{Group: c.group, NumWorkers: numWorkers}
	resp := new(cluster.BarrierResponse)
	if err := c.invoke(ctx, barrierMethod, req, resp); err != nil {
		return 0, err
	}
	return resp.Generation, nil
}

// Broadcast joins the caller's next broadcast round and returns the root's value.
// value is only sent when rank == root.
func (c *Client) Broadcast(ctx context.Context, rank, root, numWorkers uint32, value []byte) ([]byte, error) {
	req := &cluster.BroadcastRequest{
		Group:      c.group,
		Rank:       rank,
		Root:       root,
		NumWorkers: numWorkers,
	}
	if rank == root {
		req.Value = value
	}
	resp := new(cluster.BroadcastResponse)
	if err := c.invoke(ctx, broadcastMethod, req, resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Exchange posts value into session and returns every rank's record.
func (c *Client) Exchange(ctx context.Context, session uint64, rank, numWorkers uint32, value []byte) ([][]byte, error) {
	req := &cluster.ExchangeRequest{
		Group:      c.group,
		Session:    session,
		Rank:       rank,
		NumWorkers: numWorkers,
		Value:      value,
	}
	resp := new(cluster.ExchangeResponse)
	if err := c.invoke(ctx, exchangeMethod, req, resp); err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(CodecName))
}
