package api

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/kolkov/devsv/internal/lifecycle"
	"github.com/kolkov/devsv/internal/supervisor"
)

// Client talks to a running devsv over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr. The control API is local only, so the connection is
// not encrypted.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) named(ctx context.Context, method, name string) error {
	return c.conn.Invoke(ctx, fullMethod(method), wrapperspb.String(name), new(emptypb.Empty))
}

func (c *Client) all(ctx context.Context, method string) error {
	return c.conn.Invoke(ctx, fullMethod(method), new(emptypb.Empty), new(emptypb.Empty))
}

func (c *Client) StartService(ctx context.Context, name string) error {
	return c.named(ctx, MethodStartService, name)
}

func (c *Client) StopService(ctx context.Context, name string) error {
	return c.named(ctx, MethodStopService, name)
}

func (c *Client) RestartService(ctx context.Context, name string) error {
	return c.named(ctx, MethodRestartService, name)
}

func (c *Client) StartAll(ctx context.Context) error {
	return c.all(ctx, MethodStartAll)
}

func (c *Client) StopAll(ctx context.Context) error {
	return c.all(ctx, MethodStopAll)
}

func (c *Client) RestartAll(ctx context.Context) error {
	return c.all(ctx, MethodRestartAll)
}

func (c *Client) GetState(ctx context.Context, name string) (lifecycle.State, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, fullMethod(MethodGetState), wrapperspb.String(name), out); err != nil {
		return "", err
	}
	return lifecycle.State(out.GetValue()), nil
}

func (c *Client) GetStatus(ctx context.Context) ([]supervisor.ServiceStatus, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(MethodGetStatus), new(emptypb.Empty), out); err != nil {
		return nil, err
	}
	return structToStatus(out), nil
}

func (c *Client) ReadLogTail(ctx context.Context, name string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, fullMethod(MethodReadLogTail), wrapperspb.String(name), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Subscribe calls fn for every status event until ctx is done or the server
// ends the stream. A stream ended by the server returns nil.
func (c *Client) Subscribe(ctx context.Context, fn func(supervisor.StatusEvent)) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod(MethodSubscribe))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(new(emptypb.Empty)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(structToEvent(msg))
	}
}
