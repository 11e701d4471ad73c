package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls PlayerService procedures.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption
}

// NewClient creates a client for the server at baseURL. token may be empty.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts = append(opts, connect.WithInterceptors(NewTokenInterceptor(token)))
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
	}
}

// Call invokes a unary procedure with args as the request body.
func (c *Client) Call(ctx context.Context, procedure string, args map[string]any) (map[string]any, error) {
	msg, err := structpb.NewStruct(args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode arguments")
	}
	client := connect.NewClient[Message, Message](c.httpClient, c.baseURL+procedure, c.opts...)
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

// Subscribe streams status notifications to fn until ctx is cancelled, the
// server closes the stream or fn returns false.
func (c *Client) Subscribe(ctx context.Context, fn func(map[string]any) bool) error {
	client := connect.NewClient[Message, Message](c.httpClient, c.baseURL+PlayerServiceSubscribeStatusProcedure, c.opts...)
	stream, err := client.CallServerStream(ctx, connect.NewRequest(&Message{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if !fn(stream.Msg().AsMap()) {
			return nil
		}
	}
	if err := stream.Err(); err != nil && connect.CodeOf(err) != connect.CodeCanceled {
		return err
	}
	return nil
}
