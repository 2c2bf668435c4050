package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgelesssys/go-tdx-attest/eventlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a client of the attestation service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the attestation service at target, for example "unix:///run/ccnp/uds/ccnp-server.sock".
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetReport requests a raw quote. nonce and userData are standard base64 encoded.
func (c *Client) GetReport(ctx context.Context, nonce, userData string) ([]byte, error) {
	req, err := structpb.NewStruct(map[string]any{FieldNonce: nonce, FieldUserData: userData})
	if err != nil {
		return nil, err
	}
	resp := &wrapperspb.BytesValue{}
	if err := c.conn.Invoke(ctx, fullMethodName("GetReport"), req, resp); err != nil {
		return nil, err
	}
	return resp.GetValue(), nil
}

// GetQuote requests a quote as JSON string of its base64 encoding. nonce and userData are standard base64 encoded.
func (c *Client) GetQuote(ctx context.Context, nonce, userData string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{FieldNonce: nonce, FieldUserData: userData})
	if err != nil {
		return "", err
	}
	resp := &wrapperspb.StringValue{}
	if err := c.conn.Invoke(ctx, fullMethodName("GetQuote"), req, resp); err != nil {
		return "", err
	}
	return resp.GetValue(), nil
}

// GetMeasurement requests a single measurement register.
func (c *Client) GetMeasurement(ctx context.Context, index int, algorithm uint16) ([]byte, error) {
	req, err := structpb.NewStruct(map[string]any{FieldIndex: index, FieldAlgorithm: int(algorithm)})
	if err != nil {
		return nil, err
	}
	resp := &wrapperspb.BytesValue{}
	if err := c.conn.Invoke(ctx, fullMethodName("GetMeasurement"), req, resp); err != nil {
		return nil, err
	}
	return resp.GetValue(), nil
}

// GetEventlog requests count events starting at start. A count of zero requests all remaining events.
func (c *Client) GetEventlog(ctx context.Context, start, count int) ([]eventlog.Event, error) {
	req, err := structpb.NewStruct(map[string]any{FieldStart: start, FieldCount: count})
	if err != nil {
		return nil, err
	}
	resp := &wrapperspb.StringValue{}
	if err := c.conn.Invoke(ctx, fullMethodName("GetEventlog"), req, resp); err != nil {
		return nil, err
	}

	var events []eventlog.Event
	if err := json.Unmarshal([]byte(resp.GetValue()), &events); err != nil {
		return nil, fmt.Errorf("decoding event log: %w", err)
	}
	return events, nil
}
