package grpctransport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/metadata"
)

const (
	serviceName = "watchermen.ControlPlane"

	registerMethod   = "/" + serviceName + "/Register"
	heartbeatMethod  = "/" + serviceName + "/Heartbeat"
	getConfigMethod  = "/" + serviceName + "/GetConfig"
	unregisterMethod = "/" + serviceName + "/Unregister"
	operateMethod    = "/" + serviceName + "/Operate"
)

// Wire request/response shapes. Field names are chosen to match the
// snake_case vocabulary spec.md §4.5 uses for the same RPCs; the JSON
// codec (codec.go) is what actually puts them on the wire.

type RegisterRequest struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	ObjectID string `json:"object_id"`
	IPv4     string `json:"ipv4"`
	IPv6     string `json:"ipv6"`
}

type RegisterResponse struct {
	ConfigUUID string `json:"config_uuid"`
}

type HeartbeatProcessEntry struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

type HeartbeatRequest struct {
	ConfigUUID  string                  `json:"config_uuid"`
	ObjectID    string                  `json:"object_id"`
	Name        string                  `json:"name"`
	Version     string                  `json:"version"`
	ProcessList []HeartbeatProcessEntry `json:"process_list"`
}

type HeartbeatResponse struct {
	ConfigUUID string `json:"config_uuid"`
}

type GetConfigRequest struct {
	ConfigUUID string `json:"config_uuid"`
}

type GetConfigResponse struct {
	ConfigContent string `json:"config_content"`
}

type UnregisterRequest struct {
	ObjectID string `json:"object_id"`
}

type UnregisterResponse struct{}

type OperateRequest struct {
	ObjectID string `json:"object_id"`
}

type OperateMessage struct {
	Cmd   string   `json:"cmd"`
	Names []string `json:"names"`
}

// Client is a hand-written gRPC client stub: it drives the five RPCs
// through grpc.ClientConn's ClientConnInterface (Invoke for unaries,
// NewStream for Operate) rather than generated code, since there is no
// canonical .proto to compile against (spec.md §1).
type Client struct {
	cc          *grpc.ClientConn
	companyUUID string
}

// Dial opens a connection to target, defaulting every call to the JSON
// content-subtype this package registers.
func Dial(target, companyUUID string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name)))
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dial %s: %w", target, err)
	}
	return &Client{cc: cc, companyUUID: companyUUID}, nil
}

func (c *Client) withMetadata(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "company_uuid", c.companyUUID)
}

func (c *Client) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	resp := new(RegisterResponse)
	if err := c.cc.Invoke(c.withMetadata(ctx), registerMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	resp := new(HeartbeatResponse)
	if err := c.cc.Invoke(c.withMetadata(ctx), heartbeatMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetConfig(ctx context.Context, req *GetConfigRequest) (*GetConfigResponse, error) {
	resp := new(GetConfigResponse)
	if err := c.cc.Invoke(c.withMetadata(ctx), getConfigMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Unregister(ctx context.Context, req *UnregisterRequest) error {
	resp := new(UnregisterResponse)
	return c.cc.Invoke(c.withMetadata(ctx), unregisterMethod, req, resp)
}

// Operate opens the server-streaming Operate RPC and sends the single
// request message every server-streaming call needs before CloseSend.
func (c *Client) Operate(ctx context.Context, objectID string) (*OperateStream, error) {
	desc := &grpc.StreamDesc{StreamName: "Operate", ServerStreams: true}
	stream, err := c.cc.NewStream(c.withMetadata(ctx), desc, operateMethod)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: open Operate stream: %w", err)
	}
	if err := stream.SendMsg(&OperateRequest{ObjectID: objectID}); err != nil {
		return nil, fmt.Errorf("grpctransport: send Operate request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("grpctransport: close Operate send side: %w", err)
	}
	return &OperateStream{stream: stream}, nil
}

// State reports the underlying connection's connectivity.State, for the
// 30-second health-check log line.
func (c *Client) State() connectivity.State { return c.cc.GetState() }

// Close releases the underlying connection.
func (c *Client) Close() error { return c.cc.Close() }

// OperateStream is the receive half of the Operate RPC.
type OperateStream struct {
	stream grpc.ClientStream
}

func (s *OperateStream) Recv() (*OperateMessage, error) {
	msg := new(OperateMessage)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *OperateStream) Close() error {
	if cs, ok := s.stream.(interface{ CloseSend() error }); ok {
		return cs.CloseSend()
	}
	return nil
}
