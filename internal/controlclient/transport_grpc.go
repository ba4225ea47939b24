package controlclient

import (
	"context"
	"sync"

	"github.com/novawatcher-io/watchermen/internal/controlclient/grpctransport"
	"github.com/novawatcher-io/watchermen/internal/process"
	"google.golang.org/grpc"
)

// grpcTransport adapts grpctransport.Client to Transport, translating
// between this package's plain request/response types and the wire
// shapes grpctransport defines. It also supports Redial so
// onGetConfigResult can rebuild the connection when the control plane
// hands back a new server_address (spec.md §4.5).
type grpcTransport struct {
	companyUUID string
	dialOpts    []grpc.DialOption

	mu     sync.Mutex
	client *grpctransport.Client
}

// NewGRPCTransport dials target and returns a Transport backed by it.
func NewGRPCTransport(target, companyUUID string, dialOpts ...grpc.DialOption) (Transport, error) {
	client, err := grpctransport.Dial(target, companyUUID, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &grpcTransport{companyUUID: companyUUID, dialOpts: dialOpts, client: client}, nil
}

func (t *grpcTransport) current() *grpctransport.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

// Redial replaces the underlying connection, closing the old one.
func (t *grpcTransport) Redial(target string) error {
	client, err := grpctransport.Dial(target, t.companyUUID, t.dialOpts...)
	if err != nil {
		return err
	}
	t.mu.Lock()
	old := t.client
	t.client = client
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (t *grpcTransport) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	resp, err := t.current().Register(ctx, &grpctransport.RegisterRequest{
		Name:     req.Name,
		Version:  req.Version,
		ObjectID: req.ObjectID,
		IPv4:     req.IPv4,
		IPv6:     req.IPv6,
	})
	if err != nil {
		return RegisterResponse{}, err
	}
	return RegisterResponse{ConfigUUID: resp.ConfigUUID}, nil
}

func (t *grpcTransport) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	entries := make([]grpctransport.HeartbeatProcessEntry, 0, len(req.ProcessList))
	for _, e := range req.ProcessList {
		entries = append(entries, grpctransport.HeartbeatProcessEntry{
			Name:    e.Name,
			Running: e.State == process.HeartbeatRunning,
		})
	}
	resp, err := t.current().Heartbeat(ctx, &grpctransport.HeartbeatRequest{
		ConfigUUID:  req.ConfigUUID,
		ObjectID:    req.ObjectID,
		Name:        req.Name,
		Version:     req.Version,
		ProcessList: entries,
	})
	if err != nil {
		return HeartbeatResponse{}, err
	}
	return HeartbeatResponse{ConfigUUID: resp.ConfigUUID}, nil
}

func (t *grpcTransport) GetConfig(ctx context.Context, req GetConfigRequest) (GetConfigResponse, error) {
	resp, err := t.current().GetConfig(ctx, &grpctransport.GetConfigRequest{ConfigUUID: req.ConfigUUID})
	if err != nil {
		return GetConfigResponse{}, err
	}
	return GetConfigResponse{ConfigContent: resp.ConfigContent}, nil
}

func (t *grpcTransport) Unregister(ctx context.Context, req UnregisterRequest) error {
	return t.current().Unregister(ctx, &grpctransport.UnregisterRequest{ObjectID: req.ObjectID})
}

func (t *grpcTransport) Operate(ctx context.Context, objectID string) (OperateStream, error) {
	stream, err := t.current().Operate(ctx, objectID)
	if err != nil {
		return nil, err
	}
	return &grpcOperateStream{stream: stream}, nil
}

func (t *grpcTransport) State() string {
	return t.current().State().String()
}

func (t *grpcTransport) Close() error {
	return t.current().Close()
}

type grpcOperateStream struct {
	stream *grpctransport.OperateStream
}

func (s *grpcOperateStream) Recv() (OperateMessage, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return OperateMessage{}, err
	}
	return OperateMessage{Cmd: OperateCmd(msg.Cmd), Names: msg.Names}, nil
}

func (s *grpcOperateStream) Close() error { return s.stream.Close() }
