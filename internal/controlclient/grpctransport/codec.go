// Package grpctransport is the wire-level half of the control-plane
// client: a JSON encoding.Codec registered under content-subtype "json",
// and a hand-written client stub driving the five RPCs through
// grpc.ClientConnInterface (no .proto is compiled, per spec.md §1's
// decision to leave RPC byte-encoding unconstrained).
package grpctransport

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype this codec registers under
// (google.golang.org/grpc/encoding.RegisterCodec, the same extension
// point inprocgrpc's cloner.go inspects via encoding.GetCodecV2).
const Name = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return Name }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpctransport: unmarshal %T: %w", v, err)
	}
	return nil
}
