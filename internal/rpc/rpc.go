// Package rpc defines the trustplane.v1.TrustPlane gRPC service. Requests
// and responses are google.protobuf.Struct values so any gRPC client can
// call the service without generated stubs.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/trustplane/internal/model"
)

const ServiceName = "trustplane.v1.TrustPlane"

// Method names.
const (
	MethodExecute    = "Execute"
	MethodCheck      = "Check"
	MethodReport     = "Report"
	MethodStatus     = "Status"
	MethodResetUsage = "ResetUsage"
)

// FullMethod returns the gRPC path for a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// TrustPlaneServer is the server API.
type TrustPlaneServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Check(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Report(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetUsage(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(TrustPlaneServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn call) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(TrustPlaneServer)
		if interceptor == nil {
			return fn(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(s, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrustPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodExecute, Handler: unary(MethodExecute, TrustPlaneServer.Execute)},
		{MethodName: MethodCheck, Handler: unary(MethodCheck, TrustPlaneServer.Check)},
		{MethodName: MethodReport, Handler: unary(MethodReport, TrustPlaneServer.Report)},
		{MethodName: MethodStatus, Handler: unary(MethodStatus, TrustPlaneServer.Status)},
		{MethodName: MethodResetUsage, Handler: unary(MethodResetUsage, TrustPlaneServer.ResetUsage)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trustplane/v1/trustplane.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv TrustPlaneServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Request is the common request envelope.
type Request struct {
	AgentID string        `json:"agent_id"`
	Action  *model.Action `json:"action,omitempty"`
}

// Encode converts any JSON-encodable value to a Struct.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return s, nil
}

// Decode fills v from a Struct.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// DecodeRequest extracts the envelope. The action accepts the same shapes
// as model.ActionFromMap; a malformed cost fails with model.ErrInvalidAction.
func DecodeRequest(s *structpb.Struct) (Request, error) {
	m := s.AsMap()
	req := Request{}
	req.AgentID, _ = m["agent_id"].(string)
	if raw, ok := m["action"].(map[string]any); ok {
		a, err := model.ActionFromMap(raw)
		if err != nil {
			return Request{}, err
		}
		req.Action = &a
	}
	return req, nil
}
