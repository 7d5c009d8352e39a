package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// CorrelatorServiceName is the fully qualified gRPC service name.
const CorrelatorServiceName = "mirador.correlator.v1.Correlator"

const (
	ingestAlertsMethod   = "/" + CorrelatorServiceName + "/IngestAlerts"
	submitFeedbackMethod = "/" + CorrelatorServiceName + "/SubmitFeedback"
)

// CorrelatorServer is the gRPC surface. Payloads travel as well-known JSON
// types: IngestAlerts takes an Alertmanager webhook object, SubmitFeedback a
// list of [cause, effect, confirmed] triples.
type CorrelatorServer interface {
	IngestAlerts(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SubmitFeedback(context.Context, *structpb.ListValue) (*emptypb.Empty, error)
}

// RegisterCorrelatorServer attaches srv to a gRPC registrar.
func RegisterCorrelatorServer(s grpc.ServiceRegistrar, srv CorrelatorServer) {
	s.RegisterService(&CorrelatorServiceDesc, srv)
}

func ingestAlertsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CorrelatorServer).IngestAlerts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ingestAlertsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CorrelatorServer).IngestAlerts(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func submitFeedbackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CorrelatorServer).SubmitFeedback(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitFeedbackMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CorrelatorServer).SubmitFeedback(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}

// CorrelatorServiceDesc describes the Correlator service for grpc.Server.
var CorrelatorServiceDesc = grpc.ServiceDesc{
	ServiceName: CorrelatorServiceName,
	HandlerType: (*CorrelatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IngestAlerts", Handler: ingestAlertsHandler},
		{MethodName: "SubmitFeedback", Handler: submitFeedbackHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/correlator/v1/correlator.proto",
}

// CorrelatorClient calls a remote Correlator service.
type CorrelatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCorrelatorClient wraps an established connection.
func NewCorrelatorClient(cc grpc.ClientConnInterface) *CorrelatorClient {
	return &CorrelatorClient{cc: cc}
}

// IngestAlerts sends a webhook payload.
func (c *CorrelatorClient) IngestAlerts(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ingestAlertsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitFeedback sends relation verdicts.
func (c *CorrelatorClient) SubmitFeedback(ctx context.Context, in *structpb.ListValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, submitFeedbackMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
