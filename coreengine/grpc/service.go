package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "procurement.v1.ProcurementService"

// ExecuteMethod is the full method name of ProcurementService.Execute.
const ExecuteMethod = "/" + ServiceName + "/Execute"

// ProcurementServiceServer is the server API for ProcurementService.
// Requests and responses are google.protobuf.Struct values carrying the
// JSON forms of a procurement request and a run snapshot.
type ProcurementServiceServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ProcurementServiceDesc describes ProcurementService for grpc.Server.
var ProcurementServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProcurementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "procurement/v1/procurement.proto",
}

// RegisterProcurementServiceServer registers srv on s.
func RegisterProcurementServiceServer(s grpc.ServiceRegistrar, srv ProcurementServiceServer) {
	s.RegisterService(&ProcurementServiceDesc, srv)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcurementServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ExecuteMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProcurementServiceServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// =============================================================================
// CLIENT
// =============================================================================

// ProcurementServiceClient is the client API for ProcurementService.
type ProcurementServiceClient interface {
	Execute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type procurementServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewProcurementServiceClient creates a client over cc.
func NewProcurementServiceClient(cc grpc.ClientConnInterface) ProcurementServiceClient {
	return &procurementServiceClient{cc: cc}
}

func (c *procurementServiceClient) Execute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExecuteMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
