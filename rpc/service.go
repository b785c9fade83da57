// Package rpc carries studentsync envelopes over gRPC.
//
// The service has a single unary method,
//
//	service Sync {
//	  rpc Exchange(google.protobuf.BytesValue) returns (google.protobuf.BytesValue);
//	}
//
// whose request and reply values are encoded envelopes.
// An empty reply value means the server suppressed its reply.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service and method names.
const (
	ServiceName    = "studentsync.Sync"
	exchangeMethod = "/" + ServiceName + "/Exchange"
)

// ClientMetadataKey is the gRPC metadata key under which a client may state its identity.
// Without it the server identifies a client by its network address.
const ClientMetadataKey = "studentsync-client"

// SyncServer is the server API for the Sync service.
type SyncServer interface {
	Exchange(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// RegisterSyncServer registers srv with s.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&syncServiceDesc, srv)
}

var syncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exchange",
			Handler:    exchangeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "studentsync.proto",
}

func exchangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Exchange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: exchangeMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncServer).Exchange(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
