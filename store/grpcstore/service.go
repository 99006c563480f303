// Package grpcstore serves a store.ContentStore over gRPC and provides the
// matching client, so objects and redemptions can live in a content store
// running in another process.
//
// Requests and replies are protobuf well-known types; no generated code is
// needed:
//
//	service ContentStore {
//	  // {key, data(base64)} -> {cid}
//	  rpc Put(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  // {key, data(base64)} -> {cid, written}
//	  rpc PutIfAbsent(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc ResolveLatest(google.protobuf.StringValue) returns (google.protobuf.StringValue);
//	  rpc Fetch(google.protobuf.StringValue) returns (google.protobuf.BytesValue);
//	  rpc Exists(google.protobuf.StringValue) returns (google.protobuf.BoolValue);
//	  // prefix -> [{key, cid, updatedAt}]
//	  rpc ListUnderPrefix(google.protobuf.StringValue) returns (google.protobuf.ListValue);
//	}
package grpcstore

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "twin.store.v1.ContentStore"

const (
	methodPut             = "Put"
	methodPutIfAbsent     = "PutIfAbsent"
	methodResolveLatest   = "ResolveLatest"
	methodFetch           = "Fetch"
	methodExists          = "Exists"
	methodListUnderPrefix = "ListUnderPrefix"
)

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// ContentStoreServer is the server API of the ContentStore service.
type ContentStoreServer interface {
	Put(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PutIfAbsent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveLatest(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Exists(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	ListUnderPrefix(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
}

// RegisterContentStoreServer registers srv on s.
func RegisterContentStoreServer(s grpc.ServiceRegistrar, srv ContentStoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the grpc.ServiceDesc of the ContentStore service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ContentStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodPut, newStruct, ContentStoreServer.Put),
		unary(methodPutIfAbsent, newStruct, ContentStoreServer.PutIfAbsent),
		unary(methodResolveLatest, newString, ContentStoreServer.ResolveLatest),
		unary(methodFetch, newString, ContentStoreServer.Fetch),
		unary(methodExists, newString, ContentStoreServer.Exists),
		unary(methodListUnderPrefix, newString, ContentStoreServer.ListUnderPrefix),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "twin/store/v1/store.proto",
}

func newStruct() *structpb.Struct        { return new(structpb.Struct) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }

// unary adapts a typed server method to a grpc.MethodDesc, running the
// server's interceptor chain when one is installed.
func unary[Req, Resp proto.Message](
	name string,
	newReq func() Req,
	call func(ContentStoreServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}

			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ContentStoreServer), ctx, req.(Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}

			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}
