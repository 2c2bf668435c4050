package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// attestationServer is the server API of the attestation service.
type attestationServer interface {
	GetReport(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	GetQuote(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	GetMeasurement(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	GetEventlog(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*attestationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetReport", Handler: unaryHandler("GetReport", attestationServer.GetReport)},
		{MethodName: "GetQuote", Handler: unaryHandler("GetQuote", attestationServer.GetQuote)},
		{MethodName: "GetMeasurement", Handler: unaryHandler("GetMeasurement", attestationServer.GetMeasurement)},
		{MethodName: "GetEventlog", Handler: unaryHandler("GetEventlog", attestationServer.GetEventlog)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ccnp/v1/attestation.proto",
}

// unaryHandler adapts a method of attestationServer to a grpc.MethodDesc handler.
func unaryHandler[Resp proto.Message](
	method string, call func(attestationServer, context.Context, *structpb.Struct) (Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := fullMethodName(method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(attestationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(attestationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethodName(method string) string {
	return "/" + ServiceName + "/" + method
}
