package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tscore.v1.TimeSeriesService"

// TimeSeriesServer is the server API of the time series service. Requests
// and responses are google.protobuf.Struct messages; the fields of each
// method are documented on TimeSeriesService.
type TimeSeriesServer interface {
	GetValues(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInterpolated(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAggregated(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAggregatedByPeriod(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetValues(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveValues(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(TimeSeriesServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TimeSeriesServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(TimeSeriesServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TimeSeriesServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetValues", TimeSeriesServer.GetValues),
		unary("GetInterpolated", TimeSeriesServer.GetInterpolated),
		unary("GetAggregated", TimeSeriesServer.GetAggregated),
		unary("GetAggregatedByPeriod", TimeSeriesServer.GetAggregatedByPeriod),
		unary("SetValues", TimeSeriesServer.SetValues),
		unary("RemoveValues", TimeSeriesServer.RemoveValues),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tscore/v1/timeseries.proto",
}

// RegisterTimeSeriesServer registers srv on s.
func RegisterTimeSeriesServer(s grpc.ServiceRegistrar, srv TimeSeriesServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Client calls the time series service over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req as the request struct and returns the
// response fields.
func (c *Client) Call(ctx context.Context, method string, req map[string]interface{}, opts ...grpc.CallOption) (map[string]interface{}, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
