package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "labledger.v1.Ledger"

// ledgerServer is the handler type checked by grpc.Server.RegisterService.
type ledgerServer interface {
	PayOrder(context.Context, *PayOrderRequest) (*OrderReply, error)
	Counts(context.Context, *CountsRequest) (*CountsReply, error)
}

// ServiceDesc describes the ledger API. Messages travel with the json
// codec, so there is no generated code.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ledgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PayOrder", (*Server).PayOrder),
		unary("TopUpOrderPayment", (*Server).TopUpOrderPayment),
		unary("FulfillOrder", (*Server).FulfillOrder),
		unary("RefundOrder", (*Server).RefundOrder),
		unary("GetOrder", (*Server).GetOrder),
		unary("GetOrderByHash", (*Server).GetOrderByHash),
		unary("ListOrders", (*Server).ListOrders),

		unary("CreateServiceRequest", (*Server).CreateServiceRequest),
		unary("ValidateLabService", (*Server).ValidateLabService),
		unary("ClaimServiceRequest", (*Server).ClaimServiceRequest),
		unary("ProcessServiceRequest", (*Server).ProcessServiceRequest),
		unary("GetServiceRequest", (*Server).GetServiceRequest),
		unary("ListServiceRequests", (*Server).ListServiceRequests),
		unary("GetLabServiceValidation", (*Server).GetLabServiceValidation),

		unary("CreateLabRequest", (*Server).CreateLabRequest),
		unary("FulfillLabRequest", (*Server).FulfillLabRequest),
		unary("GetLabRequest", (*Server).GetLabRequest),
		unary("ListLabRequests", (*Server).ListLabRequests),

		unary("Counts", (*Server).Counts),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "labledger/v1/ledger",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, fn func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(*Server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv.(*Server), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Register attaches s to g.
func Register(g *grpc.Server, s *Server) {
	g.RegisterService(&ServiceDesc, s)
}
