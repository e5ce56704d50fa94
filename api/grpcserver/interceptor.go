package grpcserver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs every call with its method, code and latency.
func LoggingInterceptor(log *logrus.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		entry := log.WithFields(logrus.Fields{
			"method": info.FullMethod,
			"code":   status.Code(err).String(),
			"took":   time.Since(start),
		})
		if err != nil {
			entry.WithError(err).Debug("[gRPC] call failed")
		} else {
			entry.Debug("[gRPC] call")
		}
		return resp, err
	}
}
