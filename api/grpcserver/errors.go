package grpcserver

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"labledger/domain/ledgererr"
)

var kindCodes = map[ledgererr.Kind]codes.Code{
	ledgererr.KindNotFound:          codes.NotFound,
	ledgererr.KindInvalidState:      codes.FailedPrecondition,
	ledgererr.KindUnauthorized:      codes.PermissionDenied,
	ledgererr.KindNotValidated:      codes.PermissionDenied,
	ledgererr.KindAlreadyExists:     codes.AlreadyExists,
	ledgererr.KindAlreadyClaimed:    codes.Aborted,
	ledgererr.KindInsufficientFunds: codes.ResourceExhausted,
	ledgererr.KindInvalidArgument:   codes.InvalidArgument,
}

// toStatus maps a ledger error onto a gRPC status. The message is the
// ledger error itself, which starts with its kind.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if le := ledgererr.Find(err); le != nil {
		if code, ok := kindCodes[le.Kind]; ok {
			return status.Error(code, le.Error())
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

// KindOf recovers the ledger kind from an error returned by Client.
func KindOf(err error) ledgererr.Kind {
	s, ok := status.FromError(err)
	if !ok {
		return ledgererr.KindOf(err)
	}
	return ledgererr.ParseKind(s.Message())
}
