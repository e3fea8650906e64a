package server

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"LotteryLedger/internal/errs"
)

// errorCodeKey carries the stable ledger error code in response trailers.
const errorCodeKey = "x-error-code"

// CodeFromError maps a ledger error to its gRPC status code.
func CodeFromError(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, errs.ErrDuplicateRequest) {
		return codes.AlreadyExists
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return codes.InvalidArgument
	case errs.KindNotFound:
		return codes.NotFound
	case errs.KindAuthorization:
		return codes.PermissionDenied
	case errs.KindStateConflict, errs.KindFinancial:
		return codes.FailedPrecondition
	case errs.KindUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus converts err into a gRPC status error. Ledger errors also set the
// x-error-code trailer so clients can recover the sentinel.
func toStatus(ctx context.Context, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if code := errs.CodeOf(err); code != "internal" {
		grpc.SetTrailer(ctx, metadata.Pairs(errorCodeKey, code))
	}
	return status.Error(CodeFromError(err), err.Error())
}

// fromStatus reverses toStatus on the client side.
func fromStatus(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	vals := trailer.Get(errorCodeKey)
	if len(vals) == 0 {
		return err
	}
	sentinel, ok := errs.ByCode(vals[0])
	if !ok {
		return err
	}
	msg := status.Convert(err).Message()
	if msg == sentinel.Code {
		return sentinel
	}
	return errs.Wrap(sentinel, "%s", strings.TrimPrefix(msg, sentinel.Code+": "))
}
