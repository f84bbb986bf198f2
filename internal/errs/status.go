package errs

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var kindCodes = []struct {
	kind error
	code codes.Code
}{
	{ErrInvalidParameter, codes.InvalidArgument},
	{ErrInvalidState, codes.FailedPrecondition},
	{ErrNotFound, codes.NotFound},
	{ErrCapacityExceeded, codes.ResourceExhausted},
	{ErrBuildFailure, codes.Aborted},
	{ErrAuthentication, codes.DataLoss},
}

// Code returns the gRPC code for err.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.code
		}
	}
	return codes.Internal
}

// ToStatus converts err to a gRPC status error. Status errors pass through.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}

// FromStatus converts a status error back to its error kind, wrapped with op.
func FromStatus(op string, err error) error {
	s, ok := status.FromError(err)
	if !ok || err == nil {
		return E(op, err)
	}
	switch s.Code() {
	case codes.Canceled:
		return E(op, context.Canceled)
	case codes.DeadlineExceeded:
		return E(op, context.DeadlineExceeded)
	}
	for _, kc := range kindCodes {
		if s.Code() == kc.code {
			return Errorf(op, kc.kind, "%s", s.Message())
		}
	}
	return E(op, err)
}
