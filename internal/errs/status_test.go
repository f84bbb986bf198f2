package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{Errorf("op", ErrInvalidParameter, "bad"), codes.InvalidArgument},
		{fmt.Errorf("wrapped: %w", Errorf("op", ErrNotFound, "x")), codes.NotFound},
		{E("op", ErrInvalidState), codes.FailedPrecondition},
		{E("op", context.Canceled), codes.Canceled},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
		{errors.New("plain"), codes.Internal},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestStatus_RoundTrip(t *testing.T) {
	for _, kind := range []error{ErrInvalidParameter, ErrInvalidState, ErrNotFound, ErrCapacityExceeded, ErrBuildFailure, ErrAuthentication} {
		st := ToStatus(Errorf("Search", kind, "detail"))
		if _, ok := status.FromError(st); !ok {
			t.Fatalf("ToStatus(%v) is not a status error", kind)
		}
		back := FromStatus("client.Search", st)
		if !errors.Is(back, kind) {
			t.Errorf("FromStatus lost kind %v: %v", kind, back)
		}
	}
}

func TestFromStatus_Passthrough(t *testing.T) {
	if FromStatus("op", nil) != nil {
		t.Fatal("FromStatus(nil) should be nil")
	}
	err := FromStatus("op", status.Error(codes.Unavailable, "down"))
	if status.Code(errors.Unwrap(err)) != codes.Unavailable {
		t.Fatalf("Expected Unavailable to survive, got %v", err)
	}
}
