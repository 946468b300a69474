package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dreamware/flashsync/internal/rendezvous"
)

// Code returns the gRPC code that best describes err.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, rendezvous.ErrInvalidGroupSize),
		errors.Is(err, rendezvous.ErrRankOutOfRange),
		errors.Is(err, rendezvous.ErrRootOutOfRange):
		return codes.InvalidArgument
	case errors.Is(err, rendezvous.ErrAlreadyJoined):
		return codes.AlreadyExists
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Unknown
}

// toStatus converts a controller error to a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}
