package grpcstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pilacorp/go-twin-sdk/cas"
	"github.com/pilacorp/go-twin-sdk/store"
	"github.com/pilacorp/go-twin-sdk/store/index"
)

// toStatus maps a content store error to the status sent to the client.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case store.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, index.ErrInvalidKey), errors.Is(err, cas.ErrInvalidCID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, cas.ErrCIDMismatch):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, cas.ErrImmutable):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus turns a status received by the client back into the errors
// store.Failure classifies. invalid is the sentinel for InvalidArgument,
// which depends on whether the call took a key or a CID.
func fromStatus(err, invalid error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), store.ErrNotFound)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", st.Message(), invalid)
	case codes.DataLoss:
		return fmt.Errorf("%s: %w", st.Message(), cas.ErrCIDMismatch)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", st.Message(), cas.ErrImmutable)
	default:
		return err
	}
}

func decodeCID(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil || !id.Defined() {
		return cid.Undef, fmt.Errorf("%w: %q", cas.ErrInvalidCID, s)
	}

	return id, nil
}
