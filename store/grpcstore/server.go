package grpcstore

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/pilacorp/go-twin-sdk/cas"
	"github.com/pilacorp/go-twin-sdk/store"
)

// Server exposes a store.ContentStore over the ContentStore service.
type Server struct {
	Store  store.ContentStore
	Logger *slog.Logger
}

var _ ContentStoreServer = (*Server)(nil)

func (s *Server) Put(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	key, data, err := parseWriteRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id, err := s.Store.Put(ctx, key, data)
	if err != nil {
		return nil, s.fail("put", key, err)
	}

	return writeReply(id, true), nil
}

func (s *Server) PutIfAbsent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	key, data, err := parseWriteRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id, written, err := s.Store.PutIfAbsent(ctx, key, data)
	if err != nil {
		return nil, s.fail("put if absent", key, err)
	}

	return writeReply(id, written), nil
}

func (s *Server) ResolveLatest(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	id, err := s.Store.ResolveLatest(ctx, in.GetValue())
	if err != nil {
		return nil, s.fail("resolve", in.GetValue(), err)
	}

	return wrapperspb.String(id.String()), nil
}

// Fetch re-verifies the bytes before sending them, so a corrupted backend is
// reported as DataLoss instead of being relayed.
func (s *Server) Fetch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := decodeCID(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}

	data, err := s.Store.Fetch(ctx, id)
	if err != nil {
		return nil, s.fail("fetch", id.String(), err)
	}
	if err := cas.Verify(id, data); err != nil {
		return nil, s.fail("fetch", id.String(), err)
	}

	return wrapperspb.Bytes(data), nil
}

func (s *Server) Exists(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	ok, err := s.Store.Exists(ctx, in.GetValue())
	if err != nil {
		return nil, s.fail("exists", in.GetValue(), err)
	}

	return wrapperspb.Bool(ok), nil
}

func (s *Server) ListUnderPrefix(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	entries, err := s.Store.ListUnderPrefix(ctx, in.GetValue())
	if err != nil {
		return nil, s.fail("list", in.GetValue(), err)
	}

	return entriesReply(entries), nil
}

func (s *Server) ready() error {
	if s == nil || s.Store == nil {
		return status.Error(codes.FailedPrecondition, "content store is not configured")
	}

	return nil
}

// fail logs errors the client can not act on and maps err to a status.
func (s *Server) fail(op, target string, err error) error {
	st := toStatus(err)
	switch status.Code(st) {
	case codes.Internal, codes.DataLoss:
		s.logger().Error("content store request failed", "op", op, "target", target, "error", err)
	}

	return st
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}

	return s.Logger
}
