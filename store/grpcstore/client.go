package grpcstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/pilacorp/go-twin-sdk/cas"
	"github.com/pilacorp/go-twin-sdk/store"
	"github.com/pilacorp/go-twin-sdk/store/index"
)

// Client is a store.ContentStore backed by a remote ContentStore service.
//
// Bytes returned by Fetch are hashed locally and CIDs returned by writes are
// compared with the locally computed one, so the server can not substitute
// content.
type Client struct {
	cc      *grpc.ClientConn
	timeout time.Duration
}

var _ store.ContentStore = (*Client)(nil)

// DialOptions configures Dial.
type DialOptions struct {
	// Timeout applies per call when non-zero.
	Timeout time.Duration
	// MaxMsgBytes bounds sent and received messages when non-zero.
	MaxMsgBytes int
	// Extra is appended to the default dial options.
	Extra []grpc.DialOption
}

// Dial returns a client of the ContentStore service at target. The
// connection is established lazily on the first call.
func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
			grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
		))
	}
	dialOpts = append(dialOpts, opts.Extra...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store client for %s: %w", target, err)
	}

	return &Client{cc: cc, timeout: opts.Timeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}

	return c.cc.Close()
}

func (c *Client) Put(ctx context.Context, key string, data []byte) (cid.Cid, error) {
	id, _, err := c.write(ctx, methodPut, key, data)
	return id, err
}

func (c *Client) PutIfAbsent(ctx context.Context, key string, data []byte) (cid.Cid, bool, error) {
	return c.write(ctx, methodPutIfAbsent, key, data)
}

// write sends a Put or PutIfAbsent. A PutIfAbsent that lost keeps the CID of
// the earlier value, so only a reply claiming this call wrote must match data.
func (c *Client) write(ctx context.Context, method, key string, data []byte) (cid.Cid, bool, error) {
	if err := index.ValidateKey(key); err != nil {
		return cid.Undef, false, err
	}
	want, err := cas.Sum(data)
	if err != nil {
		return cid.Undef, false, err
	}

	out := new(structpb.Struct)
	if err := c.invoke(ctx, method, writeRequest(key, data), out); err != nil {
		return cid.Undef, false, fromStatus(err, index.ErrInvalidKey)
	}

	id, written, err := parseWriteReply(out)
	if err != nil {
		return cid.Undef, false, err
	}
	if written && !id.Equals(want) {
		return cid.Undef, false, fmt.Errorf("stored %q as %s, expected %s: %w", key, id, want, cas.ErrCIDMismatch)
	}

	return id, written, nil
}

func (c *Client) ResolveLatest(ctx context.Context, key string) (cid.Cid, error) {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, methodResolveLatest, wrapperspb.String(key), out); err != nil {
		return cid.Undef, fromStatus(err, index.ErrInvalidKey)
	}

	return decodeCID(out.GetValue())
}

func (c *Client) Fetch(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, cas.ErrInvalidCID
	}

	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, methodFetch, wrapperspb.String(id.String()), out); err != nil {
		return nil, fromStatus(err, cas.ErrInvalidCID)
	}

	data := out.GetValue()
	if err := cas.Verify(id, data); err != nil {
		return nil, fmt.Errorf("fetched %s: %w", id, err)
	}

	return data, nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.invoke(ctx, methodExists, wrapperspb.String(key), out); err != nil {
		return false, fromStatus(err, index.ErrInvalidKey)
	}

	return out.GetValue(), nil
}

func (c *Client) ListUnderPrefix(ctx context.Context, prefix string) ([]index.Entry, error) {
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, methodListUnderPrefix, wrapperspb.String(prefix), out); err != nil {
		return nil, fromStatus(err, index.ErrInvalidKey)
	}

	return parseEntriesReply(out)
}

func (c *Client) invoke(ctx context.Context, method string, in, out proto.Message) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	return c.cc.Invoke(ctx, fullMethod(method), in, out)
}
