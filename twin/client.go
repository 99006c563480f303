// Package twin is the application facing entry point of the SDK. A Client
// wires the object, presence and redemption services over one ledger and one
// content store, and exposes the six operations an application needs.
//
// Every error returned by a Client is a *failure.Error carrying a Kind and a
// Reason.
package twin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-twin-sdk/cas/memory"
	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/nonce"
	"github.com/pilacorp/go-twin-sdk/object"
	"github.com/pilacorp/go-twin-sdk/presence"
	"github.com/pilacorp/go-twin-sdk/redemption"
	"github.com/pilacorp/go-twin-sdk/signer"
	"github.com/pilacorp/go-twin-sdk/store"
	"github.com/pilacorp/go-twin-sdk/store/index/memindex"
)

// Client runs the object, presence and redemption protocols.
type Client struct {
	cfg         Config
	objects     *object.Service
	presence    *presence.Verifier
	redemptions *redemption.Service
}

// NewClient creates a Client.
func NewClient(ctx context.Context, options ...Option) (*Client, error) {
	cfg := Config{
		ChainID:   DefaultChainID,
		Method:    DefaultMethod,
		CacheSize: DefaultCacheSize,
		Logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(&cfg)
	}

	if cfg.Ledger == nil {
		if cfg.RPC == "" {
			return nil, fmt.Errorf("a ledger or an RPC URL is required")
		}
		contract, err := ledger.NewContract(ctx, &ledger.Config{
			RPCURL:          cfg.RPC,
			ContractAddress: cfg.ContractAddress,
			ChainID:         cfg.ChainID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ledger client: %w", err)
		}
		cfg.Ledger = contract
	}
	if cfg.Store == nil {
		cfg.Logger.Warn("no content store configured, using an in-memory store")
		cfg.Store = store.New(memory.New(), memindex.New(), store.WithLogger(cfg.Logger))
	}
	if cfg.Nonces == nil {
		cfg.Nonces = nonce.NewMemoryRegistry()
	}

	objectOpts := []object.Option{
		object.WithMethod(cfg.Method),
		object.WithLogger(cfg.Logger),
	}
	if cfg.CacheSize > 0 {
		objectOpts = append(objectOpts, object.WithCache(object.NewMemCache(cfg.CacheSize, cfg.CacheTTL)))
	}
	objects, err := object.NewService(cfg.Ledger, cfg.Store, objectOpts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:     cfg,
		objects: objects,
		presence: presence.NewVerifier(objects, cfg.Ledger,
			presence.WithNonceRegistry(cfg.Nonces),
			presence.WithMaxPayloadAge(cfg.MaxPayloadAge),
			presence.WithLogger(cfg.Logger)),
		redemptions: redemption.NewService(cfg.Store,
			redemption.WithWritePolicy(cfg.WritePolicy),
			redemption.WithMethod(cfg.Method),
			redemption.WithLogger(cfg.Logger)),
	}, nil
}

// Ledger returns the ledger the client submits to.
func (c *Client) Ledger() ledger.Ledger {
	return c.cfg.Ledger
}

// Store returns the content store.
func (c *Client) Store() store.ContentStore {
	return c.cfg.Store
}

// CreateObject mints a new object with metadata and fee (decimal ether).
func (c *Client) CreateObject(ctx context.Context, metadata map[string]any, fee string, opts ...object.CreateOption) (*object.Created, error) {
	created, err := c.objects.CreateObject(ctx, metadata, fee, opts...)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return created, nil
}

// FetchObjectDetails returns the registered view of an object.
func (c *Client) FetchObjectDetails(ctx context.Context, id ledger.ObjectID) (*object.View, error) {
	v, err := c.objects.FetchObjectDetails(ctx, id)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return v, nil
}

// TransferOwnership moves ownership of an object; owner signs the change.
func (c *Client) TransferOwnership(ctx context.Context, id ledger.ObjectID, newOwner common.Address, owner signer.SignerProvider) (*ledger.Receipt, error) {
	r, err := c.objects.TransferOwnership(ctx, id, newOwner, owner)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return r, nil
}

// SignPresencePayload signs a presence payload as the trusted device holding
// the object key. Empty nonce and timestamp are generated.
func (c *Client) SignPresencePayload(device signer.SignerProvider, id ledger.ObjectID, nonce, timestamp string) (*presence.SignedPayload, error) {
	sp, err := presence.SignPayload(device, id, nonce, timestamp)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return sp, nil
}

// VerifyPresencePayload runs the keyless part of Type I: it checks the
// device signature against the registered object without submitting.
func (c *Client) VerifyPresencePayload(ctx context.Context, sp *presence.SignedPayload) (*presence.Verified, error) {
	v, err := c.presence.VerifyPayload(ctx, sp)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return v, nil
}

// VerifyPresenceAndSubmitClaim verifies sp and records the user's signed
// interaction claim on the ledger.
func (c *Client) VerifyPresenceAndSubmitClaim(ctx context.Context, sp *presence.SignedPayload, user signer.SignerProvider) (*presence.Submission, error) {
	sub, err := c.presence.VerifyAndSubmitClaim(ctx, sp, user)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return sub, nil
}

// BuildAndPersistRedemption redeems the object whose bearer key is
// objectPrivateKeyHex on behalf of userDID.
func (c *Client) BuildAndPersistRedemption(ctx context.Context, objectPrivateKeyHex, userDID string) (*redemption.Redemption, error) {
	r, err := c.redemptions.BuildAndPersist(ctx, objectPrivateKeyHex, userDID)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return r, nil
}

// RedeemLink redeems from a bearer link "redeem=<did>&key=<hex>".
func (c *Client) RedeemLink(ctx context.Context, link, userDID string) (*redemption.Redemption, error) {
	bearer, err := redemption.ParseBearerLink(link)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	r, err := c.redemptions.Redeem(ctx, bearer, userDID)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return r, nil
}

// VerifyRedemptionReference re-verifies a redemption from its reference.
func (c *Client) VerifyRedemptionReference(ctx context.Context, ref redemption.Reference) (*redemption.Record, error) {
	r, err := c.redemptions.VerifyReference(ctx, ref)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return r, nil
}

// ResolveRedemption returns the reference of the current redemption of
// objectDID by userDID.
func (c *Client) ResolveRedemption(ctx context.Context, userDID, objectDID string) (*redemption.Reference, error) {
	ref, err := c.redemptions.ResolveLatest(ctx, userDID, objectDID)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return ref, nil
}

// ListRedemptions returns every current redemption made by userDID.
func (c *Client) ListRedemptions(ctx context.Context, userDID string) ([]redemption.Reference, error) {
	refs, err := c.redemptions.ListByUser(ctx, userDID)
	if err != nil {
		return nil, failure.Ensure(err)
	}

	return refs, nil
}
