package presence

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/nonce"
	"github.com/pilacorp/go-twin-sdk/object"
	"github.com/pilacorp/go-twin-sdk/signer"
)

// ObjectResolver returns the registered view of an object.
type ObjectResolver interface {
	FetchObjectDetails(ctx context.Context, id ledger.ObjectID) (*object.View, error)
}

// Verified is a payload whose signature recovered to its object's address.
type Verified struct {
	Payload *Payload
	Raw     string
	Object  *object.View
	Signer  common.Address
}

// Submission is the outcome of a submitted claim.
type Submission struct {
	Verified *Verified
	Claim    *InteractionClaim
	Receipt  *ledger.Receipt
}

// Verifier checks presence payloads and submits interaction claims.
type Verifier struct {
	objects ObjectResolver
	ledger  ledger.Ledger
	nonces  nonce.Registry
	maxAge  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithNonceRegistry sets the registry that rejects reused payload nonces.
// The default is an in-process registry; nil disables the replay guard.
func WithNonceRegistry(r nonce.Registry) Option {
	return func(v *Verifier) { v.nonces = r }
}

// WithMaxPayloadAge rejects payloads whose RFC 3339 timestamp is older than
// d. Payloads with a timestamp in another format are then rejected too.
func WithMaxPayloadAge(d time.Duration) Option {
	return func(v *Verifier) { v.maxAge = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// NewVerifier returns a Verifier resolving objects through objects and
// submitting claims to l.
func NewVerifier(objects ObjectResolver, l ledger.Ledger, opts ...Option) *Verifier {
	v := &Verifier{
		objects: objects,
		ledger:  l,
		nonces:  nonce.NewMemoryRegistry(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}

	return v
}

// VerifyPayload checks that sp was signed by the key registered for the
// object it names. A well formed signature by any other key fails with a
// Verification failure (InvalidPresenceProof).
func (v *Verifier) VerifyPayload(ctx context.Context, sp *SignedPayload) (*Verified, error) {
	if sp == nil {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "signed payload is required")
	}

	p, err := ParsePayload(sp.Payload)
	if err != nil {
		return nil, err
	}
	sig, err := signer.DecodeSignature(sp.Signature)
	if err != nil {
		return nil, err
	}

	view, err := v.objects.FetchObjectDetails(ctx, ledger.ObjectID(p.ObjectID))
	if err != nil {
		return nil, err
	}

	recovered, err := signer.RecoverSigner([]byte(sp.Payload), sig)
	if err != nil {
		return nil, err
	}
	if recovered != view.Address {
		return nil, failure.New(failure.Verification, failure.ReasonInvalidPresenceProof,
			"payload signed by %s, object %d is %s",
			strings.ToLower(recovered.Hex()), p.ObjectID, strings.ToLower(view.Address.Hex()))
	}

	if err := v.checkFreshness(p); err != nil {
		return nil, err
	}

	return &Verified{
		Payload: p,
		Raw:     sp.Payload,
		Object:  view,
		Signer:  recovered,
	}, nil
}

func (v *Verifier) checkFreshness(p *Payload) error {
	if v.maxAge <= 0 {
		return nil
	}

	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "payload timestamp is not RFC 3339")
	}
	if age := v.now().Sub(ts); age > v.maxAge {
		return failure.New(failure.Verification, failure.ReasonStalePayload,
			"payload is %s old, limit is %s", age.Round(time.Second), v.maxAge)
	}

	return nil
}

// VerifyAndSubmitClaim verifies sp, builds and signs the interaction claim
// with user and records it on the ledger.
//
// The payload nonce is reserved once the signature checks out; a second
// claim for the same (objectId, nonce) fails with a Conflict failure. The
// reservation is released if the claim never reached the ledger, even when
// ctx is already done. A claim that was broadcast but not confirmed keeps
// its nonce.
func (v *Verifier) VerifyAndSubmitClaim(ctx context.Context, sp *SignedPayload, user signer.SignerProvider) (*Submission, error) {
	if user == nil {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "user signer is required")
	}
	if !common.IsHexAddress(user.GetAddress()) {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "invalid user address %q", user.GetAddress())
	}

	verified, err := v.VerifyPayload(ctx, sp)
	if err != nil {
		return nil, err
	}

	claim, err := BuildClaim(common.HexToAddress(user.GetAddress()), verified.Object.ID, verified.Raw, v.now())
	if err != nil {
		return nil, err
	}
	if err := SignClaim(claim, user); err != nil {
		return nil, err
	}

	scope := verified.Object.ID.String()
	if err := v.reserve(ctx, scope, verified.Payload.Nonce); err != nil {
		return nil, err
	}

	receipt, err := v.ledger.RecordInteraction(ctx, claim.ObjectID, claim.ClaimHash, claim.UserSignature, user)
	if err != nil {
		if errors.Is(err, ledger.ErrUnconfirmed) {
			v.logger.Warn("interaction claim is pending, keeping nonce",
				"object", scope, "nonce", verified.Payload.Nonce, "claim", claim.ClaimHash.Hex(), "error", err)
		} else {
			v.release(ctx, scope, verified.Payload.Nonce)
		}
		return nil, ledger.Failure(err, "failed to record interaction for object %s", claim.ObjectID)
	}

	v.logger.Info("interaction recorded",
		"object", claim.ObjectID.String(),
		"user", strings.ToLower(claim.User.Hex()),
		"claim", claim.ClaimHash.Hex(),
		"tx", receipt.TxHash)

	return &Submission{Verified: verified, Claim: claim, Receipt: receipt}, nil
}

func (v *Verifier) reserve(ctx context.Context, scope, n string) error {
	if v.nonces == nil {
		return nil
	}

	err := v.nonces.Reserve(ctx, scope, n)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nonce.ErrReused):
		return failure.Wrap(failure.Conflict, failure.ReasonNonceReused, err, "nonce %q of object %s was already claimed", n, scope)
	default:
		return failure.Wrap(failure.Transport, failure.ReasonStore, err, "failed to reserve nonce")
	}
}

func (v *Verifier) release(ctx context.Context, scope, n string) {
	if v.nonces == nil {
		return
	}
	if err := v.nonces.Release(context.WithoutCancel(ctx), scope, n); err != nil {
		v.logger.Warn("failed to release nonce", "object", scope, "nonce", n, "error", err)
	}
}
