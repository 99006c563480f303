package presence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-twin-sdk/cas/memory"
	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/internal/sqlitedb"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/ledger/memledger"
	"github.com/pilacorp/go-twin-sdk/nonce"
	"github.com/pilacorp/go-twin-sdk/object"
	"github.com/pilacorp/go-twin-sdk/signer"
	"github.com/pilacorp/go-twin-sdk/store"
	"github.com/pilacorp/go-twin-sdk/store/index/memindex"
)

type fixture struct {
	ledger  *memledger.Ledger
	objects *object.Service
	device  *signer.DefaultProvider
	user    *signer.DefaultProvider
}

// newFixture registers five objects and keeps the key of object 5 as the
// trusted device.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	l := memledger.New()
	objects, err := object.NewService(l, store.New(memory.New(), memindex.New()))
	require.NoError(t, err)

	var last *object.Created
	for i := 0; i < 5; i++ {
		last, err = objects.CreateObject(ctx, map[string]any{"name": "Bench"}, "0")
		require.NoError(t, err)
	}
	require.Equal(t, ledger.ObjectID(5), last.Identity.ID)

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &fixture{
		ledger:  l,
		objects: objects,
		device:  signer.NewProviderFromKey(last.Identity.PrivateKey),
		user:    signer.NewProviderFromKey(priv),
	}
}

func TestSignPayload(t *testing.T) {
	f := newFixture(t)

	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)
	assert.Equal(t, `{"nonce":"n1","objectId":5,"timestamp":"T0"}`, sp.Payload)
	assert.True(t, strings.HasPrefix(sp.Signature, "0x"))

	again, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)
	assert.Equal(t, sp.Signature, again.Signature)

	generated, err := SignPayload(f.device, 5, "", "")
	require.NoError(t, err)
	p, err := ParsePayload(generated.Payload)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Nonce)
	_, err = time.Parse(time.RFC3339, p.Timestamp)
	assert.NoError(t, err)

	_, err = SignPayload(f.device, 0, "n1", "T0")
	assert.True(t, failure.Is(err, failure.Validation))
}

func TestTypeISuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := NewVerifier(f.objects, f.ledger)

	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)

	verified, err := v.VerifyPayload(ctx, sp)
	require.NoError(t, err)
	assert.Equal(t, verified.Object.Address, verified.Signer)

	sub, err := v.VerifyAndSubmitClaim(ctx, sp, f.user)
	require.NoError(t, err)

	userAddr := common.HexToAddress(f.user.GetAddress())
	ev, ok := sub.Receipt.Find(ledger.EventInteractionRecorded)
	require.True(t, ok)
	assert.Equal(t, ledger.ObjectID(5), ev.ObjectID)
	assert.Equal(t, userAddr, ev.User)
	assert.Equal(t, sub.Claim.ClaimHash, ev.ClaimHash)
	assert.Equal(t, PayloadHash(sp.Payload), sub.Claim.VerifiedPayloadHash)
	assert.NoError(t, sub.Claim.Verify())

	interactions := f.ledger.Interactions(5)
	require.Len(t, interactions, 1)
	assert.Equal(t, userAddr, interactions[0].User)
}

func TestTypeINonceTamper(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := NewVerifier(f.objects, f.ledger)

	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)

	tampered := &SignedPayload{
		Payload:   strings.Replace(sp.Payload, `"n1"`, `"n2"`, 1),
		Signature: sp.Signature,
	}
	require.NotEqual(t, sp.Payload, tampered.Payload)

	sig, err := signer.DecodeSignature(sp.Signature)
	require.NoError(t, err)
	recovered, err := signer.RecoverSigner([]byte(tampered.Payload), sig)
	require.NoError(t, err)
	assert.NotEqual(t, common.HexToAddress(f.device.GetAddress()), recovered)

	_, err = v.VerifyAndSubmitClaim(ctx, tampered, f.user)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Verification))
	assert.Equal(t, failure.ReasonInvalidPresenceProof, failure.ReasonOf(err))
	assert.Empty(t, f.ledger.Interactions(5))
}

func TestVerifyPayloadFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := NewVerifier(f.objects, f.ledger)

	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)
	foreign, err := SignPayload(f.user, 5, "n1", "T0")
	require.NoError(t, err)
	missing, err := SignPayload(f.device, 42, "n1", "T0")
	require.NoError(t, err)

	tests := []struct {
		name   string
		sp     *SignedPayload
		kind   failure.Kind
		reason string
	}{
		{name: "signed by another key", sp: foreign, kind: failure.Verification, reason: failure.ReasonInvalidPresenceProof},
		{name: "unknown object", sp: missing, kind: failure.NotFound, reason: failure.ReasonObjectNotFound},
		{name: "malformed signature", sp: &SignedPayload{Payload: sp.Payload, Signature: "0x1234"}, kind: failure.Validation},
		{name: "malformed payload", sp: &SignedPayload{Payload: "{", Signature: sp.Signature}, kind: failure.Validation},
		{name: "unknown field", sp: &SignedPayload{Payload: `{"objectId":5,"nonce":"n","timestamp":"t","x":1}`, Signature: sp.Signature}, kind: failure.Validation},
		{name: "nil", sp: nil, kind: failure.Validation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyPayload(ctx, tt.sp)
			require.Error(t, err)
			assert.True(t, failure.Is(err, tt.kind), "got %v", err)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, failure.ReasonOf(err))
			}
		})
	}
}

func TestReplayRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := NewVerifier(f.objects, f.ledger)

	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)

	_, err = v.VerifyAndSubmitClaim(ctx, sp, f.user)
	require.NoError(t, err)

	_, err = v.VerifyAndSubmitClaim(ctx, sp, f.user)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Conflict))
	assert.Equal(t, failure.ReasonNonceReused, failure.ReasonOf(err))
	assert.Len(t, f.ledger.Interactions(5), 1)

	unguarded := NewVerifier(f.objects, f.ledger, WithNonceRegistry(nil))
	_, err = unguarded.VerifyAndSubmitClaim(ctx, sp, f.user)
	require.NoError(t, err)
	assert.Len(t, f.ledger.Interactions(5), 2)
}

// rejectingLedger refuses every interaction.
type rejectingLedger struct {
	*memledger.Ledger
}

func (rejectingLedger) RecordInteraction(context.Context, ledger.ObjectID, common.Hash, []byte, signer.SignerProvider) (*ledger.Receipt, error) {
	return nil, errors.New("insufficient funds for gas")
}

func TestLedgerFailureReleasesNonce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	registry := nonce.NewMemoryRegistry()

	failing := NewVerifier(f.objects, rejectingLedger{f.ledger}, WithNonceRegistry(registry))
	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)

	_, err = failing.VerifyAndSubmitClaim(ctx, sp, f.user)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Transport))

	working := NewVerifier(f.objects, f.ledger, WithNonceRegistry(registry))
	_, err = working.VerifyAndSubmitClaim(ctx, sp, f.user)
	assert.NoError(t, err)
}

// cancellingLedger cancels the caller's context while the interaction is in
// flight, as a caller-side timeout would.
type cancellingLedger struct {
	*memledger.Ledger
	cancel context.CancelFunc
}

func (l cancellingLedger) RecordInteraction(ctx context.Context, _ ledger.ObjectID, _ common.Hash, _ []byte, _ signer.SignerProvider) (*ledger.Receipt, error) {
	l.cancel()
	<-ctx.Done()
	return nil, fmt.Errorf("failed to send transaction: %w", ctx.Err())
}

func TestCancelledSubmissionReleasesNonce(t *testing.T) {
	f := newFixture(t)

	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "nonces.db"))
	require.NoError(t, err)
	registry, err := nonce.NewSQLRegistry(db)
	require.NoError(t, err)

	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelled := NewVerifier(f.objects, cancellingLedger{Ledger: f.ledger, cancel: cancel}, WithNonceRegistry(registry))
	_, err = cancelled.VerifyAndSubmitClaim(ctx, sp, f.user)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Transport), "got %v", err)

	retry := NewVerifier(f.objects, f.ledger, WithNonceRegistry(registry))
	_, err = retry.VerifyAndSubmitClaim(context.Background(), sp, f.user)
	require.NoError(t, err)
	assert.Len(t, f.ledger.Interactions(5), 1)
}

// pendingLedger broadcasts every interaction but never sees it mined.
type pendingLedger struct {
	*memledger.Ledger
}

func (pendingLedger) RecordInteraction(context.Context, ledger.ObjectID, common.Hash, []byte, signer.SignerProvider) (*ledger.Receipt, error) {
	return nil, fmt.Errorf("%w: %w", ledger.ErrUnconfirmed, context.DeadlineExceeded)
}

func TestUnconfirmedSubmissionKeepsNonce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	registry := nonce.NewMemoryRegistry()

	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)

	pending := NewVerifier(f.objects, pendingLedger{f.ledger}, WithNonceRegistry(registry))
	_, err = pending.VerifyAndSubmitClaim(ctx, sp, f.user)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Transport), "got %v", err)
	assert.ErrorIs(t, err, ledger.ErrUnconfirmed)

	retry := NewVerifier(f.objects, f.ledger, WithNonceRegistry(registry))
	_, err = retry.VerifyAndSubmitClaim(ctx, sp, f.user)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Conflict), "got %v", err)
	assert.Equal(t, failure.ReasonNonceReused, failure.ReasonOf(err))
	assert.Empty(t, f.ledger.Interactions(5))
}

// unreachableSigner stands in for a remote signing service that is down.
type unreachableSigner struct {
	address string
}

func (s unreachableSigner) Sign([]byte) ([]byte, error) {
	return nil, errors.New("dial tcp 10.0.0.7:8200: connection refused")
}

func (s unreachableSigner) GetAddress() string { return s.address }

func TestSignerOutageIsTransport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := SignPayload(unreachableSigner{address: f.device.GetAddress()}, 5, "n1", "T0")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Transport), "got %v", err)
	assert.Equal(t, failure.ReasonSigner, failure.ReasonOf(err))

	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)

	v := NewVerifier(f.objects, f.ledger)
	_, err = v.VerifyAndSubmitClaim(ctx, sp, unreachableSigner{address: f.user.GetAddress()})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Transport), "got %v", err)
	assert.Empty(t, f.ledger.Interactions(5))

	// The nonce was never reserved, so the same QR still works.
	_, err = v.VerifyAndSubmitClaim(ctx, sp, f.user)
	assert.NoError(t, err)
}

func TestMaxPayloadAge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(f.objects, f.ledger,
		WithMaxPayloadAge(time.Minute),
		WithClock(func() time.Time { return now }))

	fresh, err := SignPayload(f.device, 5, "n1", now.Add(-30*time.Second).Format(time.RFC3339))
	require.NoError(t, err)
	_, err = v.VerifyPayload(ctx, fresh)
	assert.NoError(t, err)

	stale, err := SignPayload(f.device, 5, "n2", now.Add(-time.Hour).Format(time.RFC3339))
	require.NoError(t, err)
	_, err = v.VerifyPayload(ctx, stale)
	assert.True(t, failure.Is(err, failure.Verification))
	assert.Equal(t, failure.ReasonStalePayload, failure.ReasonOf(err))

	opaque, err := SignPayload(f.device, 5, "n3", "T0")
	require.NoError(t, err)
	_, err = v.VerifyPayload(ctx, opaque)
	assert.True(t, failure.Is(err, failure.Validation))
}

func TestClaimTamper(t *testing.T) {
	f := newFixture(t)
	user := common.HexToAddress(f.user.GetAddress())

	claim, err := BuildClaim(user, 5, `{"nonce":"n1","objectId":5,"timestamp":"T0"}`, time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.NoError(t, SignClaim(claim, f.user))

	claim.Timestamp++
	err = claim.Verify()
	assert.True(t, failure.Is(err, failure.Verification))
	assert.Equal(t, failure.ReasonInvalidClaim, failure.ReasonOf(err))

	other, err := BuildClaim(user, 5, "payload", time.Unix(1700000000, 0))
	require.NoError(t, err)
	err = SignClaim(other, f.device)
	assert.True(t, failure.Is(err, failure.Validation))
}

func TestQRCodec(t *testing.T) {
	f := newFixture(t)
	sp, err := SignPayload(f.device, 5, "n1", "T0")
	require.NoError(t, err)

	qr, err := EncodeQR(sp)
	require.NoError(t, err)
	assert.Contains(t, qr, `"payload":`)
	assert.Contains(t, qr, `"signature":`)

	decoded, err := DecodeQR(qr)
	require.NoError(t, err)
	assert.Equal(t, sp, decoded)

	for _, bad := range []string{"", "not json", `{"payload":"x"}`} {
		_, err := DecodeQR(bad)
		assert.True(t, failure.Is(err, failure.Validation), bad)
	}
}
