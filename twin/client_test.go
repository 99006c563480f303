package twin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/ledger/memledger"
	"github.com/pilacorp/go-twin-sdk/redemption"
	"github.com/pilacorp/go-twin-sdk/signer"
)

func newTestClient(t *testing.T, opts ...Option) (*Client, *memledger.Ledger) {
	t.Helper()

	l := memledger.New()
	opts = append([]Option{
		WithLedger(l),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	c, err := NewClient(context.Background(), opts...)
	require.NoError(t, err)

	return c, l
}

func TestNewClientRequiresLedger(t *testing.T) {
	_, err := NewClient(context.Background())
	assert.Error(t, err)

	_, err = NewClient(context.Background(), WithRPC("http://127.0.0.1:8545"), WithContractAddress("nope"))
	assert.Error(t, err)
}

func TestObjectLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, WithCache(8, time.Minute))

	created, err := c.CreateObject(ctx, map[string]any{"name": "Bench A"}, "0.001")
	require.NoError(t, err)

	view, err := c.FetchObjectDetails(ctx, created.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Identity.Address, view.Creator)
	assert.Equal(t, created.Identity.Address, view.Owner)
	assert.Equal(t, "Bench A", view.Metadata["name"])

	newOwner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	_, err = c.TransferOwnership(ctx, created.Identity.ID, newOwner, signer.NewProviderFromKey(created.Identity.PrivateKey))
	require.NoError(t, err)

	view, err = c.FetchObjectDetails(ctx, created.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, newOwner, view.Owner)
}

func TestPresenceFlow(t *testing.T) {
	ctx := context.Background()
	c, l := newTestClient(t)

	created, err := c.CreateObject(ctx, map[string]any{"name": "Fountain", "type": "location"}, "")
	require.NoError(t, err)
	device := signer.NewProviderFromKey(created.Identity.PrivateKey)

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	user := signer.NewProviderFromKey(priv)

	sp, err := c.SignPresencePayload(device, created.Identity.ID, "", "")
	require.NoError(t, err)

	verified, err := c.VerifyPresencePayload(ctx, sp)
	require.NoError(t, err)
	assert.Equal(t, created.Identity.Address, verified.Signer)

	sub, err := c.VerifyPresenceAndSubmitClaim(ctx, sp, user)
	require.NoError(t, err)
	ev, ok := sub.Receipt.Find(ledger.EventInteractionRecorded)
	require.True(t, ok)
	assert.Equal(t, crypto.PubkeyToAddress(priv.PublicKey), ev.User)
	assert.Len(t, l.Interactions(created.Identity.ID), 1)

	_, err = c.VerifyPresenceAndSubmitClaim(ctx, sp, user)
	assertKind(t, err, failure.Conflict)
}

func TestRedemptionFlow(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	const userDID = "did:ethr:0x2222222222222222222222222222222222222222"

	created, err := c.CreateObject(ctx, map[string]any{"name": "Bench A"}, "0")
	require.NoError(t, err)

	r, err := c.BuildAndPersistRedemption(ctx, created.Identity.PrivateKeyHex(), userDID)
	require.NoError(t, err)
	assert.Equal(t, created.Identity.DID, r.Record.ObjectDID)

	record, err := c.VerifyRedemptionReference(ctx, r.Reference)
	require.NoError(t, err)
	assert.Equal(t, userDID, record.UserDID)

	link := redemption.EncodeVerificationLink("", r.Reference)
	ref, err := redemption.ParseVerificationLink(link)
	require.NoError(t, err)
	_, err = c.VerifyRedemptionReference(ctx, *ref)
	require.NoError(t, err)

	latest, err := c.ResolveRedemption(ctx, userDID, created.Identity.DID)
	require.NoError(t, err)
	assert.True(t, latest.RecordCID.Equals(r.Reference.RecordCID))

	bearer := redemption.BearerLink{ObjectDID: created.Identity.DID, PrivateKeyHex: created.Identity.PrivateKeyHex()}
	again, err := c.RedeemLink(ctx, bearer.Encode("https://twin.example/r"), userDID)
	require.NoError(t, err)

	refs, err := c.ListRedemptions(ctx, userDID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, refs[0].RecordCID.Equals(again.Reference.RecordCID))
}

func TestErrorsAreClassified(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, WithWritePolicy(redemption.FirstWriteWins))

	_, err := c.FetchObjectDetails(ctx, 77)
	assertKind(t, err, failure.NotFound)

	_, err = c.CreateObject(ctx, map[string]any{}, "0")
	assertKind(t, err, failure.Validation)

	_, err = c.RedeemLink(ctx, "nothing here", "did:ethr:0x2222222222222222222222222222222222222222")
	assertKind(t, err, failure.Validation)

	created, err := c.CreateObject(ctx, map[string]any{"name": "Bench A"}, "0")
	require.NoError(t, err)
	_, err = c.BuildAndPersistRedemption(ctx, created.Identity.PrivateKeyHex(), "did:ethr:0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	_, err = c.BuildAndPersistRedemption(ctx, created.Identity.PrivateKeyHex(), "did:ethr:0x2222222222222222222222222222222222222222")
	assertKind(t, err, failure.Conflict)
}

func assertKind(t *testing.T, err error, kind failure.Kind) {
	t.Helper()

	require.Error(t, err)
	var f *failure.Error
	require.True(t, errors.As(err, &f), "not a *failure.Error: %v", err)
	assert.Equal(t, kind, f.Kind, "got %v", err)
}
