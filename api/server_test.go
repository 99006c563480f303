package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/ledger/memledger"
	"github.com/pilacorp/go-twin-sdk/object"
	"github.com/pilacorp/go-twin-sdk/presence"
	"github.com/pilacorp/go-twin-sdk/redemption"
	"github.com/pilacorp/go-twin-sdk/signer"
	"github.com/pilacorp/go-twin-sdk/twin"
)

const (
	userDID  = "did:ethr:0x2222222222222222222222222222222222222222"
	otherDID = "did:ethr:0x3333333333333333333333333333333333333333"
)

type fixture struct {
	client  *twin.Client
	handler http.Handler
	object  *object.Created
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := twin.NewClient(context.Background(),
		twin.WithLedger(memledger.New()),
		twin.WithLogger(logger))
	require.NoError(t, err)

	created, err := client.CreateObject(context.Background(), map[string]any{"name": "Bench A"}, "0.001")
	require.NoError(t, err)

	s, err := New(&Args{Version: "test", Logger: logger, Verifier: client})
	require.NoError(t, err)

	return &fixture{client: client, handler: s.Handler(), object: created}
}

func (f *fixture) do(t *testing.T, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = strings.NewReader(string(b))
	}

	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}

	return rec, out
}

func errorKind(t *testing.T, out map[string]any) string {
	t.Helper()

	body, ok := out["error"].(map[string]any)
	require.True(t, ok, "no error body in %v", out)

	return body["kind"].(string)
}

func TestNewRequiresVerifier(t *testing.T) {
	_, err := New(&Args{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec, out := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "twin test", out["version"])
}

func TestGetObject(t *testing.T) {
	f := newFixture(t)

	rec, out := f.do(t, http.MethodGet, "/v1/objects/1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, f.object.Identity.DID, out["did"])
	assert.Equal(t, "Bench A", out["metadata"].(map[string]any)["name"])

	rec, out = f.do(t, http.MethodGet, "/v1/objects/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(failure.NotFound), errorKind(t, out))

	rec, out = f.do(t, http.MethodGet, "/v1/objects/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(failure.Validation), errorKind(t, out))
}

func TestVerifyPresence(t *testing.T) {
	f := newFixture(t)
	device := signer.NewProviderFromKey(f.object.Identity.PrivateKey)

	sp, err := presence.SignPayload(device, f.object.Identity.ID, "n1", "2024-05-01T10:00:00Z")
	require.NoError(t, err)
	qr, err := presence.EncodeQR(sp)
	require.NoError(t, err)

	rec, out := f.do(t, http.MethodPost, "/v1/presence/verify", VerifyPresenceRequest{QR: qr})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, "n1", out["nonce"])
	assert.Equal(t, f.object.Identity.Address.Hex(), out["signer"])

	tampered := VerifyPresenceRequest{
		Payload:   strings.Replace(sp.Payload, `"n1"`, `"n2"`, 1),
		Signature: sp.Signature,
	}
	rec, out = f.do(t, http.MethodPost, "/v1/presence/verify", tampered)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(failure.Verification), errorKind(t, out))

	rec, out = f.do(t, http.MethodPost, "/v1/presence/verify", VerifyPresenceRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(failure.Validation), errorKind(t, out))
}

func TestVerifyRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.client.BuildAndPersistRedemption(ctx, f.object.Identity.PrivateKeyHex(), userDID)
	require.NoError(t, err)
	other, err := f.client.BuildAndPersistRedemption(ctx, f.object.Identity.PrivateKeyHex(), otherDID)
	require.NoError(t, err)

	req := VerifyRedemptionRequest{
		ObjectDID: r.Reference.ObjectDID,
		Signature: r.Reference.Signature,
		CID:       r.Reference.RecordCID.String(),
	}
	rec, out := f.do(t, http.MethodPost, "/v1/redemptions/verify", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, userDID, out["record"].(map[string]any)["userDID"])

	link := redemption.EncodeVerificationLink("/v1/verify", r.Reference)
	rec, _ = f.do(t, http.MethodGet, link, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// a valid signature of another record does not verify this one
	req.Signature = other.Reference.Signature
	rec, out = f.do(t, http.MethodPost, "/v1/redemptions/verify", req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(failure.Verification), errorKind(t, out))

	rec, out = f.do(t, http.MethodPost, "/v1/redemptions/verify", VerifyRedemptionRequest{ObjectDID: "nope", Signature: "0x00", CID: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(failure.Validation), errorKind(t, out))

	rec, out = f.do(t, http.MethodGet, "/v1/verify?did="+r.Reference.ObjectDID+"&signature=0x00&cid=not-a-cid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(failure.Validation), errorKind(t, out))
}

func TestListAndResolveRedemptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.client.BuildAndPersistRedemption(ctx, f.object.Identity.PrivateKeyHex(), userDID)
	require.NoError(t, err)

	rec, out := f.do(t, http.MethodGet, "/v1/redemptions?user="+url.QueryEscape(userDID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := out["redemptions"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, r.Reference.RecordCID.String(), list[0].(map[string]any)["cid"])

	q := url.Values{"user": {userDID}, "object": {f.object.Identity.DID}}
	rec, out = f.do(t, http.MethodGet, "/v1/redemptions/latest?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, r.Reference.Signature, out["signature"])

	q.Set("user", otherDID)
	rec, out = f.do(t, http.MethodGet, "/v1/redemptions/latest?"+q.Encode(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(failure.NotFound), errorKind(t, out))

	rec, _ = f.do(t, http.MethodGet, "/v1/redemptions?user=someone", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf(failure.Validation))
	assert.Equal(t, http.StatusNotFound, statusOf(failure.NotFound))
	assert.Equal(t, http.StatusConflict, statusOf(failure.Conflict))
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(failure.Verification))
	assert.Equal(t, http.StatusBadGateway, statusOf(failure.Transport))
}
