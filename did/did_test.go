package did

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-twin-sdk/failure"
)

const (
	fixturePrivateKey = "0x8f49e4492f97ca6334e15117fc6c4c06f4652cac7fb27ed4ecc5ef9ea6ad5820"
	fixtureAddress    = "0x36e4418dafb9d1e5fff7408f5a57981e240c8f8e"
)

func TestGenerateECDSAKeyPair(t *testing.T) {
	kp, err := GenerateECDSAKeyPair()
	require.NoError(t, err)
	require.NotNil(t, kp.PrivateKey)

	pub := kp.GetPublicKeyBytes()
	require.Len(t, pub, PublicKeyLength)
	assert.Equal(t, byte(0x04), pub[0])

	addr, err := AddressOf(pub)
	require.NoError(t, err)
	assert.Equal(t, kp.GetAddress(), addr)

	restored, err := KeyPairFromPrivateKeyHex(kp.GetPrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, kp.GetAddress(), restored.GetAddress())
}

func TestKnownKeyVector(t *testing.T) {
	kp, err := KeyPairFromPrivateKeyHex(fixturePrivateKey)
	require.NoError(t, err)

	assert.Equal(t, fixtureAddress, strings.ToLower(kp.GetAddress().Hex()))
	assert.Equal(t, "did:ethr:"+fixtureAddress, kp.GetDID(DefaultMethod))
	assert.Equal(t, fixturePrivateKey, kp.GetPrivateKeyHex())
}

func TestAddressOf(t *testing.T) {
	kp, err := KeyPairFromPrivateKeyHex(fixturePrivateKey)
	require.NoError(t, err)
	pub := kp.GetPublicKeyBytes()

	offCurve := make([]byte, PublicKeyLength)
	offCurve[0] = 0x04
	offCurve[64] = 0x07

	wrongPrefix := append([]byte{0x05}, pub[1:]...)

	tests := []struct {
		name     string
		in       []byte
		wantErr  bool
		validate func(t *testing.T, addr common.Address)
	}{
		{
			name: "uncompressed key",
			in:   pub,
			validate: func(t *testing.T, addr common.Address) {
				assert.Equal(t, fixtureAddress, strings.ToLower(addr.Hex()))
			},
		},
		{name: "compressed key rejected", in: crypto.CompressPubkey(kp.PublicKey), wantErr: true},
		{name: "64 bytes without prefix", in: pub[1:], wantErr: true},
		{name: "wrong prefix", in: wrongPrefix, wantErr: true},
		{name: "not on curve", in: offCurve, wantErr: true},
		{name: "empty", in: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := AddressOf(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, failure.Is(err, failure.Validation))
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, addr)
			}
		})
	}
}

func TestParsePublicKey(t *testing.T) {
	kp, err := GenerateECDSAKeyPair()
	require.NoError(t, err)
	want := kp.GetPublicKeyBytes()

	got, err := ParsePublicKey(crypto.CompressPubkey(kp.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ParsePublicKeyHex("0x" + hex.EncodeToString(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ParsePublicKey(want[:40])
	assert.True(t, failure.Is(err, failure.Validation))

	_, err = ParsePublicKeyHex("zz")
	assert.True(t, failure.Is(err, failure.Validation))
}

func TestParsePrivateKeyHex(t *testing.T) {
	for _, in := range []string{"", "0x", "abc", "0xnothex00"} {
		_, err := ParsePrivateKeyHex(in)
		assert.Truef(t, failure.Is(err, failure.Validation), "input %q", in)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantErr    bool
		wantMethod string
	}{
		{name: "ethr", in: "did:ethr:" + fixtureAddress, wantMethod: "did:ethr"},
		{name: "network segment", in: "did:ethr:testnet:" + fixtureAddress, wantMethod: "did:ethr:testnet"},
		{name: "upper case", in: "DID:ETHR:0x36E4418DAFB9D1E5FFF7408F5A57981E240C8F8E", wantMethod: "did:ethr"},
		{name: "mixed case address", in: "did:Ethr:0x36E4418dafb9d1e5fff7408f5a57981e240c8f8E", wantMethod: "did:ethr"},
		{name: "no scheme", in: "did:" + fixtureAddress, wantErr: true},
		{name: "no did prefix", in: "ethr:" + fixtureAddress, wantErr: true},
		{name: "short address", in: "did:ethr:0x1234", wantErr: true},
		{name: "missing 0x", in: "did:ethr:36e4418dafb9d1e5fff7408f5a57981e240c8f8e", wantErr: true},
		{name: "non-hex address", in: "did:ethr:0xzz e4418dafb9d1e5fff7408f5a57981e240c8f8", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, failure.Is(err, failure.Validation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, id.Method)
			assert.Equal(t, fixtureAddress, strings.ToLower(id.Address.Hex()))
			assert.Equal(t, strings.ToLower(tt.in), id.String())
		})
	}
}

func TestEqual(t *testing.T) {
	lower := "did:ethr:" + fixtureAddress
	upper := "did:ethr:0x36E4418DAFB9D1E5FFF7408F5A57981E240C8F8E"

	assert.True(t, Equal(lower, upper))
	assert.False(t, Equal(lower, "did:ethr:0x0000000000000000000000000000000000000001"))
}

func TestAddressFromDID(t *testing.T) {
	addr, err := AddressFromDID(ToDID(DefaultMethod, fixtureAddress))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(fixtureAddress), addr)
}
