package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/pilacorp/go-twin-sdk/cas/localfs"
	"github.com/pilacorp/go-twin-sdk/did"
	"github.com/pilacorp/go-twin-sdk/presence"
	"github.com/pilacorp/go-twin-sdk/store"
	"github.com/pilacorp/go-twin-sdk/store/grpcstore"
	"github.com/pilacorp/go-twin-sdk/store/index/memindex"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp(&out)
	err := app.RunContext(context.Background(), append([]string{"twin", "--config", "", "--log-level", "error"}, args...))

	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)

	var key map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &key))

	kp, err := did.KeyPairFromPrivateKeyHex(key["privateKey"])
	require.NoError(t, err)
	assert.Equal(t, kp.GetAddress().Hex(), key["address"])
	assert.Equal(t, kp.GetDID(did.DefaultMethod), key["did"])
}

func TestPresenceSign(t *testing.T) {
	const key = "0x8f49e4492f97ca6334e15117fc6c4c06f4652cac7fb27ed4ecc5ef9ea6ad5820"

	out, err := run(t, "presence", "sign", "--object-id", "5", "--key", key, "--nonce", "n1", "--timestamp", "T0")
	require.NoError(t, err)

	sp, err := presence.DecodeQR(out)
	require.NoError(t, err)
	assert.Equal(t, `{"nonce":"n1","objectId":5,"timestamp":"T0"}`, sp.Payload)
}

func TestDemo(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t,
		"--cas-dir", filepath.Join(dir, "cas"),
		"--index-db", filepath.Join(dir, "index.db"),
		"demo", "--name", "Bench A")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.EqualValues(t, 1, result["objectId"])
	assert.True(t, strings.HasPrefix(result["bearerLink"].(string), "redeem=did:ethr:0x"))
	assert.Contains(t, result["verificationLink"], "&cid=")

	record := result["redemption"].(map[string]any)
	assert.Equal(t, "redeem", record["action"])
	assert.Equal(t, result["userDID"], record["userDID"])
}

func TestDemoWithMirror(t *testing.T) {
	dir := t.TempDir()
	mirror := filepath.Join(dir, "mirror")

	_, err := run(t,
		"--cas-dir", filepath.Join(dir, "cas"),
		"--cas-mirror", mirror,
		"demo")
	require.NoError(t, err)

	shards, err := os.ReadDir(mirror)
	require.NoError(t, err)
	assert.NotEmpty(t, shards)
}

func TestDemoAgainstRemoteStore(t *testing.T) {
	blobs, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	st := store.New(blobs, memindex.New())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	grpcstore.RegisterContentStoreServer(srv, &grpcstore.Server{Store: st})
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	out, err := run(t, "--store", lis.Addr().String(), "demo")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))

	entries, err := st.ListUnderPrefix(context.Background(), "redemptions/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, result["verificationLink"], entries[0].CID.String())
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := run(t, "--ledger", "rpc", "object", "show", "1")
	assert.Error(t, err)

	_, err = run(t, "--write-policy", "sometimes", "demo")
	assert.Error(t, err)

	_, err = run(t, "--store", "127.0.0.1:1", "--index-db", "index.db", "demo")
	assert.Error(t, err)
}

func TestObjectShowMissing(t *testing.T) {
	_, err := run(t, "object", "show", "7")
	assert.Error(t, err)

	_, err = run(t, "object", "show", "seven")
	assert.Error(t, err)
}
