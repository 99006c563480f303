package ledger

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-twin-sdk/signer"
)

//go:embed object_registry_abi.json
var registryABIJSON []byte

var (
	parsedABI    abi.ABI
	parseABIOnce sync.Once
	errParseABI  error
)

// loadABI parses the embedded hardhat artifact once.
func loadABI() (abi.ABI, error) {
	parseABIOnce.Do(func() {
		type hardhatArtifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		var artifact hardhatArtifact
		if err := json.Unmarshal(registryABIJSON, &artifact); err != nil {
			errParseABI = fmt.Errorf("failed to unmarshal artifact JSON: %w", err)
			return
		}
		parsedABI, errParseABI = abi.JSON(bytes.NewReader(artifact.ABI))
	})

	return parsedABI, errParseABI
}

// Backend is the subset of ethclient.Client the contract client needs.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Transaction is a signed raw transaction ready for eth_sendRawTransaction.
type Transaction struct {
	TxHex  string
	TxHash string
}

// Contract is a Ledger backed by a deployed ObjectRegistry contract.
type Contract struct {
	contract *bind.BoundContract
	backend  Backend
	abi      abi.ABI
	cfg      *Config
}

var _ Ledger = (*Contract)(nil)

// NewContract dials cfg.RPCURL and returns a client for the registry.
//
// The RPC transport is instrumented with OpenTelemetry. The connection is
// lazy for HTTP endpoints, so an unreachable node surfaces on first use.
func NewContract(ctx context.Context, cfg *Config) (*Contract, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RPCURL == "" {
		return nil, errors.New("RPC URL is required")
	}

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	rpcClient, err := rpc.DialOptions(ctx, cfg.RPCURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to init RPC client: %w", err)
	}

	return NewContractWithBackend(cfg, ethclient.NewClient(rpcClient))
}

// NewContractWithBackend returns a client over an existing backend. A nil
// backend is allowed for building signed transactions offline.
func NewContractWithBackend(cfg *Config, backend Backend) (*Contract, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Standardize()

	contractABI, err := loadABI()
	if err != nil {
		return nil, err
	}

	var bound *bind.BoundContract
	if backend != nil {
		bound = bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), contractABI, backend, backend, backend)
	} else {
		bound = bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), contractABI, nil, nil, nil)
	}

	return &Contract{
		contract: bound,
		backend:  backend,
		abi:      contractABI,
		cfg:      cfg,
	}, nil
}

// CreateObjectTx builds and signs a createObject transaction without
// broadcasting it.
func (c *Contract) CreateObjectTx(ctx context.Context, req CreateObjectRequest, from signer.SignerProvider, nonce uint64) (*Transaction, error) {
	tx, err := c.createObjectTx(ctx, req, from, nonce)
	if err != nil {
		return nil, err
	}

	return serializeTx(tx)
}

func (c *Contract) createObjectTx(ctx context.Context, req CreateObjectRequest, from signer.SignerProvider, nonce uint64) (*types.Transaction, error) {
	if req.MetadataRef == "" {
		return nil, errors.New("metadata reference is required")
	}

	fee := req.Fee
	if fee == nil {
		fee = new(big.Int)
	}

	// createObject(string,bytes32,bytes32)
	tx, err := c.transact(ctx, from, nonce, fee, "createObject", req.MetadataRef, req.PublicKeyX, req.PublicKeyY)
	if err != nil {
		return nil, fmt.Errorf("failed to generate createObject Tx: %w", err)
	}

	return tx, nil
}

// CreateObject registers a new object, paying req.Fee from the sender.
//
// Returns the receipt with the ObjectCreated event once the transaction is
// mined, or ErrUnconfirmed if it was broadcast but not seen mined.
func (c *Contract) CreateObject(ctx context.Context, req CreateObjectRequest, from signer.SignerProvider) (*Receipt, error) {
	nonce, err := c.GetNonce(ctx, common.HexToAddress(from.GetAddress()))
	if err != nil {
		return nil, err
	}

	tx, err := c.createObjectTx(ctx, req, from, nonce)
	if err != nil {
		return nil, err
	}

	return c.submit(ctx, tx)
}

// GetObject reads the registry entry of id. Returns ErrUnknownObject when
// the registry has no such object.
func (c *Contract) GetObject(ctx context.Context, id ObjectID) (*Object, error) {
	if c.backend == nil {
		return nil, errors.New("RPC client is not initialized, please check RPC URL and try again")
	}

	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getObject", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	return objectFromOutputs(id, out)
}

// RecordInteraction submits a signed interaction claim for id.
//
// Returns the receipt with the InteractionRecorded event, or ErrUnconfirmed
// if the transaction was broadcast but not seen mined.
func (c *Contract) RecordInteraction(ctx context.Context, id ObjectID, claimHash common.Hash, userSignature []byte, from signer.SignerProvider) (*Receipt, error) {
	nonce, err := c.GetNonce(ctx, common.HexToAddress(from.GetAddress()))
	if err != nil {
		return nil, err
	}

	// recordInteraction(uint256,bytes32,bytes)
	tx, err := c.transact(ctx, from, nonce, nil, "recordInteraction",
		new(big.Int).SetUint64(uint64(id)), [32]byte(claimHash), userSignature)
	if err != nil {
		return nil, fmt.Errorf("failed to generate recordInteraction Tx: %w", err)
	}

	return c.submit(ctx, tx)
}

// TransferOwnership moves id to newOwner. Only the current owner may send it.
func (c *Contract) TransferOwnership(ctx context.Context, id ObjectID, newOwner common.Address, from signer.SignerProvider) (*Receipt, error) {
	nonce, err := c.GetNonce(ctx, common.HexToAddress(from.GetAddress()))
	if err != nil {
		return nil, err
	}

	// transferObjectOwnership(uint256,address)
	tx, err := c.transact(ctx, from, nonce, nil, "transferObjectOwnership",
		new(big.Int).SetUint64(uint64(id)), newOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to generate transferObjectOwnership Tx: %w", err)
	}

	return c.submit(ctx, tx)
}

// Receipt fetches the receipt of txHash and decodes the registry events in it.
func (c *Contract) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	if c.backend == nil {
		return nil, errors.New("RPC client is not initialized, please check RPC URL and try again")
	}

	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}

	return c.decodeReceipt(receipt)
}

// CreationFee reads the minimum creation fee from the contract.
func (c *Contract) CreationFee(ctx context.Context) (*big.Int, error) {
	if c.backend == nil {
		return nil, errors.New("RPC client is not initialized, please check RPC URL and try again")
	}

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "creationFee"); err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("contract returned no data")
	}

	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected output type: %T", out[0])
	}

	return fee, nil
}

// GetNonce returns the pending transaction nonce of address.
func (c *Contract) GetNonce(ctx context.Context, address common.Address) (uint64, error) {
	if c.backend == nil {
		return 0, errors.New("RPC client is not initialized, please check RPC URL and try again")
	}

	nonce, err := c.backend.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}

	return nonce, nil
}

// transact builds a legacy EIP-155 transaction signed through provider.
// Nonce, gas price and gas limit are all explicit so no node round trip is
// needed to build it.
func (c *Contract) transact(ctx context.Context, provider signer.SignerProvider, nonce uint64, value *big.Int, method string, params ...interface{}) (*types.Transaction, error) {
	if provider == nil {
		return nil, errors.New("tx signer is required")
	}
	if value == nil {
		value = new(big.Int)
	}

	chainSigner := types.NewEIP155Signer(big.NewInt(c.cfg.ChainID))
	signFn := func(_ common.Address, tx *types.Transaction) (*types.Transaction, error) {
		h := chainSigner.Hash(tx)
		sig, err := provider.Sign(h.Bytes())
		if err != nil {
			return nil, err
		}
		return tx.WithSignature(chainSigner, sig)
	}

	return c.contract.Transact(&bind.TransactOpts{
		From:     common.HexToAddress(provider.GetAddress()),
		Nonce:    new(big.Int).SetUint64(nonce),
		Value:    value,
		GasLimit: c.cfg.GasLimit,
		GasPrice: c.cfg.GasPrice,
		Context:  ctx,
		Signer:   signFn,
		NoSend:   true,
	}, method, params...)
}

// submit broadcasts tx and, unless configured otherwise, waits for it to be
// mined and decodes its events. Once the node accepted tx, a failure to
// obtain its receipt is reported as ErrUnconfirmed.
func (c *Contract) submit(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	if c.cfg.NoWait {
		return &Receipt{TxHash: tx.Hash().Hex()}, nil
	}

	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnconfirmed, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s: %w", tx.Hash().Hex(), ErrReverted)
	}

	return c.decodeReceipt(receipt)
}

func (c *Contract) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt for %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// decodeReceipt turns the registry's logs into events; logs from other
// contracts are skipped.
func (c *Contract) decodeReceipt(receipt *types.Receipt) (*Receipt, error) {
	out := &Receipt{TxHash: receipt.TxHash.Hex()}
	registry := common.HexToAddress(c.cfg.ContractAddress)

	for _, l := range receipt.Logs {
		if l == nil || l.Address != registry || len(l.Topics) == 0 {
			continue
		}
		ev, ok, err := c.decodeLog(*l)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Events = append(out.Events, ev)
		}
	}

	return out, nil
}

func (c *Contract) decodeLog(l types.Log) (Event, bool, error) {
	for _, name := range []EventName{EventObjectCreated, EventInteractionRecorded, EventOwnershipTransferred} {
		event, ok := c.abi.Events[string(name)]
		if !ok || event.ID != l.Topics[0] {
			continue
		}

		fields := make(map[string]interface{})
		if len(l.Data) > 0 {
			if err := c.abi.UnpackIntoMap(fields, string(name), l.Data); err != nil {
				return Event{}, false, fmt.Errorf("failed to unpack %s data: %w", name, err)
			}
		}
		var indexed abi.Arguments
		for _, arg := range event.Inputs {
			if arg.Indexed {
				indexed = append(indexed, arg)
			}
		}
		if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
			return Event{}, false, fmt.Errorf("failed to parse %s topics: %w", name, err)
		}

		return eventFromFields(name, fields), true, nil
	}

	return Event{}, false, nil
}

func eventFromFields(name EventName, f map[string]interface{}) Event {
	ev := Event{Name: name}
	if id, ok := f["objectId"].(*big.Int); ok {
		ev.ObjectID = ObjectID(id.Uint64())
	}

	switch name {
	case EventObjectCreated:
		ev.Creator, _ = f["creator"].(common.Address)
		ev.MetadataRef, _ = f["metadataRef"].(string)
	case EventInteractionRecorded:
		ev.User, _ = f["user"].(common.Address)
		if h, ok := f["claimHash"].([32]byte); ok {
			ev.ClaimHash = common.Hash(h)
		}
	case EventOwnershipTransferred:
		ev.PreviousOwner, _ = f["previousOwner"].(common.Address)
		ev.NewOwner, _ = f["newOwner"].(common.Address)
	}

	return ev
}

func objectFromOutputs(id ObjectID, out []interface{}) (*Object, error) {
	if len(out) != 5 {
		return nil, fmt.Errorf("unexpected getObject output length: %d", len(out))
	}

	creator, ok1 := out[0].(common.Address)
	owner, ok2 := out[1].(common.Address)
	ref, ok3 := out[2].(string)
	x, ok4 := out[3].([32]byte)
	y, ok5 := out[4].([32]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fmt.Errorf("unexpected getObject output types: %T %T %T %T %T", out[0], out[1], out[2], out[3], out[4])
	}

	return &Object{
		ID:          id,
		Creator:     creator,
		Owner:       owner,
		MetadataRef: ref,
		PublicKeyX:  x,
		PublicKeyY:  y,
	}, nil
}

// serializeTx RLP-encodes tx to hex and returns it with its hash.
func serializeTx(tx *types.Transaction) (*Transaction, error) {
	var buf bytes.Buffer

	if err := rlp.Encode(&buf, tx); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	return &Transaction{
		TxHex:  hex.EncodeToString(buf.Bytes()),
		TxHash: tx.Hash().Hex(),
	}, nil
}

// TxFromHex decodes a raw transaction produced by CreateObjectTx.
func TxFromHex(rawTxHex string) (*types.Transaction, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(rawTxHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex string: %w", err)
	}

	var tx types.Transaction
	if err := rlp.DecodeBytes(b, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode RLP: %w", err)
	}

	return &tx, nil
}
