// Package object manages the lifecycle of objects: creating the key pair that
// speaks for an object, anchoring its metadata in the content store,
// registering it on the ledger and reading it back.
//
// States are Unregistered -> Created -> (OwnershipTransferred)*. There is no
// delete; objects are permanent once created.
package object

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ipfs/go-cid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pilacorp/go-twin-sdk/canonical"
	"github.com/pilacorp/go-twin-sdk/did"
	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/pubkey"
	"github.com/pilacorp/go-twin-sdk/signer"
	"github.com/pilacorp/go-twin-sdk/store"
)

// Identity is an object as known to its creator. PrivateKey is only set on
// the value returned by CreateObject; custody is the caller's responsibility.
type Identity struct {
	ID             ledger.ObjectID
	Address        common.Address
	DID            string
	PublicKey      []byte
	PrivateKey     *ecdsa.PrivateKey
	MetadataRef    cid.Cid
	CreatorAddress common.Address
	OwnerAddress   common.Address
}

// PrivateKeyHex returns the "0x" prefixed private key, or "" if absent.
func (i *Identity) PrivateKeyHex() string {
	if i.PrivateKey == nil {
		return ""
	}

	return (&did.KeyPair{PrivateKey: i.PrivateKey}).GetPrivateKeyHex()
}

// Created is the result of CreateObject.
type Created struct {
	Identity *Identity
	// Transaction is the ledger receipt. Its events may be empty when the
	// ledger client does not wait for mining, in which case Identity.ID is 0.
	Transaction *ledger.Receipt
}

// View is the public, keyless view of an object.
type View struct {
	ID          ledger.ObjectID `json:"id"`
	Address     common.Address  `json:"address"`
	DID         string          `json:"did"`
	PublicKey   hexutil.Bytes   `json:"publicKey"`
	Creator     common.Address  `json:"creator"`
	Owner       common.Address  `json:"owner"`
	MetadataRef string          `json:"metadataRef"`
	Metadata    map[string]any  `json:"metadata"`
}

// Service implements the object operations over a ledger and a content store.
type Service struct {
	ledger ledger.Ledger
	store  store.ContentStore
	cache  Cache
	method string
	schema *gojsonschema.Schema
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables view caching.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMethod sets the DID method used for object identifiers.
func WithMethod(method string) Option {
	return func(s *Service) { s.method = method }
}

// WithMetadataSchema replaces the built-in metadata schema.
func WithMetadataSchema(schema *gojsonschema.Schema) Option {
	return func(s *Service) { s.schema = schema }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a Service over l and st.
func NewService(l ledger.Ledger, st store.ContentStore, opts ...Option) (*Service, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if st == nil {
		return nil, fmt.Errorf("content store is required")
	}

	s := &Service{
		ledger: l,
		store:  st,
		method: did.DefaultMethod,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.schema == nil {
		schema, err := DefaultMetadataSchema()
		if err != nil {
			return nil, err
		}
		s.schema = schema
	}

	return s, nil
}

// Method returns the DID method of object identifiers.
func (s *Service) Method() string {
	return s.method
}

// MetadataKey is the content store key of an object's metadata.
func MetadataKey(address common.Address) string {
	return "objects/" + strings.ToLower(address.Hex()) + "/metadata"
}

type createConfig struct {
	creator signer.SignerProvider
	keyPair *did.KeyPair
}

// CreateOption configures a single CreateObject call.
type CreateOption func(*createConfig)

// WithCreator signs the creation transaction with p instead of the new
// object key. The creator and first owner become p's address.
func WithCreator(p signer.SignerProvider) CreateOption {
	return func(c *createConfig) { c.creator = p }
}

// WithKeyPair registers an existing key pair instead of generating one.
func WithKeyPair(kp *did.KeyPair) CreateOption {
	return func(c *createConfig) { c.keyPair = kp }
}

// CreateObject validates metadata, generates the object key pair, stores the
// canonical metadata JSON and registers the object on the ledger with fee,
// a decimal ether amount such as "0.001".
func (s *Service) CreateObject(ctx context.Context, metadata map[string]any, fee string, opts ...CreateOption) (*Created, error) {
	var cfg createConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := ValidateMetadata(s.schema, metadata); err != nil {
		return nil, err
	}

	wei, err := ledger.ParseEther(fee)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "invalid fee")
	}

	body, err := canonical.Marshal(metadata)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to encode metadata")
	}

	kp := cfg.keyPair
	if kp == nil {
		kp, err = did.GenerateECDSAKeyPair()
		if err != nil {
			return nil, failure.Wrap(failure.Transport, "", err, "failed to generate key pair")
		}
	}
	address := kp.GetAddress()
	publicKey := kp.GetPublicKeyBytes()

	x, y, err := pubkey.Split(publicKey)
	if err != nil {
		return nil, err
	}

	ref, err := s.store.Put(ctx, MetadataKey(address), body)
	if err != nil {
		return nil, store.Failure(err, "failed to store metadata")
	}

	from := cfg.creator
	if from == nil {
		from = signer.NewProviderFromKey(kp.PrivateKey)
	}

	receipt, err := s.ledger.CreateObject(ctx, ledger.CreateObjectRequest{
		MetadataRef: ref.String(),
		PublicKeyX:  x,
		PublicKeyY:  y,
		Fee:         wei,
	}, from)
	if err != nil {
		return nil, ledger.Failure(err, "failed to register object")
	}

	creator := common.HexToAddress(from.GetAddress())
	identity := &Identity{
		Address:        address,
		DID:            kp.GetDID(s.method),
		PublicKey:      publicKey,
		PrivateKey:     kp.PrivateKey,
		MetadataRef:    ref,
		CreatorAddress: creator,
		OwnerAddress:   creator,
	}
	if ev, ok := receipt.Find(ledger.EventObjectCreated); ok {
		identity.ID = ev.ObjectID
	}

	s.logger.Info("object created",
		"id", identity.ID.String(),
		"address", strings.ToLower(address.Hex()),
		"metadata", ref.String(),
		"tx", receipt.TxHash)

	return &Created{Identity: identity, Transaction: receipt}, nil
}

// FetchObjectDetails reads an object from the ledger, derives its address
// from the stored public key and resolves its metadata.
//
// A ledger record whose creator is the zero address is reported as NotFound.
func (s *Service) FetchObjectDetails(ctx context.Context, id ledger.ObjectID) (*View, error) {
	if s.cache != nil {
		if v, ok := s.cache.GetView(id); ok {
			return v, nil
		}
	}

	obj, err := s.ledger.GetObject(ctx, id)
	if err != nil {
		return nil, ledger.Failure(err, "failed to read object %s", id)
	}
	if !obj.Exists() {
		return nil, failure.New(failure.NotFound, failure.ReasonObjectNotFound, "object %s does not exist", id)
	}

	publicKey, err := pubkey.Reconstruct(obj.PublicKeyX[:], obj.PublicKeyY[:])
	if err != nil {
		return nil, err
	}
	address, err := did.AddressOf(publicKey)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "object %s has an invalid public key", id)
	}

	ref, err := cid.Decode(obj.MetadataRef)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "object %s has an invalid metadata reference", id)
	}
	body, err := s.store.Fetch(ctx, ref)
	if err != nil {
		return nil, store.Failure(err, "failed to fetch metadata of object %s", id)
	}

	var metadata map[string]any
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "metadata of object %s is not a JSON object", id)
	}

	v := &View{
		ID:          id,
		Address:     address,
		DID:         did.ToDID(s.method, address.Hex()),
		PublicKey:   publicKey,
		Creator:     obj.Creator,
		Owner:       obj.Owner,
		MetadataRef: ref.String(),
		Metadata:    metadata,
	}

	if s.cache != nil {
		if err := s.cache.PutView(id, v); err != nil {
			s.logger.Warn("failed to cache object view", "id", id.String(), "error", err)
		}
	}

	return v, nil
}

// TransferOwnership moves ownership of id to newOwner. Only the ledger
// authorizes the change; owner must be the current owner's signer.
func (s *Service) TransferOwnership(ctx context.Context, id ledger.ObjectID, newOwner common.Address, owner signer.SignerProvider) (*ledger.Receipt, error) {
	if newOwner == (common.Address{}) {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "new owner must not be the zero address")
	}
	if owner == nil {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "owner signer is required")
	}

	receipt, err := s.ledger.TransferOwnership(ctx, id, newOwner, owner)
	if s.cache != nil {
		if bustErr := s.cache.BustView(id); bustErr != nil {
			s.logger.Warn("failed to bust object view", "id", id.String(), "error", bustErr)
		}
	}
	if err != nil {
		return nil, ledger.Failure(err, "failed to transfer object %s", id)
	}

	s.logger.Info("object ownership transferred",
		"id", id.String(),
		"new_owner", strings.ToLower(newOwner.Hex()),
		"tx", receipt.TxHash)

	return receipt, nil
}
