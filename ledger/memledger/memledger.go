// Package memledger is an in-memory ledger.Ledger that enforces the same rules
// as the ObjectRegistry contract. It backs tests, demos and the CLI's
// "memory" ledger mode.
package memledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/signer"
)

// Interaction is an accepted interaction claim.
type Interaction struct {
	ObjectID      ledger.ObjectID
	User          common.Address
	ClaimHash     common.Hash
	UserSignature []byte
}

// Ledger keeps objects, interactions and receipts in memory.
type Ledger struct {
	mu           sync.RWMutex
	objects      map[ledger.ObjectID]*ledger.Object
	interactions map[ledger.ObjectID][]Interaction
	receipts     map[string]*ledger.Receipt
	nextID       ledger.ObjectID
	txCount      uint64
	minimumFee   *big.Int
}

var _ ledger.Ledger = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithMinimumFee sets the minimum creation fee in wei.
func WithMinimumFee(fee *big.Int) Option {
	return func(l *Ledger) {
		if fee != nil {
			l.minimumFee = new(big.Int).Set(fee)
		}
	}
}

// New returns an empty ledger. Object ids start at 1.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		objects:      make(map[ledger.ObjectID]*ledger.Object),
		interactions: make(map[ledger.ObjectID][]Interaction),
		receipts:     make(map[string]*ledger.Receipt),
		nextID:       1,
		minimumFee:   new(big.Int),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// CreateObject registers an object after checking the minimum fee.
func (l *Ledger) CreateObject(ctx context.Context, req ledger.CreateObjectRequest, from signer.SignerProvider) (*ledger.Receipt, error) {
	sender, err := senderOf(from)
	if err != nil {
		return nil, err
	}
	if req.MetadataRef == "" {
		return nil, errors.New("metadata reference is required")
	}

	fee := req.Fee
	if fee == nil {
		fee = new(big.Int)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if fee.Cmp(l.minimumFee) < 0 {
		return nil, fmt.Errorf("fee %s below %s: %w", fee, l.minimumFee, ledger.ErrInsufficientFee)
	}

	id := l.nextID
	l.nextID++
	l.objects[id] = &ledger.Object{
		ID:          id,
		Creator:     sender,
		Owner:       sender,
		MetadataRef: req.MetadataRef,
		PublicKeyX:  req.PublicKeyX,
		PublicKeyY:  req.PublicKeyY,
	}

	return l.emit(ledger.Event{
		Name:        ledger.EventObjectCreated,
		ObjectID:    id,
		Creator:     sender,
		MetadataRef: req.MetadataRef,
	}), nil
}

// GetObject returns a copy of the entry of id, or ledger.ErrUnknownObject.
func (l *Ledger) GetObject(ctx context.Context, id ledger.ObjectID) (*ledger.Object, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	obj, ok := l.objects[id]
	if !ok {
		return &ledger.Object{ID: id}, nil
	}
	out := *obj

	return &out, nil
}

// RecordInteraction records the claim after checking that userSignature
// recovers to the sender.
func (l *Ledger) RecordInteraction(ctx context.Context, id ledger.ObjectID, claimHash common.Hash, userSignature []byte, from signer.SignerProvider) (*ledger.Receipt, error) {
	sender, err := senderOf(from)
	if err != nil {
		return nil, err
	}

	recovered, err := signer.RecoverSigner(claimHash.Bytes(), userSignature)
	if err != nil || recovered != sender {
		return nil, fmt.Errorf("object %s: %w", id, ledger.ErrInvalidClaimSignature)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.objects[id]; !ok {
		return nil, fmt.Errorf("object %s: %w", id, ledger.ErrUnknownObject)
	}

	sig := make([]byte, len(userSignature))
	copy(sig, userSignature)
	l.interactions[id] = append(l.interactions[id], Interaction{
		ObjectID:      id,
		User:          sender,
		ClaimHash:     claimHash,
		UserSignature: sig,
	})

	return l.emit(ledger.Event{
		Name:      ledger.EventInteractionRecorded,
		ObjectID:  id,
		User:      sender,
		ClaimHash: claimHash,
	}), nil
}

// TransferOwnership moves id to newOwner when sent by the current owner.
func (l *Ledger) TransferOwnership(ctx context.Context, id ledger.ObjectID, newOwner common.Address, from signer.SignerProvider) (*ledger.Receipt, error) {
	sender, err := senderOf(from)
	if err != nil {
		return nil, err
	}
	if newOwner == (common.Address{}) {
		return nil, errors.New("new owner must not be the zero address")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	obj, ok := l.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, ledger.ErrUnknownObject)
	}
	if obj.Owner != sender {
		return nil, fmt.Errorf("object %s: %w", id, ledger.ErrNotOwner)
	}

	previous := obj.Owner
	obj.Owner = newOwner

	return l.emit(ledger.Event{
		Name:          ledger.EventOwnershipTransferred,
		ObjectID:      id,
		PreviousOwner: previous,
		NewOwner:      newOwner,
	}), nil
}

// Receipt returns the receipt recorded for txHash.
func (l *Ledger) Receipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.receipts[common.HexToHash(txHash).Hex()]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", txHash)
	}
	out := *r
	out.Events = append([]ledger.Event(nil), r.Events...)

	return &out, nil
}

// Interactions returns the accepted claims for id in submission order.
func (l *Ledger) Interactions(id ledger.ObjectID) []Interaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]Interaction(nil), l.interactions[id]...)
}

// emit records a receipt for a single event. Callers hold the write lock.
func (l *Ledger) emit(ev ledger.Event) *ledger.Receipt {
	l.txCount++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.txCount)
	hash := crypto.Keccak256Hash([]byte("memledger"), seq[:])

	r := &ledger.Receipt{TxHash: hash.Hex(), Events: []ledger.Event{ev}}
	l.receipts[r.TxHash] = r

	out := *r
	out.Events = []ledger.Event{ev}

	return &out
}

func senderOf(from signer.SignerProvider) (common.Address, error) {
	if from == nil {
		return common.Address{}, errors.New("tx signer is required")
	}
	addr := from.GetAddress()
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("invalid signer address %q", addr)
	}

	return common.HexToAddress(addr), nil
}
