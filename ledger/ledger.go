// Package ledger is the on-chain registry of objects: who created each one,
// who owns it, where its metadata lives and which public key speaks for it.
// It also records Type I interaction claims.
//
// Two implementations are provided: Contract talks to a deployed
// ObjectRegistry contract over JSON-RPC, and memledger keeps the same rules
// in memory.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/signer"
)

// ObjectID is the sequential identifier assigned by the ledger, starting at 1.
type ObjectID uint64

// String returns id in decimal.
func (id ObjectID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseObjectID parses a decimal object id.
func ParseObjectID(s string) (ObjectID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}

	return ObjectID(v), nil
}

var (
	// ErrInsufficientFee is returned when the creation fee is below the minimum.
	ErrInsufficientFee = errors.New("ledger: creation fee below minimum")
	// ErrNotOwner is returned when a transfer is not sent by the current owner.
	ErrNotOwner = errors.New("ledger: sender is not the object owner")
	// ErrInvalidClaimSignature is returned when the claim signature does not
	// recover to the sender.
	ErrInvalidClaimSignature = errors.New("ledger: claim signature does not match sender")
	// ErrUnknownObject is returned by writes that reference a missing object.
	ErrUnknownObject = errors.New("ledger: unknown object")
	// ErrReverted is returned when a mined transaction failed.
	ErrReverted = errors.New("ledger: transaction reverted")
	// ErrUnconfirmed is returned when a transaction was broadcast but its
	// receipt could not be obtained. It may still be mined.
	ErrUnconfirmed = errors.New("ledger: transaction broadcast but not confirmed")
)

// Object is the ledger record of an object. A record whose Creator is the
// zero address means the object does not exist.
type Object struct {
	ID          ObjectID
	Creator     common.Address
	Owner       common.Address
	MetadataRef string
	PublicKeyX  [32]byte
	PublicKeyY  [32]byte
}

// Exists reports whether the record describes a created object.
func (o *Object) Exists() bool {
	return o != nil && o.Creator != (common.Address{})
}

// CreateObjectRequest carries the arguments of createObject.
type CreateObjectRequest struct {
	MetadataRef string
	PublicKeyX  [32]byte
	PublicKeyY  [32]byte
	// Fee is the value sent with the transaction, in wei.
	Fee *big.Int
}

// EventName identifies a ledger event.
type EventName string

const (
	EventObjectCreated        EventName = "ObjectCreated"
	EventInteractionRecorded  EventName = "InteractionRecorded"
	EventOwnershipTransferred EventName = "ObjectOwnershipTransferred"
)

// Event is a decoded ledger event. Only the fields of its kind are set.
type Event struct {
	Name     EventName `json:"name"`
	ObjectID ObjectID  `json:"objectId"`

	// ObjectCreated
	Creator     common.Address `json:"creator,omitzero"`
	MetadataRef string         `json:"metadataRef,omitempty"`

	// InteractionRecorded
	User      common.Address `json:"user,omitzero"`
	ClaimHash common.Hash    `json:"claimHash,omitzero"`

	// ObjectOwnershipTransferred
	PreviousOwner common.Address `json:"previousOwner,omitzero"`
	NewOwner      common.Address `json:"newOwner,omitzero"`
}

// Receipt is the outcome of a submitted transaction.
type Receipt struct {
	TxHash string  `json:"txHash"`
	Events []Event `json:"events"`
}

// Find returns the first event with the given name.
func (r *Receipt) Find(name EventName) (*Event, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Events {
		if r.Events[i].Name == name {
			return &r.Events[i], true
		}
	}

	return nil, false
}

// Ledger is the object registry.
type Ledger interface {
	// CreateObject registers a new object. The sender becomes creator and owner.
	CreateObject(ctx context.Context, req CreateObjectRequest, from signer.SignerProvider) (*Receipt, error)
	// GetObject returns the record for id. Unknown ids yield a record with a
	// zero Creator rather than an error.
	GetObject(ctx context.Context, id ObjectID) (*Object, error)
	// RecordInteraction anchors a signed interaction claim. The ledger rejects
	// claims whose signature does not recover to the sender.
	RecordInteraction(ctx context.Context, id ObjectID, claimHash common.Hash, userSignature []byte, from signer.SignerProvider) (*Receipt, error)
	// TransferOwnership moves ownership; only the current owner may call it.
	TransferOwnership(ctx context.Context, id ObjectID, newOwner common.Address, from signer.SignerProvider) (*Receipt, error)
	// Receipt returns the decoded events of a past transaction.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
}

// Failure classifies an error returned by a Ledger call. Errors that are
// already classified pass through unchanged. ErrUnconfirmed stays reachable
// through errors.Is on the result.
func Failure(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := failure.KindOf(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrUnknownObject):
		return failure.Wrap(failure.NotFound, failure.ReasonObjectNotFound, err, format, args...)
	case errors.Is(err, ErrInvalidClaimSignature):
		return failure.Wrap(failure.Verification, failure.ReasonInvalidClaim, err, format, args...)
	default:
		return failure.Wrap(failure.Transport, failure.ReasonLedger, err, format, args...)
	}
}
