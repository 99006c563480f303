package redemption

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ipfs/go-cid"

	"github.com/pilacorp/go-twin-sdk/did"
	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/signer"
	"github.com/pilacorp/go-twin-sdk/store"
)

// WritePolicy decides what happens when a record already exists for the
// same (userDID, objectDID).
type WritePolicy int

const (
	// LastWriteWins moves the key to the newest record. Concurrent writers
	// race and the loser's record stays fetchable only by its CID.
	LastWriteWins WritePolicy = iota
	// FirstWriteWins keeps the first record and fails later attempts with a
	// Conflict failure.
	FirstWriteWins
)

// String returns the configuration name of p.
func (p WritePolicy) String() string {
	switch p {
	case LastWriteWins:
		return "last-write-wins"
	case FirstWriteWins:
		return "first-write-wins"
	default:
		return "unknown"
	}
}

// ParseWritePolicy parses the String form of a policy.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last-write-wins", "lww":
		return LastWriteWins, nil
	case "first-write-wins", "fww":
		return FirstWriteWins, nil
	default:
		return 0, failure.New(failure.Validation, failure.ReasonMalformedInput, "unknown write policy %q", s)
	}
}

// Redemption is a persisted, self-verified record and its reference.
type Redemption struct {
	Record    *Record
	Reference Reference
}

// Service runs both paths of the protocol over a content store.
type Service struct {
	store  store.ContentStore
	policy WritePolicy
	method string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWritePolicy sets the write policy. The default is LastWriteWins.
func WithWritePolicy(p WritePolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithMethod sets the DID method of object identifiers derived from keys.
func WithMethod(method string) Option {
	return func(s *Service) { s.method = method }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a Service over st.
func NewService(st store.ContentStore, opts ...Option) *Service {
	s := &Service{
		store:  st,
		policy: LastWriteWins,
		method: did.DefaultMethod,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RecordKey is the content store key of the redemption of objectDID by
// userDID.
func RecordKey(userDID, objectDID string) string {
	return "redemptions/" + strings.ToLower(userDID) + "/" + strings.ToLower(objectDID)
}

// BuildAndPersist signs a redemption of the object whose private key is
// objectPrivateKeyHex by userDID, verifies the signature and persists the
// record. Nothing is written unless the self check passes.
func (s *Service) BuildAndPersist(ctx context.Context, objectPrivateKeyHex, userDID string) (*Redemption, error) {
	priv, err := did.ParsePrivateKeyHex(objectPrivateKeyHex)
	if err != nil {
		return nil, err
	}
	objectDID := did.ToDID(s.method, crypto.PubkeyToAddress(priv.PublicKey).Hex())

	return s.persist(ctx, priv, objectDID, userDID)
}

// Redeem runs BuildAndPersist from a bearer link. The link's DID must belong
// to its key; its method is kept as is.
func (s *Service) Redeem(ctx context.Context, link *BearerLink, userDID string) (*Redemption, error) {
	if link == nil {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "bearer link is required")
	}

	id, err := did.Parse(link.ObjectDID)
	if err != nil {
		return nil, err
	}
	priv, err := did.ParsePrivateKeyHex(link.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	if crypto.PubkeyToAddress(priv.PublicKey) != id.Address {
		return nil, failure.New(failure.Verification, failure.ReasonObjectMismatch,
			"bearer key does not belong to %s", id.String())
	}

	return s.persist(ctx, priv, id.String(), userDID)
}

func (s *Service) persist(ctx context.Context, priv *ecdsa.PrivateKey, objectDID, userDID string) (*Redemption, error) {
	user, err := did.Parse(userDID)
	if err != nil {
		return nil, err
	}

	record := &Record{
		ObjectDID: objectDID,
		UserDID:   user.String(),
		Timestamp: s.now().UTC().Format(TimestampLayout),
		Action:    ActionRedeem,
	}

	payload, err := record.SigningPayload()
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(payload, priv)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to sign redemption record")
	}
	record.Signature = signer.EncodeSignature(sig)

	if err := VerifyRecord(record, objectDID, record.Signature); err != nil {
		return nil, err
	}

	body, err := record.Marshal()
	if err != nil {
		return nil, err
	}

	key := RecordKey(record.UserDID, record.ObjectDID)
	var id cid.Cid
	switch s.policy {
	case FirstWriteWins:
		current, written, err := s.store.PutIfAbsent(ctx, key, body)
		if err != nil {
			return nil, store.Failure(err, "failed to persist redemption")
		}
		if !written {
			return nil, failure.New(failure.Conflict, failure.ReasonAlreadyRedeemed,
				"%s was already redeemed by %s as %s", record.ObjectDID, record.UserDID, current)
		}
		id = current
	default:
		id, err = s.store.Put(ctx, key, body)
		if err != nil {
			return nil, store.Failure(err, "failed to persist redemption")
		}
	}

	s.logger.Info("redemption persisted",
		"object", record.ObjectDID,
		"user", record.UserDID,
		"cid", id.String(),
		"policy", s.policy.String())

	return &Redemption{
		Record: record,
		Reference: Reference{
			ObjectDID: record.ObjectDID,
			Signature: record.Signature,
			RecordCID: id,
		},
	}, nil
}

// VerifyReference fetches the record behind ref and re-verifies it. It needs
// no key material.
func (s *Service) VerifyReference(ctx context.Context, ref Reference) (*Record, error) {
	if _, err := did.Parse(ref.ObjectDID); err != nil {
		return nil, err
	}
	if _, err := signer.DecodeSignature(ref.Signature); err != nil {
		return nil, err
	}
	if !ref.RecordCID.Defined() {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "record CID is required")
	}

	data, err := s.store.Fetch(ctx, ref.RecordCID)
	if err != nil {
		return nil, recordFailure(err, "failed to fetch redemption record")
	}

	record, err := ParseRecord(data)
	if err != nil {
		return nil, err
	}
	if err := VerifyRecord(record, ref.ObjectDID, ref.Signature); err != nil {
		return nil, err
	}

	return record, nil
}

// ResolveLatest returns the reference of the current record for
// (userDID, objectDID).
func (s *Service) ResolveLatest(ctx context.Context, userDID, objectDID string) (*Reference, error) {
	user, err := did.Parse(userDID)
	if err != nil {
		return nil, err
	}
	obj, err := did.Parse(objectDID)
	if err != nil {
		return nil, err
	}

	id, data, err := store.FetchLatest(ctx, s.store, RecordKey(user.String(), obj.String()))
	if err != nil {
		return nil, recordFailure(err, "failed to resolve redemption")
	}
	record, err := ParseRecord(data)
	if err != nil {
		return nil, err
	}

	return &Reference{
		ObjectDID: record.ObjectDID,
		Signature: record.Signature,
		RecordCID: id,
	}, nil
}

// ListByUser returns the current reference of every object userDID redeemed,
// ordered by object DID.
func (s *Service) ListByUser(ctx context.Context, userDID string) ([]Reference, error) {
	user, err := did.Parse(userDID)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.ListUnderPrefix(ctx, "redemptions/"+user.String()+"/")
	if err != nil {
		return nil, store.Failure(err, "failed to list redemptions")
	}

	refs := make([]Reference, 0, len(entries))
	for _, e := range entries {
		data, err := s.store.Fetch(ctx, e.CID)
		if err != nil {
			return nil, recordFailure(err, "failed to fetch redemption %s", e.Key)
		}
		record, err := ParseRecord(data)
		if err != nil {
			return nil, err
		}
		refs = append(refs, Reference{
			ObjectDID: record.ObjectDID,
			Signature: record.Signature,
			RecordCID: e.CID,
		})
	}

	return refs, nil
}

// recordFailure classifies an error reading a record. Bytes that no longer
// match their CID cannot be the signed record.
func recordFailure(err error, format string, args ...any) error {
	if store.IsCorrupt(err) {
		return failure.Wrap(failure.Verification, failure.ReasonInvalidRecord, err, format, args...)
	}

	return store.Failure(err, format, args...)
}
