// Package redemption implements the Type II redemption protocol.
//
// The object's private key is a bearer credential: whoever holds it can sign
// a redemption record {objectDID, userDID, timestamp, action} as the object,
// and the signed record is persisted in the content store under a key scoped
// by (userDID, objectDID). Anyone holding a Reference {objectDID, signature,
// CID} can later re-verify the record without any key.
//
// Verification proves that someone holding the credential redeemed at the
// recorded time, not that the intended recipient did. Competing redemptions
// by different holders of a leaked credential are not prevented. This
// variant is deliberately kept apart from the device custody model of the
// presence package.
package redemption

import (
	"encoding/json"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/pilacorp/go-twin-sdk/canonical"
	"github.com/pilacorp/go-twin-sdk/did"
	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/signer"
)

// ActionRedeem is the only supported record action.
const ActionRedeem = "redeem"

// TimestampLayout is RFC 3339 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is a redemption attested by the object's key.
type Record struct {
	ObjectDID string `json:"objectDID"`
	UserDID   string `json:"userDID"`
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Signature string `json:"signature,omitempty"`
}

// Reference is everything a third party needs to re-verify a record.
type Reference struct {
	ObjectDID string
	Signature string
	RecordCID cid.Cid
}

// SigningPayload returns canonicalJSON({objectDID, userDID, timestamp,
// action}), the exact bytes the object key signs.
func (r *Record) SigningPayload() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = ""

	b, err := canonical.Marshal(unsigned)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to encode redemption record")
	}

	return b, nil
}

// Marshal returns the canonical JSON of the signed record as persisted.
func (r *Record) Marshal() ([]byte, error) {
	b, err := canonical.Marshal(r)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to encode redemption record")
	}

	return b, nil
}

// ParseRecord decodes persisted record bytes. Bytes that do not decode to a
// record fail verification rather than validation, since they were read from
// a reference the caller could not check.
func ParseRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, failure.Wrap(failure.Verification, failure.ReasonInvalidRecord, err, "stored record is not valid JSON")
	}
	if r.ObjectDID == "" || r.UserDID == "" || r.Timestamp == "" || r.Action == "" {
		return nil, failure.New(failure.Verification, failure.ReasonInvalidRecord, "stored record is incomplete")
	}

	return &r, nil
}

// VerifyRecord checks that signature over r's signing payload recovers to
// the address of objectDID.
func VerifyRecord(r *Record, objectDID, signature string) error {
	if r == nil {
		return failure.New(failure.Validation, failure.ReasonMalformedInput, "record is required")
	}

	expected, err := did.AddressFromDID(objectDID)
	if err != nil {
		return err
	}
	sig, err := signer.DecodeSignature(signature)
	if err != nil {
		return err
	}

	if !did.Equal(r.ObjectDID, objectDID) {
		return failure.New(failure.Verification, failure.ReasonObjectMismatch,
			"record is for %s, reference names %s", r.ObjectDID, objectDID)
	}
	if r.Action != ActionRedeem {
		return failure.New(failure.Verification, failure.ReasonUnsupportedAction, "unsupported action %q", r.Action)
	}

	payload, err := r.SigningPayload()
	if err != nil {
		return err
	}
	recovered, err := signer.RecoverSigner(payload, sig)
	if err != nil {
		return err
	}
	if recovered != expected {
		return failure.New(failure.Verification, failure.ReasonInvalidRecord,
			"record signed by %s, object is %s", strings.ToLower(recovered.Hex()), strings.ToLower(expected.Hex()))
	}

	return nil
}
