// Package presence implements the Type I proof of presence protocol.
//
// A trusted device that holds an object's private key signs a short payload
// {objectId, nonce, timestamp} and shows it as a QR code. A visitor scans it,
// checks that the payload was signed by the object's key as registered on the
// ledger, counter-signs an interaction claim with their own key and submits
// the claim to the ledger, which is the only source of truth for accepted
// claims.
//
// Each attempt moves through PayloadSigned, SignatureVerified, ClaimBuilt,
// ClaimSigned and Submitted. Any failing step aborts the attempt; nothing is
// retried here.
package presence

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pilacorp/go-twin-sdk/canonical"
	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/signer"
)

// Payload is the device-signed statement "object X was here at T".
type Payload struct {
	ObjectID  uint64 `json:"objectId"`
	Nonce     string `json:"nonce"`
	Timestamp string `json:"timestamp"`
}

// SignedPayload is a payload with the device signature over its exact bytes.
// It is the content of the presence QR code.
type SignedPayload struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// SignPayload signs canonicalJSON({objectId, nonce, timestamp}) with the
// device signer. An empty nonce is replaced by a random UUID and an empty
// timestamp by the current time in RFC 3339.
func SignPayload(device signer.SignerProvider, objectID ledger.ObjectID, nonce, timestamp string) (*SignedPayload, error) {
	if device == nil {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "device signer is required")
	}
	if objectID == 0 {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "object id is required")
	}
	if nonce == "" {
		nonce = uuid.NewString()
	}
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	body, err := canonical.Marshal(Payload{
		ObjectID:  uint64(objectID),
		Nonce:     nonce,
		Timestamp: timestamp,
	})
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to encode presence payload")
	}

	sig, err := signer.SignMessage(device, body)
	if err != nil {
		return nil, signer.Failure(err, "failed to sign presence payload")
	}

	return &SignedPayload{
		Payload:   string(body),
		Signature: signer.EncodeSignature(sig),
	}, nil
}

// ParsePayload decodes a payload string. Unknown fields, a zero object id or
// an empty nonce or timestamp are rejected.
func ParsePayload(s string) (*Payload, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "invalid presence payload")
	}
	if dec.More() {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "invalid presence payload: trailing data")
	}
	if p.ObjectID == 0 {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "presence payload has no object id")
	}
	if p.Nonce == "" || p.Timestamp == "" {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "presence payload needs a nonce and a timestamp")
	}

	return &p, nil
}

// EncodeQR returns the QR text of sp: JSON {payload, signature}.
func EncodeQR(sp *SignedPayload) (string, error) {
	if sp == nil {
		return "", failure.New(failure.Validation, failure.ReasonMalformedInput, "signed payload is required")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sp); err != nil {
		return "", failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to encode QR payload")
	}

	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DecodeQR parses QR text produced by EncodeQR.
func DecodeQR(s string) (*SignedPayload, error) {
	var sp SignedPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &sp); err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "invalid QR payload")
	}
	if sp.Payload == "" || sp.Signature == "" {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "QR payload needs both payload and signature")
	}

	return &sp, nil
}
