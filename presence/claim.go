package presence

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-twin-sdk/canonical"
	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/signer"
)

// InteractionClaim is the user's signed statement that they verified a
// presence payload. Only ClaimHash and UserSignature reach the ledger.
type InteractionClaim struct {
	ObjectID            ledger.ObjectID
	User                common.Address
	VerifiedPayloadHash string
	Timestamp           int64
	ClaimHash           common.Hash
	UserSignature       []byte
}

type claimBody struct {
	User                string `json:"user"`
	ObjectID            uint64 `json:"objectId"`
	VerifiedPayloadHash string `json:"verifiedPayloadHash"`
	Timestamp           int64  `json:"timestamp"`
}

// PayloadHash returns the keccak256 of the exact payload bytes as 0x hex.
func PayloadHash(payload string) string {
	return crypto.Keccak256Hash([]byte(payload)).Hex()
}

// BuildClaim builds the claim for a verified payload. The claim hash is
// keccak256(canonicalJSON({user, objectId, verifiedPayloadHash, timestamp}))
// with user as lowercase hex and timestamp in unix seconds.
func BuildClaim(user common.Address, objectID ledger.ObjectID, payload string, at time.Time) (*InteractionClaim, error) {
	c := &InteractionClaim{
		ObjectID:            objectID,
		User:                user,
		VerifiedPayloadHash: PayloadHash(payload),
		Timestamp:           at.Unix(),
	}

	h, err := c.hash()
	if err != nil {
		return nil, err
	}
	c.ClaimHash = h

	return c, nil
}

func (c *InteractionClaim) hash() (common.Hash, error) {
	h, err := canonical.Hash(claimBody{
		User:                strings.ToLower(c.User.Hex()),
		ObjectID:            uint64(c.ObjectID),
		VerifiedPayloadHash: c.VerifiedPayloadHash,
		Timestamp:           c.Timestamp,
	})
	if err != nil {
		return common.Hash{}, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to hash claim")
	}

	return h, nil
}

// SignClaim signs the claim hash with the user's key and checks that the
// signature recovers to the claim's user.
func SignClaim(c *InteractionClaim, user signer.SignerProvider) error {
	if user == nil {
		return failure.New(failure.Validation, failure.ReasonMalformedInput, "user signer is required")
	}
	if !strings.EqualFold(user.GetAddress(), c.User.Hex()) {
		return failure.New(failure.Validation, failure.ReasonMalformedInput,
			"user signer %s does not match claim user %s", user.GetAddress(), strings.ToLower(c.User.Hex()))
	}

	sig, err := signer.SignMessage(user, c.ClaimHash.Bytes())
	if err != nil {
		return signer.Failure(err, "failed to sign claim")
	}
	c.UserSignature = sig

	return c.Verify()
}

// Verify recomputes the claim hash and checks the user signature.
func (c *InteractionClaim) Verify() error {
	h, err := c.hash()
	if err != nil {
		return err
	}
	if h != c.ClaimHash {
		return failure.New(failure.Verification, failure.ReasonInvalidClaim, "claim hash does not match claim fields")
	}

	recovered, err := signer.RecoverSigner(c.ClaimHash.Bytes(), c.UserSignature)
	if err != nil {
		return err
	}
	if recovered != c.User {
		return failure.New(failure.Verification, failure.ReasonInvalidClaim,
			"claim signed by %s, expected %s", strings.ToLower(recovered.Hex()), strings.ToLower(c.User.Hex()))
	}

	return nil
}
