// Package failure defines the error taxonomy shared by every protocol
// operation.
//
// Adapters (ledger, content store, registries) return ordinary wrapped errors.
// The protocol layer classifies them into a *Error carrying a Kind, a stable
// machine readable Reason and the stack at the point of classification, so a
// caller can always branch on the kind without string matching.
package failure

import (
	"errors"
	"fmt"
	"runtime"

	pkgerrors "github.com/pkg/errors"
)

// Kind is the category of a failure.
type Kind string

const (
	// Validation means the input was malformed: wrong lengths, bad hex,
	// unparseable JSON or DIDs, missing fields.
	Validation Kind = "ValidationError"
	// Verification means the input was well formed but a signature did not
	// recover to the expected address, or a record does not match its reference.
	Verification Kind = "VerificationFailure"
	// NotFound means the object or record does not exist.
	NotFound Kind = "NotFound"
	// Transport means the ledger or content store was unreachable or rejected
	// the request.
	Transport Kind = "TransportError"
	// Conflict means the operation was already performed once and may not be
	// repeated (reused presence nonce, first-write-wins redemption).
	Conflict Kind = "Conflict"
)

// Stable reasons attached to failures. Callers may switch on them.
const (
	ReasonInvalidPresenceProof = "InvalidPresenceProof"
	ReasonInvalidClaim         = "InvalidClaimSignature"
	ReasonInvalidRecord        = "InvalidRedemptionSignature"
	ReasonObjectMismatch       = "ObjectMismatch"
	ReasonUnsupportedAction    = "UnsupportedAction"
	ReasonStalePayload         = "StalePayload"
	ReasonNonceReused          = "NonceReused"
	ReasonAlreadyRedeemed      = "AlreadyRedeemed"
	ReasonObjectNotFound       = "ObjectNotFound"
	ReasonRecordNotFound       = "RecordNotFound"
	ReasonMalformedInput       = "MalformedInput"
	ReasonLedger               = "LedgerUnavailable"
	ReasonStore                = "StoreUnavailable"
	ReasonSigner               = "SignerUnavailable"
	ReasonCorruptContent       = "CorruptContent"
)

// Named is an error that you can read a name from.
type Named interface {
	Name() string
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Reason  string
	Message string

	cause error
	stack pkgerrors.StackTrace
}

// New returns a failure of the given kind.
func New(kind Kind, reason string, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		stack:   callers(),
	}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, reason string, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Kind:    kind,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		cause:   err,
		stack:   callers(),
	}
}

// Error returns "<kind> (<reason>): <message>" followed by the cause, if any.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}

	return msg
}

// Name returns the kind of the failure.
func (e *Error) Name() string {
	return string(e.Kind)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Stack returns the formatted stack captured when the failure was created.
func (e *Error) Stack() string {
	return fmt.Sprintf("%+v", e.stack)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var f *Error
	if errors.As(err, &f) {
		return f.Kind, true
	}

	return "", false
}

// Is reports whether err is a failure of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ReasonOf returns the reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var f *Error
	if errors.As(err, &f) {
		return f.Reason
	}

	return ""
}

// Ensure returns err as a *Error, classifying unknown errors as Transport.
func Ensure(err error) error {
	if err == nil {
		return nil
	}

	var f *Error
	if errors.As(err, &f) {
		return f
	}

	return Wrap(Transport, "", err, "unclassified error")
}

func callers() pkgerrors.StackTrace {
	const depth = 32

	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	st := make(pkgerrors.StackTrace, n)
	for i := 0; i < n; i++ {
		st[i] = pkgerrors.Frame(pcs[i])
	}

	return st
}
