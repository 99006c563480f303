package redemption

import (
	"net/url"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/pilacorp/go-twin-sdk/failure"
)

// BearerLink carries an object's private key. Anyone holding it can redeem
// the object.
type BearerLink struct {
	ObjectDID     string
	PrivateKeyHex string
}

// Encode returns "redeem=<objectDID>&key=<privateKeyHex>", appended to base
// as a query string when base is not empty.
func (b BearerLink) Encode(base string) string {
	return withBase(base, "redeem="+escape(b.ObjectDID)+"&key="+escape(b.PrivateKeyHex))
}

// ParseBearerLink parses a full URL or a bare query string.
func ParseBearerLink(s string) (*BearerLink, error) {
	q, err := parseQuery(s)
	if err != nil {
		return nil, err
	}

	link := &BearerLink{ObjectDID: q.Get("redeem"), PrivateKeyHex: q.Get("key")}
	if link.ObjectDID == "" || link.PrivateKeyHex == "" {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "bearer link needs redeem and key")
	}

	return link, nil
}

// EncodeVerificationLink returns "did=<objectDID>&signature=<sig>&cid=<cid>",
// appended to base as a query string when base is not empty.
func EncodeVerificationLink(base string, ref Reference) string {
	return withBase(base, "did="+escape(ref.ObjectDID)+
		"&signature="+escape(ref.Signature)+
		"&cid="+escape(ref.RecordCID.String()))
}

// ParseVerificationLink parses a full URL or a bare query string into a
// Reference.
func ParseVerificationLink(s string) (*Reference, error) {
	q, err := parseQuery(s)
	if err != nil {
		return nil, err
	}

	return ReferenceFromStrings(q.Get("did"), q.Get("signature"), q.Get("cid"))
}

// ReferenceFromStrings builds a Reference from its text fields.
func ReferenceFromStrings(objectDID, signature, recordCID string) (*Reference, error) {
	if objectDID == "" || signature == "" || recordCID == "" {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "verification link needs did, signature and cid")
	}

	id, err := cid.Decode(recordCID)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "invalid record CID")
	}

	return &Reference{ObjectDID: objectDID, Signature: signature, RecordCID: id}, nil
}

// escape query-escapes s but keeps ':' readable in DIDs.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "%3A", ":")
}

func withBase(base, query string) string {
	if base == "" {
		return query
	}
	if strings.Contains(base, "?") {
		return base + "&" + query
	}

	return base + "?" + query
}

func parseQuery(s string) (url.Values, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}

	q, err := url.ParseQuery(s)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "invalid link query")
	}

	return q, nil
}
