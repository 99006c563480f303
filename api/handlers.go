package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/object"
	"github.com/pilacorp/go-twin-sdk/presence"
	"github.com/pilacorp/go-twin-sdk/redemption"
)

func (s *Server) handleHealth(e echo.Context) error {
	return e.JSON(http.StatusOK, map[string]string{
		"version": "twin " + s.version,
	})
}

func (s *Server) handleGetObject(e echo.Context) error {
	id, err := strconv.ParseUint(e.Param("id"), 10, 64)
	if err != nil {
		return failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "object id must be an unsigned integer")
	}

	view, err := s.verifier.FetchObjectDetails(e.Request().Context(), ledger.ObjectID(id))
	if err != nil {
		return err
	}

	return e.JSON(http.StatusOK, view)
}

// VerifyPresenceRequest carries either the scanned QR text or its two
// fields.
type VerifyPresenceRequest struct {
	QR        string `json:"qr"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// VerifyPresenceResponse is the reply of POST /v1/presence/verify.
type VerifyPresenceResponse struct {
	Valid    bool             `json:"valid"`
	ObjectID ledger.ObjectID  `json:"objectId"`
	Nonce    string           `json:"nonce"`
	Signer   string           `json:"signer"`
	Object   *object.View     `json:"object"`
	Payload  presence.Payload `json:"payload"`
}

func (s *Server) handleVerifyPresence(e echo.Context) error {
	var req VerifyPresenceRequest
	if err := e.Bind(&req); err != nil {
		return failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "invalid request body")
	}

	sp := &presence.SignedPayload{Payload: req.Payload, Signature: req.Signature}
	if req.QR != "" {
		decoded, err := presence.DecodeQR(req.QR)
		if err != nil {
			return err
		}
		sp = decoded
	}
	if sp.Payload == "" || sp.Signature == "" {
		return failure.New(failure.Validation, failure.ReasonMalformedInput, "qr or payload and signature are required")
	}

	verified, err := s.verifier.VerifyPresencePayload(e.Request().Context(), sp)
	if err != nil {
		return err
	}

	return e.JSON(http.StatusOK, VerifyPresenceResponse{
		Valid:    true,
		ObjectID: ledger.ObjectID(verified.Payload.ObjectID),
		Nonce:    verified.Payload.Nonce,
		Signer:   verified.Signer.Hex(),
		Object:   verified.Object,
		Payload:  *verified.Payload,
	})
}

// VerifyRedemptionRequest is the body of POST /v1/redemptions/verify.
type VerifyRedemptionRequest struct {
	ObjectDID string `json:"objectDID" validate:"required,twin-did"`
	Signature string `json:"signature" validate:"required"`
	CID       string `json:"cid" validate:"required"`
}

// VerifyRedemptionResponse is the reply of both redemption verification
// routes.
type VerifyRedemptionResponse struct {
	Valid  bool               `json:"valid"`
	CID    string             `json:"cid"`
	Record *redemption.Record `json:"record"`
}

func (s *Server) handleVerifyRedemption(e echo.Context) error {
	var req VerifyRedemptionRequest
	if err := e.Bind(&req); err != nil {
		return failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "invalid request body")
	}
	if err := e.Validate(req); err != nil {
		return err
	}

	return s.verifyReference(e, req.ObjectDID, req.Signature, req.CID)
}

func (s *Server) handleVerifyLink(e echo.Context) error {
	return s.verifyReference(e, e.QueryParam("did"), e.QueryParam("signature"), e.QueryParam("cid"))
}

func (s *Server) verifyReference(e echo.Context, objectDID, signature, recordCID string) error {
	ref, err := redemption.ReferenceFromStrings(objectDID, signature, recordCID)
	if err != nil {
		return err
	}

	record, err := s.verifier.VerifyRedemptionReference(e.Request().Context(), *ref)
	if err != nil {
		return err
	}

	return e.JSON(http.StatusOK, VerifyRedemptionResponse{
		Valid:  true,
		CID:    ref.RecordCID.String(),
		Record: record,
	})
}

// ReferenceView is a redemption reference with its verification link.
type ReferenceView struct {
	ObjectDID string `json:"objectDID"`
	Signature string `json:"signature"`
	CID       string `json:"cid"`
	Link      string `json:"link"`
}

func referenceView(ref redemption.Reference) ReferenceView {
	return ReferenceView{
		ObjectDID: ref.ObjectDID,
		Signature: ref.Signature,
		CID:       ref.RecordCID.String(),
		Link:      redemption.EncodeVerificationLink("/v1/verify", ref),
	}
}

// ListRedemptionsRequest is the query of GET /v1/redemptions.
type ListRedemptionsRequest struct {
	User string `query:"user" validate:"required,twin-did"`
}

func (s *Server) handleListRedemptions(e echo.Context) error {
	var req ListRedemptionsRequest
	if err := e.Bind(&req); err != nil {
		return failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "invalid query")
	}
	if err := e.Validate(req); err != nil {
		return err
	}

	refs, err := s.verifier.ListRedemptions(e.Request().Context(), req.User)
	if err != nil {
		return err
	}

	views := make([]ReferenceView, 0, len(refs))
	for _, ref := range refs {
		views = append(views, referenceView(ref))
	}

	return e.JSON(http.StatusOK, map[string]any{
		"redemptions": views,
	})
}

// ResolveRedemptionRequest is the query of GET /v1/redemptions/latest.
type ResolveRedemptionRequest struct {
	User   string `query:"user" validate:"required,twin-did"`
	Object string `query:"object" validate:"required,twin-did"`
}

func (s *Server) handleResolveRedemption(e echo.Context) error {
	var req ResolveRedemptionRequest
	if err := e.Bind(&req); err != nil {
		return failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "invalid query")
	}
	if err := e.Validate(req); err != nil {
		return err
	}

	ref, err := s.verifier.ResolveRedemption(e.Request().Context(), req.User, req.Object)
	if err != nil {
		return err
	}

	return e.JSON(http.StatusOK, referenceView(*ref))
}
