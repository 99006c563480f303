package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pilacorp/go-twin-sdk/failure"
)

// ErrorBody describes a failure with its kind and stable reason.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// statusOf maps a failure kind to its HTTP status.
func statusOf(kind failure.Kind) int {
	switch kind {
	case failure.Validation:
		return http.StatusBadRequest
	case failure.NotFound:
		return http.StatusNotFound
	case failure.Conflict:
		return http.StatusConflict
	case failure.Verification:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleError(err error, e echo.Context) {
	if e.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorBody{Kind: "InternalError", Message: err.Error()}

	var (
		f    *failure.Error
		verr ValidationError
		herr *echo.HTTPError
	)
	switch {
	case errors.As(err, &f):
		status = statusOf(f.Kind)
		body = ErrorBody{Kind: string(f.Kind), Reason: f.Reason, Message: f.Error()}
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		body = ErrorBody{
			Kind:    string(failure.Validation),
			Reason:  failure.ReasonMalformedInput,
			Message: "invalid field " + verr.Field + " (" + verr.Tag + ")",
		}
	case errors.As(err, &herr):
		status = herr.Code
		body = ErrorBody{Kind: http.StatusText(herr.Code), Message: http.StatusText(herr.Code)}
		if msg, ok := herr.Message.(string); ok {
			body.Message = msg
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", e.Path(), "err", err)
	}

	if err := e.JSON(status, ErrorResponse{Error: body}); err != nil {
		s.logger.Error("failed to write error response", "err", err)
	}
}
