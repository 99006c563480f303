// Package api serves the keyless verification operations over HTTP: object
// lookup, presence payload verification and redemption reference
// verification. Nothing here holds a private key.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-twin-sdk/did"
	"github.com/pilacorp/go-twin-sdk/ledger"
	"github.com/pilacorp/go-twin-sdk/object"
	"github.com/pilacorp/go-twin-sdk/presence"
	"github.com/pilacorp/go-twin-sdk/redemption"
)

// Verifier is the subset of twin.Client the server needs.
type Verifier interface {
	FetchObjectDetails(ctx context.Context, id ledger.ObjectID) (*object.View, error)
	VerifyPresencePayload(ctx context.Context, sp *presence.SignedPayload) (*presence.Verified, error)
	VerifyRedemptionReference(ctx context.Context, ref redemption.Reference) (*redemption.Record, error)
	ResolveRedemption(ctx context.Context, userDID, objectDID string) (*redemption.Reference, error)
	ListRedemptions(ctx context.Context, userDID string) ([]redemption.Reference, error)
}

// Args configures New.
//
// Verifier is required. Addr is only used by Serve, an empty Version is
// reported as is by the health endpoint, and a nil Logger falls back to
// slog.Default.
type Args struct {
	Addr     string
	Version  string
	Logger   *slog.Logger
	Verifier Verifier
}

// Server is the HTTP verification API. It answers read-only questions about
// objects, presence payloads and redemptions and never holds key material.
type Server struct {
	echo     *echo.Echo
	httpd    *http.Server
	logger   *slog.Logger
	verifier Verifier
	version  string
}

// CustomValidator adapts go-playground/validator to echo.Validator.
type CustomValidator struct {
	validator *validator.Validate
}

// ValidationError reports the first struct field that failed validation and
// the tag it failed on.
type ValidationError struct {
	error
	Field string
	Tag   string
}

// Validate checks i against its validate tags.
//
// Returns a ValidationError for the first failing field, or nil.
func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		var validateErrors validator.ValidationErrors
		if errors.As(err, &validateErrors) && len(validateErrors) > 0 {
			first := validateErrors[0]
			return ValidationError{
				error: err,
				Field: first.Field(),
				Tag:   first.Tag(),
			}
		}

		return err
	}

	return nil
}

// New builds the echo application, installs the middleware and the
// validator and registers the routes.
//
// Returns a Server ready for Serve or Handler, or an error if args has no
// Verifier.
func New(args *Args) (*Server, error) {
	if args.Verifier == nil {
		return nil, fmt.Errorf("api verifier must be set")
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Pre(slogecho.New(args.Logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))

	vdtor := validator.New()
	vdtor.RegisterValidation("twin-did", func(fl validator.FieldLevel) bool {
		if _, err := did.Parse(fl.Field().String()); err != nil {
			return false
		}
		return true
	})

	e.Validator = &CustomValidator{validator: vdtor}

	s := &Server{
		echo:     e,
		logger:   args.Logger,
		verifier: args.Verifier,
		version:  args.Version,
	}
	e.HTTPErrorHandler = s.handleError

	s.httpd = &http.Server{
		Addr:              args.Addr,
		Handler:           otelhttp.NewHandler(e, "twin-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.addRoutes()

	return s, nil
}

func (s *Server) addRoutes() {
	s.echo.GET("/health", s.handleHealth)

	s.echo.GET("/v1/objects/:id", s.handleGetObject)
	s.echo.POST("/v1/presence/verify", s.handleVerifyPresence)

	s.echo.POST("/v1/redemptions/verify", s.handleVerifyRedemption)
	s.echo.GET("/v1/redemptions", s.handleListRedemptions)
	s.echo.GET("/v1/redemptions/latest", s.handleResolveRedemption)

	// landing endpoint of verification links
	s.echo.GET("/v1/verify", s.handleVerifyLink)
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpd.Handler
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.httpd.Addr)
		errs <- s.httpd.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("failed to serve api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpd.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down api: %w", err)
	}

	return nil
}
