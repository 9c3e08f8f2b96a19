// Package server implements the mock API used as a target by the test client:
// account registration and login, a Bearer-protected profile, a signed
// endpoint that verifies request signatures and an encrypted echo endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/config"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/cryptoutil"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/signing"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/storage"
)

// contextKey namespaces values the handler stores on request contexts.
type contextKey string

const (
	contextKeyCorrelationID contextKey = "correlationId" // set by wrap
	contextKeyUser          contextKey = "user"          // set by requireToken

	headerContentType   = "Content-Type"
	headerCorrelationID = "X-Correlation-Id"

	contentTypeJSON = "application/json"
)

// Error codes carried in the error envelope.
const (
	codeValidation  = "APITEST_VALIDATION"
	codeAuthz       = "APITEST_AUTHZ"
	codeConflict    = "APITEST_CONFLICT"
	codeNotFound    = "APITEST_NOT_FOUND"
	codeSignature   = "APITEST_SIGNATURE"
	codeReplay      = "APITEST_REPLAY"
	codeUnavailable = "SERVICE_UNAVAILABLE"
	codeInternal    = "APITEST_INTERNAL"
)

// Handler wires HTTP endpoints using net/http.
type Handler struct {
	cfg       config.Config    // Server, signing and encryption settings
	store     storage.Store    // Users and seen nonces
	logger    *slog.Logger     // Structured logger shared by all routes
	signer    *signing.Signer  // Verifies inbound signatures
	tokens    *TokenIssuer     // Issues access tokens on login
	validator *JWTValidator    // Checks Bearer tokens on protected routes
	clock     func() time.Time // Shared time source
	router    *http.ServeMux   // Registered routes
}

// Option customizes a Handler.
type Option func(*Handler)

// WithClock overrides the time source used for tokens, signatures and nonce expiry.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) { h.clock = clock }
}

// New creates a Handler using the supplied dependencies. A JWT secret is
// required; an AES key, when set, must be a valid AES key size.
func New(cfg config.Config, store storage.Store, logger *slog.Logger, opts ...Option) (*Handler, error) {
	// Tokens cannot be issued without a secret
	if cfg.Server.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	// Encrypting an empty payload validates key and IV sizes up front
	if key := cfg.Encrypt.AESKey; key != "" {
		if _, err := cryptoutil.AESEncrypt(nil, []byte(key), []byte(cfg.Encrypt.AESIV)); err != nil {
			return nil, fmt.Errorf("invalid encryption settings: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		cfg:    cfg,
		store:  store,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
		router: http.NewServeMux(),
	}
	// Options run before anything that captures the clock
	for _, opt := range opts {
		opt(h)
	}
	h.signer = signing.New(
		signing.WithDefaultKey(cfg.Sign.Key),
		signing.WithClock(h.clock),
		signing.WithLogger(logger),
	)
	h.tokens = NewTokenIssuer([]byte(cfg.Server.JWTSecret), cfg.Server.JWTIssuer, cfg.Server.SessionTTL, h.clock)
	h.validator = NewJWTValidator([]byte(cfg.Server.JWTSecret), cfg.Server.JWTIssuer, h.clock)
	h.registerRoutes()
	return h, nil
}

// Router returns an *http.ServeMux with all routes registered.
func (h *Handler) Router() *http.ServeMux {
	return h.router
}

// chain applies the standard middleware stack to an API route, outermost first.
func (h *Handler) chain(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return h.loggingMiddleware(h.timeoutMiddleware(h.corsMiddleware(h.wrap(next))))
}

func (h *Handler) registerRoutes() {
	// Operational routes skip CORS and the JSON envelope
	h.router.Handle("/health", h.loggingMiddleware(h.timeoutMiddleware(http.HandlerFunc(h.health))))
	h.router.Handle("/ready", h.loggingMiddleware(h.timeoutMiddleware(http.HandlerFunc(h.readyHandler))))
	h.router.Handle("/metrics", h.loggingMiddleware(h.timeoutMiddleware(http.HandlerFunc(h.metricsHandler))))

	// Account flow
	// POST /api/user/register - Create an account
	// POST /api/user/login - Exchange credentials for an access token
	// GET /api/user/profile - Return the caller's account (Bearer token)
	h.router.Handle("/api/user/register", h.chain(h.handleRegister))
	h.router.Handle("/api/user/login", h.chain(h.handleLogin))
	h.router.Handle("/api/user/profile", h.chain(h.requireToken(h.handleProfile)))

	// Protocol endpoints
	// GET|POST /sign/api - Verify the sign parameter and reject replays
	// POST /encrypt/api - Decrypt, echo and re-encrypt an AES payload
	h.router.Handle("/sign/api", h.chain(h.handleSigned))
	h.router.Handle("/encrypt/api", h.chain(h.handleEncrypted))
}

// responseEnvelope is the JSON body of every API response.
type responseEnvelope struct {
	Data  any            `json:"data,omitempty"`
	Meta  any            `json:"meta,omitempty"`
	Error *errorEnvelope `json:"error,omitempty"`
}

// errorEnvelope describes a failed request.
type errorEnvelope struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlationId"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// wrap attaches a correlation id to the request context and response
// headers, defaults the content type to JSON and converts panics into a 500
// error envelope.
func (h *Handler) wrap(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse the caller's correlation id or mint one
		correlationID := h.ensureCorrelationID(w, r)
		ctx := context.WithValue(r.Context(), contextKeyCorrelationID, correlationID)
		r = r.WithContext(ctx)
		w.Header().Set(headerContentType, contentTypeJSON)

		// A panicking handler still answers with an envelope
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered", "panic", rec, "correlationId", correlationID)
				h.writeError(w, http.StatusInternalServerError, codeInternal, "internal server error", correlationID, nil)
			}
		}()

		next(w, r)
	})
}

// ensureCorrelationID returns the inbound X-Correlation-Id or a new UUID and
// echoes it on the response.
func (h *Handler) ensureCorrelationID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(headerCorrelationID))
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(headerCorrelationID, id)
	return id
}

// allowMethods writes a 405 with an Allow header when r.Method is not listed.
func (h *Handler) allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed", nil)
	return false
}

// writeSuccess writes data and meta inside the envelope with the given status.
func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data any, meta any, r *http.Request) {
	env := responseEnvelope{Data: data, Meta: meta}
	payload := mustJSON(env)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write success failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
	}
}

func (h *Handler) writeErrorWithRequest(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	h.writeError(w, status, code, message, correlationIDFrom(r.Context()), details)
}

// writeError writes an error envelope carrying the correlation id.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, correlationID string, details any) {
	env := responseEnvelope{Error: &errorEnvelope{Code: code, Message: message, Details: details, CorrelationID: correlationID}}
	payload := mustJSON(env)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write error failed", "error", err, "correlationId", correlationID)
	}
}

// mustJSON marshals envelope values, which only hold JSON-safe types.
func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payload
}

// correlationIDFrom returns the id stored by wrap, or "" on bare routes.
func correlationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}
