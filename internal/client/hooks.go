package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/config"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/cryptoutil"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/model"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/signing"
)

// Hook is anything the client runs around a request. A hook implements one or
// more of RequestHook, ResponseHook and RetryHook.
type Hook interface {
	Name() string
}

// RequestHook rewrites a request before it is sent.
type RequestHook interface {
	Hook
	BeforeRequest(ctx context.Context, req *Request) error
}

// ResponseHook post-processes a response before it is returned.
type ResponseHook interface {
	Hook
	AfterResponse(ctx context.Context, resp *Response) error
}

// RetryHook decides whether the first response calls for one more attempt.
type RetryHook interface {
	Hook
	ShouldRetry(ctx context.Context, resp *Response) (bool, error)
}

// TokenHook injects the session token as "<key>: <prefix><token>".
type TokenHook struct {
	Session *Session
	Key     string
	Prefix  string
	Logger  *slog.Logger
}

func (h *TokenHook) Name() string { return "token" }

// BeforeRequest sets the token header unless the request already carries one.
func (h *TokenHook) BeforeRequest(_ context.Context, req *Request) error {
	token := h.Session.Token()
	if token == "" {
		return nil
	}
	if _, set := req.Headers[h.Key]; set {
		return nil
	}
	req.Headers[h.Key] = h.Prefix + token
	if h.Logger != nil {
		h.Logger.Debug("token injected", "header", h.Key, "token", maskToken(token))
	}
	return nil
}

// EncryptHook AES-encrypts JSON bodies of requests whose path ends with
// Suffix into {"encrypt_data": ...} and decrypts responses of the same shape.
type EncryptHook struct {
	Suffix string
	Key    []byte
	IV     []byte
	Logger *slog.Logger
}

func (h *EncryptHook) Name() string { return "encrypt" }

func (h *EncryptHook) matches(path string) bool {
	return h.Suffix != "" && strings.HasSuffix(path, h.Suffix)
}

// BeforeRequest replaces the JSON body with its encrypted envelope.
func (h *EncryptHook) BeforeRequest(_ context.Context, req *Request) error {
	if req.JSON == nil || !h.matches(req.URLPath()) {
		return nil
	}
	plain, err := json.Marshal(req.JSON)
	if err != nil {
		return fmt.Errorf("encode body for encryption: %w", err)
	}
	enc, err := cryptoutil.AESEncrypt(plain, h.Key, h.IV)
	if err != nil {
		return fmt.Errorf("encrypt request body: %w", err)
	}
	req.JSON = model.EncryptedBody{EncryptData: enc}
	if h.Logger != nil {
		h.Logger.Debug("request body encrypted", "path", req.URLPath())
	}
	return nil
}

// AfterResponse swaps an encrypted envelope for the decrypted body.
// Responses without encrypt_data pass through untouched.
func (h *EncryptHook) AfterResponse(_ context.Context, resp *Response) error {
	if !h.matches(resp.Request.URLPath()) {
		return nil
	}
	var env model.EncryptedBody
	if err := json.Unmarshal(resp.Body, &env); err != nil || env.EncryptData == "" {
		return nil
	}
	plain, err := cryptoutil.AESDecrypt(env.EncryptData, h.Key, h.IV)
	if err != nil {
		return fmt.Errorf("decrypt response body: %w", err)
	}
	resp.Body = plain
	if h.Logger != nil {
		h.Logger.Debug("response body decrypted", "path", resp.Request.URLPath())
	}
	return nil
}

// SignHook signs the query parameters of requests whose path ends with Suffix
// and adds sign, timestamp and nonce to the query.
type SignHook struct {
	Suffix    string
	Signer    *signing.Signer
	Key       string // empty uses the signer's default key
	Algorithm signing.Algorithm
	Logger    *slog.Logger
}

func (h *SignHook) Name() string { return "sign" }

// BeforeRequest stamps and signs req.Query.
func (h *SignHook) BeforeRequest(_ context.Context, req *Request) error {
	if h.Suffix == "" || !strings.HasSuffix(req.URLPath(), h.Suffix) {
		return nil
	}
	params := make(signing.Params, len(req.Query))
	for k, v := range req.Query {
		if k == signing.KeySign {
			continue
		}
		params[k] = v
	}
	signed, err := h.Signer.Sign(params, h.Key, h.Algorithm)
	if err != nil {
		return err
	}
	req.Query[signing.KeyTimestamp] = strconv.FormatInt(signed.Timestamp, 10)
	req.Query[signing.KeyNonce] = signed.Nonce
	req.Query[signing.KeySign] = signed.Signature
	if h.Logger != nil {
		h.Logger.Debug("request signed", "path", req.URLPath(), "algorithm", h.Algorithm.String(), "nonce", signed.Nonce)
	}
	return nil
}

// Authenticator refreshes the session token.
type Authenticator interface {
	Login(ctx context.Context) error
}

// ReauthHook logs in again on a 401 and asks the client to re-send the
// request. The client allows a single re-send per call.
type ReauthHook struct {
	Auth      Authenticator
	LoginPath string // responses from this path never trigger a login
	Logger    *slog.Logger
}

func (h *ReauthHook) Name() string { return "reauth" }

// ShouldRetry reports true after a successful re-login following a 401.
func (h *ReauthHook) ShouldRetry(ctx context.Context, resp *Response) (bool, error) {
	if resp.StatusCode != http.StatusUnauthorized {
		return false, nil
	}
	if h.LoginPath != "" && resp.Request.URLPath() == h.LoginPath {
		return false, nil
	}
	if h.Logger != nil {
		h.Logger.Warn("token rejected, logging in again", "path", resp.Request.URLPath())
	}
	if err := h.Auth.Login(ctx); err != nil {
		reauthCount.WithLabelValues("failure").Inc()
		return false, fmt.Errorf("re-login: %w", err)
	}
	reauthCount.WithLabelValues("success").Inc()
	return true, nil
}

// PasswordLogin logs in with username and password and stores the returned
// token (at data.token) in the session.
type PasswordLogin struct {
	Client   *Client
	Session  *Session
	Path     string
	Username string
	Password string
}

// Login implements Authenticator.
func (l *PasswordLogin) Login(ctx context.Context) error {
	resp, err := l.Client.Post(ctx, l.Path, model.LoginRequest{Username: l.Username, Password: l.Password})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login returned status %d", resp.StatusCode)
	}
	var env struct {
		Data model.LoginResponse `json:"data"`
	}
	if err := resp.JSON(&env); err != nil {
		return err
	}
	if env.Data.Token == "" {
		return fmt.Errorf("login response carries no token")
	}
	l.Session.SetToken(env.Data.Token)
	l.Client.logger.Info("logged in", "username", l.Username, "token", maskToken(env.Data.Token))
	return nil
}

// DefaultHooks builds the hooks enabled by cfg: token injection when
// api.need_token is set, encryption when an AES key is configured, and
// signing when a sign key is configured. Re-authentication is added by
// NewWithLogin since it needs the client.
func DefaultHooks(cfg config.Config, session *Session, signer *signing.Signer, logger *slog.Logger) []Hook {
	var hooks []Hook
	if cfg.API.NeedToken {
		hooks = append(hooks, &TokenHook{Session: session, Key: cfg.API.TokenKey, Prefix: cfg.API.TokenPrefix, Logger: logger})
	}
	if cfg.Encrypt.AESKey != "" {
		hooks = append(hooks, &EncryptHook{
			Suffix: cfg.API.EncryptSuffix,
			Key:    []byte(cfg.Encrypt.AESKey),
			IV:     []byte(cfg.Encrypt.AESIV),
			Logger: logger,
		})
	}
	if cfg.Sign.Key != "" && signer != nil {
		hooks = append(hooks, &SignHook{
			Suffix:    cfg.API.SignSuffix,
			Signer:    signer,
			Key:       cfg.Sign.Key,
			Algorithm: cfg.Sign.Algorithm,
			Logger:    logger,
		})
	}
	return hooks
}

// NewWithLogin builds a client carrying DefaultHooks plus, when credentials
// are configured, a ReauthHook that logs in through cfg.API.LoginPath.
func NewWithLogin(cfg config.Config, session *Session, signer *signing.Signer, logger *slog.Logger, opts ...Option) (*Client, error) {
	opts = append([]Option{WithLogger(logger), WithHooks(DefaultHooks(cfg, session, signer, logger)...)}, opts...)
	c, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.API.Username != "" {
		login := &PasswordLogin{
			Client:   c,
			Session:  session,
			Path:     cfg.API.LoginPath,
			Username: cfg.API.Username,
			Password: cfg.API.Password,
		}
		c.Use(&ReauthHook{Auth: login, LoginPath: cfg.API.LoginPath, Logger: logger})
	}
	return c, nil
}
