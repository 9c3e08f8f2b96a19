package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/config"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/cryptoutil"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/signing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(baseURL string) config.Config {
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.Timeout = 2 * time.Second
	return cfg
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := New(testConfig(baseURL), append([]Option{WithLogger(discard)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestDo_JoinsBaseURLAndSetsHeaders(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/")
	resp, err := c.Do(context.Background(), Request{
		Method:  "post",
		Path:    "/api/items",
		Query:   map[string]string{"page": "2"},
		Headers: map[string]string{"X-Trace": "t1"},
		JSON:    map[string]any{"name": "widget"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/items", got.URL.Path)
	assert.Equal(t, "2", got.URL.Query().Get("page"))
	assert.Equal(t, "t1", got.Header.Get("X-Trace"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.NotEmpty(t, got.Header.Get(HeaderCorrelationID))
	assert.JSONEq(t, `{"name":"widget"}`, string(body))

	assert.Equal(t, 200, resp.Status())
	var out struct{ OK bool }
	require.NoError(t, resp.JSON(&out))
	assert.True(t, out.OK)
	assert.Equal(t, got.Header.Get(HeaderCorrelationID), resp.Request.Headers[HeaderCorrelationID])
}

func TestDo_AbsoluteURLAndForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte(r.Header.Get("Content-Type") + "|" + r.PostForm.Get("a")))
	}))
	defer srv.Close()

	c := newTestClient(t, "http://unused.invalid")
	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: srv.URL + "/form", Form: map[string]string{"a": "1"}})
	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded|1", resp.Text())
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("doc")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		w.Write([]byte(hdr.Filename + ":" + string(data) + ":" + r.FormValue("kind")))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	c := newTestClient(t, srv.URL)
	resp, err := c.Upload(context.Background(), "/upload", path, "doc", map[string]string{"kind": "text"})
	require.NoError(t, err)
	assert.Equal(t, "report.txt:hello:text", resp.Text())

	_, err = c.Upload(context.Background(), "/upload", filepath.Join(t.TempDir(), "missing"), "", nil)
	assert.ErrorIs(t, err, ErrRequest)
}

func TestDo_TransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	c, err := New(cfg, WithLogger(discard))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), "/slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequest)
	assert.Contains(t, err.Error(), "timed out after 50ms")

	_, err = New(config.Config{}, WithLogger(discard))
	assert.Error(t, err)
}

func TestTokenHook(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	session := NewSession()
	c := newTestClient(t, srv.URL, WithHooks(&TokenHook{Session: session, Key: "Authorization", Prefix: "Bearer "}))

	_, err := c.Get(context.Background(), "/a", nil)
	require.NoError(t, err)
	assert.Equal(t, "", auth.Load())

	session.SetToken("tok-123")
	_, err = c.Get(context.Background(), "/a", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", auth.Load())

	_, err = c.Do(context.Background(), Request{Path: "/a", Headers: map[string]string{"Authorization": "Basic x"}})
	require.NoError(t, err)
	assert.Equal(t, "Basic x", auth.Load())
}

func TestEncryptHook(t *testing.T) {
	key := []byte("1234567890abcdef")
	iv := []byte("abcdef1234567890")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			EncryptData string `json:"encrypt_data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		plain, err := cryptoutil.AESDecrypt(env.EncryptData, key, iv)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply, _ := cryptoutil.AESEncrypt([]byte(`{"echo":`+string(plain)+`}`), key, iv)
		json.NewEncoder(w).Encode(map[string]string{"encrypt_data": reply})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithHooks(&EncryptHook{Suffix: "/encrypt/api", Key: key, IV: iv}))
	resp, err := c.Post(context.Background(), "/v1/encrypt/api", map[string]int{"amount": 100})
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":{"amount":100}}`, resp.Text())

	bad := newTestClient(t, srv.URL, WithHooks(&EncryptHook{Suffix: "/encrypt/api", Key: []byte("short"), IV: iv}))
	_, err = bad.Post(context.Background(), "/encrypt/api", map[string]int{"amount": 1})
	assert.ErrorIs(t, err, cryptoutil.ErrInvalidKeySize)
}

func TestSignHook_ProducesVerifiableQuery(t *testing.T) {
	const key = "sign_key_123"
	verifier := signing.New(signing.WithLogger(discard))
	var verified atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params := signing.Params{}
		for k := range q {
			if k != signing.KeySign {
				params[k] = q.Get(k)
			}
		}
		verified.Store(verifier.Verify(params, q.Get(signing.KeySign), key, signing.MD5, 0))
	}))
	defer srv.Close()

	signer := signing.New(signing.WithLogger(discard))
	c := newTestClient(t, srv.URL, WithHooks(&SignHook{Suffix: "/sign/api", Signer: signer, Key: key, Algorithm: signing.MD5}))

	_, err := c.Get(context.Background(), "/sign/api", map[string]string{"user": "alice", "amount": "100", "memo": ""})
	require.NoError(t, err)
	assert.True(t, verified.Load())

	// Paths without the suffix are sent unsigned
	resp, err := c.Get(context.Background(), "/plain", map[string]string{"user": "alice"})
	require.NoError(t, err)
	assert.NotContains(t, resp.Request.Query, signing.KeySign)
}

type countingLogin struct {
	session *Session
	calls   atomic.Int32
	err     error
}

func (l *countingLogin) Login(context.Context) error {
	l.calls.Add(1)
	if l.err != nil {
		return l.err
	}
	l.session.SetToken("fresh")
	return nil
}

func TestReauthHook_ResendsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	session := NewSession()
	session.SetToken("stale")
	login := &countingLogin{session: session}
	c := newTestClient(t, srv.URL, WithHooks(
		&TokenHook{Session: session, Key: "Authorization", Prefix: "Bearer "},
		&ReauthHook{Auth: login, LoginPath: "/login"},
	))

	resp, err := c.Get(context.Background(), "/profile", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.EqualValues(t, 1, login.calls.Load())
	assert.EqualValues(t, 2, hits.Load())

	// A second 401 after the re-send is returned, not retried again
	session.SetToken("stale")
	login.err = nil
	alwaysDenied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer alwaysDenied.Close()
	c2 := newTestClient(t, alwaysDenied.URL, WithHooks(&ReauthHook{Auth: login, LoginPath: "/login"}))
	resp, err = c2.Get(context.Background(), "/profile", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 2, login.calls.Load())

	// The login path itself never triggers a login
	resp, err = c2.Post(context.Background(), "/login", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 2, login.calls.Load())

	login.err = errors.New("bad credentials")
	_, err = c2.Get(context.Background(), "/profile", nil)
	assert.ErrorContains(t, err, "bad credentials")
}

func TestPasswordLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Username, Password string }
		json.NewDecoder(r.Body).Decode(&in)
		if in.Username != "alice" || in.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":{"token":"eyJhbGciOiJIUzI1NiJ9.payload.sig","tokenType":"Bearer"}}`))
	}))
	defer srv.Close()

	session := NewSession()
	c := newTestClient(t, srv.URL)
	login := &PasswordLogin{Client: c, Session: session, Path: "/login", Username: "alice", Password: "pw"}
	require.NoError(t, login.Login(context.Background()))
	assert.True(t, strings.HasPrefix(session.Token(), "eyJ"))

	login.Password = "wrong"
	assert.Error(t, login.Login(context.Background()))
}

func TestDefaultHooks(t *testing.T) {
	cfg := config.Default()
	assert.Empty(t, DefaultHooks(cfg, NewSession(), signing.New(), discard))

	cfg.API.NeedToken = true
	cfg.Encrypt.AESKey = "1234567890abcdef"
	cfg.Sign.Key = "k"
	hooks := DefaultHooks(cfg, NewSession(), signing.New(), discard)
	var names []string
	for _, h := range hooks {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"token", "encrypt", "sign"}, names)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "***", maskToken("short"))
	assert.Equal(t, "eyJhbGciOi***", maskToken("eyJhbGciOiJIUzI1NiJ9"))
}
