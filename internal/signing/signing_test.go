package signing

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/cryptoutil"
)

const (
	testKey   = "secret123"
	testNonce = "aB3xQ9kLmN2pR7sT"
	testUnix  = int64(1700000000)
)

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func newTestSigner(opts ...Option) *Signer {
	base := []Option{
		WithClock(fixedClock(testUnix)),
		WithNonceSource(FixedNonce(testNonce)),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	}
	return New(append(base, opts...)...)
}

func TestCanonical_Example(t *testing.T) {
	params := Params{"user": "alice", "amount": 100, KeyTimestamp: testUnix, KeyNonce: testNonce}
	got := Canonical(params, testKey)
	assert.Equal(t, "amount=100&nonce=aB3xQ9kLmN2pR7sT&timestamp=1700000000&user=alice&signKey=secret123", got)
}

func TestSign_Example(t *testing.T) {
	s := newTestSigner()
	params := Params{"user": "alice", "amount": 100}

	signed, err := s.Sign(params, testKey, SHA256)
	require.NoError(t, err)
	assert.Equal(t, "b63fff46a3dd09a6772a93e0ceb77345151f32022a4d5b6e41dfdf47abc05ed8", signed.Signature)
	assert.Equal(t, testUnix, signed.Timestamp)
	assert.Equal(t, testNonce, signed.Nonce)
	assert.Equal(t, testUnix, signed.Params[KeyTimestamp])
	assert.Equal(t, testNonce, signed.Params[KeyNonce])

	// the caller's map is left alone
	assert.NotContains(t, params, KeyTimestamp)
	assert.NotContains(t, params, KeyNonce)

	md5Signed, err := s.Sign(params, testKey, MD5)
	require.NoError(t, err)
	assert.Equal(t, "0a722edde8635c3cc168ecdb57850a43", md5Signed.Signature)
	assert.Len(t, md5Signed.Signature, 32)
}

func TestSignInPlace_StampsCallerMap(t *testing.T) {
	s := newTestSigner()
	params := Params{"user": "alice", "amount": 100}

	sig, err := s.SignInPlace(params, testKey, SHA256)
	require.NoError(t, err)
	assert.Equal(t, testUnix, params[KeyTimestamp])
	assert.Equal(t, testNonce, params[KeyNonce])
	assert.True(t, s.Verify(params, sig, testKey, SHA256, DefaultWindow))

	_, err = s.SignInPlace(nil, testKey, SHA256)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSign_OrderIndependence(t *testing.T) {
	s := newTestSigner()
	a := Params{}
	b := Params{}
	keys := []string{"zeta", "alpha", "Mid", "beta", "_x", "9n"}
	for i, k := range keys {
		a[k] = i
	}
	for i := len(keys) - 1; i >= 0; i-- {
		b[keys[i]] = i
	}

	sa, err := s.Sign(a, testKey, SHA256)
	require.NoError(t, err)
	sb, err := s.Sign(b, testKey, SHA256)
	require.NoError(t, err)
	assert.Equal(t, sa.Signature, sb.Signature)

	// byte-wise ordering puts digits and upper case first
	assert.True(t, strings.HasPrefix(Canonical(a, testKey), "9n=5&Mid=2&_x=4&alpha=1&beta=3&"))
}

func TestSign_NullAndBlankElision(t *testing.T) {
	s := newTestSigner()
	base := Params{"user": "alice", "amount": 100}
	want, err := s.Sign(base, testKey, SHA256)
	require.NoError(t, err)

	var nilPtr *string
	for name, v := range map[string]any{
		"nil":        nil,
		"empty":      "",
		"whitespace": "  \t\n",
		"nil ptr":    nilPtr,
	} {
		t.Run(name, func(t *testing.T) {
			p := Params{"user": "alice", "amount": 100, "extra": v}
			got, err := s.Sign(p, testKey, SHA256)
			require.NoError(t, err)
			assert.Equal(t, want.Signature, got.Signature)
			assert.NotContains(t, Canonical(got.Params, testKey), "extra")
		})
	}
}

func TestCanonical_ValueRendering(t *testing.T) {
	params := Params{
		"b":   true,
		"f":   1.5,
		"w":   float64(1700000000),
		"n":   json.Number("42"),
		"i8":  int8(-3),
		"u":   uint(7),
		"s":   " padded ",
		"ptr": func() *int { v := 9; return &v }(),
	}
	got := Canonical(params, "k")
	assert.Equal(t, "b=true&f=1.5&i8=-3&n=42&ptr=9&s= padded &u=7&w=1700000000&signKey=k", got)
}

// Bools and whole floats use Go forms. A producer that renders them
// differently sends strings instead, which pass through unchanged.
func TestCanonical_TypedVersusStringValues(t *testing.T) {
	typed := Canonical(Params{"flag": true, "amount": 100.0}, "k")
	assert.Equal(t, "amount=100&flag=true&signKey=k", typed)

	asText := Canonical(Params{"flag": "True", "amount": "100.0"}, "k")
	assert.Equal(t, "amount=100.0&flag=True&signKey=k", asText)
}

func TestSign_Errors(t *testing.T) {
	t.Run("unsupported algorithm stamps nothing", func(t *testing.T) {
		calls := 0
		s := newTestSigner(WithNonceSource(NonceFunc(func(int) (string, error) {
			calls++
			return testNonce, nil
		})))
		_, err := s.Sign(Params{"a": 1}, testKey, Algorithm(42))
		assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
		assert.Zero(t, calls)
	})

	t.Run("parse unsupported name", func(t *testing.T) {
		_, err := ParseAlgorithm("sha1")
		assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := newTestSigner().Sign(Params{"a": 1}, "", SHA256)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("default key", func(t *testing.T) {
		s := newTestSigner(WithDefaultKey(testKey))
		signed, err := s.Sign(Params{"user": "alice", "amount": 100}, "", SHA256)
		require.NoError(t, err)
		assert.Equal(t, "b63fff46a3dd09a6772a93e0ceb77345151f32022a4d5b6e41dfdf47abc05ed8", signed.Signature)
	})

	t.Run("digest failure carries params", func(t *testing.T) {
		_, err := newTestSigner().Sign(Params{"bad": string([]byte{0xff, 0xfe})}, testKey, SHA256)
		require.ErrorIs(t, err, ErrSigningFailed)
		require.ErrorIs(t, err, cryptoutil.ErrInvalidEncoding)
		var se *SigningError
		require.True(t, errors.As(err, &se))
		assert.Contains(t, se.Params, "bad")
		assert.Contains(t, se.Params, KeyNonce)
	})

	t.Run("nonce failure", func(t *testing.T) {
		s := newTestSigner(WithNonceSource(NonceFunc(func(int) (string, error) {
			return "", errors.New("entropy exhausted")
		})))
		_, err := s.Sign(Params{"a": 1}, testKey, SHA256)
		assert.ErrorIs(t, err, ErrSigningFailed)
	})
}

func TestFromAny(t *testing.T) {
	p, err := FromAny(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, Params{"a": 1}, p)

	p, err = FromAny(map[any]any{"a": "x"})
	require.NoError(t, err)
	assert.Equal(t, Params{"a": "x"}, p)

	_, err = FromAny([]any{"a", 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = FromAny(map[any]any{1: "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestVerify_RoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{MD5, SHA256} {
		t.Run(alg.String(), func(t *testing.T) {
			s := New(WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
			signed, err := s.Sign(Params{"user": "alice", "amount": 100}, testKey, alg)
			require.NoError(t, err)
			assert.True(t, s.Verify(signed.Params, signed.Signature, testKey, alg, DefaultWindow))
		})
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	window := 300 * time.Second
	params := Params{"user": "alice", KeyTimestamp: testUnix, KeyNonce: testNonce}
	sig, err := newTestSigner().Digest(params, testKey, SHA256)
	require.NoError(t, err)

	atEdge := newTestSigner(WithClock(fixedClock(testUnix + 300)))
	assert.True(t, atEdge.Verify(params, sig, testKey, SHA256, window))

	past := newTestSigner(WithClock(fixedClock(testUnix + 301)))
	assert.False(t, past.Verify(params, sig, testKey, SHA256, window))

	// the window is symmetric
	future := newTestSigner(WithClock(fixedClock(testUnix - 301)))
	assert.False(t, future.Verify(params, sig, testKey, SHA256, window))
	early := newTestSigner(WithClock(fixedClock(testUnix - 300)))
	assert.True(t, early.Verify(params, sig, testKey, SHA256, window))
}

func TestVerify_Rejections(t *testing.T) {
	s := newTestSigner()
	signed, err := s.Sign(Params{"user": "alice", "amount": 100}, testKey, SHA256)
	require.NoError(t, err)

	clone := func() Params {
		p := Params{}
		for k, v := range signed.Params {
			p[k] = v
		}
		return p
	}

	t.Run("tampered value", func(t *testing.T) {
		p := clone()
		p["amount"] = 1000
		assert.False(t, s.Verify(p, signed.Signature, testKey, SHA256, DefaultWindow))
	})

	t.Run("added param", func(t *testing.T) {
		p := clone()
		p["role"] = "admin"
		assert.False(t, s.Verify(p, signed.Signature, testKey, SHA256, DefaultWindow))
	})

	t.Run("uppercase signature accepted", func(t *testing.T) {
		assert.True(t, s.Verify(clone(), strings.ToUpper(signed.Signature), testKey, SHA256, DefaultWindow))
	})

	t.Run("missing nonce", func(t *testing.T) {
		p := clone()
		delete(p, KeyNonce)
		assert.False(t, s.Verify(p, signed.Signature, testKey, SHA256, DefaultWindow))
	})

	t.Run("missing timestamp", func(t *testing.T) {
		p := clone()
		delete(p, KeyTimestamp)
		assert.False(t, s.Verify(p, signed.Signature, testKey, SHA256, DefaultWindow))
	})

	t.Run("malformed timestamp", func(t *testing.T) {
		p := clone()
		p[KeyTimestamp] = "yesterday"
		assert.False(t, s.Verify(p, signed.Signature, testKey, SHA256, DefaultWindow))
	})

	t.Run("wrong key", func(t *testing.T) {
		assert.False(t, s.Verify(clone(), signed.Signature, "other", SHA256, DefaultWindow))
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		assert.False(t, s.Verify(clone(), signed.Signature, testKey, MD5, DefaultWindow))
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		assert.False(t, s.Verify(clone(), signed.Signature, testKey, Algorithm(9), DefaultWindow))
	})

	t.Run("no key configured", func(t *testing.T) {
		assert.False(t, s.Verify(clone(), signed.Signature, "", SHA256, DefaultWindow))
	})

	t.Run("truncated signature", func(t *testing.T) {
		assert.False(t, s.Verify(clone(), signed.Signature[:10], testKey, SHA256, DefaultWindow))
	})
}

func TestVerify_StringlyParamsFromQuery(t *testing.T) {
	s := newTestSigner()
	signed, err := s.Sign(Params{"user": "alice", "amount": 100}, testKey, SHA256)
	require.NoError(t, err)

	// an inbound verifier sees every value as text
	inbound := Params{
		"user":       "alice",
		"amount":     "100",
		KeyTimestamp: "1700000000",
		KeyNonce:     testNonce,
	}
	assert.True(t, s.Verify(inbound, signed.Signature, testKey, SHA256, DefaultWindow))
}

func TestVerify_JSONDecodedParams(t *testing.T) {
	s := newTestSigner()
	signed, err := s.Sign(Params{"user": "alice", "amount": 100}, testKey, SHA256)
	require.NoError(t, err)

	raw, err := json.Marshal(signed.Params)
	require.NoError(t, err)
	var decoded Params
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, s.Verify(decoded, signed.Signature, testKey, SHA256, DefaultWindow))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{"int", int(testUnix), testUnix, true},
		{"int8", int8(7), 7, true},
		{"int16", int16(-300), -300, true},
		{"int32", int32(testUnix), testUnix, true},
		{"int64", testUnix, testUnix, true},
		{"uint", uint(testUnix), testUnix, true},
		{"uint8", uint8(200), 200, true},
		{"uint16", uint16(60000), 60000, true},
		{"uint32", uint32(testUnix), testUnix, true},
		{"uint64", uint64(testUnix), testUnix, true},
		{"uint64 overflow", uint64(1 << 63), 0, false},
		{"whole float", float64(testUnix), testUnix, true},
		{"fractional float", 1700000000.5, 0, false},
		{"huge float", 1e19, 0, false},
		{"json number", json.Number("1700000000"), testUnix, true},
		{"padded string", " 1700000000 ", testUnix, true},
		{"decimal string", "1700000000.0", 0, false},
		{"empty string", "", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerify_SmallIntegerTimestampKinds(t *testing.T) {
	s := newTestSigner(WithClock(fixedClock(100)))
	params := Params{"user": "alice", KeyTimestamp: uint8(100), KeyNonce: testNonce}
	sig, err := s.Digest(params, testKey, MD5)
	require.NoError(t, err)
	assert.True(t, s.Verify(params, sig, testKey, MD5, DefaultWindow))
}

func TestRandomNonce(t *testing.T) {
	seen := make(map[string]struct{})
	for range 200 {
		n, err := RandomNonce{}.Nonce(DefaultNonceLength)
		require.NoError(t, err)
		require.Len(t, n, DefaultNonceLength)
		for _, c := range n {
			require.True(t, strings.ContainsRune(alphanumeric, c), "unexpected rune %q", c)
		}
		seen[n] = struct{}{}
	}
	assert.Len(t, seen, 200)

	_, err := RandomNonce{}.Nonce(0)
	assert.Error(t, err)
}

func TestSigner_ConcurrentUse(t *testing.T) {
	s := New(WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			signed, err := s.Sign(Params{"i": i}, testKey, SHA256)
			if !assert.NoError(t, err) {
				return
			}
			assert.True(t, s.Verify(signed.Params, signed.Signature, testKey, SHA256, DefaultWindow))
		}()
	}
	wg.Wait()
}

func TestAlgorithm_Text(t *testing.T) {
	var a Algorithm
	require.NoError(t, a.UnmarshalText([]byte("MD5")))
	assert.Equal(t, MD5, a)
	out, err := SHA256.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "sha256", string(out))
	_, err = Algorithm(7).MarshalText()
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
