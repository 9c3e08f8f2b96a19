// Package config provides configuration loading for the API test harness.
// Settings come from an optional YAML file, then environment variables, which
// take precedence. Secrets in the file may reference the environment as ${VAR}.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/cryptoutil"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/signing"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures the settings shared by the client, the mock server and the tools.
type Config struct {
	Env      string            // Active environment name (test, staging, ...)
	BaseURL  string            // Base URL of the API under test
	Timeout  time.Duration     // Per-request timeout
	Headers  map[string]string // Headers sent with every request
	API      API
	Sign     Sign
	Encrypt  Encrypt
	Database Database
	Log      Log
	Server   Server
}

// API configures the request/response hooks.
type API struct {
	NeedToken     bool   // Inject the session token into requests
	TokenKey      string // Header carrying the token
	TokenPrefix   string // Prefix placed before the token, e.g. "Bearer "
	LoginPath     string // Path used to re-authenticate on 401
	Username      string
	Password      string
	EncryptSuffix string // Requests whose path ends with this get AES bodies
	SignSuffix    string // Requests whose path ends with this get signed
}

// Sign configures the signing protocol.
type Sign struct {
	Key         string
	Algorithm   signing.Algorithm
	Window      time.Duration
	NonceLength int
}

// Encrypt holds cipher material.
type Encrypt struct {
	AESKey            string
	AESIV             string
	Salts             cryptoutil.Salts
	RSAPrivateKeyPath string
	RSAPublicKeyPath  string
}

// Database configures the verification database.
type Database struct {
	Type           string // postgres, mysql or sqlite
	DSN            string
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string // postgres only
	Charset        string // mysql only
	ConnectTimeout time.Duration
}

// Log configures slog output.
type Log struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// Server configures the mock API server.
type Server struct {
	Address        string
	MetricsAddress string
	StoreBackend   string // memory or postgres
	JWTSecret      string
	JWTIssuer      string
	SessionTTL     time.Duration
}

// Default configuration values used when neither the file nor the environment sets them
const (
	defaultEnv            = "test"
	defaultBaseURL        = "http://localhost:8080"
	defaultTimeout        = 10 * time.Second
	defaultTokenKey       = "Authorization"
	defaultTokenPrefix    = "Bearer "
	defaultLoginPath      = "/api/user/login"
	defaultEncryptSuffix  = "/encrypt/api"
	defaultSignSuffix     = "/sign/api"
	defaultAddress        = ":8080"
	defaultMetricsAddress = ":9090"
	defaultIssuer         = "registryaccord-apitest"
	defaultSessionTTL     = 10 * time.Minute
	defaultConnectTimeout = 5 * time.Second
	defaultConfigPath     = "config/config.yaml"
)

// Default returns a Config populated only with defaults.
func Default() Config {
	return Config{
		Env:     defaultEnv,
		BaseURL: defaultBaseURL,
		Timeout: defaultTimeout,
		Headers: map[string]string{"Content-Type": "application/json"},
		API: API{
			TokenKey:      defaultTokenKey,
			TokenPrefix:   defaultTokenPrefix,
			LoginPath:     defaultLoginPath,
			EncryptSuffix: defaultEncryptSuffix,
			SignSuffix:    defaultSignSuffix,
		},
		Sign: Sign{
			Algorithm:   signing.SHA256,
			Window:      signing.DefaultWindow,
			NonceLength: signing.DefaultNonceLength,
		},
		Database: Database{Type: "postgres", SSLMode: "disable", ConnectTimeout: defaultConnectTimeout},
		Log:      Log{Level: "info", Format: "text"},
		Server: Server{
			Address:        defaultAddress,
			MetricsAddress: defaultMetricsAddress,
			StoreBackend:   "memory",
			JWTIssuer:      defaultIssuer,
			SessionTTL:     defaultSessionTTL,
		},
	}
}

// Load reads the YAML file named by APITEST_CONFIG (default config/config.yaml,
// skipped when absent) and applies environment overrides.
func Load() (Config, error) {
	path, explicit := os.LookupEnv("APITEST_CONFIG")
	if !explicit {
		path = defaultConfigPath
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil || explicit {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config %s: %w", path, err)
		}
		defer f.Close()
		// APITEST_ENV picks the environment block before base_url is resolved.
		cfg, err = parse(f, os.Getenv("APITEST_ENV"))
		if err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile parses a YAML configuration file on top of the defaults.
// Environment overrides are not applied.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML configuration from r on top of the defaults.
func Parse(r io.Reader) (Config, error) {
	return parse(r, "")
}

func parse(r io.Reader, env string) (Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if env != "" {
		fc.CurrentEnv = env
	}
	cfg := Default()
	if err := fc.apply(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("APITEST_ENV"); ok && v != "" {
		cfg.Env = v
	}
	if v, ok := os.LookupEnv("APITEST_BASE_URL"); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := os.LookupEnv("APITEST_TIMEOUT_SECONDS"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid APITEST_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Timeout = d
	}
	if v, ok := os.LookupEnv("APITEST_SIGN_KEY"); ok {
		cfg.Sign.Key = v
	}
	if v, ok := os.LookupEnv("APITEST_SIGN_ALGORITHM"); ok {
		alg, err := signing.ParseAlgorithm(v)
		if err != nil {
			return fmt.Errorf("invalid APITEST_SIGN_ALGORITHM: %w", err)
		}
		cfg.Sign.Algorithm = alg
	}
	if v, ok := os.LookupEnv("APITEST_NEED_TOKEN"); ok {
		cfg.API.NeedToken = parseBool(v)
	}
	if v, ok := os.LookupEnv("APITEST_USERNAME"); ok {
		cfg.API.Username = v
	}
	if v, ok := os.LookupEnv("APITEST_PASSWORD"); ok {
		cfg.API.Password = v
	}
	if v, ok := os.LookupEnv("APITEST_AES_KEY"); ok {
		cfg.Encrypt.AESKey = v
	}
	if v, ok := os.LookupEnv("APITEST_AES_IV"); ok {
		cfg.Encrypt.AESIV = v
	}
	if v, ok := os.LookupEnv("APITEST_DB_TYPE"); ok && v != "" {
		cfg.Database.Type = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("APITEST_DB_DSN"); ok {
		cfg.Database.DSN = v
	}
	if v, ok := os.LookupEnv("APITEST_HTTP_ADDR"); ok && v != "" {
		cfg.Server.Address = v
	}
	if v, ok := os.LookupEnv("APITEST_METRICS_ADDR"); ok && v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v, ok := os.LookupEnv("APITEST_STORE_BACKEND"); ok && v != "" {
		cfg.Server.StoreBackend = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("APITEST_JWT_SECRET"); ok {
		cfg.Server.JWTSecret = v
	}
	if v, ok := os.LookupEnv("APITEST_SESSION_TTL_SECONDS"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid APITEST_SESSION_TTL_SECONDS: %w", err)
		}
		cfg.Server.SessionTTL = d
	}
	if v, ok := os.LookupEnv("APITEST_LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// ConnString returns the DSN, building one from the discrete fields when unset:
// a file name for sqlite, a go-sql-driver DSN for mysql and a URL for postgres.
func (d Database) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch strings.ToLower(d.Type) {
	case "sqlite":
		if d.Name == "" {
			return ":memory:"
		}
		return d.Name
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		port := d.Port
		if port == 0 {
			port = 3306
		}
		mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(port))
		mc.DBName = d.Name
		mc.Timeout = d.ConnectTimeout
		// DATETIME columns scan into time.Time
		mc.ParseTime = true
		if d.Charset != "" {
			mc.Params = map[string]string{"charset": d.Charset}
		}
		return mc.FormatDSN()
	default:
		u := url.URL{
			Scheme: "postgres",
			Host:   d.Host,
			Path:   "/" + d.Name,
		}
		if d.Port != 0 {
			u.Host = fmt.Sprintf("%s:%d", d.Host, d.Port)
		}
		if d.User != "" {
			u.User = url.UserPassword(d.User, d.Password)
		}
		q := url.Values{}
		if d.SSLMode != "" {
			q.Set("sslmode", d.SSLMode)
		}
		if d.ConnectTimeout > 0 {
			q.Set("connect_timeout", strconv.Itoa(int(d.ConnectTimeout/time.Second)))
		}
		u.RawQuery = q.Encode()
		return u.String()
	}
}

// NewLogger builds the slog logger described by l.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.level()}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (l Log) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// expandSecret resolves "${VAR}" placeholders from the environment.
func expandSecret(field, v string) (string, error) {
	if !strings.HasPrefix(v, "${") || !strings.HasSuffix(v, "}") {
		return v, nil
	}
	name := v[2 : len(v)-1]
	resolved, ok := os.LookupEnv(name)
	if !ok || resolved == "" {
		return "", fmt.Errorf("%s references environment variable %s, which is not set", field, name)
	}
	return resolved, nil
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// parseSeconds converts a string representation of seconds to a time.Duration
// Returns an error if the value is not a valid positive integer
func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if seconds <= 0 {
		return 0, errors.New("value must be > 0")
	}
	return time.Duration(seconds) * time.Second, nil
}
