package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/signing"
)

// fileConfig mirrors config.yaml. Zero values leave the defaults in place.
type fileConfig struct {
	CurrentEnv   string                     `yaml:"current_env"`
	Environments map[string]fileEnvironment `yaml:"environments"`
	HTTP         struct {
		TimeoutSeconds int               `yaml:"timeout_seconds"`
		CommonHeaders  map[string]string `yaml:"common_headers"`
	} `yaml:"http"`
	API struct {
		NeedToken     bool    `yaml:"need_token"`
		TokenKey      string  `yaml:"token_key"`
		TokenPrefix   *string `yaml:"token_prefix"`
		LoginPath     string  `yaml:"login_path"`
		Username      string  `yaml:"username"`
		Password      string  `yaml:"password"`
		EncryptSuffix string  `yaml:"encrypt_suffix"`
		SignSuffix    string  `yaml:"sign_suffix"`
	} `yaml:"api"`
	Sign struct {
		Key           string             `yaml:"key"`
		Algorithm     *signing.Algorithm `yaml:"algorithm"`
		WindowSeconds int                `yaml:"window_seconds"`
		NonceLength   int                `yaml:"nonce_length"`
	} `yaml:"sign"`
	Encrypt struct {
		AESKey            string `yaml:"aes_key"`
		AESIV             string `yaml:"aes_iv"`
		MD5Salt           string `yaml:"md5_salt"`
		SHA256Salt        string `yaml:"sha256_salt"`
		RSAPrivateKeyPath string `yaml:"rsa_private_key_path"`
		RSAPublicKeyPath  string `yaml:"rsa_public_key_path"`
	} `yaml:"encrypt"`
	Database struct {
		Type                  string `yaml:"type"`
		DSN                   string `yaml:"dsn"`
		Host                  string `yaml:"host"`
		Port                  int    `yaml:"port"`
		User                  string `yaml:"user"`
		Password              string `yaml:"password"`
		Name                  string `yaml:"name"`
		SSLMode               string `yaml:"sslmode"`
		Charset               string `yaml:"charset"`
		ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Server struct {
		Address           string `yaml:"address"`
		MetricsAddress    string `yaml:"metrics_address"`
		StoreBackend      string `yaml:"store_backend"`
		JWTSecret         string `yaml:"jwt_secret"`
		JWTIssuer         string `yaml:"jwt_issuer"`
		SessionTTLSeconds int    `yaml:"session_ttl_seconds"`
	} `yaml:"server"`
}

type fileEnvironment struct {
	BaseURL string `yaml:"base_url"`
}

func (fc fileConfig) apply(cfg *Config) error {
	if fc.CurrentEnv != "" {
		cfg.Env = fc.CurrentEnv
	}
	if len(fc.Environments) > 0 {
		env, ok := fc.Environments[cfg.Env]
		if !ok {
			return fmt.Errorf("environment %q is not defined in config", cfg.Env)
		}
		if env.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(env.BaseURL, "/")
		}
	}

	if fc.HTTP.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(fc.HTTP.TimeoutSeconds) * time.Second
	}
	for k, v := range fc.HTTP.CommonHeaders {
		cfg.Headers[k] = v
	}

	cfg.API.NeedToken = fc.API.NeedToken
	setString(&cfg.API.TokenKey, fc.API.TokenKey)
	if fc.API.TokenPrefix != nil {
		cfg.API.TokenPrefix = *fc.API.TokenPrefix
	}
	setString(&cfg.API.LoginPath, fc.API.LoginPath)
	setString(&cfg.API.Username, fc.API.Username)
	setString(&cfg.API.EncryptSuffix, fc.API.EncryptSuffix)
	setString(&cfg.API.SignSuffix, fc.API.SignSuffix)

	if fc.Sign.Algorithm != nil {
		cfg.Sign.Algorithm = *fc.Sign.Algorithm
	}
	if fc.Sign.WindowSeconds > 0 {
		cfg.Sign.Window = time.Duration(fc.Sign.WindowSeconds) * time.Second
	}
	if fc.Sign.NonceLength > 0 {
		cfg.Sign.NonceLength = fc.Sign.NonceLength
	}

	setString(&cfg.Encrypt.AESIV, fc.Encrypt.AESIV)
	setString(&cfg.Encrypt.Salts.MD5, fc.Encrypt.MD5Salt)
	setString(&cfg.Encrypt.Salts.SHA256, fc.Encrypt.SHA256Salt)
	setString(&cfg.Encrypt.RSAPrivateKeyPath, fc.Encrypt.RSAPrivateKeyPath)
	setString(&cfg.Encrypt.RSAPublicKeyPath, fc.Encrypt.RSAPublicKeyPath)

	setString(&cfg.Database.Type, strings.ToLower(fc.Database.Type))
	setString(&cfg.Database.Host, fc.Database.Host)
	setString(&cfg.Database.User, fc.Database.User)
	setString(&cfg.Database.Name, fc.Database.Name)
	setString(&cfg.Database.SSLMode, fc.Database.SSLMode)
	setString(&cfg.Database.Charset, fc.Database.Charset)
	if fc.Database.Port > 0 {
		cfg.Database.Port = fc.Database.Port
	}
	if fc.Database.ConnectTimeoutSeconds > 0 {
		cfg.Database.ConnectTimeout = time.Duration(fc.Database.ConnectTimeoutSeconds) * time.Second
	}

	setString(&cfg.Log.Level, fc.Log.Level)
	setString(&cfg.Log.Format, fc.Log.Format)

	setString(&cfg.Server.Address, fc.Server.Address)
	setString(&cfg.Server.MetricsAddress, fc.Server.MetricsAddress)
	setString(&cfg.Server.StoreBackend, strings.ToLower(fc.Server.StoreBackend))
	setString(&cfg.Server.JWTIssuer, fc.Server.JWTIssuer)
	if fc.Server.SessionTTLSeconds > 0 {
		cfg.Server.SessionTTL = time.Duration(fc.Server.SessionTTLSeconds) * time.Second
	}

	// Secrets may be written literally or as ${VAR}.
	secrets := []struct {
		field string
		raw   string
		dst   *string
	}{
		{"api.password", fc.API.Password, &cfg.API.Password},
		{"sign.key", fc.Sign.Key, &cfg.Sign.Key},
		{"encrypt.aes_key", fc.Encrypt.AESKey, &cfg.Encrypt.AESKey},
		{"database.dsn", fc.Database.DSN, &cfg.Database.DSN},
		{"database.password", fc.Database.Password, &cfg.Database.Password},
		{"server.jwt_secret", fc.Server.JWTSecret, &cfg.Server.JWTSecret},
	}
	for _, s := range secrets {
		if s.raw == "" {
			continue
		}
		v, err := expandSecret(s.field, s.raw)
		if err != nil {
			return err
		}
		*s.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
