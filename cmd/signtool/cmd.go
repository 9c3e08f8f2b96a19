package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/config"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/cryptoutil"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/signing"
)

const (
	FlagKey         = "key"
	FlagAlgorithm   = "algorithm"
	FlagParams      = "params"
	FlagParamsFile  = "params-file"
	FlagWindow      = "window"
	FlagSign        = "sign"
	FlagNonceLength = "nonce-length"
	FlagKind        = "kind"
	FlagSalt        = "salt"
	FlagVerbose     = "verbose"
	FlagPrivateKey  = "private-key"
	FlagPublicKey   = "public-key"
)

var (
	errInvalidSignature = errors.New("signature is invalid")
	errUsage            = errors.New("invalid usage")
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signtool",
		Short: "Sign and verify API request parameters",
		Long: `signtool computes and checks request signatures.

Parameters are given as key=value arguments, as a JSON or YAML mapping via
--params, or read from --params-file. The sign key and algorithm default to the
sign section of the apitest configuration.

rsa-encrypt and rsa-decrypt use the PEM key pair named in the encrypt section,
or --public-key and --private-key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	cmd.PersistentFlags().String(FlagKey, "", "sign key (default: sign.key from configuration)")
	cmd.PersistentFlags().String(FlagAlgorithm, "", "digest algorithm, md5 or sha256 (default: sign.algorithm from configuration)")
	cmd.PersistentFlags().String(FlagParams, "", "parameters as a JSON or YAML mapping")
	cmd.PersistentFlags().String(FlagParamsFile, "", "file holding parameters as a JSON or YAML mapping")
	cmd.PersistentFlags().BoolP(FlagVerbose, "v", false, "log signing details to stderr")

	cmd.AddCommand(newSignCmd(), newVerifyCmd(), newCanonicalCmd(), newHashCmd(),
		newRSAEncryptCmd(), newRSADecryptCmd())
	return cmd
}

type settings struct {
	key       string
	algorithm signing.Algorithm
	window    time.Duration
	nonceLen  int
	logger    *slog.Logger
}

// resolveSettings merges flags over the loaded configuration.
func resolveSettings(cmd *cobra.Command) (settings, error) {
	cfg, err := config.Load()
	if err != nil {
		return settings{}, err
	}
	s := settings{
		key:       cfg.Sign.Key,
		algorithm: cfg.Sign.Algorithm,
		window:    cfg.Sign.Window,
		nonceLen:  cfg.Sign.NonceLength,
		logger:    slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelError})),
	}
	if key, _ := cmd.Flags().GetString(FlagKey); key != "" {
		s.key = key
	}
	if name, _ := cmd.Flags().GetString(FlagAlgorithm); name != "" {
		if s.algorithm, err = signing.ParseAlgorithm(name); err != nil {
			return settings{}, err
		}
	}
	if verbose, _ := cmd.Flags().GetBool(FlagVerbose); verbose {
		s.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	if s.key == "" {
		return settings{}, fmt.Errorf("%w: no sign key, pass --%s or set APITEST_SIGN_KEY", signing.ErrConfiguration, FlagKey)
	}
	return s, nil
}

func (s settings) signer() *signing.Signer {
	return signing.New(
		signing.WithDefaultKey(s.key),
		signing.WithNonceLength(s.nonceLen),
		signing.WithLogger(s.logger),
	)
}

// readParams collects parameters from --params-file, --params and key=value
// arguments, later sources overriding earlier ones.
func readParams(cmd *cobra.Command, args []string) (signing.Params, error) {
	params := signing.Params{}
	merge := func(source string, raw []byte) error {
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", source, err)
		}
		if doc == nil {
			return nil
		}
		p, err := signing.FromAny(doc)
		if err != nil {
			return fmt.Errorf("parse %s: %w", source, err)
		}
		for k, v := range p {
			params[k] = v
		}
		return nil
	}
	if path, _ := cmd.Flags().GetString(FlagParamsFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		if err := merge(path, raw); err != nil {
			return nil, err
		}
	}
	if inline, _ := cmd.Flags().GetString(FlagParams); inline != "" {
		if err := merge("--"+FlagParams, []byte(inline)); err != nil {
			return nil, err
		}
	}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: argument %q is not key=value", errUsage, arg)
		}
		params[k] = v
	}
	return params, nil
}

func newSignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign [key=value...]",
		Short: "Stamp timestamp and nonce onto the parameters and print them with their signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSettings(cmd)
			if err != nil {
				return err
			}
			params, err := readParams(cmd, args)
			if err != nil {
				return err
			}
			if n, _ := cmd.Flags().GetInt(FlagNonceLength); n > 0 {
				s.nonceLen = n
			}
			delete(params, signing.KeySign)
			signed, err := s.signer().Sign(params, s.key, s.algorithm)
			if err != nil {
				return err
			}
			out := make(map[string]any, len(signed.Params)+1)
			for k, v := range signed.Params {
				out[k] = v
			}
			out[signing.KeySign] = signed.Signature
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().Int(FlagNonceLength, 0, "nonce length (default: sign.nonce_length from configuration)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [key=value...]",
		Short: "Check a signature against parameters carrying timestamp and nonce",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSettings(cmd)
			if err != nil {
				return err
			}
			params, err := readParams(cmd, args)
			if err != nil {
				return err
			}
			candidate, _ := cmd.Flags().GetString(FlagSign)
			if candidate == "" {
				if v, ok := params[signing.KeySign]; ok {
					candidate = fmt.Sprint(v)
				}
			}
			delete(params, signing.KeySign)
			if candidate == "" {
				return fmt.Errorf("%w: no signature, pass --%s or a sign=... argument", errUsage, FlagSign)
			}
			window := s.window
			if cmd.Flags().Changed(FlagWindow) {
				window, _ = cmd.Flags().GetDuration(FlagWindow)
			}
			if !s.signer().Verify(params, candidate, s.key, s.algorithm, window) {
				return errInvalidSignature
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return err
		},
	}
	cmd.Flags().String(FlagSign, "", "signature to check (default: the sign parameter)")
	cmd.Flags().Duration(FlagWindow, signing.DefaultWindow, "accepted clock skew in either direction")
	return cmd
}

func newCanonicalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "canonical [key=value...]",
		Short: "Print the string that is digested, without stamping",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSettings(cmd)
			if err != nil {
				return err
			}
			params, err := readParams(cmd, args)
			if err != nil {
				return err
			}
			delete(params, signing.KeySign)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signing.Canonical(params, s.key))
			return err
		},
	}
}

func newHashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash <content>",
		Short: "Print the salted hex digest of content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString(FlagKind)
			salt, _ := cmd.Flags().GetString(FlagSalt)
			var (
				sum string
				err error
			)
			switch strings.ToLower(kind) {
			case "md5":
				sum, err = cryptoutil.MD5Hex(args[0], salt)
			case "sha256":
				sum, err = cryptoutil.SHA256Hex(args[0], salt)
			default:
				err = fmt.Errorf("%w: %q", cryptoutil.ErrUnsupportedHash, kind)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sum)
			return err
		},
	}
	cmd.Flags().String(FlagKind, "sha256", "md5 or sha256")
	cmd.Flags().String(FlagSalt, "", "salt appended to content")
	return cmd
}

// loadRSAKeys reads the key pair named by --private-key and --public-key,
// falling back to encrypt.rsa_private_key_path and encrypt.rsa_public_key_path.
func loadRSAKeys(cmd *cobra.Command) (cryptoutil.RSAKeys, error) {
	cfg, err := config.Load()
	if err != nil {
		return cryptoutil.RSAKeys{}, err
	}
	privPath, pubPath := cfg.Encrypt.RSAPrivateKeyPath, cfg.Encrypt.RSAPublicKeyPath
	if v, _ := cmd.Flags().GetString(FlagPrivateKey); v != "" {
		privPath = v
	}
	if v, _ := cmd.Flags().GetString(FlagPublicKey); v != "" {
		pubPath = v
	}
	return cryptoutil.LoadRSAKeys(privPath, pubPath)
}

func addRSAKeyFlags(cmd *cobra.Command) {
	cmd.Flags().String(FlagPrivateKey, "", "PEM private key (default: encrypt.rsa_private_key_path from configuration)")
	cmd.Flags().String(FlagPublicKey, "", "PEM public key (default: encrypt.rsa_public_key_path from configuration)")
}

func newRSAEncryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rsa-encrypt <plaintext>",
		Short: "Encrypt plaintext with the RSA public key and print it as Base64",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := loadRSAKeys(cmd)
			if err != nil {
				return err
			}
			out, err := keys.Encrypt([]byte(args[0]))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	addRSAKeyFlags(cmd)
	return cmd
}

func newRSADecryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rsa-decrypt <base64>",
		Short: "Decrypt Base64 ciphertext with the RSA private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := loadRSAKeys(cmd)
			if err != nil {
				return err
			}
			out, err := keys.Decrypt(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	addRSAKeyFlags(cmd)
	return cmd
}
