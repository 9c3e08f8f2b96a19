package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

var (
	ErrInvalidKeySize = fmt.Errorf("%w: AES key must be 16, 24 or 32 bytes", ErrCrypto)
	ErrInvalidIVSize  = fmt.Errorf("%w: AES IV must be 16 bytes", ErrCrypto)
	ErrInvalidPadding = fmt.Errorf("%w: invalid PKCS#7 padding", ErrCrypto)
	ErrMissingKey     = fmt.Errorf("%w: key not loaded", ErrCrypto)
)

// Base64Encode returns the standard Base64 encoding of content.
func Base64Encode(content []byte) string {
	return base64.StdEncoding.EncodeToString(content)
}

// Base64Decode decodes standard Base64.
func Base64Decode(content string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %w", ErrCrypto, err)
	}
	return out, nil
}

func newCBC(key, iv []byte) (cipher.Block, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKeySize, len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidIVSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return block, nil
}

// AESEncrypt encrypts plaintext with AES-CBC and PKCS#7 padding and returns Base64.
func AESEncrypt(plaintext, key, iv []byte) (string, error) {
	block, err := newCBC(key, iv)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return Base64Encode(out), nil
}

// AESDecrypt reverses AESEncrypt.
func AESDecrypt(ciphertext string, key, iv []byte) ([]byte, error) {
	block, err := newCBC(key, iv)
	if err != nil {
		return nil, err
	}
	raw, err := Base64Decode(ciphertext)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrCrypto, len(raw))
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}

// RSAKeys holds an optional key pair loaded from PEM files.
type RSAKeys struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// LoadRSAKeys reads PEM-encoded keys. Empty paths are skipped; when only the
// private key is given the public half is derived from it.
func LoadRSAKeys(privatePath, publicPath string) (RSAKeys, error) {
	var keys RSAKeys
	if privatePath != "" {
		raw, err := os.ReadFile(privatePath)
		if err != nil {
			return RSAKeys{}, fmt.Errorf("%w: read private key: %w", ErrCrypto, err)
		}
		priv, err := ParseRSAPrivateKey(raw)
		if err != nil {
			return RSAKeys{}, err
		}
		keys.Private = priv
		keys.Public = &priv.PublicKey
	}
	if publicPath != "" {
		raw, err := os.ReadFile(publicPath)
		if err != nil {
			return RSAKeys{}, fmt.Errorf("%w: read public key: %w", ErrCrypto, err)
		}
		pub, err := ParseRSAPublicKey(raw)
		if err != nil {
			return RSAKeys{}, err
		}
		keys.Public = pub
	}
	return keys, nil
}

// ParseRSAPrivateKey accepts PKCS#1 or PKCS#8 PEM.
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in private key", ErrCrypto)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %w", ErrCrypto, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, not RSA", ErrCrypto, parsed)
	}
	return key, nil
}

// ParseRSAPublicKey accepts PKIX or PKCS#1 PEM.
func ParseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in public key", ErrCrypto)
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %w", ErrCrypto, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, not RSA", ErrCrypto, parsed)
	}
	return key, nil
}

// Encrypt encrypts with PKCS#1 v1.5 and returns Base64.
func (k RSAKeys) Encrypt(plaintext []byte) (string, error) {
	if k.Public == nil {
		return "", fmt.Errorf("%w: public", ErrMissingKey)
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, k.Public, plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: rsa encrypt: %w", ErrCrypto, err)
	}
	return Base64Encode(out), nil
}

// Decrypt reverses Encrypt.
func (k RSAKeys) Decrypt(ciphertext string) ([]byte, error) {
	if k.Private == nil {
		return nil, fmt.Errorf("%w: private", ErrMissingKey)
	}
	raw, err := Base64Decode(ciphertext)
	if err != nil {
		return nil, err
	}
	out, err := rsa.DecryptPKCS1v15(rand.Reader, k.Private, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa decrypt: %w", ErrCrypto, err)
	}
	return out, nil
}
