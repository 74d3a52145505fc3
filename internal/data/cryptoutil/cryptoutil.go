// Package cryptoutil seals account credentials before they reach the database.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encryptor seals and opens credential strings.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

const (
	// Versioned prefix so a key or algorithm rotation can coexist with old rows.
	prefixAESV1 = "v1:"
	prefixNoop  = "noop:"
)

// ErrUnknownFormat is returned for ciphertext written by neither encryptor.
var ErrUnknownFormat = errors.New("unknown ciphertext format")

// AESGCM implements Encryptor with AES-256-GCM and a random nonce per value.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds an AESGCM from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// Encrypt returns "v1:" + base64(nonce || sealed). Empty input stays empty.
func (e *AESGCM) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefixAESV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values sealed by Noop are also
// accepted so a key can be introduced after accounts exist.
func (e *AESGCM) Decrypt(ciphertext string) (string, error) {
	switch {
	case ciphertext == "":
		return "", nil
	case strings.HasPrefix(ciphertext, prefixNoop):
		return Noop{}.Decrypt(ciphertext)
	case !strings.HasPrefix(ciphertext, prefixAESV1):
		return "", fmt.Errorf("%w (prefix %q)", ErrUnknownFormat, head(ciphertext))
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext[len(prefixAESV1):])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	n := e.aead.NonceSize()
	if len(raw) < n {
		return "", errors.New("ciphertext too short")
	}
	pt, err := e.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(pt), nil
}

// Noop marks values without encrypting them. Development only.
type Noop struct{}

// Encrypt base64-encodes plaintext behind the noop prefix.
func (Noop) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return prefixNoop + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

// Decrypt reverses Encrypt.
func (Noop) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if !strings.HasPrefix(ciphertext, prefixNoop) {
		return "", fmt.Errorf("%w (prefix %q)", ErrUnknownFormat, head(ciphertext))
	}
	b, err := base64.StdEncoding.DecodeString(ciphertext[len(prefixNoop):])
	if err != nil {
		return "", fmt.Errorf("decode noop ciphertext: %w", err)
	}
	return string(b), nil
}

// DeriveKey turns a configured key into 32 bytes. A 64-char hex string is
// decoded; anything else is hashed with SHA-256.
func DeriveKey(key string) []byte {
	if b, err := hex.DecodeString(key); err == nil && len(b) == 32 {
		return b
	}
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

// FromKey returns an AESGCM for key, or Noop when key is empty.
//
//nolint:ireturn // callers only need the interface
func FromKey(key string) (Encryptor, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Noop{}, nil
	}
	return NewAESGCM(DeriveKey(key))
}

func head(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
