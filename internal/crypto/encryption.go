package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// IVSize is the nonce length used for every encryption.
	IVSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16

	blobSeparator = ":"
)

var (
	ErrMalformedBlob        = errors.New("crypto: malformed encrypted blob")
	ErrAuthenticationFailed = errors.New("crypto: message authentication failed")
)

// Service encrypts and decrypts secrets with AES-256-GCM. It is safe for
// concurrent use.
type Service struct {
	aead   cipher.AEAD
	random io.Reader
}

// Option configures Service.
type Option func(*Service)

// WithRandom replaces the IV source. Intended for tests.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.random = r
		}
	}
}

// NewService builds the cipher from the validated key.
func NewService(keys *KeyStore, opts ...Option) (*Service, error) {
	if keys == nil {
		return nil, ErrMissingKey
	}
	key := keys.bytes()
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: init gcm: %w", err)
	}
	s := &Service{aead: aead, random: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Encrypt returns hex(iv):hex(tag):hex(ciphertext). A fresh IV is drawn for
// every call.
func (s *Service) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(s.random, iv); err != nil {
		return "", fmt.Errorf("crypto: generate iv: %w", err)
	}
	sealed := s.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - TagSize
	ciphertext, tag := sealed[:split], sealed[split:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, blobSeparator), nil
}

// Decrypt verifies the tag and returns the plaintext. Nothing is returned
// unless authentication succeeds.
func (s *Service) Decrypt(blob string) (string, error) {
	iv, tag, ciphertext, err := parseBlob(blob)
	if err != nil {
		return "", err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := s.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	return string(plaintext), nil
}

// Mask renders value for display.
func (s *Service) Mask(value string) string { return Mask(value) }

// parseBlob splits the stored triplet. The ciphertext segment may be empty
// (an encrypted empty string) but must be present.
func parseBlob(blob string) (iv, tag, ciphertext []byte, err error) {
	parts := strings.Split(strings.TrimSpace(blob), blobSeparator)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, nil, nil, ErrMalformedBlob
	}
	if iv, err = hex.DecodeString(parts[0]); err != nil || len(iv) != IVSize {
		return nil, nil, nil, ErrMalformedBlob
	}
	if tag, err = hex.DecodeString(parts[1]); err != nil || len(tag) != TagSize {
		return nil, nil, nil, ErrMalformedBlob
	}
	if ciphertext, err = hex.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, ErrMalformedBlob
	}
	return iv, tag, ciphertext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
