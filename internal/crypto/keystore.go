// Package crypto protects integration secrets at rest with AES-256-GCM and
// renders them safely for display.
package crypto

import (
	"encoding/hex"
	"errors"
	"strings"
)

// KeySize is the symmetric key length in bytes.
const KeySize = 32

var (
	ErrMissingKey = errors.New("crypto: encryption key is not set")
	ErrInvalidKey = errors.New("crypto: encryption key must be exactly 64 hexadecimal characters (32 bytes)")
)

// KeyStore holds the process-wide data key. It is built once at startup and
// never mutated afterwards.
type KeyStore struct {
	key [KeySize]byte
}

// LoadKey validates a hex encoded key. Surrounding whitespace is ignored;
// anything other than 64 hex digits is rejected.
func LoadKey(hexKey string) (*KeyStore, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrMissingKey
	}
	if len(hexKey) != hex.EncodedLen(KeySize) {
		return nil, ErrInvalidKey
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	ks := &KeyStore{}
	copy(ks.key[:], raw)
	return ks, nil
}

// MustLoadKey is LoadKey for program initialisation; it panics on error.
func MustLoadKey(hexKey string) *KeyStore {
	ks, err := LoadKey(hexKey)
	if err != nil {
		panic(err)
	}
	return ks
}

// bytes returns a copy so callers cannot alter the stored key.
func (k *KeyStore) bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k.key[:])
	return out
}
