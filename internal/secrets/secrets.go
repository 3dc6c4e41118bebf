// Package secrets keeps per-organization integration credentials encrypted
// at rest.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"beacon.org/internal/crypto"
	"beacon.org/internal/obs"
)

var (
	ErrNotFound    = errors.New("secrets: not found")
	ErrInvalidName = errors.New("secrets: invalid name")
	ErrEmptyValue  = errors.New("secrets: value is empty")
	// ErrCorrupt is returned when a stored blob fails authentication.
	ErrCorrupt = errors.New("secrets: stored value failed integrity check")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// Record is a stored secret. Blob is the encryption service's output.
type Record struct {
	OrganizationID string
	Name           string
	Blob           string
	UpdatedAt      time.Time
}

// Store persists records.
type Store interface {
	PutSecret(ctx context.Context, rec Record) error
	// GetSecret returns ErrNotFound when nothing is stored under name.
	GetSecret(ctx context.Context, organizationID, name string) (Record, error)
	ListSecrets(ctx context.Context, organizationID string) ([]Record, error)
}

// Cipher is the subset of the encryption service the vault needs.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
	Mask(value string) string
}

// Masked is a secret as shown to callers who may not read it.
type Masked struct {
	Name      string    `json:"name"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Vault encrypts secrets on write and decrypts them on read.
type Vault struct {
	store  Store
	cipher Cipher
	now    func() time.Time
}

// NewVault builds a vault over store and cipher.
func NewVault(store Store, cipher Cipher) *Vault {
	return &Vault{store: store, cipher: cipher, now: time.Now}
}

// Put encrypts plaintext and stores it under name for the organization,
// replacing any previous value.
func (v *Vault) Put(ctx context.Context, organizationID, name, plaintext string) (Masked, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Masked{}, err
	}
	if plaintext == "" {
		return Masked{}, ErrEmptyValue
	}
	blob, err := v.cipher.Encrypt(plaintext)
	if err != nil {
		obs.ObserveCryptoFailure("encrypt")
		return Masked{}, fmt.Errorf("secrets: encrypt %s: %w", name, err)
	}
	rec := Record{OrganizationID: organizationID, Name: name, Blob: blob, UpdatedAt: v.now().UTC()}
	if err := v.store.PutSecret(ctx, rec); err != nil {
		return Masked{}, fmt.Errorf("secrets: store %s: %w", name, err)
	}
	return Masked{Name: name, Preview: v.cipher.Mask(plaintext), UpdatedAt: rec.UpdatedAt}, nil
}

// Reveal returns the plaintext stored under name.
func (v *Vault) Reveal(ctx context.Context, organizationID, name string) (string, error) {
	name, err := normalizeName(name)
	if err != nil {
		return "", err
	}
	rec, err := v.store.GetSecret(ctx, organizationID, name)
	if err != nil {
		return "", err
	}
	return v.decrypt(rec)
}

// List returns masked previews of every secret the organization holds.
// Entries that fail to decrypt are listed with an empty preview.
func (v *Vault) List(ctx context.Context, organizationID string) ([]Masked, error) {
	recs, err := v.store.ListSecrets(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("secrets: list: %w", err)
	}
	out := make([]Masked, 0, len(recs))
	for _, rec := range recs {
		m := Masked{Name: rec.Name, UpdatedAt: rec.UpdatedAt}
		if plain, err := v.decrypt(rec); err == nil {
			m.Preview = v.cipher.Mask(plain)
		}
		out = append(out, m)
	}
	return out, nil
}

func (v *Vault) decrypt(rec Record) (string, error) {
	plain, err := v.cipher.Decrypt(rec.Blob)
	if err != nil {
		obs.ObserveCryptoFailure("decrypt")
		obs.Error("secret decrypt failed", err, map[string]any{
			"organization_id": rec.OrganizationID,
			"name":            rec.Name,
		})
		if errors.Is(err, crypto.ErrAuthenticationFailed) || errors.Is(err, crypto.ErrMalformedBlob) {
			return "", ErrCorrupt
		}
		return "", fmt.Errorf("secrets: decrypt %s: %w", rec.Name, err)
	}
	return plain, nil
}

func normalizeName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !namePattern.MatchString(name) {
		return "", ErrInvalidName
	}
	return name, nil
}
