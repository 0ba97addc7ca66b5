package secrets

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("secret not found")

// ErrKeyNotAllowed is returned when writing a key outside the allow-list.
var ErrKeyNotAllowed = errors.New("secret key not allowed")

// Allowed keys for the AIrsenal commands. Writes outside this set are
// rejected so the secret table cannot be used as general storage.
const (
	KeyFPLTeamID    = "FPL_TEAM_ID"
	KeyFPLLogin     = "FPL_LOGIN"
	KeyFPLPassword  = "FPL_PASSWORD"
	KeyAirsenalHome = "AIRSENAL_HOME"
)

var allowedKeys = map[string]struct{}{
	KeyFPLTeamID:    {},
	KeyFPLLogin:     {},
	KeyFPLPassword:  {},
	KeyAirsenalHome: {},
}

// KeyAllowed reports whether key may be stored.
func KeyAllowed(key string) bool {
	_, ok := allowedKeys[key]
	return ok
}

// AllowedKeys returns the closed set of storable keys.
func AllowedKeys() []string {
	return []string{KeyFPLTeamID, KeyFPLLogin, KeyFPLPassword, KeyAirsenalHome}
}

// Provider supplies decrypted configuration values to the executor.
type Provider interface {
	// Get returns the decrypted value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
}

// Repository is the persistence surface the store-backed provider needs.
// Values are stored encrypted; the repository treats them as opaque.
// GetSecret returns ErrNotFound for a missing key.
type Repository interface {
	GetSecret(ctx context.Context, key string) (string, error)
	PutSecret(ctx context.Context, key, encryptedValue string) error
	DeleteSecret(ctx context.Context, key string) error
	ListSecretKeys(ctx context.Context) ([]string, error)
}

// Store is the encrypted, repository-backed secret provider.
type Store struct {
	repo   Repository
	cipher *Cipher
}

// NewStore wires a repository and cipher into a Provider with write access.
func NewStore(repo Repository, cipher *Cipher) *Store {
	return &Store{repo: repo, cipher: cipher}
}

// Get fetches and decrypts the value for key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	encrypted, err := s.repo.GetSecret(ctx, key)
	if err != nil {
		return "", err
	}
	value, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", key, err)
	}
	return value, nil
}

// Put encrypts and stores a value under an allow-listed key.
func (s *Store) Put(ctx context.Context, key, value string) error {
	if !KeyAllowed(key) {
		return fmt.Errorf("secret key %q: %w", key, ErrKeyNotAllowed)
	}
	encrypted, err := s.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("secret %s: %w", key, err)
	}
	return s.repo.PutSecret(ctx, key, encrypted)
}

// Delete removes the value for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.repo.DeleteSecret(ctx, key)
}

// Keys lists the keys that currently have a value. Values are not returned.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.repo.ListSecretKeys(ctx)
}

// Static is a fixed-map Provider for tests and development.
type Static map[string]string

func (s Static) Get(_ context.Context, key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}
