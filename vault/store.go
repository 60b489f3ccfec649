// Package vault keeps the signed-in identity's credentials encrypted at rest.
//
// Values are sealed with XChaCha20-Poly1305 under a key derived with Argon2id
// from a device secret and a per-install salt. The slot name is bound as
// additional data, so a blob copied into another slot fails to open.
//
// A zero Store (or one opened without a secret) is uninitialized: Get reports
// every slot as empty and Put/Delete log a warning and do nothing. Callers treat
// an empty slot as "no session", so the client degrades to a memory-only session.
package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/habedi/docvault/db"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Slots used by the session layer.
const (
	SlotTokens  = "tokens"
	SlotProfile = "profile"

	slotSalt = "salt"
	saltSize = 16
)

// Argon2id parameters. Changing them invalidates every stored blob.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// ErrPersistenceUnavailable is returned by Open when the store cannot be initialized.
var ErrPersistenceUnavailable = errors.New("secure credential store unavailable")

// Store is an encrypted key-value store over a db.CredentialRepository.
type Store struct {
	repo db.CredentialRepository
	aead cipher.AEAD
}

// Open derives the encryption key and returns a ready Store. The salt is
// created on first use and kept in the repository next to the blobs.
func Open(ctx context.Context, repo db.CredentialRepository, secret []byte) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("%w: no repository", ErrPersistenceUnavailable)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrPersistenceUnavailable)
	}

	salt, err := loadOrCreateSalt(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	key := argon2.IDKey(secret, salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return &Store{repo: repo, aead: aead}, nil
}

func loadOrCreateSalt(ctx context.Context, repo db.CredentialRepository) ([]byte, error) {
	salt, err := repo.Get(ctx, slotSalt)
	if err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	if len(salt) == saltSize {
		return salt, nil
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := repo.Put(ctx, slotSalt, salt); err != nil {
		return nil, fmt.Errorf("failed to store salt: %w", err)
	}
	return salt, nil
}

// Available reports whether values actually reach encrypted storage.
func (s *Store) Available() bool {
	return s != nil && s.repo != nil && s.aead != nil
}

// Put seals value and writes it to key. The write is durable when Put returns.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if !s.Available() {
		log.Warn().Str("slot", key).Msg("Credential store not initialized, value kept in memory only")
		return nil
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, value, []byte(key))

	if err := s.repo.Put(ctx, key, sealed); err != nil {
		log.Error().Err(err).Str("slot", key).Msg("Failed to write credential")
		return fmt.Errorf("failed to write slot %q: %w", key, err)
	}
	return nil
}

// Get returns the plaintext stored in key, or nil when the slot is empty.
// A blob that fails authentication is reported as empty.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.Available() {
		return nil, nil
	}

	sealed, err := s.repo.Get(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("slot", key).Msg("Failed to read credential")
		return nil, fmt.Errorf("failed to read slot %q: %w", key, err)
	}
	if sealed == nil {
		return nil, nil
	}

	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		log.Warn().Str("slot", key).Msg("Stored credential is truncated, ignoring it")
		return nil, nil
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(key))
	if err != nil {
		log.Warn().Str("slot", key).Msg("Stored credential could not be decrypted, ignoring it")
		return nil, nil
	}
	return plain, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !s.Available() {
		log.Warn().Str("slot", key).Msg("Credential store not initialized, nothing to delete")
		return nil
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		log.Error().Err(err).Str("slot", key).Msg("Failed to delete credential")
		return fmt.Errorf("failed to delete slot %q: %w", key, err)
	}
	return nil
}

// PutJSON encodes v as JSON and stores it under key.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode slot %q: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// GetJSON decodes the value stored under key into v. It reports false when the slot is empty.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode slot %q: %w", key, err)
	}
	return true, nil
}
