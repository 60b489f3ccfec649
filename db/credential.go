package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Credential is one opaque, already-encrypted blob stored under a slot name.
type Credential struct {
	Slot      string `gorm:"primaryKey"`
	Blob      []byte
	UpdatedAt time.Time
}

// CredentialRepository defines decoupled operations for credential persistence.
type CredentialRepository interface {
	Get(ctx context.Context, slot string) ([]byte, error)
	Put(ctx context.Context, slot string, blob []byte) error
	Delete(ctx context.Context, slot string) error
}

// gormCredentialRepo is a GORM-backed implementation of CredentialRepository.
// Use constructor NewCredentialRepository to obtain an instance.
type gormCredentialRepo struct{ db *gorm.DB }

// NewCredentialRepository creates a CredentialRepository. Accepts *gorm.DB to avoid global access.
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &gormCredentialRepo{db: db}
}

// Get returns the blob stored in slot, or nil when the slot is empty.
func (r *gormCredentialRepo) Get(ctx context.Context, slot string) ([]byte, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var cred Credential
	err := r.db.WithContext(ctx).First(&cred, "slot = ?", slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cred.Blob, nil
}

// Put inserts or replaces the blob in slot in a single statement.
func (r *gormCredentialRepo) Put(ctx context.Context, slot string, blob []byte) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "updated_at"}),
	}).Create(&Credential{Slot: slot, Blob: blob}).Error
}

// Delete removes slot. Deleting an empty slot is not an error.
func (r *gormCredentialRepo) Delete(ctx context.Context, slot string) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Where("slot = ?", slot).Delete(&Credential{}).Error
}
