// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the processed-update log used to drop
// redelivered transport updates.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-track-bot/internal/domain"
)

// ErrDuplicate indicates that the update was already claimed and has not
// expired yet.
var ErrDuplicate = errors.New("duplicate")

// ClaimUpdate records updateID as processed for ttl. It returns ErrDuplicate
// when a live claim already exists. An expired claim is replaced.
func ClaimUpdate(ctx context.Context, db *gorm.DB, updateID int64, ttl time.Duration) error {
	now := time.Now().UTC()
	tx := db.WithContext(ctx)
	if err := tx.Where("update_id = ? AND expires_at <= ?", updateID, now).
		Delete(&domain.ProcessedUpdate{}).Error; err != nil {
		return err
	}
	rec := &domain.ProcessedUpdate{
		UpdateID:  updateID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := tx.Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// PurgeExpiredUpdates deletes claims that expired at or before now.
func PurgeExpiredUpdates(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ProcessedUpdate{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation recognizes primary-key/unique failures. glebarez/sqlite
// often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "primary key")
}
