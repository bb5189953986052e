// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"strings"

	"modkeeper/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate is the row-level lock every per-user read-modify-write acquires.
// The live path and the reconciler share this serialization boundary.
func forUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

// maxTxRetries bounds retries of transactions that hit a serialization or
// deadlock failure before the conflict is surfaced to the caller.
const maxTxRetries = 3

// isUniqueConstraintError checks if a DB error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	// PostgreSQL unique violation SQLSTATE 23505
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "23505")
}

// isRetryableTxError checks for PostgreSQL serialization failures (40001) and
// deadlocks (40P01), which are safe to retry.
func isRetryableTxError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "40p01") ||
		strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize")
}

// runInTxWithRetry runs fn inside a transaction, retrying bounded times on
// retryable conflicts. AppErrors returned by fn pass through untouched.
func runInTxWithRetry(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !isRetryableTxError(err) {
			return err
		}
	}
	return models.NewConflictError(err)
}

// lockedUserByExternalID loads a user row under FOR UPDATE within tx.
func lockedUserByExternalID(tx *gorm.DB, externalID int64) (*models.User, error) {
	var user models.User
	if err := tx.
		Clauses(forUpdate()).
		Where("external_id = ?", externalID).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", externalID)
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}
