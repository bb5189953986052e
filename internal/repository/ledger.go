package repository

import (
	"context"
	"time"

	"modkeeper/internal/models"
	"modkeeper/internal/observability"

	"gorm.io/gorm"
)

// LedgerReader is the read view an Apply callback receives. Its queries run
// inside the same transaction as the pending mutation, after the user row
// lock is held, so check-then-act guards (cooldowns, once-per-day claims)
// serialize with concurrent appliers instead of racing them.
type LedgerReader interface {
	HasSince(ctx context.Context, externalID int64, kind models.TransactionKind, reason string, since time.Time) (bool, error)
}

// LedgerRepository couples user balance updates with transaction inserts so
// every ledger mutation is atomic: both commit or neither does.
type LedgerRepository interface {
	// Apply locks the user row, lets fn mutate the balance and build the
	// transaction record, then persists both atomically.
	Apply(ctx context.Context, externalID int64, fn func(r LedgerReader, u *models.User) (*models.LedgerTransaction, error)) (*models.User, *models.LedgerTransaction, error)
	// ApplyPair locks two user rows in ascending external-ID order (deadlock
	// avoidance under opposing concurrent transfers) and persists both users
	// plus all returned transactions atomically.
	ApplyPair(ctx context.Context, aID, bID int64, fn func(a, b *models.User) ([]*models.LedgerTransaction, error)) error
	// HasSince reports whether a transaction of the given kind exists for the
	// user at or after since. A non-empty reason restricts the match.
	HasSince(ctx context.Context, externalID int64, kind models.TransactionKind, reason string, since time.Time) (bool, error)
	ListForUser(ctx context.Context, externalID int64, limit int) ([]models.LedgerTransaction, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository returns a new LedgerRepository implementation.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Apply(ctx context.Context, externalID int64, fn func(r LedgerReader, u *models.User) (*models.LedgerTransaction, error)) (*models.User, *models.LedgerTransaction, error) {
	var (
		resultUser *models.User
		resultTxn  *models.LedgerTransaction
	)

	err := runInTxWithRetry(ctx, r.db, func(tx *gorm.DB) error {
		user, err := lockedUserByExternalID(tx, externalID)
		if err != nil {
			return err
		}

		txn, err := fn(txLedgerReader{tx: tx}, user)
		if err != nil {
			return err
		}

		if err := tx.Save(user).Error; err != nil {
			return models.NewInternalError(err)
		}
		if err := tx.Create(txn).Error; err != nil {
			return models.NewInternalError(err)
		}

		resultUser, resultTxn = user, txn
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	observability.LedgerTransactions.WithLabelValues(string(resultTxn.Kind)).Inc()
	return resultUser, resultTxn, nil
}

func (r *ledgerRepository) ApplyPair(ctx context.Context, aID, bID int64, fn func(a, b *models.User) ([]*models.LedgerTransaction, error)) error {
	var committed []*models.LedgerTransaction
	err := runInTxWithRetry(ctx, r.db, func(tx *gorm.DB) error {
		// Lock order: lower external ID first, consistently across callers.
		firstID, secondID := aID, bID
		if secondID < firstID {
			firstID, secondID = secondID, firstID
		}

		first, err := lockedUserByExternalID(tx, firstID)
		if err != nil {
			return err
		}
		second, err := lockedUserByExternalID(tx, secondID)
		if err != nil {
			return err
		}

		a, b := first, second
		if aID != firstID {
			a, b = second, first
		}

		txns, err := fn(a, b)
		if err != nil {
			return err
		}

		if err := tx.Save(a).Error; err != nil {
			return models.NewInternalError(err)
		}
		if err := tx.Save(b).Error; err != nil {
			return models.NewInternalError(err)
		}
		for _, txn := range txns {
			if err := tx.Create(txn).Error; err != nil {
				return models.NewInternalError(err)
			}
		}
		committed = txns
		return nil
	})
	if err != nil {
		return err
	}
	for _, txn := range committed {
		observability.LedgerTransactions.WithLabelValues(string(txn.Kind)).Inc()
	}
	return nil
}

func (r *ledgerRepository) HasSince(ctx context.Context, externalID int64, kind models.TransactionKind, reason string, since time.Time) (bool, error) {
	return hasSince(r.db.WithContext(ctx), externalID, kind, reason, since)
}

// txLedgerReader runs reads on the transaction an Apply is executing in.
type txLedgerReader struct {
	tx *gorm.DB
}

func (r txLedgerReader) HasSince(_ context.Context, externalID int64, kind models.TransactionKind, reason string, since time.Time) (bool, error) {
	return hasSince(r.tx, externalID, kind, reason, since)
}

func hasSince(db *gorm.DB, externalID int64, kind models.TransactionKind, reason string, since time.Time) (bool, error) {
	query := db.
		Model(&models.LedgerTransaction{}).
		Where("user_external_id = ? AND kind = ? AND created_at >= ?", externalID, kind, since)
	if reason != "" {
		query = query.Where("reason = ?", reason)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *ledgerRepository) ListForUser(ctx context.Context, externalID int64, limit int) ([]models.LedgerTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var txns []models.LedgerTransaction
	if err := r.db.WithContext(ctx).
		Where("user_external_id = ?", externalID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txns).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return txns, nil
}
