package repository

import (
	"context"
	"time"

	"modkeeper/internal/models"

	"gorm.io/gorm"
)

// MessageRepository persists stored messages and answers the history queries
// the escalation and streak logic depend on.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	CountFlaggedSince(ctx context.Context, userExternalID int64, since time.Time) (int64, error)
	// PostedOn reports whether the user posted at least once during the
	// calendar day starting at dayStart.
	PostedOn(ctx context.Context, userExternalID int64, dayStart time.Time) (bool, error)
	// ActiveUserIDs returns external IDs of users with at least minCount
	// messages since the given time.
	ActiveUserIDs(ctx context.Context, since time.Time, minCount int) ([]int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository returns a new MessageRepository implementation.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) CountFlaggedSince(ctx context.Context, userExternalID int64, since time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("user_external_id = ? AND flagged = ? AND created_at > ?", userExternalID, true, since).
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func (r *messageRepository) PostedOn(ctx context.Context, userExternalID int64, dayStart time.Time) (bool, error) {
	// AddDate keeps the bound on the next calendar midnight across DST
	// transitions, where the day is not 24 hours long.
	dayEnd := dayStart.AddDate(0, 0, 1)

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("user_external_id = ? AND created_at >= ? AND created_at < ?", userExternalID, dayStart, dayEnd).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *messageRepository) ActiveUserIDs(ctx context.Context, since time.Time, minCount int) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("user_external_id").
		Where("created_at > ?", since).
		Group("user_external_id").
		Having("COUNT(*) >= ?", minCount).
		Pluck("user_external_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}
