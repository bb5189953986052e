package repository

import (
	"context"

	"modkeeper/internal/models"

	"gorm.io/gorm"
)

// EventRepository persists the immutable moderation audit trail. Most events
// are written inside the user mutation transaction (see UserRepository);
// this repository covers standalone audit writes.
type EventRepository interface {
	Create(ctx context.Context, event *models.ModerationEvent) error
	ListForUser(ctx context.Context, userExternalID int64, limit int) ([]models.ModerationEvent, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository returns a new EventRepository implementation.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Create(ctx context.Context, event *models.ModerationEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *eventRepository) ListForUser(ctx context.Context, userExternalID int64, limit int) ([]models.ModerationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var events []models.ModerationEvent
	if err := r.db.WithContext(ctx).
		Where("user_external_id = ?", userExternalID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return events, nil
}
