package repository

import (
	"context"
	"errors"
	"time"

	"modkeeper/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByExternalID(ctx context.Context, externalID int64) (*models.User, error)
	FindOrCreate(ctx context.Context, externalID int64, username, firstName string) (*models.User, error)
	// Mutate applies fn to the user row under a row-level lock. A non-nil
	// ModerationEvent returned by fn is inserted in the same transaction, so
	// the state change and its audit record commit or roll back together.
	Mutate(ctx context.Context, externalID int64, fn func(u *models.User) (*models.ModerationEvent, error)) (*models.User, error)
	// RecordActivity bumps the message counter and last-interaction stamp.
	RecordActivity(ctx context.Context, externalID int64) error
	// ExpireLapsed bulk-resets users whose timed mute/ban has passed.
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
	Leaderboard(ctx context.Context, limit int) ([]models.User, error)
	CountWithMorePoints(ctx context.Context, points int64) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", externalID)
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

// FindOrCreate returns the user for externalID, creating the row on first
// contact and refreshing display fields and LastInteraction otherwise.
func (r *userRepository) FindOrCreate(ctx context.Context, externalID int64, username, firstName string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			ExternalID:      externalID,
			Username:        username,
			FirstName:       firstName,
			Role:            models.RoleMember,
			Status:          models.StatusActive,
			LastInteraction: time.Now(),
		}
		if createErr := r.db.WithContext(ctx).Create(&user).Error; createErr != nil {
			if isUniqueConstraintError(createErr) {
				// Lost a create race; the row exists now.
				return r.GetByExternalID(ctx, externalID)
			}
			return nil, models.NewInternalError(createErr)
		}
		return &user, nil
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	updates := map[string]any{"last_interaction": time.Now()}
	if username != "" && username != user.Username {
		updates["username"] = username
	}
	if firstName != "" && firstName != user.FirstName {
		updates["first_name"] = firstName
	}
	if err := r.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) Mutate(ctx context.Context, externalID int64, fn func(u *models.User) (*models.ModerationEvent, error)) (*models.User, error) {
	var result *models.User

	err := runInTxWithRetry(ctx, r.db, func(tx *gorm.DB) error {
		user, err := lockedUserByExternalID(tx, externalID)
		if err != nil {
			return err
		}

		event, err := fn(user)
		if err != nil {
			return err
		}

		if err := tx.Save(user).Error; err != nil {
			return models.NewInternalError(err)
		}
		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return models.NewInternalError(err)
			}
		}

		result = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *userRepository) RecordActivity(ctx context.Context, externalID int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("external_id = ?", externalID).
		Updates(map[string]any{
			"message_count":    gorm.Expr("message_count + 1"),
			"last_interaction": time.Now(),
		})
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", externalID)
	}
	return nil
}

func (r *userRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("banned_until IS NOT NULL AND banned_until <= ?", now).
		Where("status IN ?", []models.Status{models.StatusMuted, models.StatusBanned}).
		Updates(map[string]any{"status": models.StatusActive, "banned_until": nil})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

// Leaderboard returns users holding points, richest first, insertion order
// breaking ties.
func (r *userRepository) Leaderboard(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	var users []models.User
	if err := r.db.WithContext(ctx).
		Where("points > 0").
		Order("points DESC, id ASC").
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *userRepository) CountWithMorePoints(ctx context.Context, points int64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("points > ?", points).
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}
