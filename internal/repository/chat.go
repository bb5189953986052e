package repository

import (
	"context"
	"errors"

	"modkeeper/internal/models"

	"gorm.io/gorm"
)

// ChatRepository defines persistence operations for chat contexts.
type ChatRepository interface {
	GetByChatID(ctx context.Context, chatID int64) (*models.ChatContext, error)
	FindOrCreate(ctx context.Context, chatID int64, title string) (*models.ChatContext, error)
	Update(ctx context.Context, chat *models.ChatContext) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository returns a new ChatRepository implementation.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) GetByChatID(ctx context.Context, chatID int64) (*models.ChatContext, error) {
	var chat models.ChatContext
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Chat", chatID)
		}
		return nil, models.NewInternalError(err)
	}
	return &chat, nil
}

func (r *chatRepository) FindOrCreate(ctx context.Context, chatID int64, title string) (*models.ChatContext, error) {
	var chat models.ChatContext
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		chat = models.ChatContext{
			ChatID:            chatID,
			Title:             title,
			ModerationEnabled: true,
		}
		if createErr := r.db.WithContext(ctx).Create(&chat).Error; createErr != nil {
			if isUniqueConstraintError(createErr) {
				return r.GetByChatID(ctx, chatID)
			}
			return nil, models.NewInternalError(createErr)
		}
		return &chat, nil
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	if title != "" && title != chat.Title {
		if err := r.db.WithContext(ctx).Model(&chat).Update("title", title).Error; err != nil {
			return nil, models.NewInternalError(err)
		}
	}
	return &chat, nil
}

func (r *chatRepository) Update(ctx context.Context, chat *models.ChatContext) error {
	if err := r.db.WithContext(ctx).Save(chat).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
