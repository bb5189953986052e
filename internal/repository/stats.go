package repository

import (
	"context"
	"time"

	"modkeeper/internal/models"

	"gorm.io/gorm"
)

// Stats is a point-in-time snapshot for the dashboard overview.
type Stats struct {
	TotalUsers          int64 `json:"total_users"`
	ActiveBans          int64 `json:"active_bans"`
	ActiveMutes         int64 `json:"active_mutes"`
	FlaggedMessages24h  int64 `json:"flagged_messages_24h"`
	PointsInCirculation int64 `json:"points_in_circulation"`
}

// StatsRepository aggregates dashboard counters.
type StatsRepository interface {
	Snapshot(ctx context.Context, now time.Time) (*Stats, error)
}

type statsRepository struct {
	db *gorm.DB
}

// NewStatsRepository returns a new StatsRepository implementation.
func NewStatsRepository(db *gorm.DB) StatsRepository {
	return &statsRepository{db: db}
}

func (r *statsRepository) Snapshot(ctx context.Context, now time.Time) (*Stats, error) {
	var stats Stats

	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Count(&stats.TotalUsers).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	// NULL banned_until means permanent; timed bans whose expiry has passed
	// but not yet been swept do not count.
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("status = ? AND (banned_until IS NULL OR banned_until > ?)", models.StatusBanned, now).
		Count(&stats.ActiveBans).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("status = ? AND banned_until > ?", models.StatusMuted, now).
		Count(&stats.ActiveMutes).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("flagged = ? AND created_at > ?", true, now.Add(-24*time.Hour)).
		Count(&stats.FlaggedMessages24h).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("COALESCE(SUM(points), 0)").
		Scan(&stats.PointsInCirculation).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	return &stats, nil
}
