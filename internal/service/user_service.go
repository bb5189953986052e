package service

import (
	"context"
	"log/slog"

	"modkeeper/internal/models"
	"modkeeper/internal/repository"
)

// UserDetail aggregates a user with their enforcement and ledger history for
// admin views.
type UserDetail struct {
	User         models.User                `json:"user"`
	Events       []models.ModerationEvent   `json:"events"`
	Transactions []models.LedgerTransaction `json:"transactions"`
	Rank         int64                      `json:"rank"`
	Warnings     []string                   `json:"warnings,omitempty"`
}

// UserService provides read-side user lookups for the admin surfaces.
type UserService struct {
	users  repository.UserRepository
	events repository.EventRepository
	ledger repository.LedgerRepository
	logger *slog.Logger
}

// NewUserService returns a new UserService.
func NewUserService(
	users repository.UserRepository,
	events repository.EventRepository,
	ledger repository.LedgerRepository,
	logger *slog.Logger,
) *UserService {
	return &UserService{users: users, events: events, ledger: ledger, logger: logger}
}

// GetUser returns the user for an external ID.
func (s *UserService) GetUser(ctx context.Context, externalID int64) (*models.User, error) {
	return s.users.GetByExternalID(ctx, externalID)
}

// GetUserDetail returns the user plus their recent audit and ledger history.
// History loads are best-effort: a failed section is reported as a partial
// data warning instead of failing the whole view.
func (s *UserService) GetUserDetail(ctx context.Context, externalID int64) (*UserDetail, error) {
	user, err := s.users.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	detail := &UserDetail{User: *user}

	if events, err := s.events.ListForUser(ctx, externalID, 50); err != nil {
		s.logger.WarnContext(ctx, "failed to load moderation events for user",
			slog.Int64("user_id", externalID), slog.String("error", err.Error()))
		detail.Warnings = append(detail.Warnings, "Partial data: Moderation events could not be loaded.")
	} else {
		detail.Events = events
	}

	if txns, err := s.ledger.ListForUser(ctx, externalID, 20); err != nil {
		s.logger.WarnContext(ctx, "failed to load ledger transactions for user",
			slog.Int64("user_id", externalID), slog.String("error", err.Error()))
		detail.Warnings = append(detail.Warnings, "Partial data: Ledger transactions could not be loaded.")
	} else {
		detail.Transactions = txns
	}

	if richer, err := s.users.CountWithMorePoints(ctx, user.Points); err != nil {
		s.logger.WarnContext(ctx, "failed to compute rank for user",
			slog.Int64("user_id", externalID), slog.String("error", err.Error()))
		detail.Warnings = append(detail.Warnings, "Partial data: Rank could not be computed.")
	} else {
		detail.Rank = richer + 1
	}

	return detail, nil
}
