package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"modkeeper/internal/models"
	"modkeeper/internal/repository"
)

// ActivityKind names a rewardable activity.
type ActivityKind string

// Rewardable activities.
const (
	ActivityMessageSent     ActivityKind = "message_sent"
	ActivityHelpfulResponse ActivityKind = "helpful_response"
	ActivityDailyActivity   ActivityKind = "daily_activity"
	ActivityWeekStreak      ActivityKind = "week_streak"
	ActivityMonthStreak     ActivityKind = "month_streak"
)

// activityRewards is the fixed point reward table.
var activityRewards = map[ActivityKind]int64{
	ActivityMessageSent:     1,
	ActivityHelpfulResponse: 5,
	ActivityDailyActivity:   10,
	ActivityWeekStreak:      50,
	ActivityMonthStreak:     200,
}

// messageRewardCooldown caps passive farming: at most one message reward per
// user per this window.
const messageRewardCooldown = time.Hour

// dailyBonusReason tags daily-bonus transactions; the same-day idempotency
// check keys off it.
const dailyBonusReason = "Daily bonus"

// streakLookbackDays caps the backward walk of the bonus calculator.
const streakLookbackDays = 30

// PointsService maintains the per-user point economy. Every mutating
// operation is atomic: the balance update and its transaction record commit
// together or not at all.
type PointsService struct {
	ledger   repository.LedgerRepository
	users    repository.UserRepository
	messages repository.MessageRepository
	events   repository.EventRepository
	logger   *slog.Logger
	now      func() time.Time
}

// PointsOption customizes a PointsService.
type PointsOption func(*PointsService)

// WithPointsClock overrides the service clock for tests.
func WithPointsClock(now func() time.Time) PointsOption {
	return func(s *PointsService) { s.now = now }
}

// NewPointsService returns a new PointsService.
func NewPointsService(
	ledger repository.LedgerRepository,
	users repository.UserRepository,
	messages repository.MessageRepository,
	events repository.EventRepository,
	logger *slog.Logger,
	opts ...PointsOption,
) *PointsService {
	s := &PointsService{
		ledger:   ledger,
		users:    users,
		messages: messages,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Award credits amount to the user. With adminID set the transaction is
// recorded as admin_given and a points_given audit event is written.
func (s *PointsService) Award(ctx context.Context, userID int64, amount int64, reason string, adminID *int64, chatID int64) (*models.User, error) {
	if amount <= 0 {
		return nil, models.NewValidationError("Invalid amount")
	}

	kind := models.KindEarned
	if adminID != nil {
		kind = models.KindAdminGiven
	}

	user, _, err := s.ledger.Apply(ctx, userID, func(_ repository.LedgerReader, u *models.User) (*models.LedgerTransaction, error) {
		u.Points += amount
		u.TotalEarned += amount
		return &models.LedgerTransaction{
			UserExternalID: userID,
			ChatID:         chatID,
			Amount:         amount,
			Kind:           kind,
			Reason:         reason,
			AdminID:        adminID,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if adminID != nil {
		s.auditPoints(ctx, userID, chatID, models.ActionPointsGiven, reason, adminID, amount)
	}
	return user, nil
}

// Deduct debits amount from the user, rejecting overdrafts. With adminID set
// the transaction is recorded as admin_taken and a points_taken audit event
// is written.
func (s *PointsService) Deduct(ctx context.Context, userID int64, amount int64, reason string, adminID *int64, chatID int64) (*models.User, error) {
	if amount <= 0 {
		return nil, models.NewValidationError("Invalid amount")
	}

	kind := models.KindSpent
	if adminID != nil {
		kind = models.KindAdminTaken
	}

	user, _, err := s.ledger.Apply(ctx, userID, func(_ repository.LedgerReader, u *models.User) (*models.LedgerTransaction, error) {
		if u.Points < amount {
			return nil, models.NewInsufficientFundsError()
		}
		u.Points -= amount
		u.TotalSpent += amount
		return &models.LedgerTransaction{
			UserExternalID: userID,
			ChatID:         chatID,
			Amount:         -amount,
			Kind:           kind,
			Reason:         reason,
			AdminID:        adminID,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if adminID != nil {
		s.auditPoints(ctx, userID, chatID, models.ActionPointsTaken, reason, adminID, amount)
	}
	return user, nil
}

// Transfer moves amount between two users, writing exactly one spent and one
// earned transaction. Both balance updates commit together or not at all.
func (s *PointsService) Transfer(ctx context.Context, fromID, toID int64, amount int64, reason string) error {
	if amount <= 0 {
		return models.NewValidationError("Invalid amount")
	}
	if fromID == toID {
		return models.NewValidationError("Cannot transfer to yourself")
	}
	if reason == "" {
		reason = "Point transfer"
	}

	return s.ledger.ApplyPair(ctx, fromID, toID, func(from, to *models.User) ([]*models.LedgerTransaction, error) {
		if from.Points < amount {
			return nil, models.NewInsufficientFundsError()
		}

		from.Points -= amount
		from.TotalSpent += amount
		to.Points += amount
		to.TotalEarned += amount

		return []*models.LedgerTransaction{
			{
				UserExternalID: from.ExternalID,
				Amount:         -amount,
				Kind:           models.KindSpent,
				Reason:         fmt.Sprintf("Transfer to %s: %s", to.DisplayName(), reason),
			},
			{
				UserExternalID: to.ExternalID,
				Amount:         amount,
				Kind:           models.KindEarned,
				Reason:         fmt.Sprintf("Transfer from %s: %s", from.DisplayName(), reason),
			},
		}, nil
	})
}

// errMessageRewardCooldown aborts an Apply whose cooldown check found a
// recent reward; translated to a zero-value no-op by RewardActivity.
var errMessageRewardCooldown = errors.New("message reward on cooldown")

// RewardActivity credits the fixed reward for an activity. message_sent is
// cooldown-limited to once per hour; a call inside the window is a no-op
// returning zero. Other kinds rely on their callers for frequency control.
func (s *PointsService) RewardActivity(ctx context.Context, userID int64, kind ActivityKind, chatID int64) (int64, error) {
	reward, ok := activityRewards[kind]
	if !ok {
		return 0, models.NewValidationError(fmt.Sprintf("Unknown activity kind %q", kind))
	}

	txnKind := models.KindActivityBonus
	if kind == ActivityMessageSent {
		txnKind = models.KindMessageReward
	}

	_, _, err := s.ledger.Apply(ctx, userID, func(r repository.LedgerReader, u *models.User) (*models.LedgerTransaction, error) {
		// The cooldown check runs under the row lock so concurrent messages
		// from one user cannot both observe an open window.
		if kind == ActivityMessageSent {
			recent, err := r.HasSince(ctx, userID, models.KindMessageReward, "", s.now().Add(-messageRewardCooldown))
			if err != nil {
				return nil, err
			}
			if recent {
				return nil, errMessageRewardCooldown
			}
		}

		u.Points += reward
		u.TotalEarned += reward
		return &models.LedgerTransaction{
			UserExternalID: userID,
			ChatID:         chatID,
			Amount:         reward,
			Kind:           txnKind,
			Reason:         activityReason(kind),
		}, nil
	})
	if errors.Is(err, errMessageRewardCooldown) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return reward, nil
}

// CalculateDailyBonus computes the tiered bonus for the user's current
// consecutive-day activity streak, walking backward from today. Pure with
// respect to state: nothing is mutated.
func (s *PointsService) CalculateDailyBonus(ctx context.Context, userID int64) (int64, error) {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	days := 0
	for days < streakLookbackDays {
		posted, err := s.messages.PostedOn(ctx, userID, today.AddDate(0, 0, -days))
		if err != nil {
			return 0, err
		}
		if !posted {
			break
		}
		days++
	}

	return streakBonus(days), nil
}

// streakBonus is the tiered daily-bonus schedule.
func streakBonus(days int) int64 {
	d := int64(days)
	switch {
	case days <= 0:
		return 0
	case days <= 6:
		return d * 5
	case days <= 13:
		return 35 + (d-7)*10
	case days <= 29:
		return 105 + (d-14)*15
	default:
		return 330
	}
}

// ClaimDailyBonus grants the user's streak bonus at most once per calendar
// day. The same-day check is a required invariant of every daily-bonus path
// and runs under the row lock: of two concurrent claims, the second blocks
// until the first commits and then sees its transaction.
func (s *PointsService) ClaimDailyBonus(ctx context.Context, userID, chatID int64) (int64, error) {
	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	amount, err := s.CalculateDailyBonus(ctx, userID)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, models.NewValidationError("No activity streak to reward")
	}

	_, _, err = s.ledger.Apply(ctx, userID, func(r repository.LedgerReader, u *models.User) (*models.LedgerTransaction, error) {
		claimed, err := r.HasSince(ctx, userID, models.KindActivityBonus, dailyBonusReason, startOfDay)
		if err != nil {
			return nil, err
		}
		if claimed {
			return nil, models.NewValidationError("Daily bonus already claimed today")
		}

		u.Points += amount
		u.TotalEarned += amount
		return &models.LedgerTransaction{
			UserExternalID: userID,
			ChatID:         chatID,
			Amount:         amount,
			Kind:           models.KindActivityBonus,
			Reason:         dailyBonusReason,
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// Rank returns the user's 1-based position by balance.
func (s *PointsService) Rank(ctx context.Context, userID int64) (int64, error) {
	user, err := s.users.GetByExternalID(ctx, userID)
	if err != nil {
		return 0, err
	}
	richer, err := s.users.CountWithMorePoints(ctx, user.Points)
	if err != nil {
		return 0, err
	}
	return richer + 1, nil
}

// Leaderboard returns the top point holders. chatID is accepted for future
// per-chat boards; ranking is currently global.
func (s *PointsService) Leaderboard(ctx context.Context, chatID int64, limit int) ([]models.User, error) {
	return s.users.Leaderboard(ctx, limit)
}

// History returns the user's recent ledger transactions.
func (s *PointsService) History(ctx context.Context, userID int64, limit int) ([]models.LedgerTransaction, error) {
	return s.ledger.ListForUser(ctx, userID, limit)
}

// auditPoints writes the moderation-log record for an admin-driven points
// change. The ledger mutation has already committed; an audit write failure
// is logged, never propagated.
func (s *PointsService) auditPoints(ctx context.Context, userID, chatID int64, action models.EventAction, reason string, adminID *int64, amount int64) {
	event := &models.ModerationEvent{
		UserExternalID: userID,
		ChatID:         chatID,
		Action:         action,
		Reason:         reason,
		ModeratorID:    adminID,
		Details:        models.JSONMap{"amount": amount},
	}
	if err := s.events.Create(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to write points audit event",
			slog.Int64("user_id", userID), slog.String("error", err.Error()))
	}
}

func activityReason(kind ActivityKind) string {
	switch kind {
	case ActivityMessageSent:
		return "Message sent reward"
	case ActivityHelpfulResponse:
		return "Helpful response reward"
	case ActivityDailyActivity:
		return "Daily activity reward"
	case ActivityWeekStreak:
		return "Week streak reward"
	case ActivityMonthStreak:
		return "Month streak reward"
	default:
		return string(kind) + " reward"
	}
}
