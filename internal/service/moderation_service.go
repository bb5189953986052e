// Package service implements the moderation escalation engine, the points
// ledger, and the background reconciler on top of the repository layer.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"modkeeper/internal/models"
	"modkeeper/internal/observability"
	"modkeeper/internal/repository"
	"modkeeper/internal/risk"
)

// ModerationConfig carries the escalation thresholds and toggles.
type ModerationConfig struct {
	AutoModeration    bool
	ViolenceThreshold float64
	ToxicityThreshold float64
	SevereThreshold   float64
	// MessageRewardProbability gates the message-send activity reward on the
	// clean-message path. Seedable via Rand so tests can force 0.0 or 1.0.
	MessageRewardProbability float64
}

// Rewarder is the points-ledger hook the message path uses for activity
// rewards. Implemented by PointsService.
type Rewarder interface {
	RewardActivity(ctx context.Context, userExternalID int64, kind ActivityKind, chatID int64) (int64, error)
}

// classifierTimeout bounds the external classifier call on the message path.
const classifierTimeout = 2 * time.Second

// ModerationService owns the escalation state machine: it fuses risk
// verdicts, decides enforcement transitions, and records every decision.
type ModerationService struct {
	users      repository.UserRepository
	chats      repository.ChatRepository
	messages   repository.MessageRepository
	events     repository.EventRepository
	cfg        ModerationConfig
	rewarder   Rewarder
	classifier risk.Classifier
	logger     *slog.Logger
	now        func() time.Time
	rand       func() float64
}

func defaultRand() float64 {
	return rand.Float64()
}

// ModerationOption customizes a ModerationService.
type ModerationOption func(*ModerationService)

// WithModerationClock overrides the service clock for tests.
func WithModerationClock(now func() time.Time) ModerationOption {
	return func(s *ModerationService) { s.now = now }
}

// WithRewardRand overrides the reward probability source for tests.
func WithRewardRand(r func() float64) ModerationOption {
	return func(s *ModerationService) { s.rand = r }
}

// WithRewarder attaches the points-ledger hook for message rewards.
func WithRewarder(r Rewarder) ModerationOption {
	return func(s *ModerationService) { s.rewarder = r }
}

// WithClassifier attaches an external content classifier, consulted when the
// caller supplies no scores of its own.
func WithClassifier(c risk.Classifier) ModerationOption {
	return func(s *ModerationService) { s.classifier = c }
}

// NewModerationService returns a new ModerationService.
func NewModerationService(
	users repository.UserRepository,
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	events repository.EventRepository,
	cfg ModerationConfig,
	logger *slog.Logger,
	opts ...ModerationOption,
) *ModerationService {
	s := &ModerationService{
		users:    users,
		chats:    chats,
		messages: messages,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		rand:     defaultRand,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EvaluateMessageInput is one incoming message plus the externally supplied
// classifier result (nil when the classifier was unavailable).
type EvaluateMessageInput struct {
	UserExternalID    int64
	ChatID            int64
	ExternalMessageID int64
	Username          string
	FirstName         string
	Text              string
	External          *risk.ClassifierResult
}

// EvaluateMessageResult reports the verdict and any enforcement taken.
type EvaluateMessageResult struct {
	Verdict risk.Verdict
	Flagged bool
	// Action is empty when no enforcement transition happened.
	Action  models.EventAction
	User    *models.User
	Message *models.Message
}

// EvaluateMessage is the single entry point combining the risk scorer and
// the escalation state machine for one message.
func (s *ModerationService) EvaluateMessage(ctx context.Context, in EvaluateMessageInput) (*EvaluateMessageResult, error) {
	user, err := s.users.FindOrCreate(ctx, in.UserExternalID, in.Username, in.FirstName)
	if err != nil {
		return nil, err
	}
	chat, err := s.chats.FindOrCreate(ctx, in.ChatID, "")
	if err != nil {
		return nil, err
	}
	if err := s.users.RecordActivity(ctx, in.UserExternalID); err != nil {
		return nil, err
	}

	var external risk.ClassifierResult
	if in.External != nil {
		external = *in.External
	} else {
		external = risk.Classify(ctx, s.classifier, in.Text, classifierTimeout, s.logger)
	}
	verdict := risk.Score(in.Text, external)

	flagged := verdict.Violence > s.cfg.ViolenceThreshold || verdict.Toxicity > s.cfg.ToxicityThreshold

	msg := &models.Message{
		ExternalMessageID: in.ExternalMessageID,
		UserExternalID:    in.UserExternalID,
		ChatID:            in.ChatID,
		Content:           in.Text,
		ViolenceScore:     verdict.Violence,
		ToxicityScore:     verdict.Toxicity,
		Flagged:           flagged,
		KeywordFlags:      verdict.Flags,
	}
	if flagged {
		msg.FlagReason = flagReason(verdict, s.cfg)
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	outcome := "clean"
	if flagged {
		outcome = "flagged"
	}
	observability.MessagesEvaluated.WithLabelValues(outcome).Inc()

	result := &EvaluateMessageResult{
		Verdict: verdict,
		Flagged: flagged,
		User:    user,
		Message: msg,
	}

	if !chat.ModerationEnabled || !s.cfg.AutoModeration {
		return result, nil
	}

	if !flagged {
		s.maybeRewardMessage(ctx, in.UserExternalID, in.ChatID)
		return result, nil
	}

	if chat.Settings.AutoDeleteFlagged {
		chat.QueueDeletion(in.ExternalMessageID)
		if err := s.chats.Update(ctx, chat); err != nil {
			s.logger.WarnContext(ctx, "failed to queue flagged message for deletion",
				slog.Int64("chat_id", in.ChatID), slog.String("error", err.Error()))
		}
	}

	eligible, err := s.eligibleForAutoAction(ctx, user, verdict)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return result, nil
	}

	action, err := s.applyAutoAction(ctx, user, verdict, msg)
	if err != nil {
		return nil, err
	}
	observability.ModerationActions.WithLabelValues(string(action), "auto").Inc()
	result.Action = action

	updated, err := s.users.GetByExternalID(ctx, in.UserExternalID)
	if err != nil {
		return nil, err
	}
	result.User = updated
	return result, nil
}

// eligibleForAutoAction applies the auto-moderation gate: exempt roles are
// never auto-moderated; non-severe verdicts require repeat offenses within
// the trailing hour.
func (s *ModerationService) eligibleForAutoAction(ctx context.Context, user *models.User, verdict risk.Verdict) (bool, error) {
	if user.Exempt() {
		return false, nil
	}
	if verdict.Violence > s.cfg.SevereThreshold || verdict.Toxicity > s.cfg.SevereThreshold {
		return true, nil
	}

	recent, err := s.messages.CountFlaggedSince(ctx, user.ExternalID, s.now().Add(-time.Hour))
	if err != nil {
		return false, err
	}
	return recent >= 2, nil
}

// severity is the escalation decision for a flagged, eligible message.
type severity int

const (
	severityWarn severity = iota
	severityMute
	severityBan
)

// decideSeverity implements the escalation table. warnings is the subject's
// warning count prior to this action.
func decideSeverity(verdict risk.Verdict, warnings int, cfg ModerationConfig) severity {
	switch {
	case verdict.Violence > cfg.SevereThreshold || verdict.Toxicity > cfg.SevereThreshold:
		return severityBan
	case verdict.Toxicity > 0.8 && warnings >= 2:
		return severityBan
	case verdict.Violence > cfg.ViolenceThreshold || verdict.Toxicity > cfg.ToxicityThreshold:
		return severityMute
	default:
		return severityWarn
	}
}

// banExpiry returns the end of an escalating ban given the warning count at
// the time of action. Nil means permanent.
func banExpiry(warnings int, now time.Time) *time.Time {
	var d time.Duration
	switch {
	case warnings <= 1:
		d = time.Hour
	case warnings == 2:
		d = 24 * time.Hour
	case warnings == 3:
		d = 7 * 24 * time.Hour
	default:
		return nil
	}
	t := now.Add(d)
	return &t
}

func (s *ModerationService) applyAutoAction(ctx context.Context, user *models.User, verdict risk.Verdict, msg *models.Message) (models.EventAction, error) {
	switch decideSeverity(verdict, user.WarningCount, s.cfg) {
	case severityBan:
		return models.ActionBanned, s.banWithEscalation(ctx, user.ExternalID, msg, "Severe violation", nil)
	case severityMute:
		return models.ActionMuted, s.muteFixed(ctx, user.ExternalID, msg, "Toxic behavior", nil)
	default:
		return s.warnEscalating(ctx, user.ExternalID, msg, "Inappropriate content detected", nil)
	}
}

// banWithEscalation bans a user with the duration table keyed off their
// prior warning count and writes the audit event atomically.
func (s *ModerationService) banWithEscalation(ctx context.Context, targetID int64, msg *models.Message, reason string, moderatorID *int64) error {
	now := s.now()
	_, err := s.users.Mutate(ctx, targetID, func(u *models.User) (*models.ModerationEvent, error) {
		until := banExpiry(u.WarningCount, now)
		u.Status = models.StatusBanned
		u.BannedUntil = until

		details := models.JSONMap{"warning_count": u.WarningCount}
		if until == nil {
			details["permanent"] = true
		} else {
			details["until"] = until.Format(time.RFC3339)
		}
		return s.newEvent(u, msg, models.ActionBanned, reason, moderatorID, details), nil
	})
	return err
}

// muteFixed applies the fixed one-hour auto-mute.
func (s *ModerationService) muteFixed(ctx context.Context, targetID int64, msg *models.Message, reason string, moderatorID *int64) error {
	until := s.now().Add(time.Hour)
	_, err := s.users.Mutate(ctx, targetID, func(u *models.User) (*models.ModerationEvent, error) {
		u.Status = models.StatusMuted
		u.BannedUntil = &until
		details := models.JSONMap{"duration": "1 hour"}
		return s.newEvent(u, msg, models.ActionMuted, reason, moderatorID, details), nil
	})
	return err
}

// warnEscalating increments the warning count; the resulting count selects
// the new status, so a single warn can itself mute or ban. Returns the
// action that was actually recorded.
func (s *ModerationService) warnEscalating(ctx context.Context, targetID int64, msg *models.Message, reason string, moderatorID *int64) (models.EventAction, error) {
	now := s.now()
	var action models.EventAction

	_, err := s.users.Mutate(ctx, targetID, func(u *models.User) (*models.ModerationEvent, error) {
		u.WarningCount++

		details := models.JSONMap{"warning_count": u.WarningCount}
		switch {
		case u.WarningCount == 1:
			u.Status = models.StatusWarned
			u.BannedUntil = nil
			action = models.ActionWarned
		case u.WarningCount == 2:
			until := now.Add(time.Hour)
			u.Status = models.StatusMuted
			u.BannedUntil = &until
			action = models.ActionMuted
			details["duration"] = "1 hour"
		case u.WarningCount == 3:
			until := now.Add(24 * time.Hour)
			u.Status = models.StatusBanned
			u.BannedUntil = &until
			action = models.ActionBanned
			details["duration"] = "24 hours"
		default:
			u.Status = models.StatusBanned
			u.BannedUntil = nil
			action = models.ActionBanned
			details["permanent"] = true
		}
		return s.newEvent(u, msg, action, reason, moderatorID, details), nil
	})
	if err != nil {
		return "", err
	}
	return action, nil
}

func (s *ModerationService) newEvent(u *models.User, msg *models.Message, action models.EventAction, reason string, moderatorID *int64, details models.JSONMap) *models.ModerationEvent {
	event := &models.ModerationEvent{
		UserExternalID: u.ExternalID,
		Action:         action,
		Reason:         reason,
		ModeratorID:    moderatorID,
		Details:        details,
	}
	if msg != nil {
		event.ChatID = msg.ChatID
		event.MessageID = &msg.ID
	}
	return event
}

func (s *ModerationService) maybeRewardMessage(ctx context.Context, userID, chatID int64) {
	if s.rewarder == nil || s.cfg.MessageRewardProbability <= 0 {
		return
	}
	if s.rand() >= s.cfg.MessageRewardProbability {
		return
	}
	if _, err := s.rewarder.RewardActivity(ctx, userID, ActivityMessageSent, chatID); err != nil {
		s.logger.WarnContext(ctx, "message reward failed",
			slog.Int64("user_id", userID), slog.String("error", err.Error()))
	}
}

// CanUserMessage reports whether the user may act right now, lazily resetting
// a lapsed mute/ban to active. The reset keeps the warning count and is a
// no-op for already-active users.
func (s *ModerationService) CanUserMessage(ctx context.Context, userExternalID int64) (bool, error) {
	user, err := s.users.GetByExternalID(ctx, userExternalID)
	if err != nil {
		return false, err
	}

	now := s.now()
	if user.RestrictionLapsed(now) {
		updated, err := s.users.Mutate(ctx, userExternalID, func(u *models.User) (*models.ModerationEvent, error) {
			if u.RestrictionLapsed(now) {
				u.Status = models.StatusActive
				u.BannedUntil = nil
			}
			return nil, nil
		})
		if err != nil {
			return false, err
		}
		user = updated
	}

	if user.IsBanned(now) || user.IsMuted(now) {
		return false, nil
	}
	return true, nil
}

func flagReason(v risk.Verdict, cfg ModerationConfig) string {
	reason := ""
	if v.Violence > cfg.ViolenceThreshold {
		reason = fmt.Sprintf("High violence score (%.2f)", v.Violence)
	}
	if v.Toxicity > cfg.ToxicityThreshold {
		if reason != "" {
			reason += ", "
		}
		reason += fmt.Sprintf("High toxicity score (%.2f)", v.Toxicity)
	}
	return reason
}
