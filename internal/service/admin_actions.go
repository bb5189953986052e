package service

import (
	"context"
	"fmt"
	"time"

	"modkeeper/internal/models"
	"modkeeper/internal/observability"
)

// Manual enforcement operations, shared by the bot-command surface and the
// dashboard. They bypass the auto-moderation eligibility gate but still
// refuse to target admins and always write one ModerationEvent.

// requireActor loads the acting user and checks their privilege level.
func (s *ModerationService) requireActor(ctx context.Context, actorID int64, minRole models.Role) (*models.User, error) {
	actor, err := s.users.GetByExternalID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.AtLeast(minRole) {
		return nil, models.NewUnauthorizedError(fmt.Sprintf("Requires %s privileges", minRole))
	}
	return actor, nil
}

// Warn increments the target's warning count; the resulting count may itself
// mute or ban (see warnEscalating). Returns the recorded action.
func (s *ModerationService) Warn(ctx context.Context, actorID, targetID int64, reason string) (models.EventAction, error) {
	actor, err := s.requireActor(ctx, actorID, models.RoleModerator)
	if err != nil {
		return "", err
	}
	if err := s.refuseAdminTarget(ctx, targetID, "warn"); err != nil {
		return "", err
	}
	if reason == "" {
		reason = "No reason provided"
	}
	action, err := s.warnEscalating(ctx, targetID, nil, reason, &actor.ExternalID)
	if err != nil {
		return "", err
	}
	observability.ModerationActions.WithLabelValues(string(action), "manual").Inc()
	return action, nil
}

// Mute silences the target for the given number of hours (default 1).
func (s *ModerationService) Mute(ctx context.Context, actorID, targetID int64, hours int, reason string) error {
	actor, err := s.requireActor(ctx, actorID, models.RoleModerator)
	if err != nil {
		return err
	}
	if err := s.refuseAdminTarget(ctx, targetID, "mute"); err != nil {
		return err
	}
	if hours <= 0 {
		hours = 1
	}
	if reason == "" {
		reason = "No reason provided"
	}

	until := s.now().Add(time.Duration(hours) * time.Hour)
	_, err = s.users.Mutate(ctx, targetID, func(u *models.User) (*models.ModerationEvent, error) {
		u.Status = models.StatusMuted
		u.BannedUntil = &until
		details := models.JSONMap{"duration_hours": hours}
		return s.newEvent(u, nil, models.ActionMuted, reason, &actor.ExternalID, details), nil
	})
	if err == nil {
		observability.ModerationActions.WithLabelValues(string(models.ActionMuted), "manual").Inc()
	}
	return err
}

// Ban permanently bans the target.
func (s *ModerationService) Ban(ctx context.Context, actorID, targetID int64, reason string) error {
	actor, err := s.requireActor(ctx, actorID, models.RoleModerator)
	if err != nil {
		return err
	}
	if err := s.refuseAdminTarget(ctx, targetID, "ban"); err != nil {
		return err
	}
	if reason == "" {
		reason = "No reason provided"
	}

	_, err = s.users.Mutate(ctx, targetID, func(u *models.User) (*models.ModerationEvent, error) {
		u.Status = models.StatusBanned
		u.BannedUntil = nil
		details := models.JSONMap{"permanent": true}
		return s.newEvent(u, nil, models.ActionBanned, reason, &actor.ExternalID, details), nil
	})
	if err == nil {
		observability.ModerationActions.WithLabelValues(string(models.ActionBanned), "manual").Inc()
	}
	return err
}

// Unban restores the target to active and clears the warning count — the
// only operation that decreases it.
func (s *ModerationService) Unban(ctx context.Context, actorID, targetID int64) error {
	actor, err := s.requireActor(ctx, actorID, models.RoleModerator)
	if err != nil {
		return err
	}

	_, err = s.users.Mutate(ctx, targetID, func(u *models.User) (*models.ModerationEvent, error) {
		u.Status = models.StatusActive
		u.BannedUntil = nil
		u.WarningCount = 0
		return s.newEvent(u, nil, models.ActionUnbanned, "Unbanned by admin", &actor.ExternalID, nil), nil
	})
	if err == nil {
		observability.ModerationActions.WithLabelValues(string(models.ActionUnbanned), "manual").Inc()
	}
	return err
}

// Promote changes the target's role. Admin-only.
func (s *ModerationService) Promote(ctx context.Context, actorID, targetID int64, newRole models.Role) error {
	actor, err := s.requireActor(ctx, actorID, models.RoleAdmin)
	if err != nil {
		return err
	}
	if !newRole.Valid() {
		return models.NewValidationError("Invalid role")
	}

	_, err = s.users.Mutate(ctx, targetID, func(u *models.User) (*models.ModerationEvent, error) {
		oldRole := u.Role
		u.Role = newRole

		action := models.ActionPromoted
		if !newRole.AtLeast(oldRole) {
			action = models.ActionDemoted
		}
		details := models.JSONMap{"old_role": string(oldRole), "new_role": string(newRole)}
		reason := fmt.Sprintf("Role changed from %s to %s", oldRole, newRole)
		return s.newEvent(u, nil, action, reason, &actor.ExternalID, details), nil
	})
	return err
}

// Demote resets the target to a regular member. Admin-only.
func (s *ModerationService) Demote(ctx context.Context, actorID, targetID int64) error {
	return s.Promote(ctx, actorID, targetID, models.RoleMember)
}

func (s *ModerationService) refuseAdminTarget(ctx context.Context, targetID int64, verb string) error {
	target, err := s.users.GetByExternalID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Role == models.RoleAdmin {
		return models.NewValidationError(fmt.Sprintf("Cannot %s admins", verb))
	}
	return nil
}
