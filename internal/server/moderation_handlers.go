package server

import (
	"modkeeper/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Manual enforcement endpoints. Each delegates to the same service operation
// the bot-command surface uses; privilege checks live in the service layer.

// WarnUser handles POST /api/users/:id/warn.
func (s *Server) WarnUser(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	action, err := s.moderation.Warn(c.UserContext(), actorID(c), id, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"action": action})
}

// MuteUser handles POST /api/users/:id/mute.
func (s *Server) MuteUser(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Hours  int    `json:"hours"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if err := s.moderation.Mute(c.UserContext(), actorID(c), id, req.Hours, req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"action": models.ActionMuted})
}

// BanUser handles POST /api/users/:id/ban.
func (s *Server) BanUser(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if err := s.moderation.Ban(c.UserContext(), actorID(c), id, req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"action": models.ActionBanned})
}

// UnbanUser handles POST /api/users/:id/unban.
func (s *Server) UnbanUser(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}

	if err := s.moderation.Unban(c.UserContext(), actorID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"action": models.ActionUnbanned})
}

// PromoteUser handles POST /api/users/:id/promote.
func (s *Server) PromoteUser(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	role := models.Role(req.Role)
	if req.Role == "" {
		role = models.RoleModerator
	}

	if err := s.moderation.Promote(c.UserContext(), actorID(c), id, role); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"role": role})
}

// DemoteUser handles POST /api/users/:id/demote.
func (s *Server) DemoteUser(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}

	if err := s.moderation.Demote(c.UserContext(), actorID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"role": models.RoleMember})
}
