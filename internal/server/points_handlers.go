package server

import (
	"strconv"
	"time"

	"modkeeper/internal/models"

	"github.com/gofiber/fiber/v2"
)

// AdjustPoints handles POST /api/users/:id/points. The acting admin is taken
// from the session, so the change is recorded as admin_given/admin_taken with
// its audit event.
func (s *Server) AdjustPoints(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Action string `json:"action"`
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.Reason == "" {
		req.Reason = "Admin adjustment"
	}

	admin := actorID(c)

	var user *models.User
	switch req.Action {
	case "award", "":
		user, err = s.points.Award(c.UserContext(), id, req.Amount, req.Reason, &admin, 0)
	case "deduct":
		user, err = s.points.Deduct(c.UserContext(), id, req.Amount, req.Reason, &admin, 0)
	default:
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Action must be 'award' or 'deduct'"))
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}

// TransferPoints handles POST /api/transfers.
func (s *Server) TransferPoints(c *fiber.Ctx) error {
	var req struct {
		FromID int64  `json:"from_id"`
		ToID   int64  `json:"to_id"`
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if err := s.points.Transfer(c.UserContext(), req.FromID, req.ToID, req.Amount, req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Transfer completed"})
}

// ClaimDailyBonus handles POST /api/users/:id/daily-bonus.
func (s *Server) ClaimDailyBonus(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}

	amount, err := s.points.ClaimDailyBonus(c.UserContext(), id, 0)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"amount": amount})
}

// GetLeaderboard handles GET /api/leaderboard.
func (s *Server) GetLeaderboard(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "10"))

	users, err := s.points.Leaderboard(c.UserContext(), 0, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"leaderboard": users})
}

// GetUserDetail handles GET /api/users/:id.
func (s *Server) GetUserDetail(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}

	detail, err := s.userService.GetUserDetail(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(detail)
}

// GetStats handles GET /api/stats.
func (s *Server) GetStats(c *fiber.Ctx) error {
	stats, err := s.stats.Snapshot(c.UserContext(), time.Now())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}
