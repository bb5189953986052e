package server

import (
	"errors"

	"modkeeper/internal/models"
	"modkeeper/internal/risk"
	"modkeeper/internal/service"

	"github.com/gofiber/fiber/v2"
)

// EvaluateMessage handles POST /api/messages: the ingest point where a bot
// client submits one chat message for scoring and possible enforcement.
// Classifier scores are supplied by the caller; absent scores fall back to
// the safe default so moderation never blocks on the classifier.
func (s *Server) EvaluateMessage(c *fiber.Ctx) error {
	var req struct {
		UserID    int64  `json:"user_id"`
		ChatID    int64  `json:"chat_id"`
		MessageID int64  `json:"message_id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		Text      string `json:"text"`
		Scores    *struct {
			Violence float64 `json:"violence"`
			Toxicity float64 `json:"toxicity"`
			Safe     bool    `json:"safe"`
		} `json:"scores"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.UserID == 0 || req.ChatID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("user_id and chat_id are required"))
	}

	ctx := c.UserContext()

	if !s.limiter.Allow(ctx, req.UserID, req.ChatID) {
		minute, hour := s.limiter.Remaining(ctx, req.UserID, req.ChatID)
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":            "Rate limit exceeded",
			"remaining_minute": minute,
			"remaining_hour":   hour,
		})
	}

	// A restricted sender's message is rejected without scoring. Unknown
	// senders pass: EvaluateMessage registers them.
	allowed, err := s.moderation.CanUserMessage(ctx, req.UserID)
	if err != nil {
		var appErr *models.AppError
		if !errors.As(err, &appErr) || appErr.Code != models.CodeNotFound {
			return respondError(c, err)
		}
		allowed = true
	}
	if !allowed {
		return c.JSON(fiber.Map{
			"allowed": false,
			"reason":  "User is muted or banned",
		})
	}

	in := service.EvaluateMessageInput{
		UserExternalID:    req.UserID,
		ChatID:            req.ChatID,
		ExternalMessageID: req.MessageID,
		Username:          req.Username,
		FirstName:         req.FirstName,
		Text:              req.Text,
	}
	if req.Scores != nil {
		in.External = &risk.ClassifierResult{
			Violence: req.Scores.Violence,
			Toxicity: req.Scores.Toxicity,
			Safe:     req.Scores.Safe,
		}
	}

	result, err := s.moderation.EvaluateMessage(ctx, in)
	if err != nil {
		return respondError(c, err)
	}

	minute, hour := s.limiter.Remaining(ctx, req.UserID, req.ChatID)
	resp := fiber.Map{
		"allowed": true,
		"flagged": result.Flagged,
		"verdict": result.Verdict,
		"user":    result.User,
		"remaining": fiber.Map{
			"minute": minute,
			"hour":   hour,
		},
	}
	if result.Action != "" {
		resp["action"] = result.Action
	}
	return c.JSON(resp)
}

// CanUserMessage handles GET /api/users/:id/can-message.
func (s *Server) CanUserMessage(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return respondError(c, err)
	}

	allowed, err := s.moderation.CanUserMessage(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"allowed": allowed})
}
