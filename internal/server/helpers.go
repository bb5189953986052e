package server

import (
	"strconv"

	"modkeeper/internal/models"

	"github.com/gofiber/fiber/v2"
)

// statusForError maps AppError codes to HTTP status codes.
func statusForError(err error) int {
	switch models.CodeOf(err) {
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeInsufficientFunds:
		return fiber.StatusUnprocessableEntity
	case models.CodeConflict:
		return fiber.StatusConflict
	case models.CodeUnauthorized:
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, statusForError(err), err)
}

// userIDParam parses the :id route parameter as an external user ID.
func userIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, models.NewValidationError("Invalid user ID")
	}
	return id, nil
}

// actorID returns the authenticated admin's external user ID, set by
// AuthRequired.
func actorID(c *fiber.Ctx) int64 {
	if id, ok := c.Locals("adminID").(int64); ok {
		return id
	}
	return 0
}
