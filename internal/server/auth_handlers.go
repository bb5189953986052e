package server

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"modkeeper/internal/middleware"
	"modkeeper/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionTTL  = 24 * time.Hour
	tokenIssuer = "modkeeper-api"
	tokenAud    = "modkeeper-dashboard"
)

// Login handles POST /api/login. It checks the dashboard credentials, stores
// a revocable session row, and issues a JWT whose jti references it.
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.Username == "" || req.Password == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Username and password are required"))
	}

	if s.config.DashboardPasswordHash == "" {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewUnauthorizedError("Dashboard login is not configured"))
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.config.DashboardUser)) == 1
	passErr := bcrypt.CompareHashAndPassword(
		[]byte(s.config.DashboardPasswordHash), []byte(req.Password))
	if !userOK || passErr != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid credentials"))
	}

	now := time.Now()
	session := &models.AdminSession{
		Token:          uuid.New().String(),
		UserExternalID: s.config.DashboardAdminID,
		ExpiresAt:      now.Add(sessionTTL),
	}
	if err := s.sessions.Create(c.Context(), session); err != nil {
		return respondError(c, err)
	}

	token, err := s.generateToken(session, now)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"token":      token,
		"expires_at": session.ExpiresAt,
	})
}

// Logout handles POST /api/logout by revoking the current session row.
func (s *Server) Logout(c *fiber.Ctx) error {
	token, ok := c.Locals("sessionToken").(string)
	if ok && token != "" {
		if err := s.sessions.DeleteByToken(c.Context(), token); err != nil {
			return respondError(c, err)
		}
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// generateToken creates the JWT for a stored session.
func (s *Server) generateToken(session *models.AdminSession, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(session.UserExternalID, 10),
		"iss": tokenIssuer,
		"aud": tokenAud,
		"exp": session.ExpiresAt.Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": session.Token,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// AuthRequired returns the authentication middleware. A token is valid only
// while its backing session row exists and has not expired, so logout and the
// reconciler's session purge both revoke access immediately.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		tokenString := ""
		if parts := strings.Split(authHeader, " "); len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
			}
			return []byte(s.config.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token claims"))
		}
		if issuer, issuerOK := claims["iss"].(string); !issuerOK || issuer != tokenIssuer {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token issuer"))
		}
		if audience, audOK := claims["aud"].(string); !audOK || audience != tokenAud {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token audience"))
		}

		jti, ok := claims["jti"].(string)
		if !ok || jti == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token ID"))
		}
		session, err := s.sessions.GetByToken(c.Context(), jti)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Session revoked"))
		}
		if session.Expired(time.Now()) {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Session expired"))
		}

		c.Locals("adminID", session.UserExternalID)
		c.Locals("sessionToken", session.Token)
		ctx := context.WithValue(c.UserContext(), middleware.AdminIDKey, session.UserExternalID)
		c.SetUserContext(ctx)
		return c.Next()
	}
}
