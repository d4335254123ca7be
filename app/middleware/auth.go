package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	httpdto "github.com/stackforge/auth-service/app/dto/http"
	"github.com/stackforge/auth-service/app/token"
)

type accessTokenVerifier interface {
	VerifyAccessToken(tokenString string) (*token.Claims, error)
}

type AuthMiddleware struct {
	authService accessTokenVerifier
}

func NewAuthMiddleware(authService accessTokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{authService: authService}
}

// RequireAuth checks the Bearer access token. Validation is purely local:
// signature plus expiry, no registry lookup.
func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			logrus.Debug("Missing authorization header")
			return unauthorized(c, "missing authorization header")
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			logrus.Debug("Invalid authorization header format")
			return unauthorized(c, "invalid authorization header format")
		}

		claims, err := m.authService.VerifyAccessToken(parts[1])
		if err != nil {
			logrus.Debug("Invalid or expired access token")
			return unauthorized(c, "invalid or expired token")
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Set("user_roles", claims.Roles)

		return next(c)
	}
}

// RequireRole gates a route on a role claim. Must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles, ok := c.Get("user_roles").([]string)
			if !ok {
				return unauthorized(c, "unauthorized")
			}

			for _, r := range roles {
				if r == role {
					return next(c)
				}
			}

			logrus.WithField("required_role", role).Debug("Role check failed")
			return c.JSON(http.StatusForbidden, httpdto.Envelope{
				Success: false,
				Message: "insufficient permissions",
			})
		}
	}
}

func unauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, httpdto.Envelope{
		Success: false,
		Message: message,
	})
}
