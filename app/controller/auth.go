package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	httpdto "github.com/stackforge/auth-service/app/dto/http"
	"github.com/stackforge/auth-service/app/service"
	"github.com/stackforge/auth-service/config"
)

type AuthController struct {
	authService service.AuthService
	cfg         *config.Config
}

func NewAuthController(authService service.AuthService, cfg *config.Config) *AuthController {
	return &AuthController{authService: authService, cfg: cfg}
}

func (c *AuthController) Register(ctx echo.Context) error {
	req, err := httpdto.NewRegisterRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind register request")
		return c.fail(ctx, http.StatusBadRequest, "invalid request body", nil)
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Register validation failed")
		return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
	}

	logrus.WithField("email", req.Email).Info("Register request received")
	result, err := c.authService.Register(ctx.Request().Context(), req.Name, req.Email, req.Password, deviceInfo(ctx))
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			logrus.WithField("email", req.Email).Warn("Register failed: user already exists")
			return c.fail(ctx, http.StatusConflict, "user already exists", nil)
		}
		if errors.Is(err, service.ErrWeakPassword) {
			logrus.WithField("email", req.Email).Warn("Register failed: weak password")
			return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Register failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id": result.User.ID,
		"email":   result.User.Email,
	}).Info("User registered")

	return c.ok(ctx, http.StatusCreated, "registration successful", &httpdto.AuthPayload{
		User:         httpdto.NewUserPayload(result.User),
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	})
}

func (c *AuthController) Login(ctx echo.Context) error {
	req, err := httpdto.NewLoginRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind login request")
		return c.fail(ctx, http.StatusBadRequest, "invalid request body", nil)
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Login validation failed")
		return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
	}

	logrus.WithField("email", req.Email).Info("Login request received")
	result, err := c.authService.Login(ctx.Request().Context(), req.Email, req.Password, deviceInfo(ctx))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			logrus.WithField("email", req.Email).Warn("Login failed: invalid credentials")
			return c.fail(ctx, http.StatusUnauthorized, "invalid credentials", nil)
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Login failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	logrus.WithField("email", req.Email).Info("Login successful")
	return c.ok(ctx, http.StatusOK, "login successful", &httpdto.AuthPayload{
		User:         httpdto.NewUserPayload(result.User),
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	})
}

func (c *AuthController) Refresh(ctx echo.Context) error {
	req, err := httpdto.NewRefreshRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind refresh request")
		return c.fail(ctx, http.StatusBadRequest, "invalid request body", nil)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Refresh validation failed")
		return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
	}

	result, err := c.authService.Refresh(ctx.Request().Context(), req.RefreshToken, deviceInfo(ctx))
	if err != nil {
		if errors.Is(err, service.ErrSessionCompromised) {
			logrus.Warn("Refresh failed: session compromised")
			return c.fail(ctx, http.StatusUnauthorized, "session compromised, please log in again", nil)
		}
		if errors.Is(err, service.ErrInvalidSession) {
			logrus.Warn("Refresh failed: invalid or expired session")
			return c.fail(ctx, http.StatusUnauthorized, "invalid or expired refresh token", nil)
		}
		logrus.WithError(err).Error("Refresh failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	logrus.Info("Refresh successful")
	return c.ok(ctx, http.StatusOK, "token refreshed", &httpdto.TokenPairPayload{
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	})
}

func (c *AuthController) Logout(ctx echo.Context) error {
	req, err := httpdto.NewLogoutRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind logout request")
		return c.fail(ctx, http.StatusBadRequest, "invalid request body", nil)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Logout validation failed")
		return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
	}

	if err = c.authService.Logout(ctx.Request().Context(), req.RefreshToken); err != nil {
		logrus.WithError(err).Error("Logout failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	logrus.Info("Logout successful")
	return c.ok(ctx, http.StatusOK, "logged out successfully", nil)
}

func (c *AuthController) GetProfile(ctx echo.Context) error {
	userID, ok := ctx.Get("user_id").(uint64)
	if !ok {
		logrus.Warn("Get profile failed: missing user_id in context")
		return c.fail(ctx, http.StatusUnauthorized, "unauthorized", nil)
	}

	user, err := c.authService.GetProfile(ctx.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.fail(ctx, http.StatusNotFound, "user not found", nil)
		}
		logrus.WithError(err).WithField("user_id", userID).Error("Get profile failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	return c.ok(ctx, http.StatusOK, "profile", &httpdto.ProfilePayload{User: httpdto.NewUserPayload(user)})
}

func (c *AuthController) UpdateProfile(ctx echo.Context) error {
	userID, ok := ctx.Get("user_id").(uint64)
	if !ok {
		logrus.Warn("Update profile failed: missing user_id in context")
		return c.fail(ctx, http.StatusUnauthorized, "unauthorized", nil)
	}

	req, err := httpdto.NewUpdateProfileRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind update profile request")
		return c.fail(ctx, http.StatusBadRequest, "invalid request body", nil)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Update profile validation failed")
		return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
	}

	user, err := c.authService.UpdateProfile(ctx.Request().Context(), userID, req.Name, req.Email)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.fail(ctx, http.StatusNotFound, "user not found", nil)
		}
		if errors.Is(err, service.ErrUserExists) {
			logrus.WithField("user_id", userID).Warn("Update profile failed: email already in use")
			return c.fail(ctx, http.StatusConflict, "email already in use", nil)
		}
		logrus.WithError(err).WithField("user_id", userID).Error("Update profile failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	logrus.WithField("user_id", userID).Info("Profile updated")
	return c.ok(ctx, http.StatusOK, "profile updated", &httpdto.ProfilePayload{User: httpdto.NewUserPayload(user)})
}

func (c *AuthController) ChangePassword(ctx echo.Context) error {
	userID, ok := ctx.Get("user_id").(uint64)
	if !ok {
		logrus.Warn("Change password failed: missing user_id in context")
		return c.fail(ctx, http.StatusUnauthorized, "unauthorized", nil)
	}

	req, err := httpdto.NewChangePasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind change password request")
		return c.fail(ctx, http.StatusBadRequest, "invalid request body", nil)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Change password validation failed")
		return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
	}

	if err = c.authService.ChangePassword(ctx.Request().Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.fail(ctx, http.StatusNotFound, "user not found", nil)
		}
		if errors.Is(err, service.ErrPasswordMismatch) {
			logrus.WithField("user_id", userID).Warn("Change password failed: old password mismatch")
			return c.fail(ctx, http.StatusBadRequest, "old password is incorrect", nil)
		}
		if errors.Is(err, service.ErrWeakPassword) {
			logrus.WithField("user_id", userID).Warn("Change password failed: weak password")
			return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
		}
		logrus.WithError(err).WithField("user_id", userID).Error("Change password failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	logrus.WithField("user_id", userID).Info("Password changed, all sessions revoked")
	return c.ok(ctx, http.StatusOK, "password changed successfully", nil)
}

// PurgeSessions deletes expired session rows on demand. The hourly sweeper
// covers normal operation; this gives operators an immediate trigger.
func (c *AuthController) PurgeSessions(ctx echo.Context) error {
	if err := c.authService.PurgeExpiredSessions(ctx.Request().Context()); err != nil {
		logrus.WithError(err).Error("Purge sessions failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	logrus.Info("Expired sessions purged")
	return c.ok(ctx, http.StatusOK, "expired sessions purged", nil)
}

const forgotPasswordMessage = "if the email exists, a password reset link has been sent"

func (c *AuthController) ForgotPassword(ctx echo.Context) error {
	req, err := httpdto.NewForgotPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind forgot password request")
		return c.fail(ctx, http.StatusBadRequest, "invalid request body", nil)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Forgot password validation failed")
		return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
	}

	logrus.WithField("email", req.Email).Info("Password reset requested")
	if err = c.authService.ForgotPassword(ctx.Request().Context(), req.Email); err != nil {
		logrus.WithError(err).WithField("email", req.Email).Error("Forgot password failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	// Identical response whether or not the account exists.
	return c.ok(ctx, http.StatusOK, forgotPasswordMessage, nil)
}

func (c *AuthController) ResetPassword(ctx echo.Context) error {
	rawToken := ctx.Param("token")
	if rawToken == "" {
		return c.fail(ctx, http.StatusBadRequest, "reset token is required", nil)
	}

	req, err := httpdto.NewResetPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind reset password request")
		return c.fail(ctx, http.StatusBadRequest, "invalid request body", nil)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Reset password validation failed")
		return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
	}

	if err = c.authService.ResetPassword(ctx.Request().Context(), rawToken, req.Password); err != nil {
		if errors.Is(err, service.ErrInvalidResetToken) {
			logrus.Warn("Reset password failed: invalid or expired token")
			return c.fail(ctx, http.StatusBadRequest, "invalid or expired reset token", nil)
		}
		if errors.Is(err, service.ErrWeakPassword) {
			logrus.Warn("Reset password failed: weak password")
			return c.fail(ctx, http.StatusBadRequest, err.Error(), nil)
		}
		logrus.WithError(err).Error("Reset password failed")
		return c.fail(ctx, http.StatusInternalServerError, "internal server error", err)
	}

	logrus.Info("Password reset successful")
	return c.ok(ctx, http.StatusOK, "password reset successfully", nil)
}

func (c *AuthController) ok(ctx echo.Context, status int, message string, data any) error {
	return ctx.JSON(status, httpdto.Envelope{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func (c *AuthController) fail(ctx echo.Context, status int, message string, internal error) error {
	env := httpdto.Envelope{
		Success: false,
		Message: message,
	}
	if internal != nil && !c.cfg.IsProduction() {
		env.Error = internal.Error()
	}
	return ctx.JSON(status, env)
}

// deviceInfo labels the session for the user's device overview. The SDK sends
// a stable X-Device-Id; browsers fall back to their User-Agent.
func deviceInfo(ctx echo.Context) string {
	if id := ctx.Request().Header.Get("X-Device-Id"); id != "" {
		return id
	}
	return ctx.Request().UserAgent()
}
