package cmd

import (
	"context"
	"database/sql"
	"net"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/stackforge/auth-service/app/controller"
	"github.com/stackforge/auth-service/app/middleware"
	"github.com/stackforge/auth-service/app/notifier"
	"github.com/stackforge/auth-service/app/repository"
	"github.com/stackforge/auth-service/app/service"
	"github.com/stackforge/auth-service/app/token"
	"github.com/stackforge/auth-service/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the HTTP server exposing the authentication API.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	tokens := token.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL, cfg.Tokens.ResetTTL)
	authService := service.NewAuthService(db, userRepo, sessionRepo, tokens, newNotifier(cfg), cfg)

	go runSessionSweeper(authService)

	startHTTPServer(cfg, db, authService)
}

func newNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.Mail.Host == "" {
		logrus.Warn("SMTP_HOST not set, emails will only be logged")
		return notifier.NewLogNotifier()
	}
	return notifier.NewSMTPNotifier(cfg.Mail)
}

func runSessionSweeper(authService service.AuthService) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := authService.PurgeExpiredSessions(ctx); err != nil {
			logrus.WithError(err).Error("Failed to purge expired sessions")
		}
		cancel()
	}
}

func startHTTPServer(cfg *config.Config, db *sql.DB, authService service.AuthService) {
	e := echo.New()
	defer e.Close()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{cfg.HTTP.AllowedOrigin},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(rateLimiter(cfg.RateLimit.GeneralRPS, cfg.RateLimit.Burst))

	authController := controller.NewAuthController(authService, cfg)
	healthController := controller.NewHealthController(db)
	authMiddleware := middleware.NewAuthMiddleware(authService)

	// Admission control only: stricter budgets for credential and reset
	// endpoints, keyed by caller address.
	authLimit := rateLimiter(cfg.RateLimit.AuthRPS, cfg.RateLimit.Burst)
	resetLimit := rateLimiter(cfg.RateLimit.ResetRPS, cfg.RateLimit.Burst)

	api := e.Group("/api")
	api.GET("/health", healthController.Health)

	auth := api.Group("/auth")
	auth.POST("/register", authController.Register, authLimit)
	auth.POST("/login", authController.Login, authLimit)
	auth.POST("/refresh", authController.Refresh)
	auth.POST("/reset-password", authController.ForgotPassword, resetLimit)
	auth.POST("/reset-password/:token", authController.ResetPassword, resetLimit)

	authProtected := auth.Group("")
	authProtected.Use(authMiddleware.RequireAuth)
	authProtected.POST("/logout", authController.Logout)
	authProtected.GET("/profile", authController.GetProfile)
	authProtected.PUT("/profile", authController.UpdateProfile)
	authProtected.PUT("/password", authController.ChangePassword)

	admin := authProtected.Group("/admin", authMiddleware.RequireRole(service.RoleAdmin))
	admin.POST("/sessions/purge", authController.PurgeSessions)

	httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
	logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
	if err := e.Start(httpAddr); err != nil {
		logrus.WithError(err).Fatal("Failed to start HTTP server")
	}
}

func rateLimiter(rps float64, burst int) echo.MiddlewareFunc {
	return echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(rps),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
	})
}
