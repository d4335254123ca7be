package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/stackforge/auth-service/app/dto"
	"github.com/stackforge/auth-service/app/entity"
	"github.com/stackforge/auth-service/app/notifier"
	"github.com/stackforge/auth-service/app/repository"
	"github.com/stackforge/auth-service/app/token"
	"github.com/stackforge/auth-service/config"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid or expired session")
	ErrSessionCompromised = errors.New("session compromised")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrPasswordMismatch   = errors.New("old password is incorrect")
	ErrWeakPassword       = errors.New("password does not meet policy requirements")
)

const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByCanonicalEmail(ctx context.Context, canonicalEmail string) (*entity.User, error)
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
	FindByResetTokenHash(ctx context.Context, tokenHash string) (*entity.User, error)
	AddRole(ctx context.Context, userID uint64, role string) error
	Update(ctx context.Context, user *entity.User) error
	UpdateLastLogin(ctx context.Context, userID uint64, lastLogin time.Time) error
}

type sessionRepository interface {
	Create(ctx context.Context, session *entity.Session) error
	FindByTokenHashForUpdate(ctx context.Context, tokenHash string) (*entity.Session, error)
	Revoke(ctx context.Context, tokenHash string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uint64) error
	DeleteExpired(ctx context.Context) error
}

type sessionCreator interface {
	Create(ctx context.Context, session *entity.Session) error
}

type AuthService interface {
	Register(ctx context.Context, name, email, password, deviceInfo string) (*dto.AuthResult, error)
	Login(ctx context.Context, email, password, deviceInfo string) (*dto.AuthResult, error)
	Refresh(ctx context.Context, rawRefreshToken, deviceInfo string) (*dto.TokenPairResult, error)
	Logout(ctx context.Context, rawRefreshToken string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
	ChangePassword(ctx context.Context, userID uint64, oldPassword, newPassword string) error
	GetProfile(ctx context.Context, userID uint64) (*entity.User, error)
	UpdateProfile(ctx context.Context, userID uint64, name, email string) (*entity.User, error)
	VerifyAccessToken(tokenString string) (*token.Claims, error)
	PurgeExpiredSessions(ctx context.Context) error
}

type AsyncRunner func(task func())

type AuthServiceOption func(*authService)

type authService struct {
	db          *sql.DB
	userRepo    userRepository
	sessionRepo sessionRepository
	tokens      *token.Service
	notifier    notifier.Notifier
	cfg         *config.Config
	asyncRunner AsyncRunner
}

func NewAuthService(
	db *sql.DB,
	userRepo userRepository,
	sessionRepo sessionRepository,
	tokens *token.Service,
	mailer notifier.Notifier,
	cfg *config.Config,
	opts ...AuthServiceOption,
) AuthService {
	svc := &authService{
		db:          db,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		notifier:    mailer,
		cfg:         cfg,
		asyncRunner: func(task func()) {
			go task()
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func WithAsyncRunner(runner AsyncRunner) AuthServiceOption {
	return func(s *authService) {
		if runner != nil {
			s.asyncRunner = runner
		}
	}
}

func (s *authService) Register(ctx context.Context, name, email, password, deviceInfo string) (*dto.AuthResult, error) {
	canonicalEmail := CanonicalizeEmail(email)

	existing, err := s.userRepo.FindByCanonicalEmail(ctx, canonicalEmail)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	if err = s.cfg.Password.Policy.Validate(password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &entity.User{
		Name:            name,
		Email:           email,
		CanonicalEmail:  canonicalEmail,
		PasswordHash:    string(hashedPassword),
		IsEmailVerified: false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txUserRepo := repository.NewUserRepository(tx)
	if err = txUserRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	if err = txUserRepo.AddRole(ctx, user.ID, RoleUser); err != nil {
		return nil, err
	}
	user.Roles = []string{RoleUser}

	accessToken, expiresIn, err := s.issueAccessToken(user)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := s.createSession(ctx, repository.NewSessionRepository(tx), user.ID, deviceInfo)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	// Welcome mail is best-effort; registration already succeeded.
	s.asyncRunner(func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if sendErr := s.notifier.SendWelcome(sendCtx, user.Email, user.Name); sendErr != nil {
			logrus.WithError(sendErr).WithField("user_id", user.ID).Warn("failed to send welcome email")
		}
	})

	return &dto.AuthResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresIn:    expiresIn,
	}, nil
}

func (s *authService) Login(ctx context.Context, email, password, deviceInfo string) (*dto.AuthResult, error) {
	canonicalEmail := CanonicalizeEmail(email)
	user, err := s.userRepo.FindByCanonicalEmail(ctx, canonicalEmail)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Same error as a hash mismatch so callers cannot probe for accounts.
		return nil, ErrInvalidCredentials
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.asyncRunner(func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if updateErr := s.userRepo.UpdateLastLogin(updateCtx, user.ID, time.Now()); updateErr != nil {
			logrus.WithError(updateErr).WithField("user_id", user.ID).Error("failed to update last_login")
		}
	})

	accessToken, expiresIn, err := s.issueAccessToken(user)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := s.createSession(ctx, s.sessionRepo, user.ID, deviceInfo)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresIn:    expiresIn,
	}, nil
}

// Refresh redeems a refresh token and rotates it. Redemption of a revoked
// token is treated as replay: every session of the owning user is revoked
// and the caller gets ErrSessionCompromised.
func (s *authService) Refresh(ctx context.Context, rawRefreshToken, deviceInfo string) (*dto.TokenPairResult, error) {
	tokenHash := token.HashToken(rawRefreshToken)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txSessionRepo := repository.NewSessionRepository(tx)

	session, err := txSessionRepo.FindByTokenHashForUpdate(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrInvalidSession
	}

	if session.Revoked {
		return nil, s.compromised(ctx, tx, txSessionRepo, session.UserID)
	}

	if session.Expired(time.Now()) {
		return nil, ErrInvalidSession
	}

	txUserRepo := repository.NewUserRepository(tx)
	user, err := txUserRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidSession
	}

	rowsRevoked, err := txSessionRepo.Revoke(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if rowsRevoked == 0 {
		// A concurrent redeemer won the race after our lock attempt.
		return nil, s.compromised(ctx, tx, txSessionRepo, session.UserID)
	}

	accessToken, expiresIn, err := s.issueAccessToken(user)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := s.createSession(ctx, txSessionRepo, user.ID, deviceInfo)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &dto.TokenPairResult{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresIn:    expiresIn,
	}, nil
}

func (s *authService) compromised(ctx context.Context, tx *sql.Tx, repo sessionRepository, userID uint64) error {
	if err := repo.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logrus.WithField("user_id", userID).Warn("refresh token replay detected, all sessions revoked")
	return ErrSessionCompromised
}

// Logout revokes the matching session. It reports success even for unknown
// or already-revoked tokens so callers cannot probe for session existence.
func (s *authService) Logout(ctx context.Context, rawRefreshToken string) error {
	tokenHash := token.HashToken(rawRefreshToken)

	rows, err := s.sessionRepo.Revoke(ctx, tokenHash)
	if err != nil {
		return err
	}
	if rows == 0 {
		logrus.Debug("logout for unknown or already revoked session")
	}
	return nil
}

// ForgotPassword never reveals whether the email is registered. A nil return
// with no side effects and a nil return with a stored reset token are
// indistinguishable to the caller.
func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	canonicalEmail := CanonicalizeEmail(email)
	user, err := s.userRepo.FindByCanonicalEmail(ctx, canonicalEmail)
	if err != nil {
		return err
	}
	if user == nil {
		logrus.Debug("password reset requested for unknown email")
		return nil
	}

	// A new request always rotates the pending token, invalidating any prior.
	if user.HasPendingReset(time.Now()) {
		logrus.WithField("user_id", user.ID).Debug("replacing pending reset token")
	}

	secret, err := s.tokens.IssueResetToken()
	if err != nil {
		return err
	}

	user.ResetTokenHash = sql.NullString{String: secret.Hash, Valid: true}
	user.ResetTokenExpiresAt = sql.NullTime{Time: secret.ExpiresAt, Valid: true}

	if err = s.userRepo.Update(ctx, user); err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s/%s", s.cfg.Mail.ResetBaseURL, secret.Raw)
	s.asyncRunner(func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if sendErr := s.notifier.SendPasswordReset(sendCtx, user.Email, user.Name, resetURL); sendErr != nil {
			logrus.WithError(sendErr).WithField("user_id", user.ID).Warn("failed to send password reset email")
		}
	})

	return nil
}

func (s *authService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	tokenHash := token.HashToken(rawToken)

	user, err := s.userRepo.FindByResetTokenHash(ctx, tokenHash)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrInvalidResetToken
	}

	if !user.ResetTokenExpiresAt.Valid || user.ResetTokenExpiresAt.Time.Before(time.Now()) {
		return ErrInvalidResetToken
	}

	if err = s.cfg.Password.Policy.Validate(newPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user.PasswordHash = string(hashedPassword)
	user.ResetTokenHash = sql.NullString{Valid: false}
	user.ResetTokenExpiresAt = sql.NullTime{Valid: false}

	if err = s.userRepo.Update(ctx, user); err != nil {
		return err
	}

	// A password reset invalidates every outstanding refresh token.
	return s.sessionRepo.RevokeAllForUser(ctx, user.ID)
}

func (s *authService) ChangePassword(ctx context.Context, userID uint64, oldPassword, newPassword string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return ErrPasswordMismatch
	}

	if err = s.cfg.Password.Policy.Validate(newPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user.PasswordHash = string(hashedPassword)
	if err = s.userRepo.Update(ctx, user); err != nil {
		return err
	}

	return s.sessionRepo.RevokeAllForUser(ctx, user.ID)
}

func (s *authService) GetProfile(ctx context.Context, userID uint64) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *authService) UpdateProfile(ctx context.Context, userID uint64, name, email string) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if name != "" {
		user.Name = name
	}

	if email != "" {
		canonicalEmail := CanonicalizeEmail(email)
		if canonicalEmail != user.CanonicalEmail {
			existing, err := s.userRepo.FindByCanonicalEmail(ctx, canonicalEmail)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, ErrUserExists
			}
			user.IsEmailVerified = false
		}
		user.Email = email
		user.CanonicalEmail = canonicalEmail
	}

	if err = s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *authService) VerifyAccessToken(tokenString string) (*token.Claims, error) {
	return s.tokens.VerifyAccessToken(tokenString)
}

func (s *authService) PurgeExpiredSessions(ctx context.Context) error {
	return s.sessionRepo.DeleteExpired(ctx)
}

func (s *authService) issueAccessToken(user *entity.User) (string, int64, error) {
	signed, _, err := s.tokens.IssueAccessToken(user.ID, user.Email, user.Roles)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.tokens.AccessTTL().Seconds()), nil
}

func (s *authService) createSession(ctx context.Context, repo sessionCreator, userID uint64, deviceInfo string) (string, error) {
	secret, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return "", err
	}

	session := &entity.Session{
		UserID:    userID,
		TokenHash: secret.Hash,
		IssuedAt:  time.Now(),
		ExpiresAt: secret.ExpiresAt,
	}
	if deviceInfo != "" {
		session.DeviceInfo = sql.NullString{String: deviceInfo, Valid: true}
	}

	if err := repo.Create(ctx, session); err != nil {
		return "", err
	}

	return secret.Raw, nil
}
