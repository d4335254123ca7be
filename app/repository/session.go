package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/stackforge/auth-service/app/entity"
)

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *entity.Session) error {
	query := `
		INSERT INTO sessions (user_id, token_hash, device_info, issued_at, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		session.UserID,
		session.TokenHash,
		session.DeviceInfo,
		session.IssuedAt,
		session.ExpiresAt,
		session.Revoked,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	session.ID = uint64(id)
	return nil
}

// FindByTokenHashForUpdate locks the session row for the duration of the
// surrounding transaction so concurrent redeemers serialize on it.
func (r *SessionRepository) FindByTokenHashForUpdate(ctx context.Context, tokenHash string) (*entity.Session, error) {
	query := `
		SELECT id, user_id, token_hash, device_info, issued_at, expires_at, revoked, revoked_at
		FROM sessions WHERE token_hash = ? FOR UPDATE
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tokenHash))
}

func (r *SessionRepository) scanOne(row *sql.Row) (*entity.Session, error) {
	session := &entity.Session{}
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.DeviceInfo,
		&session.IssuedAt,
		&session.ExpiresAt,
		&session.Revoked,
		&session.RevokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Revoke marks the session dead. The revoked = 0 guard makes it conditional:
// of two concurrent redeemers exactly one observes an affected row.
func (r *SessionRepository) Revoke(ctx context.Context, tokenHash string) (int64, error) {
	query := `UPDATE sessions SET revoked = 1, revoked_at = ? WHERE token_hash = ? AND revoked = 0`
	result, err := r.db.ExecContext(ctx, query, time.Now(), tokenHash)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID uint64) error {
	query := `UPDATE sessions SET revoked = 1, revoked_at = ? WHERE user_id = ? AND revoked = 0`
	_, err := r.db.ExecContext(ctx, query, time.Now(), userID)
	return err
}

func (r *SessionRepository) DeleteExpired(ctx context.Context) error {
	query := `DELETE FROM sessions WHERE expires_at < ?`
	_, err := r.db.ExecContext(ctx, query, time.Now())
	return err
}
