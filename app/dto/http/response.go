package http

import (
	"time"

	"github.com/stackforge/auth-service/app/entity"
)

// Envelope is the stable response shape for every endpoint. Error carries
// internals and is populated outside production only.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type UserPayload struct {
	ID              uint64    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Roles           []string  `json:"roles"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
}

func NewUserPayload(user *entity.User) *UserPayload {
	return &UserPayload{
		ID:              user.ID,
		Name:            user.Name,
		Email:           user.Email,
		Roles:           user.Roles,
		IsEmailVerified: user.IsEmailVerified,
		CreatedAt:       user.CreatedAt,
	}
}

type AuthPayload struct {
	User         *UserPayload `json:"user"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int64        `json:"expiresIn"`
}

type TokenPairPayload struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type ProfilePayload struct {
	User *UserPayload `json:"user"`
}
