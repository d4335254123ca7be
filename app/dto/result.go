package dto

import "github.com/stackforge/auth-service/app/entity"

type AuthResult struct {
	User         *entity.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

type TokenPairResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}
