package service

import (
	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/auth"
)

const operatorRole = "operator"

// OperatorService authenticates the single configured operator account and
// issues bearer tokens for the admin API.
type OperatorService struct {
	username     string
	passwordHash string
	jwt          *auth.JWTManager
}

func NewOperatorService(username, passwordHash string, jwt *auth.JWTManager) *OperatorService {
	return &OperatorService{username: username, passwordHash: passwordHash, jwt: jwt}
}

func (s *OperatorService) JWTManager() *auth.JWTManager {
	return s.jwt
}

// Login returns a signed token. Login is disabled when no password hash is configured.
func (s *OperatorService) Login(username, password string) (string, error) {
	if s.passwordHash == "" || username != s.username || !auth.CheckPasswordHash(password, s.passwordHash) {
		return "", apierr.ErrUnauthorized
	}
	token, err := s.jwt.Generate(username, operatorRole)
	if err != nil {
		return "", apierr.Upstream(err)
	}
	return token, nil
}

// VerifyToken returns the operator name carried by a valid token.
func (s *OperatorService) VerifyToken(token string) (string, error) {
	claims, err := s.jwt.Verify(token)
	if err != nil {
		return "", err
	}
	if claims.Role != operatorRole {
		return "", auth.ErrInvalidToken
	}
	return claims.Username, nil
}
