package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/config"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// AuthService exchanges the configured operator credentials for API tokens.
type AuthService struct {
	adminUser string
	adminHash string
	tokenMgr  *auth.TokenManager
	logger    *zap.Logger
}

// NewAuthService builds the service from the ops settings.
func NewAuthService(cfg config.OpsConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		adminUser: cfg.AdminUser,
		adminHash: cfg.AdminPasswordHash,
		tokenMgr:  auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTLMinutes),
		logger:    logger,
	}
}

// Enabled reports whether an admin password hash was configured. Without
// one, every login is refused.
func (s *AuthService) Enabled() bool {
	return s.adminHash != ""
}

// Login checks the operator credentials and returns a signed admin token.
func (s *AuthService) Login(_ context.Context, username, password string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, apperrors.NewForbidden("operator login is disabled")
	}
	if !auth.VerifyLogin(s.adminUser, s.adminHash, username, password) {
		s.logger.Warn("operator login rejected", zap.String("username", username))
		return "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := s.tokenMgr.GenerateToken(username, auth.RoleAdmin)
	if err != nil {
		return "", time.Time{}, apperrors.NewInternalError(err)
	}
	s.logger.Info("operator logged in", zap.String("username", username))
	return token, exp, nil
}

// TokenManager exposes the token manager for middleware wiring.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
