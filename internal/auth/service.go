package auth

import (
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermViewer   Permission = "viewer"
	PermOperator Permission = "operator"
	PermAdmin    Permission = "admin"
)

// DefaultTokenTTL applies to tokens issued from the command line.
const DefaultTokenTTL = 24 * time.Hour

// Service validates bearer tokens presented to the REST API and the live
// value stream.
type Service struct {
	jwtHandler *JWTHandler
	logger     *zap.Logger
}

func NewService(cfg config.AuthConfig, logger *zap.Logger) *Service {
	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret not set or too short, using development secret",
			zap.String("env", cfg.JWTSecretEnv))
	}
	return &Service{
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), DefaultTokenTTL),
		logger:     logger,
	}
}

// IssueToken signs a token for a named client.
func (s *Service) IssueToken(name, role string) (string, error) {
	switch Permission(role) {
	case PermViewer, PermOperator, PermAdmin:
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
	return s.jwtHandler.GenerateAccessToken(uuid.New(), name, role)
}

// ValidateToken returns the permissions granted by token.
func (s *Service) ValidateToken(token string) ([]Permission, error) {
	claims, err := s.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	return roleToPermissions(claims.Role), nil
}

func roleToPermissions(role string) []Permission {
	switch Permission(role) {
	case PermAdmin:
		return []Permission{PermViewer, PermOperator, PermAdmin}
	case PermOperator:
		return []Permission{PermViewer, PermOperator}
	default:
		return []Permission{PermViewer}
	}
}
