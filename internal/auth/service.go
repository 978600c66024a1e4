package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Operator is a dashboard user loaded from configuration. PasswordHash is a
// bcrypt hash.
type Operator struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

type Service struct {
	operators map[string]Operator
	config    JWTConfig
}

func NewService(operators []Operator, config JWTConfig) *Service {
	byName := make(map[string]Operator, len(operators))
	for _, op := range operators {
		if op.Username == "" || op.PasswordHash == "" {
			slog.Warn("Skipping operator with missing username or password hash", "username", op.Username)
			continue
		}
		if !IsHashed(op.PasswordHash) {
			slog.Warn("Skipping operator whose password is not a bcrypt hash", "username", op.Username)
			continue
		}
		if op.Role == "" {
			op.Role = RoleOperator
		}
		byName[op.Username] = op
	}
	return &Service{
		operators: byName,
		config:    config,
	}
}

func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	op, ok := s.operators[username]
	if !ok {
		return "", ErrInvalidCredentials
	}

	if !CheckSecret(password, op.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.config, "operator:"+op.Username, op.Username, op.Role)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	slog.Info("Operator logged in", "username", op.Username, "role", op.Role)
	return token, nil
}

func (s *Service) OperatorCount() int {
	return len(s.operators)
}
