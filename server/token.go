package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/drowsiness-cv/server/config"
	"github.com/san-kum/drowsiness-cv/server/middleware"
	"go.uber.org/zap"
)

var errNoSecret = errors.New("JWT_SECRET_KEY must be set to issue tokens the server will accept")

// issueToken prints an admin token for the /api/v1/admin routes, signed with
// the same JWT_SECRET_KEY the server reads.
func issueToken(cfg *config.Config, username string, ttl time.Duration, out io.Writer, logger *zap.Logger) error {
	if cfg.Security.JWTSecretKey == "" {
		return errNoSecret
	}
	if ttl <= 0 {
		return fmt.Errorf("token lifetime must be positive, got %s", ttl)
	}

	auth := middleware.NewAuthMiddleware(cfg.Security.JWTSecretKey, logger)
	token, err := auth.GenerateToken(uuid.NewString(), username, "admin", ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	_, err = fmt.Fprintln(out, token)
	return err
}
