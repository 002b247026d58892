// Package auth validates bearer credentials against the token store and
// produces the actor identity the billing core consumes.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/repository"
)

// Service validates API tokens.
type Service struct {
	repo repository.Querier
}

// NewService creates a token validation service.
func NewService(repo repository.Querier) *Service {
	return &Service{repo: repo}
}

// HashToken returns the hex SHA-256 digest stored for a raw token. Raw
// tokens are never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateToken resolves a raw bearer token to an actor. Expired and
// unknown tokens both yield EUNAUTHORIZED so callers cannot distinguish
// them.
func (s *Service) ValidateToken(ctx context.Context, token string) (*domain.Actor, error) {
	const op = "auth.ValidateToken"

	if token == "" {
		return nil, domain.Unauthorized(op, "Authentication required")
	}

	record, err := s.repo.GetAPITokenByHash(ctx, HashToken(token))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.Unauthorized(op, "Invalid credentials")
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to validate credentials")
	}

	// Constant-time re-compare; the DB lookup is already keyed by hash but
	// this keeps the comparison independent of the driver.
	if subtle.ConstantTimeCompare([]byte(record.TokenHash), []byte(HashToken(token))) != 1 {
		return nil, domain.Unauthorized(op, "Invalid credentials")
	}

	if record.ExpiresAt.Valid && record.ExpiresAt.Time.Before(time.Now()) {
		return nil, domain.Unauthorized(op, "Invalid credentials")
	}

	actor := &domain.Actor{
		ID:   record.ActorID.String(),
		Role: record.Role,
	}
	if record.StudioID.Valid {
		actor.StudioID = record.StudioID.String()
	}
	return actor, nil
}
