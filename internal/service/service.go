// Package service implements the billing workflows: identity
// resolution, artifact creation, the invoice state machine and
// settlement reconciliation.
package service

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// parseUUID converts a string identifier into its column value.
func parseUUID(id string) (pgtype.UUID, error) {
	var u pgtype.UUID
	if err := u.Scan(id); err != nil {
		return u, fmt.Errorf("invalid id %q: %w", id, err)
	}
	return u, nil
}

func textValue(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func textString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}
