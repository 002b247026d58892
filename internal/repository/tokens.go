package repository

import "context"

const getAPITokenByHash = `
SELECT id, token_hash, actor_id, role, studio_id, expires_at, created_at
FROM api_tokens
WHERE token_hash = $1
`

func (q *Queries) GetAPITokenByHash(ctx context.Context, tokenHash string) (ApiToken, error) {
	row := q.db.QueryRow(ctx, getAPITokenByHash, tokenHash)
	var t ApiToken
	err := row.Scan(
		&t.ID,
		&t.TokenHash,
		&t.ActorID,
		&t.Role,
		&t.StudioID,
		&t.ExpiresAt,
		&t.CreatedAt,
	)
	return t, err
}
