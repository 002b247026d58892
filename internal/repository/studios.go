package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getStudioByID = `
SELECT id, name, email, currency, stripe_account_id, stripe_enabled, onboarding_complete,
       bank_account_name, bank_sort_code, bank_account_number, created_at, updated_at
FROM studios
WHERE id = $1
`

func (q *Queries) GetStudioByID(ctx context.Context, id pgtype.UUID) (Studio, error) {
	row := q.db.QueryRow(ctx, getStudioByID, id)
	var s Studio
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Email,
		&s.Currency,
		&s.StripeAccountID,
		&s.StripeEnabled,
		&s.OnboardingComplete,
		&s.BankAccountName,
		&s.BankSortCode,
		&s.BankAccountNumber,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}
