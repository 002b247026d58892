package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getParentByID = `
SELECT id, email, first_name, last_name, phone, stripe_customer_id, created_at, updated_at
FROM parents
WHERE id = $1
`

func (q *Queries) GetParentByID(ctx context.Context, id pgtype.UUID) (Parent, error) {
	row := q.db.QueryRow(ctx, getParentByID, id)
	var p Parent
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.FirstName,
		&p.LastName,
		&p.Phone,
		&p.StripeCustomerID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

const setParentStripeCustomerID = `
UPDATE parents
SET stripe_customer_id = $2, updated_at = now()
WHERE id = $1
`

type SetParentStripeCustomerIDParams struct {
	ID               pgtype.UUID
	StripeCustomerID string
}

func (q *Queries) SetParentStripeCustomerID(ctx context.Context, arg SetParentStripeCustomerIDParams) error {
	_, err := q.db.Exec(ctx, setParentStripeCustomerID, arg.ID, arg.StripeCustomerID)
	return err
}
