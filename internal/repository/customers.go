package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getConnectedCustomer = `
SELECT id, parent_id, studio_id, stripe_customer_id, stripe_account_id, created_at
FROM connected_customers
WHERE parent_id = $1 AND studio_id = $2
`

type GetConnectedCustomerParams struct {
	ParentID pgtype.UUID
	StudioID pgtype.UUID
}

func (q *Queries) GetConnectedCustomer(ctx context.Context, arg GetConnectedCustomerParams) (ConnectedCustomer, error) {
	row := q.db.QueryRow(ctx, getConnectedCustomer, arg.ParentID, arg.StudioID)
	var c ConnectedCustomer
	err := row.Scan(
		&c.ID,
		&c.ParentID,
		&c.StudioID,
		&c.StripeCustomerID,
		&c.StripeAccountID,
		&c.CreatedAt,
	)
	return c, err
}

const createConnectedCustomer = `
INSERT INTO connected_customers (parent_id, studio_id, stripe_customer_id, stripe_account_id)
VALUES ($1, $2, $3, $4)
RETURNING id, parent_id, studio_id, stripe_customer_id, stripe_account_id, created_at
`

type CreateConnectedCustomerParams struct {
	ParentID         pgtype.UUID
	StudioID         pgtype.UUID
	StripeCustomerID string
	StripeAccountID  string
}

func (q *Queries) CreateConnectedCustomer(ctx context.Context, arg CreateConnectedCustomerParams) (ConnectedCustomer, error) {
	row := q.db.QueryRow(ctx, createConnectedCustomer,
		arg.ParentID,
		arg.StudioID,
		arg.StripeCustomerID,
		arg.StripeAccountID,
	)
	var c ConnectedCustomer
	err := row.Scan(
		&c.ID,
		&c.ParentID,
		&c.StudioID,
		&c.StripeCustomerID,
		&c.StripeAccountID,
		&c.CreatedAt,
	)
	return c, err
}
