package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createPayment = `
INSERT INTO payments (invoice_id, parent_id, studio_id, amount, original_amount, discount_amount,
                      payment_method, stripe_payment_intent_id, status, destination_account,
                      is_recurring, recurring_interval)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id, invoice_id, parent_id, studio_id, amount, original_amount, discount_amount,
          payment_method, stripe_payment_intent_id, status, destination_account,
          is_recurring, recurring_interval, created_at
`

type CreatePaymentParams struct {
	InvoiceID             pgtype.UUID
	ParentID              pgtype.UUID
	StudioID              pgtype.UUID
	Amount                pgtype.Numeric
	OriginalAmount        pgtype.Numeric
	DiscountAmount        pgtype.Numeric
	PaymentMethod         string
	StripePaymentIntentID pgtype.Text
	Status                string
	DestinationAccount    pgtype.Text
	IsRecurring           bool
	RecurringInterval     pgtype.Text
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	row := q.db.QueryRow(ctx, createPayment,
		arg.InvoiceID,
		arg.ParentID,
		arg.StudioID,
		arg.Amount,
		arg.OriginalAmount,
		arg.DiscountAmount,
		arg.PaymentMethod,
		arg.StripePaymentIntentID,
		arg.Status,
		arg.DestinationAccount,
		arg.IsRecurring,
		arg.RecurringInterval,
	)
	return scanPayment(row)
}

const getPaymentByIntent = `
SELECT id, invoice_id, parent_id, studio_id, amount, original_amount, discount_amount,
       payment_method, stripe_payment_intent_id, status, destination_account,
       is_recurring, recurring_interval, created_at
FROM payments
WHERE stripe_payment_intent_id = $1 AND status = $2
`

type GetPaymentByIntentParams struct {
	StripePaymentIntentID string
	Status                string
}

func (q *Queries) GetPaymentByIntent(ctx context.Context, arg GetPaymentByIntentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentByIntent, arg.StripePaymentIntentID, arg.Status))
}

func scanPayment(row interface{ Scan(dest ...any) error }) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.InvoiceID,
		&p.ParentID,
		&p.StudioID,
		&p.Amount,
		&p.OriginalAmount,
		&p.DiscountAmount,
		&p.PaymentMethod,
		&p.StripePaymentIntentID,
		&p.Status,
		&p.DestinationAccount,
		&p.IsRecurring,
		&p.RecurringInterval,
		&p.CreatedAt,
	)
	return p, err
}
