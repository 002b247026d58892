package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const invoiceColumns = `id, studio_id, parent_id, status, total, currency, discount_type, discount_value,
       payment_method, due_date, stripe_invoice_id, hosted_invoice_url, document_ref,
       stripe_subscription_id, subscription_status,
       is_recurring, recurring_interval, recurring_end_date, paid_at,
       manual_paid_date, manual_payment_reference, manual_marked_by,
       reminder_sent_at, created_at, updated_at`

func scanInvoice(row interface{ Scan(dest ...any) error }) (Invoice, error) {
	var i Invoice
	err := row.Scan(
		&i.ID,
		&i.StudioID,
		&i.ParentID,
		&i.Status,
		&i.Total,
		&i.Currency,
		&i.DiscountType,
		&i.DiscountValue,
		&i.PaymentMethod,
		&i.DueDate,
		&i.StripeInvoiceID,
		&i.HostedInvoiceURL,
		&i.DocumentRef,
		&i.StripeSubscriptionID,
		&i.SubscriptionStatus,
		&i.IsRecurring,
		&i.RecurringInterval,
		&i.RecurringEndDate,
		&i.PaidAt,
		&i.ManualPaidDate,
		&i.ManualPaymentReference,
		&i.ManualMarkedBy,
		&i.ReminderSentAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createInvoice = `
INSERT INTO invoices (studio_id, parent_id, total, currency, discount_type, discount_value,
                      payment_method, due_date, is_recurring, recurring_interval, recurring_end_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + invoiceColumns

type CreateInvoiceParams struct {
	StudioID          pgtype.UUID
	ParentID          pgtype.UUID
	Total             pgtype.Numeric
	Currency          string
	DiscountType      string
	DiscountValue     pgtype.Numeric
	PaymentMethod     string
	DueDate           pgtype.Date
	IsRecurring       bool
	RecurringInterval pgtype.Text
	RecurringEndDate  pgtype.Date
}

func (q *Queries) CreateInvoice(ctx context.Context, arg CreateInvoiceParams) (Invoice, error) {
	row := q.db.QueryRow(ctx, createInvoice,
		arg.StudioID,
		arg.ParentID,
		arg.Total,
		arg.Currency,
		arg.DiscountType,
		arg.DiscountValue,
		arg.PaymentMethod,
		arg.DueDate,
		arg.IsRecurring,
		arg.RecurringInterval,
		arg.RecurringEndDate,
	)
	return scanInvoice(row)
}

const createInvoiceItem = `
INSERT INTO invoice_items (invoice_id, description, unit_price, quantity, student_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, invoice_id, description, unit_price, quantity, student_id, created_at
`

type CreateInvoiceItemParams struct {
	InvoiceID   pgtype.UUID
	Description string
	UnitPrice   pgtype.Numeric
	Quantity    int32
	StudentID   pgtype.UUID
}

func (q *Queries) CreateInvoiceItem(ctx context.Context, arg CreateInvoiceItemParams) (InvoiceItem, error) {
	row := q.db.QueryRow(ctx, createInvoiceItem,
		arg.InvoiceID,
		arg.Description,
		arg.UnitPrice,
		arg.Quantity,
		arg.StudentID,
	)
	var it InvoiceItem
	err := row.Scan(
		&it.ID,
		&it.InvoiceID,
		&it.Description,
		&it.UnitPrice,
		&it.Quantity,
		&it.StudentID,
		&it.CreatedAt,
	)
	return it, err
}

const getInvoiceByID = `
SELECT ` + invoiceColumns + `
FROM invoices
WHERE id = $1
`

func (q *Queries) GetInvoiceByID(ctx context.Context, id pgtype.UUID) (Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx, getInvoiceByID, id))
}

const getInvoiceByStripeID = `
SELECT ` + invoiceColumns + `
FROM invoices
WHERE stripe_invoice_id = $1
`

func (q *Queries) GetInvoiceByStripeID(ctx context.Context, stripeInvoiceID string) (Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx, getInvoiceByStripeID, stripeInvoiceID))
}

const getInvoiceItems = `
SELECT id, invoice_id, description, unit_price, quantity, student_id, created_at
FROM invoice_items
WHERE invoice_id = $1
ORDER BY created_at
`

func (q *Queries) GetInvoiceItems(ctx context.Context, invoiceID pgtype.UUID) ([]InvoiceItem, error) {
	rows, err := q.db.Query(ctx, getInvoiceItems, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(
			&it.ID,
			&it.InvoiceID,
			&it.Description,
			&it.UnitPrice,
			&it.Quantity,
			&it.StudentID,
			&it.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

const updateInvoiceStatus = `
UPDATE invoices
SET status = $2, updated_at = now()
WHERE id = $1
`

type UpdateInvoiceStatusParams struct {
	ID     pgtype.UUID
	Status string
}

func (q *Queries) UpdateInvoiceStatus(ctx context.Context, arg UpdateInvoiceStatusParams) error {
	_, err := q.db.Exec(ctx, updateInvoiceStatus, arg.ID, arg.Status)
	return err
}

const markInvoicePaid = `
UPDATE invoices
SET status = 'paid', paid_at = $2, updated_at = now()
WHERE id = $1
`

type MarkInvoicePaidParams struct {
	ID     pgtype.UUID
	PaidAt pgtype.Timestamptz
}

func (q *Queries) MarkInvoicePaid(ctx context.Context, arg MarkInvoicePaidParams) error {
	_, err := q.db.Exec(ctx, markInvoicePaid, arg.ID, arg.PaidAt)
	return err
}

const markInvoicePaidManually = `
UPDATE invoices
SET status = 'paid',
    paid_at = now(),
    manual_paid_date = $2,
    manual_payment_reference = $3,
    manual_marked_by = $4,
    updated_at = now()
WHERE id = $1
`

type MarkInvoicePaidManuallyParams struct {
	ID               pgtype.UUID
	PaidDate         pgtype.Date
	PaymentReference pgtype.Text
	MarkedBy         pgtype.UUID
}

func (q *Queries) MarkInvoicePaidManually(ctx context.Context, arg MarkInvoicePaidManuallyParams) error {
	_, err := q.db.Exec(ctx, markInvoicePaidManually, arg.ID, arg.PaidDate, arg.PaymentReference, arg.MarkedBy)
	return err
}

const setInvoiceProcessorRefs = `
UPDATE invoices
SET stripe_invoice_id = $2, hosted_invoice_url = $3, updated_at = now()
WHERE id = $1
`

type SetInvoiceProcessorRefsParams struct {
	ID               pgtype.UUID
	StripeInvoiceID  pgtype.Text
	HostedInvoiceURL pgtype.Text
}

func (q *Queries) SetInvoiceProcessorRefs(ctx context.Context, arg SetInvoiceProcessorRefsParams) error {
	_, err := q.db.Exec(ctx, setInvoiceProcessorRefs, arg.ID, arg.StripeInvoiceID, arg.HostedInvoiceURL)
	return err
}

const setInvoiceSubscription = `
UPDATE invoices
SET stripe_subscription_id = $2, subscription_status = $3, updated_at = now()
WHERE id = $1
`

type SetInvoiceSubscriptionParams struct {
	ID                   pgtype.UUID
	StripeSubscriptionID pgtype.Text
	SubscriptionStatus   pgtype.Text
}

func (q *Queries) SetInvoiceSubscription(ctx context.Context, arg SetInvoiceSubscriptionParams) error {
	_, err := q.db.Exec(ctx, setInvoiceSubscription, arg.ID, arg.StripeSubscriptionID, arg.SubscriptionStatus)
	return err
}

const markInvoiceSubscriptionActive = `
UPDATE invoices
SET subscription_status = 'active', updated_at = now()
WHERE id = $1 AND stripe_subscription_id IS NOT NULL
`

func (q *Queries) MarkInvoiceSubscriptionActive(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, markInvoiceSubscriptionActive, id)
	return err
}

const listReminderDueInvoices = `
SELECT ` + invoiceColumns + `
FROM invoices
WHERE status = 'pending'
  AND due_date IS NOT NULL
  AND due_date <= $1
  AND reminder_sent_at IS NULL
ORDER BY due_date
`

func (q *Queries) ListReminderDueInvoices(ctx context.Context, dueOnOrBefore pgtype.Date) ([]Invoice, error) {
	rows, err := q.db.Query(ctx, listReminderDueInvoices, dueOnOrBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

const markInvoiceReminderSent = `
UPDATE invoices
SET reminder_sent_at = now(), updated_at = now()
WHERE id = $1
`

func (q *Queries) MarkInvoiceReminderSent(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, markInvoiceReminderSent, id)
	return err
}
