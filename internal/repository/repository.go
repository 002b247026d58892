package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Queries provides typed access to the billing schema.
type Queries struct {
	db DBTX
}

// New creates a Queries instance backed by the given connection.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Querier is the interface services depend on; satisfied by *Queries and
// by test doubles.
type Querier interface {
	GetParentByID(ctx context.Context, id pgtype.UUID) (Parent, error)
	SetParentStripeCustomerID(ctx context.Context, arg SetParentStripeCustomerIDParams) error
	GetStudioByID(ctx context.Context, id pgtype.UUID) (Studio, error)
	GetConnectedCustomer(ctx context.Context, arg GetConnectedCustomerParams) (ConnectedCustomer, error)
	CreateConnectedCustomer(ctx context.Context, arg CreateConnectedCustomerParams) (ConnectedCustomer, error)
	CreateInvoice(ctx context.Context, arg CreateInvoiceParams) (Invoice, error)
	CreateInvoiceItem(ctx context.Context, arg CreateInvoiceItemParams) (InvoiceItem, error)
	GetInvoiceByID(ctx context.Context, id pgtype.UUID) (Invoice, error)
	GetInvoiceByStripeID(ctx context.Context, stripeInvoiceID string) (Invoice, error)
	GetInvoiceItems(ctx context.Context, invoiceID pgtype.UUID) ([]InvoiceItem, error)
	UpdateInvoiceStatus(ctx context.Context, arg UpdateInvoiceStatusParams) error
	MarkInvoicePaid(ctx context.Context, arg MarkInvoicePaidParams) error
	MarkInvoicePaidManually(ctx context.Context, arg MarkInvoicePaidManuallyParams) error
	SetInvoiceProcessorRefs(ctx context.Context, arg SetInvoiceProcessorRefsParams) error
	SetInvoiceSubscription(ctx context.Context, arg SetInvoiceSubscriptionParams) error
	MarkInvoiceSubscriptionActive(ctx context.Context, id pgtype.UUID) error
	ListReminderDueInvoices(ctx context.Context, dueOnOrBefore pgtype.Date) ([]Invoice, error)
	MarkInvoiceReminderSent(ctx context.Context, id pgtype.UUID) error
	CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error)
	GetPaymentByIntent(ctx context.Context, arg GetPaymentByIntentParams) (Payment, error)
	GetAPITokenByHash(ctx context.Context, tokenHash string) (ApiToken, error)
}

var _ Querier = (*Queries)(nil)

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The identity resolver uses this to detect lost
// check-then-create races.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsNotFound reports whether err is pgx's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// NumericFromDecimal converts a decimal amount to its pgtype column value.
func NumericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// DecimalFromNumeric converts a pgtype column value back to a decimal.
// Null columns become zero.
func DecimalFromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Decimal{}
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
