package repository

import "github.com/jackc/pgx/v5/pgtype"

type Studio struct {
	ID                 pgtype.UUID
	Name               string
	Email              string
	Currency           string
	StripeAccountID    pgtype.Text
	StripeEnabled      bool
	OnboardingComplete bool
	BankAccountName    pgtype.Text
	BankSortCode       pgtype.Text
	BankAccountNumber  pgtype.Text
	CreatedAt          pgtype.Timestamptz
	UpdatedAt          pgtype.Timestamptz
}

type Parent struct {
	ID               pgtype.UUID
	Email            string
	FirstName        pgtype.Text
	LastName         pgtype.Text
	Phone            pgtype.Text
	StripeCustomerID pgtype.Text
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

type ConnectedCustomer struct {
	ID               pgtype.UUID
	ParentID         pgtype.UUID
	StudioID         pgtype.UUID
	StripeCustomerID string
	StripeAccountID  string
	CreatedAt        pgtype.Timestamptz
}

type Invoice struct {
	ID                     pgtype.UUID
	StudioID               pgtype.UUID
	ParentID               pgtype.UUID
	Status                 string
	Total                  pgtype.Numeric
	Currency               string
	DiscountType           string
	DiscountValue          pgtype.Numeric
	PaymentMethod          string
	DueDate                pgtype.Date
	StripeInvoiceID        pgtype.Text
	HostedInvoiceURL       pgtype.Text
	DocumentRef            pgtype.Text
	StripeSubscriptionID   pgtype.Text
	SubscriptionStatus     pgtype.Text
	IsRecurring            bool
	RecurringInterval      pgtype.Text
	RecurringEndDate       pgtype.Date
	PaidAt                 pgtype.Timestamptz
	ManualPaidDate         pgtype.Date
	ManualPaymentReference pgtype.Text
	ManualMarkedBy         pgtype.UUID
	ReminderSentAt         pgtype.Timestamptz
	CreatedAt              pgtype.Timestamptz
	UpdatedAt              pgtype.Timestamptz
}

type InvoiceItem struct {
	ID          pgtype.UUID
	InvoiceID   pgtype.UUID
	Description string
	UnitPrice   pgtype.Numeric
	Quantity    int32
	StudentID   pgtype.UUID
	CreatedAt   pgtype.Timestamptz
}

type Payment struct {
	ID                    pgtype.UUID
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
	CreatedAt             pgtype.Timestamptz
}

type ApiToken struct {
	ID        pgtype.UUID
	TokenHash string
	ActorID   pgtype.UUID
	Role      string
	StudioID  pgtype.UUID
	ExpiresAt pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
}
