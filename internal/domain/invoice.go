package domain

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/internal/repository"
	"github.com/shopspring/decimal"
)

// Invoice lifecycle states.
//
// draft -> pending -> paid | failed, with failed -> pending allowed for
// retries. paid is terminal; nothing moves an invoice out of paid.
const (
	InvoiceStatusDraft   = "draft"
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusFailed  = "failed"
)

// Discount types stored on an invoice.
const (
	DiscountNone       = "none"
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Payment methods an invoice can be settled with.
const (
	PaymentMethodStripe       = "stripe"
	PaymentMethodBankTransfer = "bank_transfer"
)

// Recurring billing intervals.
const (
	IntervalWeek  = "week"
	IntervalMonth = "month"
)

// CanTransition reports whether an invoice may move from one status to
// another. Every status write in the system goes through this check.
func CanTransition(from, to string) bool {
	switch from {
	case InvoiceStatusDraft:
		return to == InvoiceStatusPending
	case InvoiceStatusPending:
		return to == InvoiceStatusPaid || to == InvoiceStatusFailed
	case InvoiceStatusFailed:
		return to == InvoiceStatusPending
	default:
		// paid is terminal
		return false
	}
}

// Invoice-related domain errors.
var (
	ErrInvoiceNotFound      = &Error{Code: ENOTFOUND, Message: "Invoice not found"}
	ErrInvoiceAlreadyPaid   = &Error{Code: ECONFLICT, Message: "Invoice already paid"}
	ErrInvoiceNotPending    = &Error{Code: ECONFLICT, Message: "Invoice is not awaiting payment"}
	ErrNotBankTransfer      = &Error{Code: EINVALID, Message: "Invoice is not a bank transfer invoice"}
	ErrTotalLocked          = &Error{Code: ECONFLICT, Message: "Invoice total is locked once a processor invoice exists"}
	ErrParentNotFound       = &Error{Code: ENOTFOUND, Message: "Parent not found"}
	ErrParentMissingContact = &Error{Code: ENOTFOUND, Message: "Parent record is missing required contact details"}
	ErrStudioNotFound       = &Error{Code: ENOTFOUND, Message: "Studio not found"}

	// ErrLedgerWriteFailed is returned when a settlement was applied to the
	// invoice but the corresponding ledger row could not be written. The
	// status change stands (money has moved); the caller must surface the
	// gap for manual reconciliation rather than report clean success.
	ErrLedgerWriteFailed = &Error{Code: EINTERNAL, Message: "Payment recorded but ledger entry failed; manual reconciliation required"}
)

// IdentityResolver maps a (parent, studio) pair to a payment-processor
// customer, creating one lazily in the correct scope.
type IdentityResolver interface {
	// ResolveCustomer returns the processor customer for the parent. When
	// studioID refers to a studio with an enabled connected account the
	// customer is scoped to that account, otherwise to the platform.
	ResolveCustomer(ctx context.Context, parentID, studioID string) (*ResolvedCustomer, error)

	// ResolvePlatformCustomer returns the parent's platform-scope
	// customer, creating it lazily. Cards are stored in this scope and
	// cloned into connected scopes at collection time.
	ResolvePlatformCustomer(ctx context.Context, parentID string) (*ResolvedCustomer, error)
}

// ResolvedCustomer is the outcome of identity resolution.
type ResolvedCustomer struct {
	CustomerID string
	// ConnectedAccountID is the Stripe account the customer lives under.
	// Empty for platform-scope customers. Artifact creation must route
	// with this value whenever it is set.
	ConnectedAccountID string
	Currency           string
}

// InvoiceService owns the invoice lifecycle and all payment artifact
// creation against the processor.
type InvoiceService interface {
	// GetInvoice retrieves an invoice with its line items.
	GetInvoice(ctx context.Context, invoiceID string) (*InvoiceDetail, error)

	// CreateSetupIntent creates an off-session setup intent so a parent can
	// store a card without an immediate charge.
	CreateSetupIntent(ctx context.Context, parentID string) (*SetupIntentResult, error)

	// ListPaymentMethods returns the parent's stored cards. A parent with
	// no processor customer yet gets an empty list, not an error.
	ListPaymentMethods(ctx context.Context, parentID string) ([]PaymentMethodInfo, error)

	// ProcessImmediatePayment confirms an off-session charge for a booking.
	// A processor status short of terminal success is a business failure
	// carried in the result, not an error.
	ProcessImmediatePayment(ctx context.Context, params ImmediatePaymentParams) (*ImmediatePaymentResult, error)

	// CreateArtifact provisions the payment artifact an invoice needs:
	// a setup intent, a subscription for recurring invoices, or a payment
	// intent plus processor invoice for one-off billing.
	CreateArtifact(ctx context.Context, params CreateArtifactParams) (*ArtifactResult, error)

	// CreateHostedInvoice creates, finalizes and obtains a payer link for a
	// processor-hosted invoice mirroring the local one.
	CreateHostedInvoice(ctx context.Context, invoiceID string) (*HostedInvoiceResult, error)

	// CreateCheckoutLink returns a URL the payer can use to settle a
	// previously created hosted invoice.
	CreateCheckoutLink(ctx context.Context, params CheckoutLinkParams) (string, error)

	// PayHostedInvoice collects a hosted invoice immediately using a stored
	// payment method, cloning it into the connected account scope first.
	PayHostedInvoice(ctx context.Context, params PayHostedInvoiceParams) (*PayHostedInvoiceResult, error)

	// MarkPaidManually records an out-of-band bank transfer settlement.
	// Requires the acting user to hold the studio-owner role for the
	// invoice's studio, and the invoice to be a bank-transfer invoice.
	MarkPaidManually(ctx context.Context, params MarkPaidParams) error

	// ListDueReminders returns pending invoices due within the window that
	// have not yet had a reminder sent.
	ListDueReminders(ctx context.Context, dueWithin time.Duration) ([]repository.Invoice, error)

	// MarkReminderSent stamps an invoice after a reminder dispatch.
	MarkReminderSent(ctx context.Context, invoiceID string) error
}

// InvoiceDetail aggregates an invoice with its line items.
type InvoiceDetail struct {
	Invoice repository.Invoice
	Items   []repository.InvoiceItem
	Parent  *repository.Parent
	Studio  *repository.Studio
}

// SetupIntentResult carries the client secret the frontend confirms with.
type SetupIntentResult struct {
	ClientSecret       string
	IsConnectedAccount bool
	ConnectedAccountID string
}

// PaymentMethodInfo is a stored card as payer UIs need it.
type PaymentMethodInfo struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int64  `json:"expMonth"`
	ExpYear  int64  `json:"expYear"`
	Default  bool   `json:"isDefault"`
}

// ImmediatePaymentParams describes a synchronous off-session charge.
type ImmediatePaymentParams struct {
	BookingID       string
	Amount          decimal.Decimal // major currency units
	PaymentMethodID string
	ParentID        string
	StudioID        string
}

// ImmediatePaymentResult reports the outcome of a synchronous charge.
type ImmediatePaymentResult struct {
	Succeeded       bool
	PaymentIntentID string
	// ProcessorStatus is the exact non-success status reported by the
	// processor when Succeeded is false.
	ProcessorStatus string
	// DeclineMessage is surfaced verbatim to the payer on card declines.
	DeclineMessage string
	// LedgerGap is set when the charge succeeded but the ledger row could
	// not be written; the caller reports partial success.
	LedgerGap bool
}

// CreateArtifactParams selects which artifact the unified creation
// operation provisions.
type CreateArtifactParams struct {
	InvoiceID string
	Amount    decimal.Decimal
	// Setup requests a setup intent instead of a charge.
	Setup bool
	// Recurring requests a subscription.
	Recurring         bool
	RecurringInterval string
	RecurringEndDate  time.Time
	PaymentMethodID   string
}

// ArtifactResult is the union result of the unified creation operation;
// exactly one group of fields is populated depending on the artifact kind.
type ArtifactResult struct {
	ClientSecret   string
	SubscriptionID string
	LatestInvoice  string
	InvoiceID      string
}

// HostedInvoiceResult identifies the processor invoice created for a local
// invoice.
type HostedInvoiceResult struct {
	StripeInvoiceID  string
	HostedInvoiceURL string
}

// CheckoutLinkParams identifies the hosted invoice to produce a link for.
type CheckoutLinkParams struct {
	InvoiceID       string
	StripeInvoiceID string
	SuccessURL      string
}

// PayHostedInvoiceParams identifies the hosted invoice and the stored
// payment method to collect it with.
type PayHostedInvoiceParams struct {
	InvoiceID       string
	StripeInvoiceID string
	PaymentMethodID string
	ParentID        string
}

// PayHostedInvoiceResult reports the immediate collection outcome.
type PayHostedInvoiceResult struct {
	InvoiceID          string
	PaymentIntentID    string
	UsesConnectAccount bool
}

// MarkPaidParams records a manual bank-transfer settlement.
type MarkPaidParams struct {
	InvoiceID        string
	PaymentReference string
	Actor            *Actor
	PaidDate         time.Time
}
