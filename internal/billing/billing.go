package billing

import (
	"context"
	"time"
)

// Provider defines the interface for payment processing.
// Every params struct carries ConnectedAccountID: when the target studio
// has an enabled connected account the caller MUST set it, because an
// unset account silently routes the charge to the platform account.
type Provider interface {
	// CreateCustomer creates a customer record in the billing provider,
	// in the platform scope or in a connected-account scope.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// CreateSetupIntent creates an off-session setup intent so a payer
	// can store a card without an immediate charge. Redirect-based
	// payment methods are disabled.
	CreateSetupIntent(ctx context.Context, params CreateSetupIntentParams) (*SetupIntent, error)

	// CreatePaymentIntent creates an unconfirmed payment intent and
	// returns the client secret the frontend confirms with.
	CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error)

	// CreateImmediatePayment creates and synchronously confirms an
	// off-session payment intent. A non-success terminal status is
	// reported on the result, not as an error.
	CreateImmediatePayment(ctx context.Context, params ImmediatePaymentParams) (*PaymentResult, error)

	// CreateHostedInvoice creates a send-mode processor invoice with
	// line items and an optional discount coupon, finalizes it, and
	// returns a durable payment URL. If the processor has not produced
	// a hosted URL yet, a payment link with the same line items and
	// metadata is created as a fallback.
	CreateHostedInvoice(ctx context.Context, params HostedInvoiceParams) (*HostedInvoice, error)

	// CreateCheckoutSession creates a checkout session that collects
	// the outstanding amount of a hosted invoice and returns its URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)

	// CreateSubscription provisions an invoice-scoped product/price
	// pair and creates a subscription bound to a confirmed default
	// payment method, cancelled at the recurrence end date if set.
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)

	// PayHostedInvoice clones a previously-authorized payment method
	// into the connected-account scope, sets it as the customer's
	// default, then collects the invoice immediately.
	PayHostedInvoice(ctx context.Context, params PayHostedInvoiceParams) (*PaymentResult, error)

	// ListPaymentMethods returns the customer's stored cards.
	ListPaymentMethods(ctx context.Context, params ListPaymentMethodsParams) ([]PaymentMethod, error)

	// EnsureCoupon looks up the deterministic coupon for a discount and
	// creates it on lookup miss. Lookup hit short-circuits.
	EnsureCoupon(ctx context.Context, params EnsureCouponParams) (string, error)

	// VerifyWebhookSignature verifies that a webhook request is
	// authentic. Must run against the literal request body, before the
	// body is parsed.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email string
	Name  string
	Phone string

	// Metadata always includes the internal parent id for correlation.
	Metadata map[string]string

	// ConnectedAccountID routes creation to a connected account scope.
	// Empty means platform scope.
	ConnectedAccountID string
}

// Customer represents a billing customer.
type Customer struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// CreateSetupIntentParams contains parameters for creating a setup intent.
type CreateSetupIntentParams struct {
	CustomerID         string
	Metadata           map[string]string
	ConnectedAccountID string
}

// SetupIntent is the client-usable handle for storing a card.
type SetupIntent struct {
	ID           string
	ClientSecret string
}

// PaymentIntentParams contains parameters for an unconfirmed payment
// intent awaiting frontend confirmation.
type PaymentIntentParams struct {
	// AmountMinor is the charge amount in the smallest currency unit.
	AmountMinor int64

	Currency   string
	CustomerID string

	// Metadata must include the internal invoice id so the
	// reconciliation listener can correlate settlement events.
	Metadata map[string]string

	IdempotencyKey     string
	ConnectedAccountID string
}

// PaymentIntent is the client-confirmable charge handle.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

// ImmediatePaymentParams contains parameters for a synchronous
// off-session charge.
type ImmediatePaymentParams struct {
	// AmountMinor is the charge amount in the smallest currency unit.
	AmountMinor int64

	Currency        string
	CustomerID      string
	PaymentMethodID string

	// Metadata must include the internal invoice or booking id so the
	// reconciliation listener can correlate settlement events.
	Metadata map[string]string

	// IdempotencyKey prevents duplicate charges on retried requests.
	IdempotencyKey string

	ConnectedAccountID string
}

// PaymentResult reports the outcome of a synchronous charge attempt.
// Succeeded is false when the processor returned a terminal status
// other than success; Status then holds the exact reported status.
type PaymentResult struct {
	PaymentIntentID string
	Status          string
	Succeeded       bool
	DeclineMessage  string
}

// InvoiceLineItem is one line on a hosted invoice.
type InvoiceLineItem struct {
	Description string
	// AmountMinor is unit price times quantity in minor units.
	AmountMinor int64
	Quantity    int64
}

// HostedInvoiceParams contains parameters for creating a send-mode
// processor invoice.
type HostedInvoiceParams struct {
	CustomerID string
	Currency   string
	LineItems  []InvoiceLineItem

	// CouponID applies a previously-ensured discount coupon. Empty
	// means no discount.
	CouponID string

	DueDate            time.Time
	Metadata           map[string]string
	IdempotencyKey     string
	ConnectedAccountID string
}

// HostedInvoice is a finalized processor invoice the payer can settle
// via URL.
type HostedInvoice struct {
	ID string

	// HostedURL is the processor's invoice page, or the payment-link
	// fallback when the processor has not produced one.
	HostedURL string

	// UsedPaymentLink reports that HostedURL is the fallback artifact.
	UsedPaymentLink bool
}

// CheckoutSessionParams contains parameters for a hosted-invoice
// checkout session.
type CheckoutSessionParams struct {
	CustomerID         string
	Currency           string
	AmountMinor        int64
	Description        string
	SuccessURL         string
	Metadata           map[string]string
	ConnectedAccountID string
}

// CheckoutSession is a payer-facing checkout URL.
type CheckoutSession struct {
	ID  string
	URL string
}

// CreateSubscriptionParams contains parameters for recurring billing.
type CreateSubscriptionParams struct {
	CustomerID string
	Currency   string

	// AmountMinor is the per-interval charge in minor units.
	AmountMinor int64

	// Interval is "week" or "month".
	Interval string

	// ProductName labels the invoice-scoped product.
	ProductName string

	// DefaultPaymentMethodID must already be confirmed by the caller.
	DefaultPaymentMethodID string

	// CancelAt hard-cancels the subscription at the recurrence end
	// date. Zero means no scheduled cancellation.
	CancelAt time.Time

	Metadata           map[string]string
	IdempotencyKey     string
	ConnectedAccountID string
}

// Subscription represents a recurring subscription.
type Subscription struct {
	ID              string
	Status          string
	LatestInvoiceID string
}

// PayHostedInvoiceParams contains parameters for collecting a hosted
// invoice with a stored payment method.
type PayHostedInvoiceParams struct {
	// ProcessorInvoiceID is the processor-side invoice to collect.
	ProcessorInvoiceID string

	// PaymentMethodID is a platform-scope payment method. When
	// ConnectedAccountID is set it is cloned into that scope before
	// use, because processor payment methods are account-scoped.
	PaymentMethodID string

	// PlatformCustomerID owns PaymentMethodID in the platform scope.
	PlatformCustomerID string

	// CustomerID is the customer in the scope the invoice lives in.
	CustomerID string

	ConnectedAccountID string
}

// ListPaymentMethodsParams contains parameters for listing stored cards.
type ListPaymentMethodsParams struct {
	CustomerID         string
	ConnectedAccountID string
}

// PaymentMethod is a stored card.
type PaymentMethod struct {
	ID        string
	Brand     string
	Last4     string
	ExpMonth  int64
	ExpYear   int64
	IsDefault bool
}

// EnsureCouponParams contains parameters for idempotent coupon
// provisioning.
type EnsureCouponParams struct {
	// CouponID is the deterministic identifier derived from the
	// discount type and value.
	CouponID string

	// PercentOff is set for percentage discounts, in percent.
	PercentOff float64

	// AmountOffMinor is set for fixed discounts, in minor units.
	AmountOffMinor int64

	Currency           string
	ConnectedAccountID string
}
