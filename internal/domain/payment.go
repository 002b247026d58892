package domain

import (
	"context"
)

// Payment ledger entry statuses.
const (
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// Settlement event kinds the reconciliation listener handles. Webhook
// payloads are parsed into exactly one of these; anything else is logged
// and acknowledged without mutation.
type SettlementKind int

const (
	SettlementUnknown SettlementKind = iota
	SettlementSucceeded
	SettlementFailed
)

// SettlementEvent is the reconciliation listener's view of a processor
// event after signature verification and parsing.
type SettlementEvent struct {
	Kind SettlementKind

	// EventID is the processor's event identifier, for logging.
	EventID string

	// InvoiceID is the internal invoice identifier embedded in artifact
	// metadata, when present.
	InvoiceID string

	// StripeInvoiceID is the processor invoice reference, when the event
	// concerns a hosted invoice.
	StripeInvoiceID string

	// PaymentIntentID is the settlement object reference used for ledger
	// idempotency.
	PaymentIntentID string

	// DestinationAccount is the connected account the charge was routed
	// to, when any.
	DestinationAccount string

	// FailureMessage carries the processor's failure description on
	// settlement-failed events.
	FailureMessage string
}

// Reconciler applies settlement events to invoice state and the payment
// ledger. It is the sole writer of asynchronous terminal payment state.
type Reconciler interface {
	// HandleSettlement applies one settlement event idempotently. An event
	// referencing no known invoice is discarded without error; re-delivery
	// of an already-applied event is a no-op.
	HandleSettlement(ctx context.Context, event SettlementEvent) error
}
