package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"
)

var (
	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrMissingConnectedAccount is returned when an operation targets a studio
	// with an enabled connected account but no account id was supplied.
	ErrMissingConnectedAccount = errors.New("billing: connected account id required")
)

// StripeError wraps a Stripe API error with the fields callers dispatch on.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "card_declined")
	DeclineCode   string // Card decline reason (if applicable)
	RequestID     string // Stripe request ID for debugging
	Timeout       bool   // Request exceeded the bounded call timeout
	OriginalError error
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsDeclined returns true if error is due to card decline. Decline
// messages are safe to surface verbatim to the payer.
func (e *StripeError) IsDeclined() bool {
	return e.Code == string(stripe.ErrorCodeCardDeclined) || e.DeclineCode != ""
}

// IsAuthFailure returns true if the processor rejected our API
// credentials. Surfaced as a configuration problem, never to the payer.
func (e *StripeError) IsAuthFailure() bool {
	var stripeErr *stripe.Error
	if errors.As(e.OriginalError, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusUnauthorized
	}
	return false
}

// IsUnavailable returns true when the outcome is unknown: the call
// timed out or never reached the processor. The processor side effect
// may still have succeeded, so callers retry via idempotent lookups
// rather than assuming failure.
func (e *StripeError) IsUnavailable() bool {
	if e.Timeout {
		return true
	}
	return e.Code == string(stripe.ErrorCodeRateLimit)
}

// asStripeError unwraps err into a *StripeError target.
func asStripeError(err error, target **StripeError) bool {
	return errors.As(err, target)
}

// wrapStripeErr normalizes SDK and transport errors into *StripeError.
func wrapStripeErr(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &StripeError{
			Message:       stripeErr.Msg,
			Code:          string(stripeErr.Code),
			DeclineCode:   string(stripeErr.DeclineCode),
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
	}
	return &StripeError{
		Message:       err.Error(),
		Timeout:       errors.Is(err, context.DeadlineExceeded),
		OriginalError: err,
	}
}
