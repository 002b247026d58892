package service

import (
	"errors"

	"github.com/cadencehq/cadence/internal/billing"
	"github.com/cadencehq/cadence/internal/domain"
)

// wrapProviderErr converts a billing provider failure into a domain
// error. Card declines keep their processor message since that text is
// shown to the payer; credential failures are reported as configuration
// problems; unknown-outcome failures (timeouts, rate limits) become
// EUNAVAILABLE so callers retry via idempotent lookups.
func wrapProviderErr(err error, message, op string) error {
	var stripeErr *billing.StripeError
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.IsDeclined():
			return &domain.Error{Code: domain.EPAYMENT, Message: stripeErr.Message, Op: op, Err: err}
		case stripeErr.IsAuthFailure():
			return &domain.Error{Code: domain.EINTERNAL, Message: "Payment processor configuration error", Op: op, Err: err}
		case stripeErr.IsUnavailable():
			return &domain.Error{Code: domain.EUNAVAILABLE, Message: "Payment processor temporarily unavailable", Op: op, Err: err}
		default:
			return &domain.Error{Code: domain.EUNAVAILABLE, Message: message, Op: op, Err: err}
		}
	}
	return domain.WrapError(err, domain.EINTERNAL, op, message)
}
