package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func signPayload(payload []byte, secret string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	provider := NewStripeProvider(StripeProviderConfig{APIKey: "sk_test", WebhookSecret: secret})
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)

	t.Run("valid signature", func(t *testing.T) {
		sig := signPayload(payload, secret, time.Now())
		require.NoError(t, provider.VerifyWebhookSignature(payload, sig, secret))
	})

	t.Run("wrong secret", func(t *testing.T) {
		sig := signPayload(payload, "whsec_other", time.Now())
		err := provider.VerifyWebhookSignature(payload, sig, secret)
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := signPayload(payload, secret, time.Now())
		err := provider.VerifyWebhookSignature([]byte(`{"id":"evt_2"}`), sig, secret)
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		sig := signPayload(payload, secret, time.Now().Add(-time.Hour))
		err := provider.VerifyWebhookSignature(payload, sig, secret)
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	})
}

func TestWrapStripeErr(t *testing.T) {
	t.Run("card declined", func(t *testing.T) {
		src := &stripe.Error{
			Code:        stripe.ErrorCodeCardDeclined,
			DeclineCode: "insufficient_funds",
			Msg:         "Your card has insufficient funds.",
		}
		wrapped := wrapStripeErr(src)
		var se *StripeError
		require.True(t, errors.As(wrapped, &se))
		assert.True(t, se.IsDeclined())
		assert.False(t, se.IsUnavailable())
		assert.Equal(t, "Your card has insufficient funds.", se.Message)
	})

	t.Run("timeout maps to unavailable", func(t *testing.T) {
		wrapped := wrapStripeErr(fmt.Errorf("post: %w", context.DeadlineExceeded))
		var se *StripeError
		require.True(t, errors.As(wrapped, &se))
		assert.True(t, se.IsUnavailable())
		assert.False(t, se.IsDeclined())
	})

	t.Run("auth failure", func(t *testing.T) {
		src := &stripe.Error{HTTPStatusCode: 401, Msg: "Invalid API Key"}
		wrapped := wrapStripeErr(src)
		var se *StripeError
		require.True(t, errors.As(wrapped, &se))
		assert.True(t, se.IsAuthFailure())
	})

	t.Run("decline code carried as string", func(t *testing.T) {
		src := &stripe.Error{DeclineCode: stripe.DeclineCodeInsufficientFunds, Msg: "declined"}
		wrapped := wrapStripeErr(src)
		var se *StripeError
		require.True(t, errors.As(wrapped, &se))
		assert.Equal(t, "insufficient_funds", se.DeclineCode)
		assert.True(t, se.IsDeclined())
	})

	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, wrapStripeErr(nil))
	})
}

func TestInvoicePaymentIntentID(t *testing.T) {
	intent := func(id string) *stripe.InvoicePayment {
		return &stripe.InvoicePayment{
			Payment: &stripe.InvoicePaymentPayment{PaymentIntent: &stripe.PaymentIntent{ID: id}},
		}
	}

	t.Run("no payments", func(t *testing.T) {
		assert.Empty(t, invoicePaymentIntentID(nil))
		assert.Empty(t, invoicePaymentIntentID(&stripe.Invoice{}))
		assert.Empty(t, invoicePaymentIntentID(&stripe.Invoice{
			Payments: &stripe.InvoicePaymentList{Data: []*stripe.InvoicePayment{{}}},
		}))
	})

	t.Run("default payment wins", func(t *testing.T) {
		other := intent("pi_other")
		def := intent("pi_default")
		def.IsDefault = true
		inv := &stripe.Invoice{Payments: &stripe.InvoicePaymentList{
			Data: []*stripe.InvoicePayment{other, def},
		}}
		assert.Equal(t, "pi_default", invoicePaymentIntentID(inv))
	})

	t.Run("falls back to first intent", func(t *testing.T) {
		inv := &stripe.Invoice{Payments: &stripe.InvoicePaymentList{
			Data: []*stripe.InvoicePayment{{}, intent("pi_first"), intent("pi_second")},
		}}
		assert.Equal(t, "pi_first", invoicePaymentIntentID(inv))
	})
}
