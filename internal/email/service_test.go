package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *MockSender) {
	t.Helper()
	sender := NewMockSender()
	svc, err := NewService(sender, "billing@cadence.example", "Cadence Billing")
	require.NoError(t, err)
	return svc, sender
}

func TestSendInvoiceCreated(t *testing.T) {
	svc, sender := newTestService(t)

	err := svc.SendInvoiceCreated(context.Background(), InvoiceCreatedEmail{
		Email:      "parent@example.com",
		ParentName: "Jamie Rivera",
		StudioName: "Northside Dance",
		Amount:     "90.00",
		Currency:   "USD",
		DueDate:    time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		PayURL:     "https://pay.example.com/inv_123",
	})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)

	msg := sender.Sent[0]
	assert.Equal(t, []string{"parent@example.com"}, msg.To)
	assert.Equal(t, "New invoice from Northside Dance", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "90.00")
	assert.Contains(t, msg.HTMLBody, "https://pay.example.com/inv_123")
	assert.Contains(t, msg.TextBody, "Northside Dance")
	assert.NotContains(t, msg.TextBody, "<p>")
}

func TestSendPaymentConfirmation(t *testing.T) {
	svc, sender := newTestService(t)

	err := svc.SendPaymentConfirmation(context.Background(), PaymentConfirmationEmail{
		Email:      "parent@example.com",
		ParentName: "Jamie Rivera",
		StudioName: "Northside Dance",
		Amount:     "90.00",
		Currency:   "USD",
		PaidAt:     time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		Reference:  "BT-2041",
	})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)
	assert.Contains(t, sender.Sent[0].HTMLBody, "BT-2041")
	assert.Equal(t, "Payment received - Northside Dance", sender.Sent[0].Subject)
}

func TestSendPaymentReminder(t *testing.T) {
	svc, sender := newTestService(t)

	err := svc.SendPaymentReminder(context.Background(), PaymentReminderEmail{
		Email:      "parent@example.com",
		ParentName: "Jamie Rivera",
		StudioName: "Northside Dance",
		Amount:     "45.00",
		Currency:   "USD",
	})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)
	assert.Contains(t, sender.Sent[0].TextBody, "due soon")
}
