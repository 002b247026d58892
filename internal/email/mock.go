package email

import (
	"context"
	"fmt"
	"sync"
)

// MockSender implements Sender for tests, recording every message.
type MockSender struct {
	mu sync.Mutex

	// SendFunc allows customizing send behavior
	SendFunc func(ctx context.Context, email *Email) (string, error)

	// Sent stores every message passed to Send
	Sent []*Email
}

// NewMockSender creates a new mock email sender.
func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) Send(ctx context.Context, email *Email) (string, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, email)
	n := len(m.Sent)
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, email)
	}
	return fmt.Sprintf("mock-%d", n), nil
}

// SentCount returns the number of messages sent so far.
func (m *MockSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// MockNotifier implements Notifier for tests, recording dispatches.
type MockNotifier struct {
	mu sync.Mutex

	InvoiceCreated       []InvoiceCreatedEmail
	PaymentConfirmations []PaymentConfirmationEmail
	PaymentReminders     []PaymentReminderEmail

	// Err, when set, is returned from every method
	Err error
}

// NewMockNotifier creates a new mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) SendInvoiceCreated(ctx context.Context, data InvoiceCreatedEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InvoiceCreated = append(m.InvoiceCreated, data)
	return m.Err
}

func (m *MockNotifier) SendPaymentConfirmation(ctx context.Context, data PaymentConfirmationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaymentConfirmations = append(m.PaymentConfirmations, data)
	return m.Err
}

func (m *MockNotifier) SendPaymentReminder(ctx context.Context, data PaymentReminderEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaymentReminders = append(m.PaymentReminders, data)
	return m.Err
}

var _ Notifier = (*MockNotifier)(nil)
