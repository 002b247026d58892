package email

import "time"

// EmailTemplate defines the interface for email templates.
type EmailTemplate interface {
	Subject() string
	TemplateName() string
}

// InvoiceCreatedEmail notifies a parent that an invoice is awaiting
// payment.
type InvoiceCreatedEmail struct {
	Email      string
	ParentName string
	StudioName string
	Amount     string
	Currency   string
	DueDate    time.Time
	PayURL     string
}

func (e InvoiceCreatedEmail) Subject() string {
	return "New invoice from " + e.StudioName
}

func (e InvoiceCreatedEmail) TemplateName() string {
	return "invoice_created.html"
}

// PaymentConfirmationEmail confirms a settled payment.
type PaymentConfirmationEmail struct {
	Email      string
	ParentName string
	StudioName string
	Amount     string
	Currency   string
	PaidAt     time.Time
	Reference  string
}

func (e PaymentConfirmationEmail) Subject() string {
	return "Payment received - " + e.StudioName
}

func (e PaymentConfirmationEmail) TemplateName() string {
	return "payment_confirmation.html"
}

// PaymentReminderEmail nudges a parent about a pending invoice near or
// past its due date.
type PaymentReminderEmail struct {
	Email      string
	ParentName string
	StudioName string
	Amount     string
	Currency   string
	DueDate    time.Time
	PayURL     string
}

func (e PaymentReminderEmail) Subject() string {
	return "Payment reminder from " + e.StudioName
}

func (e PaymentReminderEmail) TemplateName() string {
	return "payment_reminder.html"
}
