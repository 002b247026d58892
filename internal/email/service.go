package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"regexp"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// Notifier sends the transactional emails the billing flows produce.
// All dispatch is best effort: callers log failures and move on, since
// a failed notification must never fail a recorded payment.
type Notifier interface {
	SendInvoiceCreated(ctx context.Context, data InvoiceCreatedEmail) error
	SendPaymentConfirmation(ctx context.Context, data PaymentConfirmationEmail) error
	SendPaymentReminder(ctx context.Context, data PaymentReminderEmail) error
}

// Service handles email composition and sending.
type Service struct {
	sender      Sender
	fromAddress string
	fromName    string
	templates   *template.Template
}

// NewService creates a new email service.
func NewService(sender Sender, fromAddress, fromName string) (*Service, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &Service{
		sender:      sender,
		fromAddress: fromAddress,
		fromName:    fromName,
		templates:   tmpl,
	}, nil
}

var _ Notifier = (*Service)(nil)

// SendInvoiceCreated sends the new-invoice notification.
func (s *Service) SendInvoiceCreated(ctx context.Context, data InvoiceCreatedEmail) error {
	return s.send(ctx, data.Email, data)
}

// SendPaymentConfirmation sends the payment receipt.
func (s *Service) SendPaymentConfirmation(ctx context.Context, data PaymentConfirmationEmail) error {
	return s.send(ctx, data.Email, data)
}

// SendPaymentReminder sends the due-date nudge.
func (s *Service) SendPaymentReminder(ctx context.Context, data PaymentReminderEmail) error {
	return s.send(ctx, data.Email, data)
}

func (s *Service) send(ctx context.Context, to string, data EmailTemplate) error {
	htmlBody, textBody, err := s.renderTemplate(data.TemplateName(), data)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", data.TemplateName(), err)
	}

	email := &Email{
		To:       []string{to},
		From:     fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress),
		Subject:  data.Subject(),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}
	if _, err := s.sender.Send(ctx, email); err != nil {
		return fmt.Errorf("failed to send %s: %w", data.TemplateName(), err)
	}
	return nil
}

func (s *Service) renderTemplate(name string, data interface{}) (htmlBody, textBody string, err error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", "", err
	}
	htmlBody = buf.String()
	textBody = htmlToText(htmlBody)
	return htmlBody, textBody, nil
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`[ \t]+`)
)

// htmlToText derives a plain-text fallback from rendered HTML.
func htmlToText(html string) string {
	text := strings.ReplaceAll(html, "</p>", "\n\n")
	text = strings.ReplaceAll(text, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = spacePattern.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
