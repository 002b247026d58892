package jobs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/email"
	"github.com/cadencehq/cadence/internal/repository"
	"github.com/cadencehq/cadence/internal/telemetry"
)

// ReminderConfig holds reminder worker configuration.
type ReminderConfig struct {
	// PollInterval is how often to scan for due invoices.
	PollInterval time.Duration

	// DueWithin is the lookahead window; pending invoices due within it
	// that have not been reminded yet get one nudge.
	DueWithin time.Duration

	// BaseURL is the public application URL used to build pay links.
	BaseURL string
}

// ReminderWorker sends one payment reminder per pending invoice as its due
// date approaches.
type ReminderWorker struct {
	invoices domain.InvoiceService
	notifier email.Notifier
	metrics  *telemetry.BusinessMetrics
	logger   *slog.Logger
	config   ReminderConfig
}

// NewReminderWorker creates a reminder worker.
func NewReminderWorker(invoices domain.InvoiceService, notifier email.Notifier, metrics *telemetry.BusinessMetrics, logger *slog.Logger, config ReminderConfig) *ReminderWorker {
	if config.PollInterval == 0 {
		config.PollInterval = time.Hour
	}
	if config.DueWithin == 0 {
		config.DueWithin = 72 * time.Hour
	}
	return &ReminderWorker{
		invoices: invoices,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		config:   config,
	}
}

// Start runs the reminder loop until the context is cancelled.
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.logger.Info("reminder worker starting",
		"poll_interval", w.config.PollInterval,
		"due_within", w.config.DueWithin,
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reminder worker shutting down")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reminder sweep. A send failure skips the
// invoice without stamping it, so the next sweep retries.
func (w *ReminderWorker) RunOnce(ctx context.Context) {
	due, err := w.invoices.ListDueReminders(ctx, w.config.DueWithin)
	if err != nil {
		w.logger.Error("reminder sweep failed to list due invoices", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	w.logger.Info("reminder sweep", "due_invoices", len(due))

	for _, inv := range due {
		if err := w.remind(ctx, inv); err != nil {
			w.logger.Error("reminder failed",
				"invoice_id", inv.ID.String(),
				"error", err)
			w.countEmail("payment_reminder", err)
			continue
		}
		w.countEmail("payment_reminder", nil)
	}
}

func (w *ReminderWorker) remind(ctx context.Context, inv repository.Invoice) error {
	detail, err := w.invoices.GetInvoice(ctx, inv.ID.String())
	if err != nil {
		return err
	}
	if detail.Parent == nil || detail.Studio == nil {
		return domain.Errorf(domain.EINTERNAL, "jobs.remind", "invoice detail is missing parent or studio")
	}

	payURL := strings.TrimRight(w.config.BaseURL, "/") + "/invoices/" + inv.ID.String()
	err = w.notifier.SendPaymentReminder(ctx, email.PaymentReminderEmail{
		Email:      detail.Parent.Email,
		ParentName: parentName(*detail.Parent),
		StudioName: detail.Studio.Name,
		Amount:     repository.DecimalFromNumeric(inv.Total).StringFixed(2),
		Currency:   strings.ToUpper(inv.Currency),
		DueDate:    inv.DueDate.Time,
		PayURL:     payURL,
	})
	if err != nil {
		return err
	}

	return w.invoices.MarkReminderSent(ctx, inv.ID.String())
}

func (w *ReminderWorker) countEmail(template string, err error) {
	if w.metrics == nil {
		return
	}
	if err != nil {
		w.metrics.EmailFailed.WithLabelValues(template).Inc()
		return
	}
	w.metrics.EmailSent.WithLabelValues(template).Inc()
}

func parentName(parent repository.Parent) string {
	name := strings.TrimSpace(parent.FirstName.String + " " + parent.LastName.String)
	if name == "" {
		return parent.Email
	}
	return name
}
