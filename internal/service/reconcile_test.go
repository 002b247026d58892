package service

import (
	"context"
	"testing"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/repository"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(repo *mockQuerier) Reconciler {
	return NewReconciler(ReconcilerDeps{Repo: repo, Logger: testLogger()})
}

func TestHandleSettlement_SuccessTransitionsAndRecords(t *testing.T) {
	var paid bool
	var ledger repository.CreatePaymentParams
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			inv := testInvoice(t, domain.InvoiceStatusPending)
			inv.DiscountType = domain.DiscountPercentage
			inv.DiscountValue = repository.NumericFromDecimal(decimal.NewFromInt(10))
			return inv, nil
		},
		MarkInvoicePaidFunc: func(ctx context.Context, arg repository.MarkInvoicePaidParams) error {
			paid = true
			return nil
		},
		CreatePaymentFunc: func(ctx context.Context, arg repository.CreatePaymentParams) (repository.Payment, error) {
			ledger = arg
			return repository.Payment{}, nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:               domain.SettlementSucceeded,
		EventID:            "evt_1",
		InvoiceID:          testInvoiceID,
		PaymentIntentID:    "pi_hook",
		DestinationAccount: "acct_123",
	})
	require.NoError(t, err)
	assert.True(t, paid)
	assert.Equal(t, domain.PaymentStatusCompleted, ledger.Status)
	assert.Equal(t, "pi_hook", ledger.StripePaymentIntentID.String)
	assert.Equal(t, "acct_123", ledger.DestinationAccount.String)

	// Amounts are recomputed locally, never taken from the event.
	assert.Equal(t, "90", repository.DecimalFromNumeric(ledger.Amount).String())
	assert.Equal(t, "100", repository.DecimalFromNumeric(ledger.OriginalAmount).String())
	assert.Equal(t, "10", repository.DecimalFromNumeric(ledger.DiscountAmount).String())
}

func TestHandleSettlement_SuccessActivatesSubscription(t *testing.T) {
	var activated pgtype.UUID
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			inv := testInvoice(t, domain.InvoiceStatusPending)
			inv.IsRecurring = true
			inv.RecurringInterval = pgtype.Text{String: domain.IntervalMonth, Valid: true}
			inv.StripeSubscriptionID = pgtype.Text{String: "sub_1", Valid: true}
			inv.SubscriptionStatus = pgtype.Text{String: "incomplete", Valid: true}
			return inv, nil
		},
		MarkInvoiceSubscriptionActiveFunc: func(ctx context.Context, id pgtype.UUID) error {
			activated = id
			return nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementSucceeded,
		EventID:         "evt_sub",
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_sub",
	})
	require.NoError(t, err)
	assert.Equal(t, mustUUID(t, testInvoiceID), activated,
		"a settled charge on a recurring invoice flags its subscription active")
}

func TestHandleSettlement_OneOffInvoiceSkipsSubscriptionFlag(t *testing.T) {
	activations := 0
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			return testInvoice(t, domain.InvoiceStatusPending), nil
		},
		MarkInvoiceSubscriptionActiveFunc: func(ctx context.Context, id pgtype.UUID) error {
			activations++
			return nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementSucceeded,
		EventID:         "evt_oneoff",
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_oneoff",
	})
	require.NoError(t, err)
	assert.Zero(t, activations)
}

func TestHandleSettlement_DraftInvoiceStepsThroughPending(t *testing.T) {
	var statusWrites []string
	var paid bool
	var ledger repository.CreatePaymentParams
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			return testInvoice(t, domain.InvoiceStatusDraft), nil
		},
		UpdateInvoiceStatusFunc: func(ctx context.Context, arg repository.UpdateInvoiceStatusParams) error {
			statusWrites = append(statusWrites, arg.Status)
			return nil
		},
		MarkInvoicePaidFunc: func(ctx context.Context, arg repository.MarkInvoicePaidParams) error {
			paid = true
			return nil
		},
		CreatePaymentFunc: func(ctx context.Context, arg repository.CreatePaymentParams) (repository.Payment, error) {
			ledger = arg
			return repository.Payment{}, nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementSucceeded,
		EventID:         "evt_draft",
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_race",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{domain.InvoiceStatusPending}, statusWrites)
	assert.True(t, paid, "settlement on a draft invoice still marks it paid")
	assert.Equal(t, domain.PaymentStatusCompleted, ledger.Status)
}

func TestHandleSettlement_RetriedChargeOnFailedInvoiceSettles(t *testing.T) {
	var statusWrites []string
	var paid bool
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			return testInvoice(t, domain.InvoiceStatusFailed), nil
		},
		UpdateInvoiceStatusFunc: func(ctx context.Context, arg repository.UpdateInvoiceStatusParams) error {
			statusWrites = append(statusWrites, arg.Status)
			return nil
		},
		MarkInvoicePaidFunc: func(ctx context.Context, arg repository.MarkInvoicePaidParams) error {
			paid = true
			return nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementSucceeded,
		EventID:         "evt_retry",
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_retry",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{domain.InvoiceStatusPending}, statusWrites)
	assert.True(t, paid)
}

func TestHandleSettlement_ReplayOnPaidInvoiceIsNoOp(t *testing.T) {
	var wrote bool
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			return testInvoice(t, domain.InvoiceStatusPaid), nil
		},
		CreatePaymentFunc: func(ctx context.Context, arg repository.CreatePaymentParams) (repository.Payment, error) {
			wrote = true
			return repository.Payment{}, nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementSucceeded,
		EventID:         "evt_replay",
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_hook",
	})
	require.NoError(t, err)
	assert.False(t, wrote, "replay must not duplicate the ledger row")
}

func TestHandleSettlement_DuplicateIntentIsNoOp(t *testing.T) {
	var wrote bool
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			return testInvoice(t, domain.InvoiceStatusPending), nil
		},
		GetPaymentByIntentFunc: func(ctx context.Context, arg repository.GetPaymentByIntentParams) (repository.Payment, error) {
			return repository.Payment{Status: domain.PaymentStatusCompleted}, nil
		},
		CreatePaymentFunc: func(ctx context.Context, arg repository.CreatePaymentParams) (repository.Payment, error) {
			wrote = true
			return repository.Payment{}, nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementSucceeded,
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_seen",
	})
	require.NoError(t, err)
	assert.False(t, wrote)
}

func TestHandleSettlement_ConcurrentDeliveryLosesGracefully(t *testing.T) {
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			return testInvoice(t, domain.InvoiceStatusPending), nil
		},
		CreatePaymentFunc: func(ctx context.Context, arg repository.CreatePaymentParams) (repository.Payment, error) {
			return repository.Payment{}, uniqueViolation()
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementSucceeded,
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_race",
	})
	assert.NoError(t, err, "unique index makes the second writer a no-op")
}

func TestHandleSettlement_FailureRecordsLedgerOnly(t *testing.T) {
	var statusWrites int
	var ledger repository.CreatePaymentParams
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			return testInvoice(t, domain.InvoiceStatusPending), nil
		},
		UpdateInvoiceStatusFunc: func(ctx context.Context, arg repository.UpdateInvoiceStatusParams) error {
			statusWrites++
			return nil
		},
		MarkInvoicePaidFunc: func(ctx context.Context, arg repository.MarkInvoicePaidParams) error {
			statusWrites++
			return nil
		},
		CreatePaymentFunc: func(ctx context.Context, arg repository.CreatePaymentParams) (repository.Payment, error) {
			ledger = arg
			return repository.Payment{}, nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementFailed,
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_fail",
		FailureMessage:  "insufficient funds",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, statusWrites, "async failure never terminates the invoice")
	assert.Equal(t, domain.PaymentStatusFailed, ledger.Status)
}

func TestHandleSettlement_FailureOnPaidInvoiceIgnored(t *testing.T) {
	var wrote bool
	repo := &mockQuerier{
		GetInvoiceByIDFunc: func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
			return testInvoice(t, domain.InvoiceStatusPaid), nil
		},
		CreatePaymentFunc: func(ctx context.Context, arg repository.CreatePaymentParams) (repository.Payment, error) {
			wrote = true
			return repository.Payment{}, nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementFailed,
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_late_fail",
	})
	require.NoError(t, err)
	assert.False(t, wrote, "paid state never regresses")
}

func TestHandleSettlement_UnknownInvoiceDiscarded(t *testing.T) {
	r := newTestReconciler(&mockQuerier{})

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementSucceeded,
		EventID:         "evt_stray",
		InvoiceID:       testInvoiceID,
		PaymentIntentID: "pi_stray",
	})
	assert.NoError(t, err, "stray events are acknowledged, not retried forever")
}

func TestHandleSettlement_FallsBackToStripeInvoiceID(t *testing.T) {
	var lookedUp string
	repo := &mockQuerier{
		GetInvoiceByStripeIDFunc: func(ctx context.Context, stripeInvoiceID string) (repository.Invoice, error) {
			lookedUp = stripeInvoiceID
			inv := testInvoice(t, domain.InvoiceStatusPending)
			inv.StripeInvoiceID = pgtype.Text{String: stripeInvoiceID, Valid: true}
			return inv, nil
		},
	}
	r := newTestReconciler(repo)

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:            domain.SettlementSucceeded,
		StripeInvoiceID: "in_hosted",
		PaymentIntentID: "pi_hosted",
	})
	require.NoError(t, err)
	assert.Equal(t, "in_hosted", lookedUp)
}

func TestHandleSettlement_UnknownKindIgnored(t *testing.T) {
	r := newTestReconciler(&mockQuerier{})

	err := r.HandleSettlement(context.Background(), domain.SettlementEvent{
		Kind:    domain.SettlementUnknown,
		EventID: "evt_other",
	})
	assert.NoError(t, err)
}
