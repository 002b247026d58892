package service

import (
	"context"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// mockQuerier implements repository.Querier with overridable functions.
// Unset getters return pgx.ErrNoRows; unset writers succeed.
type mockQuerier struct {
	GetParentByIDFunc                 func(ctx context.Context, id pgtype.UUID) (repository.Parent, error)
	SetParentStripeCustomerIDFunc     func(ctx context.Context, arg repository.SetParentStripeCustomerIDParams) error
	GetStudioByIDFunc                 func(ctx context.Context, id pgtype.UUID) (repository.Studio, error)
	GetConnectedCustomerFunc          func(ctx context.Context, arg repository.GetConnectedCustomerParams) (repository.ConnectedCustomer, error)
	CreateConnectedCustomerFunc       func(ctx context.Context, arg repository.CreateConnectedCustomerParams) (repository.ConnectedCustomer, error)
	CreateInvoiceFunc                 func(ctx context.Context, arg repository.CreateInvoiceParams) (repository.Invoice, error)
	CreateInvoiceItemFunc             func(ctx context.Context, arg repository.CreateInvoiceItemParams) (repository.InvoiceItem, error)
	GetInvoiceByIDFunc                func(ctx context.Context, id pgtype.UUID) (repository.Invoice, error)
	GetInvoiceByStripeIDFunc          func(ctx context.Context, stripeInvoiceID string) (repository.Invoice, error)
	GetInvoiceItemsFunc               func(ctx context.Context, invoiceID pgtype.UUID) ([]repository.InvoiceItem, error)
	UpdateInvoiceStatusFunc           func(ctx context.Context, arg repository.UpdateInvoiceStatusParams) error
	MarkInvoicePaidFunc               func(ctx context.Context, arg repository.MarkInvoicePaidParams) error
	MarkInvoicePaidManuallyFunc       func(ctx context.Context, arg repository.MarkInvoicePaidManuallyParams) error
	SetInvoiceProcessorRefsFunc       func(ctx context.Context, arg repository.SetInvoiceProcessorRefsParams) error
	SetInvoiceSubscriptionFunc        func(ctx context.Context, arg repository.SetInvoiceSubscriptionParams) error
	MarkInvoiceSubscriptionActiveFunc func(ctx context.Context, id pgtype.UUID) error
	ListReminderDueInvoicesFunc       func(ctx context.Context, dueOnOrBefore pgtype.Date) ([]repository.Invoice, error)
	MarkInvoiceReminderSentFunc       func(ctx context.Context, id pgtype.UUID) error
	CreatePaymentFunc                 func(ctx context.Context, arg repository.CreatePaymentParams) (repository.Payment, error)
	GetPaymentByIntentFunc            func(ctx context.Context, arg repository.GetPaymentByIntentParams) (repository.Payment, error)
	GetAPITokenByHashFunc             func(ctx context.Context, tokenHash string) (repository.ApiToken, error)
}

var _ repository.Querier = (*mockQuerier)(nil)

func (m *mockQuerier) GetParentByID(ctx context.Context, id pgtype.UUID) (repository.Parent, error) {
	if m.GetParentByIDFunc != nil {
		return m.GetParentByIDFunc(ctx, id)
	}
	return repository.Parent{}, pgx.ErrNoRows
}

func (m *mockQuerier) SetParentStripeCustomerID(ctx context.Context, arg repository.SetParentStripeCustomerIDParams) error {
	if m.SetParentStripeCustomerIDFunc != nil {
		return m.SetParentStripeCustomerIDFunc(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) GetStudioByID(ctx context.Context, id pgtype.UUID) (repository.Studio, error) {
	if m.GetStudioByIDFunc != nil {
		return m.GetStudioByIDFunc(ctx, id)
	}
	return repository.Studio{}, pgx.ErrNoRows
}

func (m *mockQuerier) GetConnectedCustomer(ctx context.Context, arg repository.GetConnectedCustomerParams) (repository.ConnectedCustomer, error) {
	if m.GetConnectedCustomerFunc != nil {
		return m.GetConnectedCustomerFunc(ctx, arg)
	}
	return repository.ConnectedCustomer{}, pgx.ErrNoRows
}

func (m *mockQuerier) CreateConnectedCustomer(ctx context.Context, arg repository.CreateConnectedCustomerParams) (repository.ConnectedCustomer, error) {
	if m.CreateConnectedCustomerFunc != nil {
		return m.CreateConnectedCustomerFunc(ctx, arg)
	}
	return repository.ConnectedCustomer{
		ParentID:         arg.ParentID,
		StudioID:         arg.StudioID,
		StripeCustomerID: arg.StripeCustomerID,
		StripeAccountID:  arg.StripeAccountID,
	}, nil
}

func (m *mockQuerier) CreateInvoice(ctx context.Context, arg repository.CreateInvoiceParams) (repository.Invoice, error) {
	if m.CreateInvoiceFunc != nil {
		return m.CreateInvoiceFunc(ctx, arg)
	}
	return repository.Invoice{}, nil
}

func (m *mockQuerier) CreateInvoiceItem(ctx context.Context, arg repository.CreateInvoiceItemParams) (repository.InvoiceItem, error) {
	if m.CreateInvoiceItemFunc != nil {
		return m.CreateInvoiceItemFunc(ctx, arg)
	}
	return repository.InvoiceItem{}, nil
}

func (m *mockQuerier) GetInvoiceByID(ctx context.Context, id pgtype.UUID) (repository.Invoice, error) {
	if m.GetInvoiceByIDFunc != nil {
		return m.GetInvoiceByIDFunc(ctx, id)
	}
	return repository.Invoice{}, pgx.ErrNoRows
}

func (m *mockQuerier) GetInvoiceByStripeID(ctx context.Context, stripeInvoiceID string) (repository.Invoice, error) {
	if m.GetInvoiceByStripeIDFunc != nil {
		return m.GetInvoiceByStripeIDFunc(ctx, stripeInvoiceID)
	}
	return repository.Invoice{}, pgx.ErrNoRows
}

func (m *mockQuerier) GetInvoiceItems(ctx context.Context, invoiceID pgtype.UUID) ([]repository.InvoiceItem, error) {
	if m.GetInvoiceItemsFunc != nil {
		return m.GetInvoiceItemsFunc(ctx, invoiceID)
	}
	return nil, nil
}

func (m *mockQuerier) UpdateInvoiceStatus(ctx context.Context, arg repository.UpdateInvoiceStatusParams) error {
	if m.UpdateInvoiceStatusFunc != nil {
		return m.UpdateInvoiceStatusFunc(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) MarkInvoicePaid(ctx context.Context, arg repository.MarkInvoicePaidParams) error {
	if m.MarkInvoicePaidFunc != nil {
		return m.MarkInvoicePaidFunc(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) MarkInvoicePaidManually(ctx context.Context, arg repository.MarkInvoicePaidManuallyParams) error {
	if m.MarkInvoicePaidManuallyFunc != nil {
		return m.MarkInvoicePaidManuallyFunc(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) SetInvoiceProcessorRefs(ctx context.Context, arg repository.SetInvoiceProcessorRefsParams) error {
	if m.SetInvoiceProcessorRefsFunc != nil {
		return m.SetInvoiceProcessorRefsFunc(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) SetInvoiceSubscription(ctx context.Context, arg repository.SetInvoiceSubscriptionParams) error {
	if m.SetInvoiceSubscriptionFunc != nil {
		return m.SetInvoiceSubscriptionFunc(ctx, arg)
	}
	return nil
}

func (m *mockQuerier) MarkInvoiceSubscriptionActive(ctx context.Context, id pgtype.UUID) error {
	if m.MarkInvoiceSubscriptionActiveFunc != nil {
		return m.MarkInvoiceSubscriptionActiveFunc(ctx, id)
	}
	return nil
}

func (m *mockQuerier) ListReminderDueInvoices(ctx context.Context, dueOnOrBefore pgtype.Date) ([]repository.Invoice, error) {
	if m.ListReminderDueInvoicesFunc != nil {
		return m.ListReminderDueInvoicesFunc(ctx, dueOnOrBefore)
	}
	return nil, nil
}

func (m *mockQuerier) MarkInvoiceReminderSent(ctx context.Context, id pgtype.UUID) error {
	if m.MarkInvoiceReminderSentFunc != nil {
		return m.MarkInvoiceReminderSentFunc(ctx, id)
	}
	return nil
}

func (m *mockQuerier) CreatePayment(ctx context.Context, arg repository.CreatePaymentParams) (repository.Payment, error) {
	if m.CreatePaymentFunc != nil {
		return m.CreatePaymentFunc(ctx, arg)
	}
	return repository.Payment{
		InvoiceID: arg.InvoiceID,
		Amount:    arg.Amount,
		Status:    arg.Status,
	}, nil
}

func (m *mockQuerier) GetPaymentByIntent(ctx context.Context, arg repository.GetPaymentByIntentParams) (repository.Payment, error) {
	if m.GetPaymentByIntentFunc != nil {
		return m.GetPaymentByIntentFunc(ctx, arg)
	}
	return repository.Payment{}, pgx.ErrNoRows
}

func (m *mockQuerier) GetAPITokenByHash(ctx context.Context, tokenHash string) (repository.ApiToken, error) {
	if m.GetAPITokenByHashFunc != nil {
		return m.GetAPITokenByHashFunc(ctx, tokenHash)
	}
	return repository.ApiToken{}, pgx.ErrNoRows
}

// mockResolver implements domain.IdentityResolver.
type mockResolver struct {
	resolved *domain.ResolvedCustomer
	err      error
}

func (m *mockResolver) ResolveCustomer(ctx context.Context, parentID, studioID string) (*domain.ResolvedCustomer, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.resolved == nil {
		return &domain.ResolvedCustomer{CustomerID: "cus_test", Currency: "usd"}, nil
	}
	return m.resolved, nil
}

func (m *mockResolver) ResolvePlatformCustomer(ctx context.Context, parentID string) (*domain.ResolvedCustomer, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.resolved == nil {
		return &domain.ResolvedCustomer{CustomerID: "cus_test", Currency: "usd"}, nil
	}
	return m.resolved, nil
}

// --- fixtures ---

func mustUUID(t interface{ Fatalf(string, ...any) }, s string) pgtype.UUID {
	var u pgtype.UUID
	if err := u.Scan(s); err != nil {
		t.Fatalf("bad uuid fixture %q: %v", s, err)
	}
	return u
}

const (
	testInvoiceID = "11111111-1111-1111-1111-111111111111"
	testParentID  = "22222222-2222-2222-2222-222222222222"
	testStudioID  = "33333333-3333-3333-3333-333333333333"
	testOwnerID   = "44444444-4444-4444-4444-444444444444"
)

func testInvoice(t interface{ Fatalf(string, ...any) }, status string) repository.Invoice {
	return repository.Invoice{
		ID:            mustUUID(t, testInvoiceID),
		StudioID:      mustUUID(t, testStudioID),
		ParentID:      mustUUID(t, testParentID),
		Status:        status,
		Total:         repository.NumericFromDecimal(decimal.NewFromInt(100)),
		Currency:      "usd",
		DiscountType:  domain.DiscountNone,
		PaymentMethod: domain.PaymentMethodStripe,
	}
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "uq_test"}
}

func errNoRows() error {
	return pgx.ErrNoRows
}
