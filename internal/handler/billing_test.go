package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/middleware"
	"github.com/cadencehq/cadence/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockInvoiceService implements domain.InvoiceService with overridable
// behavior per method.
type mockInvoiceService struct {
	getInvoiceFunc              func(ctx context.Context, invoiceID string) (*domain.InvoiceDetail, error)
	createSetupIntentFunc       func(ctx context.Context, parentID string) (*domain.SetupIntentResult, error)
	listPaymentMethodsFunc      func(ctx context.Context, parentID string) ([]domain.PaymentMethodInfo, error)
	processImmediatePaymentFunc func(ctx context.Context, params domain.ImmediatePaymentParams) (*domain.ImmediatePaymentResult, error)
	createArtifactFunc          func(ctx context.Context, params domain.CreateArtifactParams) (*domain.ArtifactResult, error)
	createHostedInvoiceFunc     func(ctx context.Context, invoiceID string) (*domain.HostedInvoiceResult, error)
	createCheckoutLinkFunc      func(ctx context.Context, params domain.CheckoutLinkParams) (string, error)
	payHostedInvoiceFunc        func(ctx context.Context, params domain.PayHostedInvoiceParams) (*domain.PayHostedInvoiceResult, error)
	markPaidManuallyFunc        func(ctx context.Context, params domain.MarkPaidParams) error
}

func (m *mockInvoiceService) GetInvoice(ctx context.Context, invoiceID string) (*domain.InvoiceDetail, error) {
	if m.getInvoiceFunc != nil {
		return m.getInvoiceFunc(ctx, invoiceID)
	}
	return nil, domain.NotFound("test.GetInvoice", "Invoice", invoiceID)
}

func (m *mockInvoiceService) CreateSetupIntent(ctx context.Context, parentID string) (*domain.SetupIntentResult, error) {
	if m.createSetupIntentFunc != nil {
		return m.createSetupIntentFunc(ctx, parentID)
	}
	return &domain.SetupIntentResult{ClientSecret: "seti_secret"}, nil
}

func (m *mockInvoiceService) ListPaymentMethods(ctx context.Context, parentID string) ([]domain.PaymentMethodInfo, error) {
	if m.listPaymentMethodsFunc != nil {
		return m.listPaymentMethodsFunc(ctx, parentID)
	}
	return nil, nil
}

func (m *mockInvoiceService) ProcessImmediatePayment(ctx context.Context, params domain.ImmediatePaymentParams) (*domain.ImmediatePaymentResult, error) {
	if m.processImmediatePaymentFunc != nil {
		return m.processImmediatePaymentFunc(ctx, params)
	}
	return &domain.ImmediatePaymentResult{Succeeded: true, PaymentIntentID: "pi_1"}, nil
}

func (m *mockInvoiceService) CreateArtifact(ctx context.Context, params domain.CreateArtifactParams) (*domain.ArtifactResult, error) {
	if m.createArtifactFunc != nil {
		return m.createArtifactFunc(ctx, params)
	}
	return &domain.ArtifactResult{ClientSecret: "pi_secret"}, nil
}

func (m *mockInvoiceService) CreateHostedInvoice(ctx context.Context, invoiceID string) (*domain.HostedInvoiceResult, error) {
	if m.createHostedInvoiceFunc != nil {
		return m.createHostedInvoiceFunc(ctx, invoiceID)
	}
	return &domain.HostedInvoiceResult{StripeInvoiceID: "in_1"}, nil
}

func (m *mockInvoiceService) CreateCheckoutLink(ctx context.Context, params domain.CheckoutLinkParams) (string, error) {
	if m.createCheckoutLinkFunc != nil {
		return m.createCheckoutLinkFunc(ctx, params)
	}
	return "https://checkout.stripe.com/pay/cs_1", nil
}

func (m *mockInvoiceService) PayHostedInvoice(ctx context.Context, params domain.PayHostedInvoiceParams) (*domain.PayHostedInvoiceResult, error) {
	if m.payHostedInvoiceFunc != nil {
		return m.payHostedInvoiceFunc(ctx, params)
	}
	return &domain.PayHostedInvoiceResult{InvoiceID: "in_1", PaymentIntentID: "pi_1"}, nil
}

func (m *mockInvoiceService) MarkPaidManually(ctx context.Context, params domain.MarkPaidParams) error {
	if m.markPaidManuallyFunc != nil {
		return m.markPaidManuallyFunc(ctx, params)
	}
	return nil
}

func (m *mockInvoiceService) ListDueReminders(ctx context.Context, dueWithin time.Duration) ([]repository.Invoice, error) {
	return nil, nil
}

func (m *mockInvoiceService) MarkReminderSent(ctx context.Context, invoiceID string) error {
	return nil
}

var _ domain.InvoiceService = (*mockInvoiceService)(nil)

func newTestHandler(svc domain.InvoiceService) *BillingHandler {
	return NewBillingHandler(svc, slog.Default())
}

func postJSON(t *testing.T, h http.HandlerFunc, body string, actor *domain.Actor) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req = req.WithContext(context.WithValue(req.Context(), middleware.ActorContextKey, actor))
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestCreateSetupIntent(t *testing.T) {
	svc := &mockInvoiceService{
		createSetupIntentFunc: func(ctx context.Context, parentID string) (*domain.SetupIntentResult, error) {
			assert.Equal(t, "parent_1", parentID)
			return &domain.SetupIntentResult{
				ClientSecret:       "seti_secret",
				IsConnectedAccount: true,
				ConnectedAccountID: "acct_123",
			}, nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.CreateSetupIntent, `{"userId": "parent_1"}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "seti_secret", body["clientSecret"])
	assert.Equal(t, true, body["isConnectedAccount"])
	assert.Equal(t, "acct_123", body["connectedAccountId"])
}

func TestCreateSetupIntent_MissingUserID(t *testing.T) {
	h := newTestHandler(&mockInvoiceService{})
	rr := postJSON(t, h.CreateSetupIntent, `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetPaymentMethods_EmptyList(t *testing.T) {
	h := newTestHandler(&mockInvoiceService{})

	rr := postJSON(t, h.GetPaymentMethods, `{"userId": "parent_1"}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	// A parent with no stored cards gets an empty array, never null.
	assert.JSONEq(t, `{"paymentMethods": []}`, rr.Body.String())
}

func TestProcessImmediatePayment(t *testing.T) {
	var got domain.ImmediatePaymentParams
	svc := &mockInvoiceService{
		processImmediatePaymentFunc: func(ctx context.Context, params domain.ImmediatePaymentParams) (*domain.ImmediatePaymentResult, error) {
			got = params
			return &domain.ImmediatePaymentResult{Succeeded: true, PaymentIntentID: "pi_ok"}, nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.ProcessImmediatePayment, `{
		"bookingId": "11111111-1111-1111-1111-111111111111",
		"amount": 90.50,
		"paymentMethodId": "pm_1",
		"customerId": "parent_1",
		"studioId": "studio_1"
	}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pi_ok", body["paymentId"])

	assert.Equal(t, "11111111-1111-1111-1111-111111111111", got.BookingID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("90.5")))
	assert.Equal(t, "parent_1", got.ParentID)
	assert.Equal(t, "studio_1", got.StudioID)
}

func TestProcessImmediatePayment_DeclineIs402(t *testing.T) {
	svc := &mockInvoiceService{
		processImmediatePaymentFunc: func(ctx context.Context, params domain.ImmediatePaymentParams) (*domain.ImmediatePaymentResult, error) {
			return &domain.ImmediatePaymentResult{
				Succeeded:      false,
				DeclineMessage: "Your card was declined.",
			}, nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.ProcessImmediatePayment, `{
		"bookingId": "b1", "amount": 10, "paymentMethodId": "pm_1",
		"customerId": "p1", "studioId": "s1"
	}`, nil)

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Your card was declined.", body["error"])
}

func TestProcessImmediatePayment_LedgerGapWarns(t *testing.T) {
	svc := &mockInvoiceService{
		processImmediatePaymentFunc: func(ctx context.Context, params domain.ImmediatePaymentParams) (*domain.ImmediatePaymentResult, error) {
			return &domain.ImmediatePaymentResult{Succeeded: true, PaymentIntentID: "pi_ok", LedgerGap: true}, nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.ProcessImmediatePayment, `{
		"bookingId": "b1", "amount": 10, "paymentMethodId": "pm_1",
		"customerId": "p1", "studioId": "s1"
	}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["warning"], "ledger")
}

func TestProcessImmediatePayment_BadAmount(t *testing.T) {
	h := newTestHandler(&mockInvoiceService{})
	rr := postJSON(t, h.ProcessImmediatePayment, `{
		"bookingId": "b1", "amount": "not-a-number", "paymentMethodId": "pm_1",
		"customerId": "p1", "studioId": "s1"
	}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateArtifact_PaymentIntent(t *testing.T) {
	svc := &mockInvoiceService{
		createArtifactFunc: func(ctx context.Context, params domain.CreateArtifactParams) (*domain.ArtifactResult, error) {
			assert.False(t, params.Setup)
			assert.False(t, params.Recurring)
			return &domain.ArtifactResult{ClientSecret: "pi_secret", InvoiceID: "inv_1"}, nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.CreateArtifact, `{"invoiceId": "inv_1", "amount": 100}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"client_secret": "pi_secret", "invoice_id": "inv_1"}`, rr.Body.String())
}

func TestCreateArtifact_Subscription(t *testing.T) {
	svc := &mockInvoiceService{
		createArtifactFunc: func(ctx context.Context, params domain.CreateArtifactParams) (*domain.ArtifactResult, error) {
			assert.True(t, params.Recurring)
			assert.Equal(t, "month", params.RecurringInterval)
			assert.Equal(t, "pm_1", params.PaymentMethodID)
			assert.Equal(t, 2027, params.RecurringEndDate.Year())
			return &domain.ArtifactResult{SubscriptionID: "sub_1", LatestInvoice: "in_1"}, nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.CreateArtifact, `{
		"invoiceId": "inv_1",
		"isRecurring": true,
		"recurringInterval": "month",
		"recurringEndDate": "2027-06-01",
		"paymentMethodId": "pm_1"
	}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"subscription_id": "sub_1", "latest_invoice": "in_1"}`, rr.Body.String())
}

func TestCreateArtifact_Setup(t *testing.T) {
	svc := &mockInvoiceService{
		createArtifactFunc: func(ctx context.Context, params domain.CreateArtifactParams) (*domain.ArtifactResult, error) {
			assert.True(t, params.Setup)
			return &domain.ArtifactResult{ClientSecret: "seti_secret"}, nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.CreateArtifact, `{"invoiceId": "inv_1", "setup": true}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"client_secret": "seti_secret"}`, rr.Body.String())
}

func TestCreateHostedInvoice(t *testing.T) {
	svc := &mockInvoiceService{
		createHostedInvoiceFunc: func(ctx context.Context, invoiceID string) (*domain.HostedInvoiceResult, error) {
			assert.Equal(t, "inv_1", invoiceID)
			return &domain.HostedInvoiceResult{
				StripeInvoiceID:  "in_1",
				HostedInvoiceURL: "https://invoice.stripe.com/i/in_1",
			}, nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.CreateHostedInvoice, `{"invoiceId": "inv_1"}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "in_1", body["invoice_id"])
	assert.Equal(t, "https://invoice.stripe.com/i/in_1", body["hosted_invoice_url"])
}

func TestCreateCheckoutLink(t *testing.T) {
	svc := &mockInvoiceService{
		createCheckoutLinkFunc: func(ctx context.Context, params domain.CheckoutLinkParams) (string, error) {
			assert.Equal(t, "inv_1", params.InvoiceID)
			assert.Equal(t, "in_1", params.StripeInvoiceID)
			assert.Equal(t, "https://example.com/done", params.SuccessURL)
			return "https://checkout.stripe.com/pay/cs_1", nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.CreateCheckoutLink, `{
		"invoiceId": "inv_1",
		"stripeInvoiceId": "in_1",
		"successUrl": "https://example.com/done"
	}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"url": "https://checkout.stripe.com/pay/cs_1"}`, rr.Body.String())
}

func TestPayHostedInvoice(t *testing.T) {
	actor := &domain.Actor{ID: "parent_1", Role: domain.RoleParent}
	svc := &mockInvoiceService{
		payHostedInvoiceFunc: func(ctx context.Context, params domain.PayHostedInvoiceParams) (*domain.PayHostedInvoiceResult, error) {
			assert.Equal(t, "parent_1", params.ParentID)
			assert.Equal(t, "pm_1", params.PaymentMethodID)
			return &domain.PayHostedInvoiceResult{
				InvoiceID:          "inv_1",
				PaymentIntentID:    "pi_1",
				UsesConnectAccount: true,
			}, nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.PayHostedInvoice, `{
		"invoiceId": "inv_1",
		"stripeInvoiceId": "in_1",
		"paymentMethodId": "pm_1"
	}`, actor)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "inv_1", body["invoice_id"])
	assert.Equal(t, "pi_1", body["payment_intent_id"])
	assert.Equal(t, true, body["uses_connect_account"])
}

func TestPayHostedInvoice_RequiresActor(t *testing.T) {
	h := newTestHandler(&mockInvoiceService{})
	rr := postJSON(t, h.PayHostedInvoice, `{
		"invoiceId": "inv_1", "stripeInvoiceId": "in_1", "paymentMethodId": "pm_1"
	}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMarkInvoicePaid(t *testing.T) {
	actor := &domain.Actor{ID: "owner_1", Role: domain.RoleOwner, StudioID: "studio_1"}
	var got domain.MarkPaidParams
	svc := &mockInvoiceService{
		markPaidManuallyFunc: func(ctx context.Context, params domain.MarkPaidParams) error {
			got = params
			return nil
		},
	}
	h := newTestHandler(svc)

	rr := postJSON(t, h.MarkInvoicePaid, `{
		"invoiceId": "inv_1",
		"paymentReference": "BACS-4417"
	}`, actor)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success": true}`, rr.Body.String())
	assert.Equal(t, "inv_1", got.InvoiceID)
	assert.Equal(t, "BACS-4417", got.PaymentReference)
	require.NotNil(t, got.Actor)
	assert.Equal(t, "owner_1", got.Actor.ID)
}

func TestMarkInvoicePaid_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unauthenticated", domain.Unauthorized("t", "Authentication required"), http.StatusUnauthorized},
		{"wrong_role", domain.Forbidden("t", "Owner role required"), http.StatusForbidden},
		{"unknown_invoice", domain.NotFound("t", "Invoice", "inv_1"), http.StatusNotFound},
		{"already_paid", domain.ErrInvoiceAlreadyPaid, http.StatusBadRequest},
		{"not_bank_transfer", domain.ErrNotBankTransfer, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockInvoiceService{
				markPaidManuallyFunc: func(ctx context.Context, params domain.MarkPaidParams) error {
					return tt.err
				},
			}
			h := newTestHandler(svc)

			rr := postJSON(t, h.MarkInvoicePaid, `{"invoiceId": "inv_1"}`, nil)

			assert.Equal(t, tt.wantStatus, rr.Code)
			body := decodeBody(t, rr)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestDecodeJSON_RejectsGarbage(t *testing.T) {
	h := newTestHandler(&mockInvoiceService{})
	rr := postJSON(t, h.CreateHostedInvoice, `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
