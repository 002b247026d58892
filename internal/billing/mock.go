package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Simulates successful payment flows without calling the Stripe API.
type MockProvider struct {
	// CreateCustomerFunc allows customizing customer creation behavior
	CreateCustomerFunc func(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// CreateSetupIntentFunc allows customizing setup intent behavior
	CreateSetupIntentFunc func(ctx context.Context, params CreateSetupIntentParams) (*SetupIntent, error)

	// CreatePaymentIntentFunc allows customizing payment intent behavior
	CreatePaymentIntentFunc func(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error)

	// CreateImmediatePaymentFunc allows customizing synchronous charge behavior
	CreateImmediatePaymentFunc func(ctx context.Context, params ImmediatePaymentParams) (*PaymentResult, error)

	// CreateHostedInvoiceFunc allows customizing hosted invoice behavior
	CreateHostedInvoiceFunc func(ctx context.Context, params HostedInvoiceParams) (*HostedInvoice, error)

	// CreateCheckoutSessionFunc allows customizing checkout session behavior
	CreateCheckoutSessionFunc func(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)

	// CreateSubscriptionFunc allows customizing subscription behavior
	CreateSubscriptionFunc func(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)

	// PayHostedInvoiceFunc allows customizing invoice collection behavior
	PayHostedInvoiceFunc func(ctx context.Context, params PayHostedInvoiceParams) (*PaymentResult, error)

	// ListPaymentMethodsFunc allows customizing stored card listing
	ListPaymentMethodsFunc func(ctx context.Context, params ListPaymentMethodsParams) ([]PaymentMethod, error)

	// EnsureCouponFunc allows customizing coupon provisioning
	EnsureCouponFunc func(ctx context.Context, params EnsureCouponParams) (string, error)

	// VerifyWebhookSignatureFunc allows customizing webhook verification
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error

	// Customers stores created customers for retrieval
	Customers map[string]*Customer

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Customers: make(map[string]*Customer),
		CallLog:   []string{},
	}
}

func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCustomer(%s, %s)", params.Email, params.ConnectedAccountID))
	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}
	cus := &Customer{
		ID:    "cus_" + uuid.New().String(),
		Email: params.Email,
		Name:  params.Name,
	}
	m.Customers[cus.ID] = cus
	return cus, nil
}

func (m *MockProvider) CreateSetupIntent(ctx context.Context, params CreateSetupIntentParams) (*SetupIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateSetupIntent(%s, %s)", params.CustomerID, params.ConnectedAccountID))
	if m.CreateSetupIntentFunc != nil {
		return m.CreateSetupIntentFunc(ctx, params)
	}
	id := "seti_" + uuid.New().String()
	return &SetupIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (m *MockProvider) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreatePaymentIntent(%d, %s)", params.AmountMinor, params.ConnectedAccountID))
	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, params)
	}
	id := "pi_" + uuid.New().String()
	return &PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
	}, nil
}

func (m *MockProvider) CreateImmediatePayment(ctx context.Context, params ImmediatePaymentParams) (*PaymentResult, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateImmediatePayment(%d, %s)", params.AmountMinor, params.ConnectedAccountID))
	if m.CreateImmediatePaymentFunc != nil {
		return m.CreateImmediatePaymentFunc(ctx, params)
	}
	return &PaymentResult{
		PaymentIntentID: "pi_" + uuid.New().String(),
		Status:          "succeeded",
		Succeeded:       true,
	}, nil
}

func (m *MockProvider) CreateHostedInvoice(ctx context.Context, params HostedInvoiceParams) (*HostedInvoice, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateHostedInvoice(%s, %s)", params.CustomerID, params.ConnectedAccountID))
	if m.CreateHostedInvoiceFunc != nil {
		return m.CreateHostedInvoiceFunc(ctx, params)
	}
	id := "in_" + uuid.New().String()
	return &HostedInvoice{ID: id, HostedURL: "https://invoice.example.com/" + id}, nil
}

func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCheckoutSession(%s, %s)", params.CustomerID, params.ConnectedAccountID))
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}
	id := "cs_" + uuid.New().String()
	return &CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (m *MockProvider) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateSubscription(%s, %s)", params.CustomerID, params.ConnectedAccountID))
	if m.CreateSubscriptionFunc != nil {
		return m.CreateSubscriptionFunc(ctx, params)
	}
	return &Subscription{
		ID:              "sub_" + uuid.New().String(),
		Status:          "active",
		LatestInvoiceID: "in_" + uuid.New().String(),
	}, nil
}

func (m *MockProvider) PayHostedInvoice(ctx context.Context, params PayHostedInvoiceParams) (*PaymentResult, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("PayHostedInvoice(%s, %s)", params.ProcessorInvoiceID, params.ConnectedAccountID))
	if m.PayHostedInvoiceFunc != nil {
		return m.PayHostedInvoiceFunc(ctx, params)
	}
	return &PaymentResult{
		PaymentIntentID: "pi_" + uuid.New().String(),
		Status:          "paid",
		Succeeded:       true,
	}, nil
}

func (m *MockProvider) ListPaymentMethods(ctx context.Context, params ListPaymentMethodsParams) ([]PaymentMethod, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ListPaymentMethods(%s, %s)", params.CustomerID, params.ConnectedAccountID))
	if m.ListPaymentMethodsFunc != nil {
		return m.ListPaymentMethodsFunc(ctx, params)
	}
	return []PaymentMethod{}, nil
}

func (m *MockProvider) EnsureCoupon(ctx context.Context, params EnsureCouponParams) (string, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("EnsureCoupon(%s)", params.CouponID))
	if m.EnsureCouponFunc != nil {
		return m.EnsureCouponFunc(ctx, params)
	}
	return params.CouponID, nil
}

func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.CallLog = append(m.CallLog, "VerifyWebhookSignature")
	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}
	return nil
}

var _ Provider = (*MockProvider)(nil)
