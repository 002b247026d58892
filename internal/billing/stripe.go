package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider using Stripe.
type StripeProvider struct {
	client        *stripe.Client
	webhookSecret string
	callTimeout   time.Duration
	logger        *slog.Logger
}

var _ Provider = (*StripeProvider)(nil)

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string

	// CallTimeout bounds each processor round trip. Zero uses a
	// 30 second default.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// NewStripeProvider creates a Stripe-backed billing provider.
func NewStripeProvider(cfg StripeProviderConfig) *StripeProvider {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeProvider{
		client:        stripe.NewClient(cfg.APIKey),
		webhookSecret: cfg.WebhookSecret,
		callTimeout:   timeout,
		logger:        logger,
	}
}

func (s *StripeProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}

func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	createParams := &stripe.CustomerCreateParams{
		Email:    stripe.String(params.Email),
		Metadata: params.Metadata,
	}
	if params.Name != "" {
		createParams.Name = stripe.String(params.Name)
	}
	if params.Phone != "" {
		createParams.Phone = stripe.String(params.Phone)
	}
	if params.ConnectedAccountID != "" {
		createParams.SetStripeAccount(params.ConnectedAccountID)
	}

	cus, err := s.client.V1Customers.Create(ctx, createParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &Customer{
		ID:        cus.ID,
		Email:     cus.Email,
		Name:      cus.Name,
		CreatedAt: time.Unix(cus.Created, 0),
	}, nil
}

func (s *StripeProvider) CreateSetupIntent(ctx context.Context, params CreateSetupIntentParams) (*SetupIntent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	createParams := &stripe.SetupIntentCreateParams{
		Customer: stripe.String(params.CustomerID),
		Usage:    stripe.String("off_session"),
		AutomaticPaymentMethods: &stripe.SetupIntentCreateAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
		Metadata: params.Metadata,
	}
	if params.ConnectedAccountID != "" {
		createParams.SetStripeAccount(params.ConnectedAccountID)
	}

	si, err := s.client.V1SetupIntents.Create(ctx, createParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &SetupIntent{ID: si.ID, ClientSecret: si.ClientSecret}, nil
}

func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	createParams := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(params.AmountMinor),
		Currency: stripe.String(params.Currency),
		Customer: stripe.String(params.CustomerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: params.Metadata,
	}
	if params.IdempotencyKey != "" {
		createParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	if params.ConnectedAccountID != "" {
		createParams.SetStripeAccount(params.ConnectedAccountID)
	}

	pi, err := s.client.V1PaymentIntents.Create(ctx, createParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

func (s *StripeProvider) CreateImmediatePayment(ctx context.Context, params ImmediatePaymentParams) (*PaymentResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	createParams := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(params.AmountMinor),
		Currency:      stripe.String(params.Currency),
		Customer:      stripe.String(params.CustomerID),
		PaymentMethod: stripe.String(params.PaymentMethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata:      params.Metadata,
	}
	if params.IdempotencyKey != "" {
		createParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	if params.ConnectedAccountID != "" {
		createParams.SetStripeAccount(params.ConnectedAccountID)
	}

	pi, err := s.client.V1PaymentIntents.Create(ctx, createParams)
	if err != nil {
		wrapped := wrapStripeErr(err)
		var stripeErr *StripeError
		if asStripeError(wrapped, &stripeErr) && stripeErr.IsDeclined() {
			// A decline is a business outcome, not a transport failure.
			return &PaymentResult{
				Status:         string(stripe.PaymentIntentStatusRequiresPaymentMethod),
				DeclineMessage: stripeErr.Message,
			}, nil
		}
		return nil, wrapped
	}

	result := &PaymentResult{
		PaymentIntentID: pi.ID,
		Status:          string(pi.Status),
		Succeeded:       pi.Status == stripe.PaymentIntentStatusSucceeded,
	}
	if !result.Succeeded {
		s.logger.Warn("payment intent did not reach terminal success",
			"payment_intent_id", pi.ID,
			"status", pi.Status)
	}
	return result, nil
}

func (s *StripeProvider) CreateHostedInvoice(ctx context.Context, params HostedInvoiceParams) (*HostedInvoice, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	createParams := &stripe.InvoiceCreateParams{
		Customer:         stripe.String(params.CustomerID),
		Currency:         stripe.String(params.Currency),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		AutoAdvance:      stripe.Bool(false),
		Metadata:         params.Metadata,
	}
	if !params.DueDate.IsZero() {
		createParams.DueDate = stripe.Int64(params.DueDate.Unix())
	}
	if params.CouponID != "" {
		createParams.Discounts = []*stripe.InvoiceCreateDiscountParams{
			{Coupon: stripe.String(params.CouponID)},
		}
	}
	if params.IdempotencyKey != "" {
		createParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	if params.ConnectedAccountID != "" {
		createParams.SetStripeAccount(params.ConnectedAccountID)
	}

	inv, err := s.client.V1Invoices.Create(ctx, createParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	for _, line := range params.LineItems {
		itemParams := &stripe.InvoiceItemCreateParams{
			Customer:    stripe.String(params.CustomerID),
			Invoice:     stripe.String(inv.ID),
			Currency:    stripe.String(params.Currency),
			Description: stripe.String(line.Description),
			Metadata:    params.Metadata,
		}
		// Stripe accepts either Amount or Quantity on an item, not both.
		itemParams.Amount = stripe.Int64(line.AmountMinor)
		if params.ConnectedAccountID != "" {
			itemParams.SetStripeAccount(params.ConnectedAccountID)
		}
		if _, err := s.client.V1InvoiceItems.Create(ctx, itemParams); err != nil {
			return nil, wrapStripeErr(err)
		}
	}

	finalizeParams := &stripe.InvoiceFinalizeInvoiceParams{
		AutoAdvance: stripe.Bool(false),
	}
	if params.ConnectedAccountID != "" {
		finalizeParams.SetStripeAccount(params.ConnectedAccountID)
	}
	finalized, err := s.client.V1Invoices.FinalizeInvoice(ctx, inv.ID, finalizeParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	if finalized.HostedInvoiceURL != "" {
		return &HostedInvoice{ID: finalized.ID, HostedURL: finalized.HostedInvoiceURL}, nil
	}

	// No hosted URL yet: fall back to a payment link carrying the same
	// line items and metadata.
	url, err := s.createPaymentLink(ctx, params)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("hosted invoice url missing, created payment link fallback",
		"stripe_invoice_id", finalized.ID)
	return &HostedInvoice{ID: finalized.ID, HostedURL: url, UsedPaymentLink: true}, nil
}

func (s *StripeProvider) createPaymentLink(ctx context.Context, params HostedInvoiceParams) (string, error) {
	var lineItems []*stripe.PaymentLinkCreateLineItemParams
	for _, line := range params.LineItems {
		price, err := s.createOneTimePrice(ctx, line.Description, params.Currency, line.AmountMinor, params.ConnectedAccountID)
		if err != nil {
			return "", err
		}
		lineItems = append(lineItems, &stripe.PaymentLinkCreateLineItemParams{
			Price:    stripe.String(price),
			Quantity: stripe.Int64(1),
		})
	}

	linkParams := &stripe.PaymentLinkCreateParams{
		LineItems: lineItems,
		Metadata:  params.Metadata,
	}
	if params.ConnectedAccountID != "" {
		linkParams.SetStripeAccount(params.ConnectedAccountID)
	}
	link, err := s.client.V1PaymentLinks.Create(ctx, linkParams)
	if err != nil {
		return "", wrapStripeErr(err)
	}
	return link.URL, nil
}

func (s *StripeProvider) createOneTimePrice(ctx context.Context, name, currency string, amountMinor int64, connectedAccountID string) (string, error) {
	productParams := &stripe.ProductCreateParams{Name: stripe.String(name)}
	if connectedAccountID != "" {
		productParams.SetStripeAccount(connectedAccountID)
	}
	product, err := s.client.V1Products.Create(ctx, productParams)
	if err != nil {
		return "", wrapStripeErr(err)
	}

	priceParams := &stripe.PriceCreateParams{
		Product:    stripe.String(product.ID),
		Currency:   stripe.String(currency),
		UnitAmount: stripe.Int64(amountMinor),
	}
	if connectedAccountID != "" {
		priceParams.SetStripeAccount(connectedAccountID)
	}
	price, err := s.client.V1Prices.Create(ctx, priceParams)
	if err != nil {
		return "", wrapStripeErr(err)
	}
	return price.ID, nil
}

func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	createParams := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:   stripe.String(params.CustomerID),
		SuccessURL: stripe.String(params.SuccessURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:   stripe.String(params.Currency),
					UnitAmount: stripe.Int64(params.AmountMinor),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(params.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: params.Metadata,
		},
		Metadata: params.Metadata,
	}
	if params.ConnectedAccountID != "" {
		createParams.SetStripeAccount(params.ConnectedAccountID)
	}

	session, err := s.client.V1CheckoutSessions.Create(ctx, createParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (s *StripeProvider) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	productParams := &stripe.ProductCreateParams{
		Name:     stripe.String(params.ProductName),
		Metadata: params.Metadata,
	}
	if params.ConnectedAccountID != "" {
		productParams.SetStripeAccount(params.ConnectedAccountID)
	}
	product, err := s.client.V1Products.Create(ctx, productParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	priceParams := &stripe.PriceCreateParams{
		Product:    stripe.String(product.ID),
		Currency:   stripe.String(params.Currency),
		UnitAmount: stripe.Int64(params.AmountMinor),
		Recurring: &stripe.PriceCreateRecurringParams{
			Interval: stripe.String(params.Interval),
		},
	}
	if params.ConnectedAccountID != "" {
		priceParams.SetStripeAccount(params.ConnectedAccountID)
	}
	price, err := s.client.V1Prices.Create(ctx, priceParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	subParams := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(price.ID)},
		},
		DefaultPaymentMethod: stripe.String(params.DefaultPaymentMethodID),
		Metadata:             params.Metadata,
	}
	if !params.CancelAt.IsZero() {
		subParams.CancelAt = stripe.Int64(params.CancelAt.Unix())
	}
	if params.IdempotencyKey != "" {
		subParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	if params.ConnectedAccountID != "" {
		subParams.SetStripeAccount(params.ConnectedAccountID)
	}
	subParams.AddExpand("latest_invoice")

	sub, err := s.client.V1Subscriptions.Create(ctx, subParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	result := &Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.LatestInvoice != nil {
		result.LatestInvoiceID = sub.LatestInvoice.ID
	}
	return result, nil
}

func (s *StripeProvider) PayHostedInvoice(ctx context.Context, params PayHostedInvoiceParams) (*PaymentResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	paymentMethodID := params.PaymentMethodID
	if params.ConnectedAccountID != "" {
		// Payment methods are account-scoped: clone the platform-scope
		// method into the connected account before it can be charged
		// there.
		cloneParams := &stripe.PaymentMethodCreateParams{
			Customer:      stripe.String(params.PlatformCustomerID),
			PaymentMethod: stripe.String(params.PaymentMethodID),
		}
		cloneParams.SetStripeAccount(params.ConnectedAccountID)
		cloned, err := s.client.V1PaymentMethods.Create(ctx, cloneParams)
		if err != nil {
			return nil, wrapStripeErr(err)
		}
		paymentMethodID = cloned.ID

		attachParams := &stripe.PaymentMethodAttachParams{
			Customer: stripe.String(params.CustomerID),
		}
		attachParams.SetStripeAccount(params.ConnectedAccountID)
		if _, err := s.client.V1PaymentMethods.Attach(ctx, paymentMethodID, attachParams); err != nil {
			return nil, wrapStripeErr(err)
		}
	}

	updateParams := &stripe.CustomerUpdateParams{
		InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	if params.ConnectedAccountID != "" {
		updateParams.SetStripeAccount(params.ConnectedAccountID)
	}
	if _, err := s.client.V1Customers.Update(ctx, params.CustomerID, updateParams); err != nil {
		return nil, wrapStripeErr(err)
	}

	payParams := &stripe.InvoicePayParams{
		PaymentMethod: stripe.String(paymentMethodID),
	}
	payParams.AddExpand("payments.data.payment.payment_intent")
	if params.ConnectedAccountID != "" {
		payParams.SetStripeAccount(params.ConnectedAccountID)
	}
	paid, err := s.client.V1Invoices.Pay(ctx, params.ProcessorInvoiceID, payParams)
	if err != nil {
		wrapped := wrapStripeErr(err)
		var stripeErr *StripeError
		if asStripeError(wrapped, &stripeErr) && stripeErr.IsDeclined() {
			return &PaymentResult{
				Status:         string(stripe.InvoiceStatusOpen),
				DeclineMessage: stripeErr.Message,
			}, nil
		}
		return nil, wrapped
	}

	result := &PaymentResult{
		Status:          string(paid.Status),
		Succeeded:       paid.Status == stripe.InvoiceStatusPaid,
		PaymentIntentID: invoicePaymentIntentID(paid),
	}
	return result, nil
}

// invoicePaymentIntentID extracts the payment intent backing an invoice
// from its payments list. The default payment Stripe attaches at
// finalization wins; otherwise the first payment intent found is used.
func invoicePaymentIntentID(inv *stripe.Invoice) string {
	if inv == nil || inv.Payments == nil {
		return ""
	}
	var first string
	for _, p := range inv.Payments.Data {
		if p.Payment == nil || p.Payment.PaymentIntent == nil {
			continue
		}
		if p.IsDefault {
			return p.Payment.PaymentIntent.ID
		}
		if first == "" {
			first = p.Payment.PaymentIntent.ID
		}
	}
	return first
}

func (s *StripeProvider) ListPaymentMethods(ctx context.Context, params ListPaymentMethodsParams) ([]PaymentMethod, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	defaultID := s.defaultPaymentMethodID(ctx, params)

	listParams := &stripe.PaymentMethodListParams{
		Customer: stripe.String(params.CustomerID),
		Type:     stripe.String("card"),
	}
	if params.ConnectedAccountID != "" {
		listParams.SetStripeAccount(params.ConnectedAccountID)
	}

	var methods []PaymentMethod
	for pm, err := range s.client.V1PaymentMethods.List(ctx, listParams) {
		if err != nil {
			return nil, wrapStripeErr(err)
		}
		method := PaymentMethod{ID: pm.ID, IsDefault: pm.ID == defaultID}
		if pm.Card != nil {
			method.Brand = string(pm.Card.Brand)
			method.Last4 = pm.Card.Last4
			method.ExpMonth = pm.Card.ExpMonth
			method.ExpYear = pm.Card.ExpYear
		}
		methods = append(methods, method)
	}
	return methods, nil
}

func (s *StripeProvider) defaultPaymentMethodID(ctx context.Context, params ListPaymentMethodsParams) string {
	retrieveParams := &stripe.CustomerRetrieveParams{}
	if params.ConnectedAccountID != "" {
		retrieveParams.SetStripeAccount(params.ConnectedAccountID)
	}
	cus, err := s.client.V1Customers.Retrieve(ctx, params.CustomerID, retrieveParams)
	if err != nil {
		s.logger.Debug("could not resolve default payment method",
			"customer_id", params.CustomerID,
			"error", err)
		return ""
	}
	if cus.InvoiceSettings == nil || cus.InvoiceSettings.DefaultPaymentMethod == nil {
		return ""
	}
	return cus.InvoiceSettings.DefaultPaymentMethod.ID
}

func (s *StripeProvider) EnsureCoupon(ctx context.Context, params EnsureCouponParams) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	retrieveParams := &stripe.CouponRetrieveParams{}
	if params.ConnectedAccountID != "" {
		retrieveParams.SetStripeAccount(params.ConnectedAccountID)
	}
	if coupon, err := s.client.V1Coupons.Retrieve(ctx, params.CouponID, retrieveParams); err == nil {
		return coupon.ID, nil
	}

	createParams := &stripe.CouponCreateParams{
		ID:       stripe.String(params.CouponID),
		Duration: stripe.String(string(stripe.CouponDurationOnce)),
	}
	if params.PercentOff > 0 {
		createParams.PercentOff = stripe.Float64(params.PercentOff)
	} else {
		createParams.AmountOff = stripe.Int64(params.AmountOffMinor)
		createParams.Currency = stripe.String(params.Currency)
	}
	if params.ConnectedAccountID != "" {
		createParams.SetStripeAccount(params.ConnectedAccountID)
	}

	coupon, err := s.client.V1Coupons.Create(ctx, createParams)
	if err != nil {
		// A concurrent request may have created it between lookup and
		// create. Creation conflicts resolve by re-reading.
		if existing, retryErr := s.client.V1Coupons.Retrieve(ctx, params.CouponID, retrieveParams); retryErr == nil {
			return existing.ID, nil
		}
		return "", wrapStripeErr(err)
	}
	return coupon.ID, nil
}

func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	if secret == "" {
		secret = s.webhookSecret
	}
	if _, err := webhook.ConstructEvent(payload, signature, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}
	return nil
}
