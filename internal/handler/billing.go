package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/middleware"
	"github.com/cadencehq/cadence/internal/repository"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// BillingHandler exposes the payment and invoice operations over JSON.
type BillingHandler struct {
	invoices domain.InvoiceService
	logger   *slog.Logger
}

// NewBillingHandler creates the billing API handler.
func NewBillingHandler(invoices domain.InvoiceService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{invoices: invoices, logger: logger}
}

// CreateSetupIntent handles POST /api/setup-intents.
func (h *BillingHandler) CreateSetupIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if req.UserID == "" {
		ErrorResponse(w, r, domain.Invalid("handler.CreateSetupIntent", "userId is required"))
		return
	}

	result, err := h.invoices.CreateSetupIntent(r.Context(), req.UserID)
	if err != nil {
		h.logError(r, "create setup intent failed", err)
		ErrorResponse(w, r, err)
		return
	}

	resp := map[string]any{
		"clientSecret":       result.ClientSecret,
		"isConnectedAccount": result.IsConnectedAccount,
	}
	if result.ConnectedAccountID != "" {
		resp["connectedAccountId"] = result.ConnectedAccountID
	}
	JSON(w, http.StatusOK, resp)
}

// GetPaymentMethods handles POST /api/payment-methods.
func (h *BillingHandler) GetPaymentMethods(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if req.UserID == "" {
		ErrorResponse(w, r, domain.Invalid("handler.GetPaymentMethods", "userId is required"))
		return
	}

	methods, err := h.invoices.ListPaymentMethods(r.Context(), req.UserID)
	if err != nil {
		h.logError(r, "list payment methods failed", err)
		ErrorResponse(w, r, err)
		return
	}
	if methods == nil {
		methods = []domain.PaymentMethodInfo{}
	}
	JSON(w, http.StatusOK, map[string]any{"paymentMethods": methods})
}

// ProcessImmediatePayment handles POST /api/payments/immediate.
func (h *BillingHandler) ProcessImmediatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID       string      `json:"bookingId"`
		Amount          json.Number `json:"amount"`
		PaymentMethodID string      `json:"paymentMethodId"`
		CustomerID      string      `json:"customerId"`
		StudioID        string      `json:"studioId"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if req.BookingID == "" || req.PaymentMethodID == "" || req.CustomerID == "" || req.StudioID == "" {
		ErrorResponse(w, r, domain.Invalid("handler.ProcessImmediatePayment", "bookingId, amount, paymentMethodId, customerId and studioId are required"))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	result, err := h.invoices.ProcessImmediatePayment(r.Context(), domain.ImmediatePaymentParams{
		BookingID:       req.BookingID,
		Amount:          amount,
		PaymentMethodID: req.PaymentMethodID,
		ParentID:        req.CustomerID,
		StudioID:        req.StudioID,
	})
	if err != nil {
		h.logError(r, "immediate payment failed", err)
		ErrorResponse(w, r, err)
		return
	}

	if !result.Succeeded {
		msg := result.DeclineMessage
		if msg == "" {
			msg = "Payment did not complete (status: " + result.ProcessorStatus + ")"
		}
		JSON(w, http.StatusPaymentRequired, map[string]any{
			"success": false,
			"error":   msg,
			"code":    domain.EPAYMENT,
		})
		return
	}

	resp := map[string]any{
		"success":   true,
		"paymentId": result.PaymentIntentID,
	}
	if result.LedgerGap {
		resp["warning"] = "Payment succeeded but the ledger entry failed; manual reconciliation required"
	}
	JSON(w, http.StatusOK, resp)
}

// CreateArtifact handles POST /api/payment-intents, the unified artifact
// creation operation.
func (h *BillingHandler) CreateArtifact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceID         string      `json:"invoiceId"`
		Amount            json.Number `json:"amount"`
		Setup             bool        `json:"setup"`
		IsRecurring       bool        `json:"isRecurring"`
		RecurringInterval string      `json:"recurringInterval"`
		RecurringEndDate  string      `json:"recurringEndDate"`
		PaymentMethodID   string      `json:"paymentMethodId"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if req.InvoiceID == "" {
		ErrorResponse(w, r, domain.Invalid("handler.CreateArtifact", "invoiceId is required"))
		return
	}

	params := domain.CreateArtifactParams{
		InvoiceID:         req.InvoiceID,
		Setup:             req.Setup,
		Recurring:         req.IsRecurring,
		RecurringInterval: req.RecurringInterval,
		PaymentMethodID:   req.PaymentMethodID,
	}
	if req.Amount != "" {
		amount, err := parseAmount(req.Amount)
		if err != nil {
			ErrorResponse(w, r, err)
			return
		}
		params.Amount = amount
	}
	if req.RecurringEndDate != "" {
		end, err := parseDate(req.RecurringEndDate)
		if err != nil {
			ErrorResponse(w, r, err)
			return
		}
		params.RecurringEndDate = end
	}

	result, err := h.invoices.CreateArtifact(r.Context(), params)
	if err != nil {
		h.logError(r, "artifact creation failed", err)
		ErrorResponse(w, r, err)
		return
	}

	switch {
	case result.SubscriptionID != "":
		JSON(w, http.StatusOK, map[string]any{
			"subscription_id": result.SubscriptionID,
			"latest_invoice":  result.LatestInvoice,
		})
	case result.InvoiceID != "":
		JSON(w, http.StatusOK, map[string]any{
			"client_secret": result.ClientSecret,
			"invoice_id":    result.InvoiceID,
		})
	default:
		JSON(w, http.StatusOK, map[string]any{"client_secret": result.ClientSecret})
	}
}

// CreateHostedInvoice handles POST /api/invoices/hosted.
func (h *BillingHandler) CreateHostedInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceID string `json:"invoiceId"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if req.InvoiceID == "" {
		ErrorResponse(w, r, domain.Invalid("handler.CreateHostedInvoice", "invoiceId is required"))
		return
	}

	result, err := h.invoices.CreateHostedInvoice(r.Context(), req.InvoiceID)
	if err != nil {
		h.logError(r, "hosted invoice creation failed", err)
		ErrorResponse(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"invoice_id":         result.StripeInvoiceID,
		"hosted_invoice_url": result.HostedInvoiceURL,
	})
}

// CreateCheckoutLink handles POST /api/invoices/checkout-link.
func (h *BillingHandler) CreateCheckoutLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceID       string `json:"invoiceId"`
		StripeInvoiceID string `json:"stripeInvoiceId"`
		SuccessURL      string `json:"successUrl"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if req.InvoiceID == "" || req.StripeInvoiceID == "" {
		ErrorResponse(w, r, domain.Invalid("handler.CreateCheckoutLink", "invoiceId and stripeInvoiceId are required"))
		return
	}

	url, err := h.invoices.CreateCheckoutLink(r.Context(), domain.CheckoutLinkParams{
		InvoiceID:       req.InvoiceID,
		StripeInvoiceID: req.StripeInvoiceID,
		SuccessURL:      req.SuccessURL,
	})
	if err != nil {
		h.logError(r, "checkout link creation failed", err)
		ErrorResponse(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"url": url})
}

// PayHostedInvoice handles POST /api/invoices/pay.
func (h *BillingHandler) PayHostedInvoice(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		ErrorResponse(w, r, domain.Unauthorized("handler.PayHostedInvoice", "Authentication required"))
		return
	}

	var req struct {
		InvoiceID       string `json:"invoiceId"`
		StripeInvoiceID string `json:"stripeInvoiceId"`
		PaymentMethodID string `json:"paymentMethodId"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if req.InvoiceID == "" || req.StripeInvoiceID == "" || req.PaymentMethodID == "" {
		ErrorResponse(w, r, domain.Invalid("handler.PayHostedInvoice", "invoiceId, stripeInvoiceId and paymentMethodId are required"))
		return
	}

	result, err := h.invoices.PayHostedInvoice(r.Context(), domain.PayHostedInvoiceParams{
		InvoiceID:       req.InvoiceID,
		StripeInvoiceID: req.StripeInvoiceID,
		PaymentMethodID: req.PaymentMethodID,
		ParentID:        actor.ID,
	})
	if err != nil {
		h.logError(r, "hosted invoice collection failed", err)
		ErrorResponse(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"invoice_id":           result.InvoiceID,
		"payment_intent_id":    result.PaymentIntentID,
		"uses_connect_account": result.UsesConnectAccount,
	})
}

// MarkInvoicePaid handles POST /api/invoices/mark-paid.
func (h *BillingHandler) MarkInvoicePaid(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())

	var req struct {
		InvoiceID        string `json:"invoiceId"`
		PaymentReference string `json:"paymentReference"`
		PaidDate         string `json:"paidDate"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if req.InvoiceID == "" {
		ErrorResponse(w, r, domain.Invalid("handler.MarkInvoicePaid", "invoiceId is required"))
		return
	}

	params := domain.MarkPaidParams{
		InvoiceID:        req.InvoiceID,
		PaymentReference: req.PaymentReference,
		Actor:            actor,
	}
	if req.PaidDate != "" {
		paidDate, err := parseDate(req.PaidDate)
		if err != nil {
			ErrorResponse(w, r, err)
			return
		}
		params.PaidDate = paidDate
	}

	if err := h.invoices.MarkPaidManually(r.Context(), params); err != nil {
		h.logError(r, "manual settlement failed", err)
		ErrorResponse(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

// GetInvoice handles GET /api/invoices/{id}.
func (h *BillingHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.PathValue("id")
	if invoiceID == "" {
		ErrorResponse(w, r, domain.Invalid("handler.GetInvoice", "invoice id is required"))
		return
	}

	detail, err := h.invoices.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	items := make([]map[string]any, 0, len(detail.Items))
	for _, item := range detail.Items {
		items = append(items, map[string]any{
			"description": item.Description,
			"unitPrice":   numericString(item.UnitPrice),
			"quantity":    item.Quantity,
		})
	}
	resp := map[string]any{
		"id":            invoiceID,
		"status":        detail.Invoice.Status,
		"total":         numericString(detail.Invoice.Total),
		"currency":      detail.Invoice.Currency,
		"discountType":  detail.Invoice.DiscountType,
		"discountValue": numericString(detail.Invoice.DiscountValue),
		"paymentMethod": detail.Invoice.PaymentMethod,
		"items":         items,
	}
	if detail.Invoice.HostedInvoiceURL.Valid {
		resp["hostedInvoiceUrl"] = detail.Invoice.HostedInvoiceURL.String
	}
	if detail.Invoice.DueDate.Valid {
		resp["dueDate"] = detail.Invoice.DueDate.Time.Format("2006-01-02")
	}
	JSON(w, http.StatusOK, resp)
}

func (h *BillingHandler) logError(r *http.Request, msg string, err error) {
	middleware.GetLogger(r.Context(), h.logger).Error(msg,
		"error", err,
		"op", domain.ErrorOp(err),
		"code", domain.ErrorCode(err))
}

func parseAmount(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Decimal{}, domain.Invalid("handler.parseAmount", "amount is required")
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, domain.Invalid("handler.parseAmount", "amount must be a number")
	}
	return d, nil
}

func numericString(n pgtype.Numeric) string {
	return repository.DecimalFromNumeric(n).String()
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, domain.Invalid("handler.parseDate", "invalid date format")
}
