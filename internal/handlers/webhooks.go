package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/payments"
	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/platform/httpx"
	"github.com/masar-academy/api/internal/platform/requestctx"
	"github.com/masar-academy/api/internal/services"
)

const (
	maxWebhookBodySize    = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

type captureRequest struct {
	OrderID               string `json:"order_id"`
	Method                string `json:"method"`
	ExternalTransactionID string `json:"external_transaction_id"`
	Outcome               string `json:"outcome"`
	FailureReason         string `json:"failure_reason"`
}

type webhookAck struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
	Order   string `json:"order_status,omitempty"`
}

// PaymentWebhookHandlers receives capture notifications from payment providers and feeds them
// into order reconciliation. Stripe events are verified with the endpoint secret; every other
// relay signs the shared capture contract with HMAC.
type PaymentWebhookHandlers struct {
	orders       services.OrderService
	stripeSecret string
	captureAuth  func(http.Handler) http.Handler
}

// WebhookOption customises PaymentWebhookHandlers.
type WebhookOption func(*PaymentWebhookHandlers)

// WithStripeWebhookSecret enables the Stripe endpoint.
func WithStripeWebhookSecret(secret string) WebhookOption {
	return func(h *PaymentWebhookHandlers) {
		h.stripeSecret = strings.TrimSpace(secret)
	}
}

// WithCaptureAuthenticator sets the middleware that authenticates the generic capture endpoint.
func WithCaptureAuthenticator(mw func(http.Handler) http.Handler) WebhookOption {
	return func(h *PaymentWebhookHandlers) {
		h.captureAuth = mw
	}
}

// NewPaymentWebhookHandlers constructs webhook handlers.
func NewPaymentWebhookHandlers(orders services.OrderService, opts ...WebhookOption) *PaymentWebhookHandlers {
	h := &PaymentWebhookHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
	capture := http.Handler(http.HandlerFunc(h.handleCapture))
	if h.captureAuth != nil {
		capture = h.captureAuth(capture)
	} else {
		capture = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteError(r.Context(), w, httpx.NewError("verification_unavailable", "capture webhook authentication not configured", http.StatusServiceUnavailable))
		})
	}
	r.Method(http.MethodPost, "/payments/capture", capture)
}

func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.stripeSecret == "" {
		writeUnavailable(ctx, w, "payment_webhook")
		return
	}
	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodePayloadTooLarge, "webhook payload too large", http.StatusRequestEntityTooLarge))
			return
		}
		writeInvalid(ctx, w, err.Error())
		return
	}

	result, err := payments.ParseStripeWebhook(payload, r.Header.Get(stripeSignatureHeader), h.stripeSecret)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrWebhookIgnored):
		requestctx.Logger(ctx).Debug("stripe webhook ignored", zap.Error(err))
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "ignored"})
		return
	case errors.Is(err, payments.ErrWebhookSignature):
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "stripe signature verification failed", http.StatusBadRequest))
		return
	default:
		writeInvalid(ctx, w, err.Error())
		return
	}
	h.reconcile(w, r, result)
}

func (h *PaymentWebhookHandlers) handleCapture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "payment_webhook")
		return
	}
	var req captureRequest
	if !decodeJSONBody(w, r, maxWebhookBodySize, false, &req) {
		return
	}

	outcome := services.CaptureOutcome(strings.ToLower(strings.TrimSpace(req.Outcome)))
	if outcome != services.CaptureSucceeded && outcome != services.CaptureFailed {
		writeInvalid(ctx, w, "outcome must be succeeded or failed")
		return
	}
	source := "capture-webhook"
	if meta, ok := auth.HMACMetadataFromContext(ctx); ok {
		source = source + ":" + meta.SecretName
	}
	h.reconcile(w, r, services.CaptureResult{
		OrderID:               strings.TrimSpace(req.OrderID),
		Method:                domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		ExternalTransactionID: strings.TrimSpace(req.ExternalTransactionID),
		Outcome:               outcome,
		FailureReason:         req.FailureReason,
		Actor:                 domain.SystemActor(source),
	})
}

// reconcile answers 2xx only once the outcome is durably applied, so providers retry otherwise.
func (h *PaymentWebhookHandlers) reconcile(w http.ResponseWriter, r *http.Request, result services.CaptureResult) {
	ctx := r.Context()
	order, err := h.orders.ReconcileCapture(ctx, result)
	if err != nil {
		requestctx.Logger(ctx).Warn("capture reconciliation failed",
			zap.String("order_id", result.OrderID),
			zap.String("outcome", string(result.Outcome)),
			zap.String("code", services.CodeOf(err)),
			zap.Error(err),
		)
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookAck{
		Status:  "processed",
		OrderID: order.ID,
		Order:   string(order.Status),
	})
}
