package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/services"
)

const metadataOrderID = "orderId"

var (
	// ErrWebhookSignature is returned when the Stripe-Signature header does not verify.
	ErrWebhookSignature = errors.New("payments: invalid webhook signature")
	// ErrWebhookIgnored marks events that carry no capture outcome.
	ErrWebhookIgnored = errors.New("payments: webhook event ignored")
)

// ParseStripeWebhook verifies the payload and maps payment intent outcomes onto the shared
// capture contract.
func ParseStripeWebhook(payload []byte, signatureHeader, secret string) (services.CaptureResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return services.CaptureResult{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	var outcome services.CaptureOutcome
	switch string(event.Type) {
	case "payment_intent.succeeded":
		outcome = services.CaptureSucceeded
	case "payment_intent.payment_failed":
		outcome = services.CaptureFailed
	default:
		return services.CaptureResult{}, fmt.Errorf("%w: %s", ErrWebhookIgnored, event.Type)
	}
	if event.Data == nil {
		return services.CaptureResult{}, fmt.Errorf("%w: event %s has no data", ErrWebhookIgnored, event.ID)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return services.CaptureResult{}, fmt.Errorf("payments: decode payment intent: %w", err)
	}
	orderID := strings.TrimSpace(intent.Metadata[metadataOrderID])
	if orderID == "" {
		return services.CaptureResult{}, fmt.Errorf("%w: intent %s carries no order id", ErrWebhookIgnored, intent.ID)
	}

	result := services.CaptureResult{
		OrderID:               orderID,
		Method:                domain.PaymentMethodStripe,
		ExternalTransactionID: intent.ID,
		Outcome:               outcome,
		Actor:                 domain.SystemActor("stripe-webhook"),
	}
	if outcome == services.CaptureFailed && intent.LastPaymentError != nil {
		result.FailureReason = intent.LastPaymentError.Msg
		if result.FailureReason == "" {
			result.FailureReason = string(intent.LastPaymentError.Code)
		}
	}
	return result, nil
}
