package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// PayPalRelayProvider hands the customer to the hosted PayPal checkout relay. The relay posts the
// capture back through the signed capture webhook, so no PayPal SDK is involved here.
type PayPalRelayProvider struct {
	checkoutURL *url.URL
}

var _ Provider = (*PayPalRelayProvider)(nil)

// NewPayPalRelayProvider validates the relay checkout URL.
func NewPayPalRelayProvider(checkoutURL string) (*PayPalRelayProvider, error) {
	u, err := url.Parse(strings.TrimSpace(checkoutURL))
	if err != nil {
		return nil, fmt.Errorf("paypal: parse checkout url: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return nil, errors.New("paypal: checkout url must be absolute https")
	}
	return &PayPalRelayProvider{checkoutURL: u}, nil
}

// StartPayment returns the relay URL for the order. The order id doubles as the intent id.
func (p *PayPalRelayProvider) StartPayment(_ context.Context, req PaymentRequest) (PaymentSession, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return PaymentSession{}, errors.New("paypal: order id is required")
	}
	u := *p.checkoutURL
	q := u.Query()
	q.Set("order_id", req.OrderID)
	if req.OrderNumber != "" {
		q.Set("order_number", req.OrderNumber)
	}
	q.Set("amount", req.Amount.StringFixed(2))
	q.Set("currency", strings.ToUpper(req.Currency))
	u.RawQuery = q.Encode()
	return PaymentSession{IntentID: req.OrderID, RedirectURL: u.String()}, nil
}

// Refund is settled by staff in the PayPal dashboard.
func (p *PayPalRelayProvider) Refund(context.Context, RefundRequest) error {
	return ErrRefundUnsupported
}
