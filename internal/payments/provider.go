package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/masar-academy/api/internal/services"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrRefundUnsupported is returned by providers whose refunds are settled outside the API.
	ErrRefundUnsupported = errors.New("payments: refund not supported by provider")
)

// PaymentRequest asks a provider to start collecting an amount.
type PaymentRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         decimal.Decimal
	Currency       string
	CustomerEmail  string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentSession is what the client needs to finish paying.
type PaymentSession struct {
	IntentID     string
	ClientSecret string
	RedirectURL  string
}

// RefundRequest defines a PSP refund attempt.
type RefundRequest struct {
	IntentID       string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	StartPayment(ctx context.Context, req PaymentRequest) (PaymentSession, error)
	Refund(ctx context.Context, req RefundRequest) error
}

// Manager routes gateway calls to the provider named by the order's payment method.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

var _ services.PaymentGateway = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normaliseKey(provider)
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := normaliseKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolve(name string) (string, Provider, error) {
	if key := normaliseKey(name); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	return "", nil, ErrUnsupportedProvider
}

// StartPayment delegates to the resolved provider.
func (m *Manager) StartPayment(ctx context.Context, req services.GatewayPaymentRequest) (services.GatewayPayment, error) {
	key, provider, err := m.resolve(req.Provider)
	if err != nil {
		return services.GatewayPayment{}, err
	}
	if !req.Amount.IsPositive() {
		return services.GatewayPayment{}, fmt.Errorf("payments: amount must be positive, got %s", req.Amount)
	}
	session, err := provider.StartPayment(ctx, PaymentRequest{
		OrderID:        req.OrderID,
		OrderNumber:    req.OrderNumber,
		Amount:         req.Amount,
		Currency:       req.Currency,
		CustomerEmail:  req.CustomerEmail,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return services.GatewayPayment{}, err
	}
	return services.GatewayPayment{
		Provider:     key,
		IntentID:     session.IntentID,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
	}, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, req services.GatewayRefundRequest) error {
	_, provider, err := m.resolve(req.Provider)
	if err != nil {
		return err
	}
	return provider.Refund(ctx, RefundRequest{
		IntentID:       req.IntentID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// minorUnitExponent lists currencies whose minor unit is not cents.
var minorUnitExponent = map[string]int32{
	"BHD": 3,
	"JOD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
	"JPY": 0,
}

// MinorUnits converts amount to the integer minor units PSPs expect, rounding half away from zero.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	exp, ok := minorUnitExponent[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		exp = 2
	}
	return amount.Shift(exp).Round(0).IntPart()
}
