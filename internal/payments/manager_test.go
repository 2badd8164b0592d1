package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/masar-academy/api/internal/services"
)

type fakeProvider struct {
	lastOp     string
	lastReq    PaymentRequest
	lastRefund RefundRequest
	session    PaymentSession
	err        error
}

func (f *fakeProvider) StartPayment(_ context.Context, req PaymentRequest) (PaymentSession, error) {
	f.lastOp = "start"
	f.lastReq = req
	return f.session, f.err
}

func (f *fakeProvider) Refund(_ context.Context, req RefundRequest) error {
	f.lastOp = "refund"
	f.lastRefund = req
	return f.err
}

func TestManagerRoutesByProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{session: PaymentSession{IntentID: "pi_1", ClientSecret: "secret"}}
	paypal := &fakeProvider{session: PaymentSession{IntentID: "ord_1", RedirectURL: "https://relay/checkout"}}

	mgr, err := NewManager(map[string]Provider{"Stripe": stripe, "paypal": paypal})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	payment, err := mgr.StartPayment(ctx, services.GatewayPaymentRequest{
		Provider: "paypal",
		OrderID:  "ord_1",
		Amount:   decimal.RequireFromString("150.00"),
		Currency: "SAR",
	})
	if err != nil {
		t.Fatalf("start payment: %v", err)
	}
	if payment.Provider != "paypal" || payment.RedirectURL != "https://relay/checkout" {
		t.Fatalf("unexpected payment %#v", payment)
	}
	if paypal.lastOp != "start" || stripe.lastOp != "" {
		t.Fatalf("expected only paypal to be called, stripe=%q paypal=%q", stripe.lastOp, paypal.lastOp)
	}
	if paypal.lastReq.OrderID != "ord_1" || !paypal.lastReq.Amount.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("request not forwarded: %#v", paypal.lastReq)
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	stripe := &fakeProvider{}
	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := mgr.Refund(context.Background(), services.GatewayRefundRequest{IntentID: "pi_123", Reason: "duplicate"}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if stripe.lastOp != "refund" || stripe.lastRefund.IntentID != "pi_123" {
		t.Fatalf("expected refund to reach default provider, got %#v", stripe.lastRefund)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.StartPayment(context.Background(), services.GatewayPaymentRequest{Provider: "paypal", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerRejectsNonPositiveAmount(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.StartPayment(context.Background(), services.GatewayPaymentRequest{Provider: "stripe", Amount: decimal.Zero}); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"150.00", "SAR", 15000},
		{"99.995", "usd", 10000},
		{"12.345", "KWD", 12345},
		{"500", "JPY", 500},
	}
	for _, tc := range cases {
		if got := MinorUnits(decimal.RequireFromString(tc.amount), tc.currency); got != tc.want {
			t.Fatalf("MinorUnits(%s %s) = %d, want %d", tc.amount, tc.currency, got, tc.want)
		}
	}
}
