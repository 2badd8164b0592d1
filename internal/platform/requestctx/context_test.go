package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestTraceResourceName(t *testing.T) {
	info := TraceInfo{TraceID: "0af7651916cd43dd8448eb211c80319c", ProjectID: "masar-prod"}
	if got := info.ResourceName(); got != "projects/masar-prod/traces/0af7651916cd43dd8448eb211c80319c" {
		t.Fatalf("unexpected resource name %q", got)
	}
	if got := (TraceInfo{TraceID: "abc"}).ResourceName(); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestLoggerFallsBackToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatal("expected noop logger on a bare context")
	}
	logger := zap.NewExample()
	if Logger(WithLogger(context.Background(), logger)) != logger {
		t.Fatal("expected stored logger")
	}
	if Logger(WithLogger(context.Background(), nil)) != NoopLogger() {
		t.Fatal("expected nil logger to be replaced by noop")
	}
}

func TestClientRoundTrip(t *testing.T) {
	if _, ok := Client(context.Background()); ok {
		t.Fatal("expected no client info")
	}
	ctx := WithClient(context.Background(), ClientInfo{IPAddress: "198.51.100.4", RequestID: "req-1"})
	info, ok := Client(ctx)
	if !ok || info.IPAddress != "198.51.100.4" || info.RequestID != "req-1" {
		t.Fatalf("unexpected client info %+v", info)
	}
}
