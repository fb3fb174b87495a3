package messaging

import (
	"errors"
	"fmt"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: "traceparent", Value: []byte("old")}}}
	c := carrierFor(&msg)

	c.Set("traceparent", "00-abc-def-01")
	c.Set("baggage", "order_id=42")

	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("expected overwritten traceparent, got %q", got)
	}
	if len(msg.Headers) != 2 {
		t.Fatalf("expected headers written through to the message, got %d", len(msg.Headers))
	}
	if got := c.Get("missing"); got != "" {
		t.Errorf("expected empty value for missing key, got %q", got)
	}
	if keys := c.Keys(); len(keys) != 2 || keys[1] != "baggage" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("expected nil for nil error")
	}

	base := errors.New("bad payload")
	wrapped := fmt.Errorf("handle order.created: %w", Permanent(base))
	if !IsPermanent(wrapped) {
		t.Error("expected wrapped permanent error to be detected")
	}
	if !errors.Is(wrapped, base) {
		t.Error("expected the cause to stay reachable")
	}
	if IsPermanent(base) {
		t.Error("plain errors are retryable")
	}
}
