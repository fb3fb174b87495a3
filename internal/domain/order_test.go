package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCartTotal(t *testing.T) {
	items := []CartItem{
		{ProductID: "winch-cable", Price: decimal.RequireFromString("29.99"), Quantity: 1},
		{ProductID: "skid-plate", Price: decimal.RequireFromString("49.99"), Quantity: 2},
	}

	total := CartTotal(items)
	if total.StringFixed(2) != "129.97" {
		t.Fatalf("expected total 129.97, got %s", total.StringFixed(2))
	}

	orderTotal := ItemsTotal(OrderItems(items))
	if !orderTotal.Equal(total) {
		t.Fatalf("expected order total %s to match cart total %s", orderTotal, total)
	}
}

func TestValidateCart(t *testing.T) {
	tests := []struct {
		name    string
		items   []CartItem
		wantErr bool
	}{
		{name: "empty cart", items: nil, wantErr: true},
		{name: "zero quantity", items: []CartItem{{ProductID: "p1", Price: decimal.NewFromInt(1), Quantity: 0}}, wantErr: true},
		{name: "negative price", items: []CartItem{{ProductID: "p1", Price: decimal.NewFromInt(-1), Quantity: 1}}, wantErr: true},
		{name: "no product reference", items: []CartItem{{Price: decimal.NewFromInt(1), Quantity: 1}}, wantErr: true},
		{name: "name only", items: []CartItem{{Name: "Snorkel kit", Price: decimal.NewFromInt(1), Quantity: 1}}},
		{name: "valid", items: []CartItem{{ProductID: "p1", Price: decimal.RequireFromString("10.50"), Quantity: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCart(tt.items)
			if tt.wantErr {
				var validErr *ValidationError
				if !errors.As(err, &validErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusApproved, true},
		{OrderStatusPending, OrderStatusCanceled, true},
		{OrderStatusApproved, OrderStatusShipped, true},
		{OrderStatusApproved, OrderStatusCanceled, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusPending, OrderStatusPending, true},
		{OrderStatusPending, OrderStatusDelivered, false},
		{OrderStatusShipped, OrderStatusCanceled, false},
		{OrderStatusDelivered, OrderStatusPending, false},
		{OrderStatusCanceled, OrderStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &ValidationError{Message: "bad"}, http.StatusBadRequest},
		{"payment", &PaymentNotCompletedError{Status: "unpaid"}, http.StatusBadRequest},
		{"not found wrapped", fmt.Errorf("session cs_1: %w", ErrNotFound), http.StatusNotFound},
		{"transition", ErrInvalidTransition, http.StatusConflict},
		{"upstream 4xx", &UpstreamError{Provider: ProviderStripe, Status: 400}, http.StatusBadRequest},
		{"upstream 5xx", &UpstreamError{Provider: ProviderPayPal, Status: 503}, http.StatusBadGateway},
		{"config", &ConfigurationError{Setting: "STRIPE_SECRET_KEY"}, http.StatusInternalServerError},
		{"persistence", &PersistenceError{Op: "insert order", Err: errors.New("boom")}, http.StatusInternalServerError},
		{"missing user", &MissingUserError{SessionID: "cs_1"}, http.StatusInternalServerError},
		{"amount mismatch", fmt.Errorf("capture: %w", &AmountMismatchError{Provider: ProviderPayPal, Reference: "CAPTURE-1"}), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPublicMessageHidesProviderBody(t *testing.T) {
	err := &UpstreamError{Provider: ProviderPayPal, Status: 500, Body: `{"debug_id":"abc","internal":"stack"}`}
	if msg := PublicMessage(err); msg != "payment provider unavailable" {
		t.Errorf("unexpected public message %q", msg)
	}
}

func TestPublicMessageAmountMismatch(t *testing.T) {
	err := &AmountMismatchError{
		Provider:  ProviderStripe,
		Reference: "cs_1",
		Expected:  decimal.RequireFromString("110.00"),
		Actual:    decimal.RequireFromString("100.00"),
	}
	if msg := PublicMessage(err); msg != "payment amount does not match the order" {
		t.Errorf("unexpected public message %q", msg)
	}
	if !strings.Contains(err.Error(), "110.00") || !strings.Contains(err.Error(), "cs_1") {
		t.Errorf("expected amounts and reference in %q", err.Error())
	}
}
