package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/offroad-parts/checkout/internal/domain"
	"github.com/offroad-parts/checkout/internal/messaging"
)

func orderCreated(t *testing.T, shipping *domain.Shipping) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.OrderCreatedEvent{
		OrderID:  "6f1c2a",
		UserID:   "user-1",
		Provider: domain.ProviderStripe,
		Items: []domain.OrderItem{
			{ProductID: "winch-cable", Quantity: 1, Price: decimal.RequireFromString("29.99")},
			{ProductID: "skid-plate", Quantity: 2, Price: decimal.RequireFromString("49.99")},
		},
		Total:     decimal.RequireFromString("129.97"),
		Shipping:  shipping,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return payload
}

func TestConfirmationMailer_Handle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("sends confirmation to the shipping email", func(t *testing.T) {
		var got mail
		relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/send" {
				t.Errorf("expected /send, got %s", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer relay.Close()

		mailer := NewConfirmationMailer(relay.URL+"/", relay.Client(), logger)
		shipping := &domain.Shipping{Name: "Jordan Trail", Email: "jordan@example.test", Line1: "12 Ridge Rd", City: "Moab", State: "UT", PostalCode: "84532", Country: "US"}

		if err := mailer.Handle(context.Background(), orderCreated(t, shipping)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.To != "jordan@example.test" || got.Subject != "Order confirmation: 6f1c2a" {
			t.Errorf("unexpected mail: %+v", got)
		}
		for _, want := range []string{"Hi Jordan Trail", "$129.97", "2 x skid-plate @ $49.99", "12 Ridge Rd, Moab"} {
			if !strings.Contains(got.Body, want) {
				t.Errorf("mail body missing %q:\n%s", want, got.Body)
			}
		}
	})

	t.Run("skips orders without email", func(t *testing.T) {
		mailer := NewConfirmationMailer("http://unused", http.DefaultClient, logger)

		if err := mailer.Handle(context.Background(), orderCreated(t, nil)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("bad payload is permanent", func(t *testing.T) {
		mailer := NewConfirmationMailer("http://unused", http.DefaultClient, logger)

		err := mailer.Handle(context.Background(), []byte(`{not json`))
		if !messaging.IsPermanent(err) {
			t.Fatalf("expected a permanent error, got %v", err)
		}
	})

	t.Run("relay outage is retryable", func(t *testing.T) {
		relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer relay.Close()

		mailer := NewConfirmationMailer(relay.URL, relay.Client(), logger)
		err := mailer.Handle(context.Background(), orderCreated(t, &domain.Shipping{Email: "jordan@example.test"}))
		if err == nil || messaging.IsPermanent(err) {
			t.Fatalf("expected a retryable error, got %v", err)
		}
	})

	t.Run("relay rejection is permanent", func(t *testing.T) {
		relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer relay.Close()

		mailer := NewConfirmationMailer(relay.URL, relay.Client(), logger)
		err := mailer.Handle(context.Background(), orderCreated(t, &domain.Shipping{Email: "not-an-address"}))
		if !messaging.IsPermanent(err) {
			t.Fatalf("expected a permanent error, got %v", err)
		}
	})
}
