package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/offroad-parts/checkout/internal/config"
	"github.com/offroad-parts/checkout/internal/domain"
)

type fakePayPal struct {
	*httptest.Server
	tokenCalls   atomic.Int32
	tokenDelay   atomic.Int64
	lastCreate   createOrderRequest
	lastCapture  string
	captureReply string
	captureCode  int
}

func newFakePayPal(t *testing.T) *fakePayPal {
	t.Helper()
	f := &fakePayPal{captureCode: http.StatusCreated}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "sb-client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		if d := time.Duration(f.tokenDelay.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		f.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A21AA-token","token_type":"Bearer","expires_in":32400}`))
	})
	mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A21AA-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f.lastCreate); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5O190127TN364715T","status":"CREATED","links":[
			{"href":"https://api-m.sandbox.paypal.com/v2/checkout/orders/5O190127TN364715T","rel":"self","method":"GET"},
			{"href":"https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T","rel":"approve","method":"GET"}]}`))
	})
	mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "UNKNOWN" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"name":"RESOURCE_NOT_FOUND","message":"The specified resource does not exist.","debug_id":"dbg1"}`))
			return
		}
		f.lastCapture = r.PathValue("id")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.captureCode)
		_, _ = w.Write([]byte(f.captureReply))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakePayPal) client(clientID string) *Client {
	cfg := config.PayPalConfig{ClientID: clientID, ClientSecret: "secret", APIURL: f.URL}
	return NewClient(cfg, f.Client(), 5*time.Second, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const completedCapture = `{
	"id": "5O190127TN364715T",
	"status": "COMPLETED",
	"payer": {"payer_id": "QYR5Z8XDVJNXQ", "email_address": "buyer@example.test", "name": {"given_name": "Jordan", "surname": "Trail"}},
	"purchase_units": [{
		"reference_id": "default",
		"shipping": {
			"name": {"full_name": "Jordan Trail"},
			"address": {"address_line_1": "12 Ridge Rd", "admin_area_2": "Moab", "admin_area_1": "UT", "postal_code": "84532", "country_code": "US"}
		},
		"payments": {"captures": [{"id": "3C679366HH908993F", "status": "COMPLETED", "amount": {"currency_code": "USD", "value": "129.97"}}]}
	}]
}`

func testCart() []domain.CartItem {
	return []domain.CartItem{
		{ProductID: "winch-cable", Name: "Winch cable", Price: decimal.RequireFromString("29.99"), Quantity: 1},
		{ProductID: "skid-plate", Name: "Skid plate", Price: decimal.RequireFromString("49.99"), Quantity: 2},
	}
}

func TestIsSandboxClientID(t *testing.T) {
	tests := []struct {
		clientID string
		want     bool
	}{
		{"sb-abc123", true},
		{"AbSandboxApp", true},
		{"AZDxjDScFpQtjWTOUtWKbyN_bDt4OgqaF4eYXlewfBP4", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSandboxClientID(tt.clientID); got != tt.want {
			t.Errorf("IsSandboxClientID(%q) = %v, want %v", tt.clientID, got, tt.want)
		}
	}
}

func TestNewClient_BaseURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sandbox := NewClient(config.PayPalConfig{ClientID: "sb-1", ClientSecret: "x"}, http.DefaultClient, time.Second, nil, logger)
	live := NewClient(config.PayPalConfig{ClientID: "AZlive", ClientSecret: "x"}, http.DefaultClient, time.Second, nil, logger)

	if sandbox.baseURL != SandboxURL || !sandbox.Sandbox() {
		t.Errorf("expected sandbox client, got %s", sandbox.baseURL)
	}
	if live.baseURL != LiveURL || live.Sandbox() {
		t.Errorf("expected live client, got %s", live.baseURL)
	}
}

func TestClient_CreateOrder(t *testing.T) {
	t.Run("creates order with two decimal total", func(t *testing.T) {
		f := newFakePayPal(t)
		c := f.client("sb-client")

		created, err := c.CreateOrder(context.Background(), testCart(), "user-1", "https://shop.example.test/paypal/return", "https://shop.example.test/cart")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if created.OrderID != "5O190127TN364715T" {
			t.Errorf("unexpected order id %q", created.OrderID)
		}
		if created.ApprovalURL != "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T" {
			t.Errorf("unexpected approval url %q", created.ApprovalURL)
		}
		if !created.IsTestMode {
			t.Error("expected test mode for a sandbox client id")
		}

		unit := f.lastCreate.PurchaseUnits[0]
		if unit.Amount.Value != "129.97" || unit.Amount.CurrencyCode != "USD" {
			t.Errorf("unexpected amount %+v", unit.Amount)
		}
		if unit.CustomID != "user-1" || len(unit.Items) != 2 || unit.Items[1].Quantity != "2" {
			t.Errorf("unexpected purchase unit %+v", unit)
		}
	})

	t.Run("token is reused", func(t *testing.T) {
		f := newFakePayPal(t)
		c := f.client("sb-client")

		for i := 0; i < 3; i++ {
			if _, err := c.CreateOrder(context.Background(), testCart(), "user-1", "", ""); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if got := f.tokenCalls.Load(); got != 1 {
			t.Errorf("expected one token request, got %d", got)
		}
	})

	t.Run("token fetch honours the request timeout", func(t *testing.T) {
		f := newFakePayPal(t)
		f.tokenDelay.Store(int64(2 * time.Second))
		cfg := config.PayPalConfig{ClientID: "sb-client", ClientSecret: "secret", APIURL: f.URL}
		c := NewClient(cfg, f.Client(), 100*time.Millisecond, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

		started := time.Now()
		_, err := c.CreateOrder(context.Background(), testCart(), "user-1", "", "")
		if elapsed := time.Since(started); elapsed > time.Second {
			t.Fatalf("expected the call to give up after the timeout, took %s", elapsed)
		}
		var upErr *domain.UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("expected UpstreamError, got %v", err)
		}

		f.tokenDelay.Store(0)
		if _, err := c.CreateOrder(context.Background(), testCart(), "user-1", "", ""); err != nil {
			t.Fatalf("expected a fresh token after the timeout, got %v", err)
		}
	})

	t.Run("token fetch honours caller cancellation", func(t *testing.T) {
		f := newFakePayPal(t)
		f.tokenDelay.Store(int64(2 * time.Second))
		c := f.client("sb-client")

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		started := time.Now()
		if _, err := c.CreateOrder(ctx, testCart(), "user-1", "", ""); err == nil {
			t.Fatal("expected an error")
		}
		if elapsed := time.Since(started); elapsed > time.Second {
			t.Errorf("expected the call to stop with the caller, took %s", elapsed)
		}
	})

	t.Run("validation", func(t *testing.T) {
		f := newFakePayPal(t)
		c := f.client("sb-client")

		for name, call := range map[string]func() error{
			"empty cart":   func() error { _, err := c.CreateOrder(context.Background(), nil, "user-1", "", ""); return err },
			"missing user": func() error { _, err := c.CreateOrder(context.Background(), testCart(), "", "", ""); return err },
		} {
			var validErr *domain.ValidationError
			if err := call(); !errors.As(err, &validErr) {
				t.Errorf("%s: expected ValidationError, got %v", name, err)
			}
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		c := NewClient(config.PayPalConfig{}, http.DefaultClient, time.Second, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

		_, err := c.CreateOrder(context.Background(), testCart(), "user-1", "", "")
		var cfgErr *domain.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})

	t.Run("rejected credentials", func(t *testing.T) {
		f := newFakePayPal(t)
		c := f.client("sb-wrong")

		_, err := c.CreateOrder(context.Background(), testCart(), "user-1", "", "")
		var upErr *domain.UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("expected UpstreamError, got %v", err)
		}
		if domain.HTTPStatus(err) != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", domain.HTTPStatus(err))
		}
	})
}

func TestClient_CaptureOrder(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		f := newFakePayPal(t)
		f.captureReply = completedCapture
		c := f.client("sb-client")

		capture, err := c.CaptureOrder(context.Background(), "5O190127TN364715T")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if capture.CaptureID != "3C679366HH908993F" || capture.PayerEmail != "buyer@example.test" {
			t.Errorf("unexpected capture: %+v", capture)
		}
		if capture.Amount.StringFixed(2) != "129.97" {
			t.Errorf("expected amount 129.97, got %s", capture.Amount)
		}
		want := domain.Shipping{Name: "Jordan Trail", Email: "buyer@example.test", Line1: "12 Ridge Rd", City: "Moab", State: "UT", PostalCode: "84532", Country: "US"}
		if capture.Shipping == nil || *capture.Shipping != want {
			t.Errorf("unexpected shipping: %+v", capture.Shipping)
		}
	})

	t.Run("not completed", func(t *testing.T) {
		f := newFakePayPal(t)
		f.captureReply = `{"id":"5O190127TN364715T","status":"PAYER_ACTION_REQUIRED"}`
		c := f.client("sb-client")

		_, err := c.CaptureOrder(context.Background(), "5O190127TN364715T")
		var payErr *domain.PaymentNotCompletedError
		if !errors.As(err, &payErr) {
			t.Fatalf("expected PaymentNotCompletedError, got %v", err)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFakePayPal(t)
		c := f.client("sb-client")

		if _, err := c.CaptureOrder(context.Background(), "UNKNOWN"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("order id stays one path segment", func(t *testing.T) {
		f := newFakePayPal(t)
		f.captureReply = completedCapture
		c := f.client("sb-client")

		if _, err := c.CaptureOrder(context.Background(), "5O19/refund?note=x"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.lastCapture != "5O19/refund?note=x" {
			t.Errorf("expected the raw id as a single segment, got %q", f.lastCapture)
		}
	})

	t.Run("provider rejection hides body", func(t *testing.T) {
		f := newFakePayPal(t)
		f.captureCode = http.StatusUnprocessableEntity
		f.captureReply = `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED","description":"Order already captured."}],"debug_id":"dbg2"}`
		c := f.client("sb-client")

		_, err := c.CaptureOrder(context.Background(), "5O190127TN364715T")
		var upErr *domain.UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("expected UpstreamError, got %v", err)
		}
		if upErr.Status != http.StatusUnprocessableEntity || upErr.Message != "Order already captured." {
			t.Errorf("unexpected error %+v", upErr)
		}
		if msg := domain.PublicMessage(err); msg != "Order already captured." {
			t.Errorf("unexpected public message %q", msg)
		}
	})
}
