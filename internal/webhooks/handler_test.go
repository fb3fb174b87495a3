package webhooks

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/offroad-parts/checkout/internal/payment/stripe"
	"github.com/offroad-parts/checkout/internal/payment/stripe/stripetest"
)

func TestHandler_HandleStripe(t *testing.T) {
	f := newFixture(t)
	handler := NewHandler(f.processor, slog.New(slog.NewTextHandler(io.Discard, nil)))

	paid := paidSession("cs_http")
	f.provider.AddSession(paid)
	anon := paidSession("cs_http_anon")
	anon.UserID = ""
	f.provider.AddSession(anon)

	validBody, validHeader := stripetest.SignedEvent(t, stripetest.WebhookSecret, "evt_http", stripe.EventCheckoutCompleted, paid)
	forgedBody, forgedHeader := stripetest.SignedEvent(t, "whsec_other", "evt_forged", stripe.EventCheckoutCompleted, paid)
	anonBody, anonHeader := stripetest.SignedEvent(t, stripetest.WebhookSecret, "evt_http_anon", stripe.EventCheckoutCompleted, anon)

	tests := []struct {
		name       string
		body       []byte
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "missing signature", body: validBody, header: "", wantStatus: http.StatusBadRequest, wantBody: "missing signature"},
		{name: "forged signature", body: forgedBody, header: forgedHeader, wantStatus: http.StatusBadRequest, wantBody: "signature verification failed"},
		{name: "paid session", body: validBody, header: validHeader, wantStatus: http.StatusOK, wantBody: "webhook received"},
		{name: "redelivery", body: validBody, header: validHeader, wantStatus: http.StatusOK, wantBody: "event already processed"},
		{name: "missing user", body: anonBody, header: anonHeader, wantStatus: http.StatusInternalServerError, wantBody: "webhook processing failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(tt.body))
			if tt.header != "" {
				req.Header.Set(SignatureHeader, tt.header)
			}
			rec := httptest.NewRecorder()

			handler.HandleStripe(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
				t.Errorf("unexpected content type %s", ct)
			}
		})
	}

	if f.orders.count() != 1 {
		t.Errorf("expected exactly one order after all deliveries, got %d", f.orders.count())
	}
}
