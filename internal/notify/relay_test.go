package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/offroad-parts/checkout/internal/domain"
	"github.com/offroad-parts/checkout/internal/messaging"
)

func TestRelay_HandleSend(t *testing.T) {
	relay := NewRelay(slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"to":"jordan@example.test","subject":"Order confirmation: 1","body":"hi"}`, http.StatusOK},
		{"bad json", `{"to":`, http.StatusBadRequest},
		{"bad recipient", `{"to":"not-an-address","subject":"x"}`, http.StatusBadRequest},
		{"missing subject", `{"to":"jordan@example.test"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			relay.HandleSend(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestConfirmationMailer_ThroughRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", NewRelay(logger).HandleSend)
	server := httptest.NewServer(mux)
	defer server.Close()

	mailer := NewConfirmationMailer(server.URL, server.Client(), logger)

	if err := mailer.Handle(context.Background(), orderCreated(t, &domain.Shipping{Email: "jordan@example.test"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := mailer.Handle(context.Background(), orderCreated(t, &domain.Shipping{Email: "not-an-address"}))
	if !messaging.IsPermanent(err) {
		t.Fatalf("expected a permanent error for a rejected recipient, got %v", err)
	}
}
