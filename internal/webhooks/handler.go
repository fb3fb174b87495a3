package webhooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/offroad-parts/checkout/internal/payment/stripe"
	"github.com/offroad-parts/checkout/internal/telemetry"
)

const (
	SignatureHeader = "Stripe-Signature"
	maxPayloadBytes = 65536
)

type eventProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (Result, error)
}

type Handler struct {
	processor eventProcessor
	logger    *slog.Logger
}

func NewHandler(processor eventProcessor, logger *slog.Logger) *Handler {
	return &Handler{
		processor: processor,
		logger:    logger,
	}
}

// HandleStripe answers 400 for deliveries that fail verification, 500 when processing failed
// and the provider should retry, and 200 otherwise.
func (h *Handler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		h.writeText(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	result, err := h.processor.Process(r.Context(), payload, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, stripe.ErrMissingSignature):
		h.writeText(w, http.StatusBadRequest, "missing signature")
	case errors.Is(err, stripe.ErrInvalidSignature):
		h.logger.Warn("webhook signature verification failed", "error", err)
		h.writeText(w, http.StatusBadRequest, "signature verification failed")
	case errors.Is(err, stripe.ErrMalformedEvent):
		h.logger.Warn("malformed webhook event", "error", err, "event_id", result.EventID)
		h.writeText(w, http.StatusBadRequest, "malformed event")
	case err != nil:
		h.logger.Error("webhook processing failed", "error", err, "event_id", result.EventID)
		h.writeText(w, http.StatusInternalServerError, "webhook processing failed")
	case result.Outcome == telemetry.OutcomeDuplicate:
		h.writeText(w, http.StatusOK, "event already processed")
	default:
		h.writeText(w, http.StatusOK, "webhook received")
	}
}

func (h *Handler) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
