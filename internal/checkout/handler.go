package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/offroad-parts/checkout/internal/domain"
	"github.com/offroad-parts/checkout/internal/payment/paypal"
	"github.com/offroad-parts/checkout/internal/payment/stripe"
)

const maxRequestBytes = 1 << 20

type checkoutService interface {
	CreateStripeSession(ctx context.Context, items []domain.CartItem, userID, successURL, cancelURL string) (*stripe.CheckoutSession, error)
	Verify(ctx context.Context, sessionID string) (*Verification, error)
	Confirm(ctx context.Context, sessionID string) (*domain.Order, bool, error)
	CreatePayPalOrder(ctx context.Context, items []domain.CartItem, userID, returnURL, cancelURL string) (*paypal.CreatedOrder, error)
	CapturePayPalOrder(ctx context.Context, paypalOrderID, userID string, items []domain.CartItem) (*domain.Order, bool, error)
}

type Handler struct {
	service checkoutService
	logger  *slog.Logger
}

func NewHandler(service checkoutService, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type createSessionRequest struct {
	Items      []domain.CartItem `json:"items"`
	UserID     string            `json:"userId"`
	SuccessURL string            `json:"successUrl"`
	CancelURL  string            `json:"cancelUrl"`
}

func (h *Handler) HandleCreateStripeSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.service.CreateStripeSession(r.Context(), req.Items, req.UserID, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.fail(w, domain.HTTPStatus(err), err, "failed to create checkout session", "user_id", req.UserID)
		return
	}

	h.writeJSON(w, http.StatusOK, sess)
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type verifyResponse struct {
	Success bool `json:"success"`
	*Verification
}

// HandleVerify reports every failure as 400 with {success:false, error} so the storefront can
// show the message and send the user home. Only a missing provider secret is a 500.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	verification, err := h.service.Verify(r.Context(), req.SessionID)
	if err != nil {
		status := http.StatusBadRequest
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			status = http.StatusInternalServerError
		}
		h.fail(w, status, err, "session verification failed", "session_id", req.SessionID)
		return
	}

	h.writeJSON(w, http.StatusOK, verifyResponse{Success: true, Verification: verification})
}

type orderResponse struct {
	Success bool          `json:"success"`
	Created bool          `json:"created"`
	Order   *domain.Order `json:"order"`
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, created, err := h.service.Confirm(r.Context(), req.SessionID)
	if err != nil {
		h.fail(w, domain.HTTPStatus(err), err, "failed to confirm checkout session", "session_id", req.SessionID)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, orderResponse{Success: true, Created: created, Order: order})
}

type createPayPalOrderRequest struct {
	Items     []domain.CartItem `json:"items"`
	UserID    string            `json:"userId"`
	ReturnURL string            `json:"returnUrl"`
	CancelURL string            `json:"cancelUrl"`
}

func (h *Handler) HandleCreatePayPalOrder(w http.ResponseWriter, r *http.Request) {
	var req createPayPalOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.service.CreatePayPalOrder(r.Context(), req.Items, req.UserID, req.ReturnURL, req.CancelURL)
	if err != nil {
		h.fail(w, domain.HTTPStatus(err), err, "failed to create paypal order", "user_id", req.UserID)
		return
	}

	h.writeJSON(w, http.StatusOK, created)
}

type captureRequest struct {
	UserID string            `json:"userId"`
	Items  []domain.CartItem `json:"items"`
}

func (h *Handler) HandleCapturePayPalOrder(w http.ResponseWriter, r *http.Request) {
	paypalOrderID := r.PathValue("id")
	if paypalOrderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing paypal order id")
		return
	}

	var req captureRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, created, err := h.service.CapturePayPalOrder(r.Context(), paypalOrderID, req.UserID, req.Items)
	if err != nil {
		h.fail(w, domain.HTTPStatus(err), err, "failed to capture paypal order", "paypal_order_id", paypalOrderID)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, orderResponse{Success: true, Created: created, Order: order})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail logs the full error, provider bodies included, and answers with the public message only.
func (h *Handler) fail(w http.ResponseWriter, status int, err error, msg string, args ...any) {
	attrs := append([]any{"error", err, "status", status}, args...)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, attrs...)
	} else {
		h.logger.Warn(msg, attrs...)
	}
	h.writeError(w, status, domain.PublicMessage(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": message})
}
