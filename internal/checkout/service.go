// Package checkout serves the storefront's payment calls: hosted session creation, redirect
// verification and confirmation, and the PayPal create and capture flow.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/offroad-parts/checkout/internal/domain"
	"github.com/offroad-parts/checkout/internal/payment/paypal"
	"github.com/offroad-parts/checkout/internal/payment/stripe"
)

type cardGateway interface {
	CreateCheckoutSession(ctx context.Context, items []domain.CartItem, userID, successURL, cancelURL string) (*stripe.CheckoutSession, error)
	VerifySession(ctx context.Context, sessionID string) (*stripe.Session, error)
}

type walletGateway interface {
	CreateOrder(ctx context.Context, items []domain.CartItem, userID, returnURL, cancelURL string) (*paypal.CreatedOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Capture, error)
}

type orderService interface {
	CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, bool, error)
	FindByPayPalOrder(ctx context.Context, paypalOrderID string) (*domain.Order, error)
}

// Verification is what the storefront shows after the provider redirects back.
type Verification struct {
	SessionID     string            `json:"sessionId"`
	LineItems     []stripe.LineItem `json:"lineItems"`
	AmountTotal   decimal.Decimal   `json:"amountTotal"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	Shipping      *domain.Shipping  `json:"shipping,omitempty"`
	PaymentStatus string            `json:"paymentStatus"`
}

type Service struct {
	cards  cardGateway
	wallet walletGateway
	orders orderService
	logger *slog.Logger
}

func NewService(cards cardGateway, wallet walletGateway, orders orderService, logger *slog.Logger) *Service {
	return &Service{
		cards:  cards,
		wallet: wallet,
		orders: orders,
		logger: logger,
	}
}

func (s *Service) CreateStripeSession(ctx context.Context, items []domain.CartItem, userID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	return s.cards.CreateCheckoutSession(ctx, items, userID, successURL, cancelURL)
}

// Verify asks the provider for the session's current state. It never writes.
func (s *Service) Verify(ctx context.Context, sessionID string) (*Verification, error) {
	sess, err := s.verifiedSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Verification{
		SessionID:     sess.ID,
		LineItems:     sess.LineItems,
		AmountTotal:   decimal.New(sess.AmountTotal, -2),
		CustomerEmail: sess.CustomerEmail,
		Shipping:      sess.Shipping,
		PaymentStatus: sess.PaymentStatus,
	}, nil
}

// Confirm re-verifies a paid session and records its order. The order comes from the
// provider's line items, so a client cannot influence prices. Confirming a session whose order
// the webhook already created returns that order.
func (s *Service) Confirm(ctx context.Context, sessionID string) (*domain.Order, bool, error) {
	sess, err := s.verifiedSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if sess.UserID == "" {
		return nil, false, &domain.MissingUserError{SessionID: sess.ID}
	}

	order, created, err := s.orders.CreateOrder(ctx, sess.Order())
	if err != nil {
		return nil, false, fmt.Errorf("create order for session %s: %w", sess.ID, err)
	}
	return order, created, nil
}

func (s *Service) verifiedSession(ctx context.Context, sessionID string) (*stripe.Session, error) {
	if sessionID == "" {
		return nil, &domain.ValidationError{Message: "session id is required"}
	}

	sess, err := s.cards.VerifySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.AmountTotal <= 0 {
		return nil, &domain.ValidationError{Message: "checkout session has no amount"}
	}
	return sess, nil
}

func (s *Service) CreatePayPalOrder(ctx context.Context, items []domain.CartItem, userID, returnURL, cancelURL string) (*paypal.CreatedOrder, error) {
	return s.wallet.CreateOrder(ctx, items, userID, returnURL, cancelURL)
}

// CapturePayPalOrder captures the provider order and records it with the buyer's shipping
// details. A provider order that already has an order is returned without capturing again.
func (s *Service) CapturePayPalOrder(ctx context.Context, paypalOrderID, userID string, items []domain.CartItem) (*domain.Order, bool, error) {
	if userID == "" {
		return nil, false, &domain.ValidationError{Message: "user id is required"}
	}
	if err := domain.ValidateCart(items); err != nil {
		return nil, false, err
	}

	existing, err := s.orders.FindByPayPalOrder(ctx, paypalOrderID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	capture, err := s.wallet.CaptureOrder(ctx, paypalOrderID)
	if err != nil {
		return nil, false, err
	}

	total := domain.CartTotal(items)
	if !capture.Amount.IsZero() && !capture.Amount.Equal(total) {
		s.logger.Error("paypal capture amount differs from cart total, order not recorded",
			"paypal_order_id", paypalOrderID, "capture_id", capture.CaptureID, "user_id", userID,
			"captured", capture.Amount.StringFixed(2), "cart_total", total.StringFixed(2))
		return nil, false, &domain.AmountMismatchError{
			Provider:  domain.ProviderPayPal,
			Reference: capture.CaptureID,
			Expected:  capture.Amount,
			Actual:    total,
		}
	}

	order, created, err := s.orders.CreateOrder(ctx, &domain.Order{
		UserID:          userID,
		Items:           domain.OrderItems(items),
		Total:           total,
		Status:          domain.OrderStatusPending,
		Provider:        domain.ProviderPayPal,
		PayPalOrderID:   paypalOrderID,
		PayPalCaptureID: capture.CaptureID,
		Shipping:        capture.Shipping,
	})
	if err != nil {
		s.logger.Error("paypal payment captured but order not recorded", "error", err,
			"paypal_order_id", paypalOrderID, "capture_id", capture.CaptureID, "user_id", userID)
		return nil, false, err
	}
	return order, created, nil
}
