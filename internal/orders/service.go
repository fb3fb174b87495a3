package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/offroad-parts/checkout/internal/config"
	"github.com/offroad-parts/checkout/internal/domain"
	"github.com/offroad-parts/checkout/internal/telemetry"
)

type orderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByStripeSession(ctx context.Context, sessionID string) (*domain.Order, error)
	GetByPayPalOrder(ctx context.Context, paypalOrderID string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, allow func(from domain.OrderStatus) bool) (*domain.Order, domain.OrderStatus, error)
}

// EventPublisher is satisfied by *messaging.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// Service is the single write path for orders. Both payment confirmation paths
// (provider webhook and verified redirect) end here.
type Service struct {
	store     orderStore
	publisher EventPublisher
	metrics   *telemetry.CheckoutMetrics
	logger    *slog.Logger
	strict    bool
}

// NewService builds a Service. publisher and metrics may be nil.
func NewService(store orderStore, publisher EventPublisher, metrics *telemetry.CheckoutMetrics, logger *slog.Logger, statusPolicy string) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		strict:    statusPolicy != config.StatusPolicyPermissive,
	}
}

// CreateOrder validates and persists a fully resolved order. When an order already exists
// for the same provider session or PayPal order, that order is returned with created=false.
func (s *Service) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, bool, error) {
	if err := validateOrder(order); err != nil {
		return nil, false, err
	}

	err := s.store.Create(ctx, order)
	if errors.Is(err, domain.ErrAlreadyExists) {
		existing, lookupErr := s.existing(ctx, order)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("load existing order: %w", lookupErr)
		}
		s.logger.Info("order already recorded for provider reference",
			"order_id", existing.ID, "stripe_session_id", order.StripeSessionID, "paypal_order_id", order.PayPalOrderID)
		return existing, false, nil
	}
	if err != nil {
		s.logger.Error("failed to create order", "error", err, "user_id", order.UserID, "provider", order.Provider)
		return nil, false, err
	}

	s.metrics.OrderCreated(ctx, string(order.Provider))
	s.publish(ctx, domain.TopicOrderCreated, order.ID, domain.NewOrderCreatedEvent(order))

	s.logger.Info("order created", "order_id", order.ID, "user_id", order.UserID,
		"provider", order.Provider, "total", order.Total.StringFixed(2))
	return order, true, nil
}

func (s *Service) existing(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	switch {
	case order.StripeSessionID != "":
		return s.store.GetByStripeSession(ctx, order.StripeSessionID)
	case order.PayPalOrderID != "":
		return s.store.GetByPayPalOrder(ctx, order.PayPalOrderID)
	}
	return nil, domain.ErrNotFound
}

// FindByStripeSession returns the order created for a checkout session, or domain.ErrNotFound.
func (s *Service) FindByStripeSession(ctx context.Context, sessionID string) (*domain.Order, error) {
	return s.store.GetByStripeSession(ctx, sessionID)
}

// FindByPayPalOrder returns the order created for a captured PayPal order, or domain.ErrNotFound.
func (s *Service) FindByPayPalOrder(ctx context.Context, paypalOrderID string) (*domain.Order, error) {
	return s.store.GetByPayPalOrder(ctx, paypalOrderID)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.store.GetByID(ctx, id)
}

// ListByUser returns one user's orders. There is no unscoped listing.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Message: "user_id is required"}
	}
	return s.store.ListByUser(ctx, userID)
}

// UpdateStatus moves an order to status. Under the strict policy only transitions in the
// order lifecycle are accepted; the permissive policy overwrites unconditionally.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown order status %q", status)}
	}

	var allow func(from domain.OrderStatus) bool
	if s.strict {
		allow = func(from domain.OrderStatus) bool { return domain.CanTransition(from, status) }
	}

	order, from, err := s.store.UpdateStatus(ctx, id, status, allow)
	if err != nil {
		return nil, err
	}

	if from != status {
		s.publish(ctx, domain.TopicOrderStatusChanged, order.ID, domain.OrderStatusChangedEvent{
			OrderID:   order.ID,
			From:      from,
			To:        status,
			Timestamp: time.Now().UTC(),
		})
	}

	s.logger.Info("order status updated", "order_id", order.ID, "from", from, "to", status)
	return order, nil
}

// publish is best effort: the order is already committed, so a broker outage is logged
// and does not fail the caller.
func (s *Service) publish(ctx context.Context, topic, key string, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, key, event); err != nil {
		s.logger.Error("failed to publish order event", "error", err, "topic", topic, "order_id", key)
	}
}

func validateOrder(order *domain.Order) error {
	if order.UserID == "" {
		return &domain.ValidationError{Message: "user id is required"}
	}
	if len(order.Items) == 0 {
		return &domain.ValidationError{Message: "order has no items"}
	}
	for i, item := range order.Items {
		if item.Quantity <= 0 {
			return &domain.ValidationError{Message: fmt.Sprintf("item %d: quantity must be positive", i)}
		}
		if item.Price.IsNegative() {
			return &domain.ValidationError{Message: fmt.Sprintf("item %d: price must not be negative", i)}
		}
	}
	if order.StripeSessionID != "" && order.PayPalOrderID != "" {
		return &domain.ValidationError{Message: "order references more than one payment provider"}
	}

	itemsTotal := domain.ItemsTotal(order.Items)
	if order.Total.IsZero() {
		order.Total = itemsTotal
	} else if !order.Total.Round(2).Equal(itemsTotal) {
		return &domain.ValidationError{Message: fmt.Sprintf("order total %s does not match items total %s",
			order.Total.StringFixed(2), itemsTotal.StringFixed(2))}
	}

	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if !order.Status.Valid() {
		return &domain.ValidationError{Message: fmt.Sprintf("unknown order status %q", order.Status)}
	}
	return nil
}
