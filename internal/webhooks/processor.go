// Package webhooks ingests card-provider events: signature check, dedup by event id and order
// creation for paid checkout sessions.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/offroad-parts/checkout/internal/domain"
	"github.com/offroad-parts/checkout/internal/payment/stripe"
	"github.com/offroad-parts/checkout/internal/telemetry"
)

var tracer = otel.Tracer("webhooks/processor")

type eventVerifier interface {
	ConstructEvent(payload []byte, signature string) (*stripe.Event, error)
}

type sessionFetcher interface {
	GetSession(ctx context.Context, sessionID string) (*stripe.Session, error)
}

type orderService interface {
	CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, bool, error)
	FindByStripeSession(ctx context.Context, sessionID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error)
}

type eventStore interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, rec *domain.WebhookEventRecord) error
}

// Result describes what happened to one delivery. Outcome is one of the telemetry.Outcome*
// values.
type Result struct {
	EventID string
	Outcome string
	OrderID string
}

type Processor struct {
	verifier eventVerifier
	sessions sessionFetcher
	orders   orderService
	events   eventStore
	metrics  *telemetry.CheckoutMetrics
	logger   *slog.Logger
}

func NewProcessor(verifier eventVerifier, sessions sessionFetcher, orders orderService, events eventStore, metrics *telemetry.CheckoutMetrics, logger *slog.Logger) *Processor {
	return &Processor{
		verifier: verifier,
		sessions: sessions,
		orders:   orders,
		events:   events,
		metrics:  metrics,
		logger:   logger,
	}
}

// Process handles one delivery. Signature and payload errors come back as the stripe package's
// sentinel errors; any other error means the provider should retry.
func (p *Processor) Process(ctx context.Context, payload []byte, signature string) (Result, error) {
	evt, err := p.verifier.ConstructEvent(payload, signature)
	if err != nil {
		p.metrics.WebhookEvent(ctx, "unknown", telemetry.OutcomeRejected)
		return Result{Outcome: telemetry.OutcomeRejected}, err
	}

	ctx, span := tracer.Start(ctx, "webhook "+evt.Type, trace.WithAttributes(
		attribute.String("webhook.event_id", evt.ID),
		attribute.String("webhook.event_type", evt.Type),
		attribute.String("stripe.session_id", evt.SessionID),
	))
	defer span.End()

	result, err := p.process(ctx, evt)
	span.SetAttributes(attribute.String("webhook.outcome", result.Outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.metrics.WebhookEvent(ctx, evt.Type, result.Outcome)
	return result, err
}

func (p *Processor) process(ctx context.Context, evt *stripe.Event) (Result, error) {
	result := Result{EventID: evt.ID}
	log := p.logger.With("event_id", evt.ID, "event_type", evt.Type)

	seen, err := p.events.Exists(ctx, evt.ID)
	if err != nil {
		log.Error("failed to check webhook event", "error", err)
		result.Outcome = telemetry.OutcomeFailed
		return result, err
	}
	if seen {
		log.Info("webhook event already processed")
		result.Outcome = telemetry.OutcomeDuplicate
		return result, nil
	}

	var handleErr error
	switch evt.Type {
	case stripe.EventCheckoutCompleted, stripe.EventCheckoutAsyncPaymentPassed:
		result.Outcome, result.OrderID, handleErr = p.handlePaid(ctx, log, evt)
	case stripe.EventCheckoutAsyncPaymentFailed:
		result.Outcome, handleErr = p.handlePaymentFailed(ctx, log, evt)
	default:
		log.Info("ignoring webhook event type")
		result.Outcome = telemetry.OutcomeIgnored
	}

	// The event is recorded whatever the handler did, so a failed event carries no order.
	rec := &domain.WebhookEventRecord{EventID: evt.ID, EventType: evt.Type, OrderID: result.OrderID}
	if err := p.events.Record(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) && handleErr == nil {
			log.Info("webhook event recorded by a concurrent delivery")
			result.Outcome = telemetry.OutcomeDuplicate
			return result, nil
		}
		log.Error("failed to record webhook event", "error", err, "order_id", result.OrderID)
		if handleErr == nil {
			result.Outcome = telemetry.OutcomeFailed
			return result, err
		}
	}

	if handleErr != nil {
		result.Outcome = telemetry.OutcomeFailed
		return result, handleErr
	}
	return result, nil
}

// handlePaid creates the order for a paid session from a fresh copy of the session, never from
// the event payload.
func (p *Processor) handlePaid(ctx context.Context, log *slog.Logger, evt *stripe.Event) (string, string, error) {
	if evt.PaymentStatus != "paid" {
		log.Info("checkout session not paid, nothing to do", "session_id", evt.SessionID, "payment_status", evt.PaymentStatus)
		return telemetry.OutcomeIgnored, "", nil
	}
	if evt.SessionID == "" {
		return telemetry.OutcomeFailed, "", fmt.Errorf("event %s: %w", evt.ID, stripe.ErrMalformedEvent)
	}

	sess, err := p.sessions.GetSession(ctx, evt.SessionID)
	if err != nil {
		log.Error("failed to fetch checkout session", "error", err, "session_id", evt.SessionID)
		return telemetry.OutcomeFailed, "", fmt.Errorf("fetch session %s: %w", evt.SessionID, err)
	}
	if !sess.Paid() {
		log.Warn("checkout session no longer reports paid", "session_id", sess.ID, "payment_status", sess.PaymentStatus)
		return telemetry.OutcomeIgnored, "", nil
	}
	if sess.UserID == "" {
		err := &domain.MissingUserError{SessionID: sess.ID}
		log.Error("paid checkout session has no user reference", "error", err, "session_id", sess.ID)
		return telemetry.OutcomeFailed, "", err
	}

	order, created, err := p.orders.CreateOrder(ctx, sess.Order())
	if err != nil {
		log.Error("failed to create order from webhook", "error", err, "session_id", sess.ID)
		return telemetry.OutcomeFailed, "", fmt.Errorf("create order for session %s: %w", sess.ID, err)
	}
	if !created {
		log.Info("order for session already exists", "session_id", sess.ID, "order_id", order.ID)
	}
	return telemetry.OutcomeOrderCreated, order.ID, nil
}

func (p *Processor) handlePaymentFailed(ctx context.Context, log *slog.Logger, evt *stripe.Event) (string, error) {
	order, err := p.orders.FindByStripeSession(ctx, evt.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("async payment failed before any order was created", "session_id", evt.SessionID)
		return telemetry.OutcomeIgnored, nil
	}
	if err != nil {
		return telemetry.OutcomeFailed, fmt.Errorf("find order for session %s: %w", evt.SessionID, err)
	}

	if _, err := p.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCanceled); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Warn("order can no longer be canceled", "order_id", order.ID, "status", order.Status)
			return telemetry.OutcomeIgnored, nil
		}
		return telemetry.OutcomeFailed, fmt.Errorf("cancel order %s: %w", order.ID, err)
	}

	log.Info("order canceled after failed async payment", "order_id", order.ID, "session_id", evt.SessionID)
	return telemetry.OutcomeOrderCanceled, nil
}
