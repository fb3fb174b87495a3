package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/offroad-parts/checkout/internal/domain"
)

// Checkout session event types handled by the webhook processor.
const (
	EventCheckoutCompleted          = string(stripego.EventTypeCheckoutSessionCompleted)
	EventCheckoutAsyncPaymentPassed = string(stripego.EventTypeCheckoutSessionAsyncPaymentSucceeded)
	EventCheckoutAsyncPaymentFailed = string(stripego.EventTypeCheckoutSessionAsyncPaymentFailed)
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

// Event is a verified provider notification. SessionID and PaymentStatus are only set for
// checkout session events.
type Event struct {
	ID            string
	Type          string
	SessionID     string
	PaymentStatus string
}

// ConstructEvent verifies the signature header against the raw body and decodes the event.
func (c *Client) ConstructEvent(payload []byte, signature string) (*Event, error) {
	if c.webhookSecret == "" {
		return nil, &domain.ConfigurationError{Setting: "STRIPE_WEBHOOK_SECRET"}
	}
	if signature == "" {
		return nil, ErrMissingSignature
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) {
			return nil, ErrMissingSignature
		}
		if errors.Is(err, webhook.ErrInvalidHeader) || errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, ErrMalformedEvent
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") && evt.Data != nil {
		var sess stripego.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.SessionID = sess.ID
		out.PaymentStatus = string(sess.PaymentStatus)
	}
	return out, nil
}
