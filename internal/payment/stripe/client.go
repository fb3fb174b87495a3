// Package stripe is the card-provider gateway: hosted checkout sessions, session lookup and
// webhook signature verification on top of stripe-go.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/offroad-parts/checkout/internal/config"
	"github.com/offroad-parts/checkout/internal/domain"
	"github.com/offroad-parts/checkout/internal/telemetry"
)

var tracer = otel.Tracer("payment/stripe")

const currency = "usd"

// Client talks to the card provider. A Client built without a secret key is usable but every
// provider call fails with *domain.ConfigurationError.
type Client struct {
	api           *client.API
	testMode      bool
	webhookSecret string
	timeout       time.Duration
	metrics       *telemetry.CheckoutMetrics
	logger        *slog.Logger
}

func NewClient(cfg config.StripeConfig, httpClient *http.Client, timeout time.Duration, metrics *telemetry.CheckoutMetrics, logger *slog.Logger) *Client {
	c := &Client{
		webhookSecret: cfg.WebhookSecret,
		testMode:      strings.HasPrefix(cfg.SecretKey, "sk_test_") || strings.HasPrefix(cfg.SecretKey, "rk_test_"),
		timeout:       timeout,
		metrics:       metrics,
		logger:        logger,
	}
	if cfg.SecretKey == "" {
		return c
	}

	backendCfg := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     &leveledLogger{logger: logger},
		MaxNetworkRetries: stripego.Int64(cfg.MaxRetries),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripego.String(cfg.APIURL)
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg)

	c.api = &client.API{}
	c.api.Init(cfg.SecretKey, &stripego.Backends{API: backend, Connect: backend, Uploads: backend})
	return c
}

// CheckoutSession is the result of creating a hosted checkout.
type CheckoutSession struct {
	SessionID  string `json:"sessionId"`
	URL        string `json:"url"`
	IsTestMode bool   `json:"isTestMode"`
}

// CreateCheckoutSession opens a hosted payment page for the cart. The user id travels as the
// session's client reference so the webhook can attribute the order.
func (c *Client) CreateCheckoutSession(ctx context.Context, items []domain.CartItem, userID, successURL, cancelURL string) (*CheckoutSession, error) {
	if c.api == nil {
		return nil, &domain.ConfigurationError{Setting: "STRIPE_SECRET_KEY"}
	}
	if err := domain.ValidateCart(items); err != nil {
		return nil, err
	}
	if successURL == "" || cancelURL == "" {
		return nil, &domain.ValidationError{Message: "success and cancel urls are required"}
	}
	if userID == "" {
		userID = domain.GuestUserID
	}

	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:        stripego.String(withSessionPlaceholder(successURL)),
		CancelURL:         stripego.String(cancelURL),
		ClientReferenceID: stripego.String(userID),
		ShippingAddressCollection: &stripego.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripego.StringSlice([]string{"US", "CA"}),
		},
	}
	params.AddMetadata("user_id", userID)

	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		product := &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripego.String(name),
			Metadata: map[string]string{"product_id": item.ProductID},
		}
		if item.ImageURL != "" {
			product.Images = stripego.StringSlice([]string{item.ImageURL})
		}
		params.LineItems = append(params.LineItems, &stripego.CheckoutSessionLineItemParams{
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripego.String(currency),
				UnitAmount:  stripego.Int64(toMinorUnits(item.Price)),
				ProductData: product,
			},
			Quantity: stripego.Int64(int64(item.Quantity)),
		})
	}

	ctx, span := tracer.Start(ctx, "stripe.CreateCheckoutSession", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	params.Context = ctx

	started := time.Now()
	sess, err := c.api.CheckoutSessions.New(params)
	c.metrics.ProviderRequest(ctx, string(domain.ProviderStripe), "create_session", started, err)
	if err != nil {
		recordSpanError(span, err)
		return nil, c.upstreamError("create checkout session", err)
	}

	span.SetAttributes(attribute.String("stripe.session_id", sess.ID))
	c.logger.Info("checkout session created", "session_id", sess.ID, "user_id", userID, "items", len(items))

	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL, IsTestMode: c.testMode}, nil
}

// GetSession fetches a session with every line item and its product reference. It does not
// look at the payment status, but fails with *domain.AmountMismatchError when the lines do not
// add up to the session's amount total.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if c.api == nil {
		return nil, &domain.ConfigurationError{Setting: "STRIPE_SECRET_KEY"}
	}
	if sessionID == "" {
		return nil, &domain.ValidationError{Message: "session id is required"}
	}

	ctx, span := tracer.Start(ctx, "stripe.GetCheckoutSession",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("stripe.session_id", sessionID)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")
	params.AddExpand("line_items.data.price.product")

	started := time.Now()
	sess, err := c.api.CheckoutSessions.Get(sessionID, params)
	c.metrics.ProviderRequest(ctx, string(domain.ProviderStripe), "get_session", started, err)
	if err != nil {
		recordSpanError(span, err)
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) && (stripeErr.Code == stripego.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound) {
			return nil, fmt.Errorf("checkout session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, c.upstreamError("get checkout session", err)
	}

	var lines []*stripego.LineItem
	if sess.LineItems != nil && sess.LineItems.HasMore {
		lines, err = c.listLineItems(ctx, sessionID)
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
	}

	out := sessionFromAPI(sess, lines)
	span.SetAttributes(attribute.Int("stripe.line_items", len(out.LineItems)))
	if err := out.checkTotals(); err != nil {
		recordSpanError(span, err)
		c.logger.Error("checkout session lines do not add up to the amount charged", "session_id", sessionID,
			"amount_total", out.AmountTotal, "line_items", len(out.LineItems), "error", err)
		return nil, err
	}
	return out, nil
}

// listLineItems pages through every line item of a session. The session lookup only embeds
// the first page.
func (c *Client) listLineItems(ctx context.Context, sessionID string) ([]*stripego.LineItem, error) {
	params := &stripego.CheckoutSessionListLineItemsParams{Session: stripego.String(sessionID)}
	params.Context = ctx
	params.Limit = stripego.Int64(100)
	params.AddExpand("data.price.product")

	started := time.Now()
	var lines []*stripego.LineItem
	iter := c.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		lines = append(lines, iter.LineItem())
	}
	err := iter.Err()
	c.metrics.ProviderRequest(ctx, string(domain.ProviderStripe), "list_line_items", started, err)
	if err != nil {
		return nil, c.upstreamError("list checkout session line items", err)
	}
	return lines, nil
}

// VerifySession is GetSession plus the requirement that the session has been paid.
func (c *Client) VerifySession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Paid() {
		return nil, &domain.PaymentNotCompletedError{Status: sess.PaymentStatus}
	}
	return sess, nil
}

func (c *Client) upstreamError(op string, err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		c.logger.Error("stripe request rejected", "op", op, "status", stripeErr.HTTPStatusCode,
			"code", stripeErr.Code, "request_id", stripeErr.RequestID, "message", stripeErr.Msg)
		return &domain.UpstreamError{
			Provider: domain.ProviderStripe,
			Status:   stripeErr.HTTPStatusCode,
			Message:  stripeErr.Msg,
			Body:     stripeErr.Error(),
		}
	}
	c.logger.Error("stripe request failed", "op", op, "error", err)
	return &domain.UpstreamError{
		Provider: domain.ProviderStripe,
		Status:   http.StatusBadGateway,
		Body:     err.Error(),
	}
}

// withSessionPlaceholder makes sure the provider appends the session id to the success URL so
// the storefront can call verify after the redirect.
func withSessionPlaceholder(successURL string) string {
	if strings.Contains(successURL, "{CHECKOUT_SESSION_ID}") {
		return successURL
	}
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id={CHECKOUT_SESSION_ID}"
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}
