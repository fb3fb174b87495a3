// Package paypal is the wallet-provider gateway: OAuth client-credentials tokens plus the
// Orders v2 create and capture calls.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/offroad-parts/checkout/internal/config"
	"github.com/offroad-parts/checkout/internal/domain"
	"github.com/offroad-parts/checkout/internal/telemetry"
)

var tracer = otel.Tracer("payment/paypal")

const (
	SandboxURL = "https://api-m.sandbox.paypal.com"
	LiveURL    = "https://api-m.paypal.com"

	currencyCode     = "USD"
	statusCompleted  = "COMPLETED"
	maxResponseBytes = 1 << 20
)

type Client struct {
	baseURL     string
	sandbox     bool
	httpClient  *http.Client
	credentials *clientcredentials.Config
	timeout     time.Duration
	metrics     *telemetry.CheckoutMetrics
	logger      *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClient selects the sandbox or live API from the client id naming convention unless
// cfg.APIURL overrides it. Without credentials every call fails with *domain.ConfigurationError.
func NewClient(cfg config.PayPalConfig, httpClient *http.Client, timeout time.Duration, metrics *telemetry.CheckoutMetrics, logger *slog.Logger) *Client {
	sandbox := IsSandboxClientID(cfg.ClientID)
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = LiveURL
		if sandbox {
			baseURL = SandboxURL
		}
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		sandbox:    sandbox,
		httpClient: httpClient,
		timeout:    timeout,
		metrics:    metrics,
		logger:     logger,
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return c
	}

	c.credentials = &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     c.baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return c
}

// IsSandboxClientID reports whether a client id belongs to a sandbox app.
func IsSandboxClientID(clientID string) bool {
	return strings.HasPrefix(clientID, "sb") || strings.Contains(strings.ToLower(clientID), "sandbox")
}

func (c *Client) Sandbox() bool {
	return c.sandbox
}

type CreatedOrder struct {
	OrderID     string `json:"orderId"`
	ApprovalURL string `json:"approvalUrl"`
	IsTestMode  bool   `json:"isTestMode"`
}

// CreateOrder opens a provider order for the cart. The amount is the cart total with two
// decimals and the user id travels as the purchase unit's custom id.
func (c *Client) CreateOrder(ctx context.Context, items []domain.CartItem, userID, returnURL, cancelURL string) (*CreatedOrder, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Message: "user id is required"}
	}
	if err := domain.ValidateCart(items); err != nil {
		return nil, err
	}
	if c.credentials == nil {
		return nil, &domain.ConfigurationError{Setting: "PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET"}
	}

	total := domain.CartTotal(items)
	req := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnitRequest{{
			CustomID: userID,
			Amount: amountWithBreakdown{
				CurrencyCode: currencyCode,
				Value:        total.StringFixed(2),
				Breakdown:    &breakdown{ItemTotal: money{CurrencyCode: currencyCode, Value: total.StringFixed(2)}},
			},
		}},
	}
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		req.PurchaseUnits[0].Items = append(req.PurchaseUnits[0].Items, itemRequest{
			Name:       name,
			SKU:        item.ProductID,
			Quantity:   fmt.Sprintf("%d", item.Quantity),
			UnitAmount: money{CurrencyCode: currencyCode, Value: item.Price.StringFixed(2)},
		})
	}
	if returnURL != "" || cancelURL != "" {
		req.ApplicationContext = &applicationContext{
			ReturnURL:  returnURL,
			CancelURL:  cancelURL,
			UserAction: "PAY_NOW",
		}
	}

	var resp orderResponse
	if err := c.do(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", req, &resp); err != nil {
		return nil, err
	}

	approval := ""
	for _, link := range resp.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approval = link.Href
			break
		}
	}

	c.logger.Info("paypal order created", "paypal_order_id", resp.ID, "user_id", userID, "total", total.StringFixed(2))
	return &CreatedOrder{OrderID: resp.ID, ApprovalURL: approval, IsTestMode: c.sandbox}, nil
}

// Capture is a completed payment as reported by the provider.
type Capture struct {
	OrderID    string           `json:"orderId"`
	CaptureID  string           `json:"captureId"`
	Status     string           `json:"status"`
	PayerID    string           `json:"payerId"`
	PayerEmail string           `json:"payerEmail"`
	PayerName  string           `json:"payerName"`
	Amount     decimal.Decimal  `json:"amount"`
	Shipping   *domain.Shipping `json:"shipping,omitempty"`
}

// CaptureOrder captures an approved provider order. Any final status other than COMPLETED is
// reported as *domain.PaymentNotCompletedError.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	if orderID == "" {
		return nil, &domain.ValidationError{Message: "order id is required"}
	}
	if c.credentials == nil {
		return nil, &domain.ConfigurationError{Setting: "PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET"}
	}

	var resp orderResponse
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, "capture_order", http.MethodPost, path, struct{}{}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != statusCompleted {
		c.logger.Warn("paypal capture not completed", "paypal_order_id", orderID, "status", resp.Status)
		return nil, &domain.PaymentNotCompletedError{Status: resp.Status}
	}

	capture := &Capture{OrderID: resp.ID, Status: resp.Status}
	if p := resp.Payer; p != nil {
		capture.PayerID = p.PayerID
		capture.PayerEmail = p.EmailAddress
		capture.PayerName = strings.TrimSpace(p.Name.GivenName + " " + p.Name.Surname)
	}
	if len(resp.PurchaseUnits) > 0 {
		pu := resp.PurchaseUnits[0]
		if caps := pu.Payments.Captures; len(caps) > 0 {
			capture.CaptureID = caps[0].ID
			if amount, err := decimal.NewFromString(caps[0].Amount.Value); err == nil {
				capture.Amount = amount
			}
		}
		capture.Shipping = shippingFrom(pu.Shipping, capture)
	}

	c.logger.Info("paypal order captured", "paypal_order_id", resp.ID, "capture_id", capture.CaptureID)
	return capture, nil
}

func shippingFrom(s *shippingDetail, capture *Capture) *domain.Shipping {
	out := domain.Shipping{Name: capture.PayerName, Email: capture.PayerEmail}
	if s != nil {
		if s.Name.FullName != "" {
			out.Name = s.Name.FullName
		}
		out.Line1 = s.Address.AddressLine1
		out.Line2 = s.Address.AddressLine2
		out.City = s.Address.AdminArea2
		out.State = s.Address.AdminArea1
		out.PostalCode = s.Address.PostalCode
		out.Country = s.Address.CountryCode
	}
	if out == (domain.Shipping{}) {
		return nil
	}
	return &out
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) (err error) {
	ctx, span := tracer.Start(ctx, "paypal."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method), attribute.String("url.path", path)))
	defer span.End()

	started := time.Now()
	defer func() {
		c.metrics.ProviderRequest(ctx, string(domain.ProviderPayPal), operation, started, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.accessToken(ctx)
	if err != nil {
		return c.tokenError(err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("paypal request failed", "operation", operation, "error", err)
		return &domain.UpstreamError{Provider: domain.ProviderPayPal, Status: http.StatusBadGateway, Body: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.UpstreamError{Provider: domain.ProviderPayPal, Status: http.StatusBadGateway, Body: err.Error()}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.responseError(operation, resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.UpstreamError{Provider: domain.ProviderPayPal, Status: http.StatusBadGateway,
			Message: "unreadable provider response", Body: string(raw)}
	}
	return nil
}

// accessToken returns the cached token, fetching a new one within ctx once it has expired.
// Concurrent callers wait for a single fetch.
func (c *Client) accessToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid() {
		return c.token, nil
	}

	token, err := c.credentials.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		return nil, err
	}
	c.token = token
	return token, nil
}

func (c *Client) responseError(operation string, status int, raw []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)
	c.logger.Error("paypal request rejected", "operation", operation, "status", status,
		"name", apiErr.Name, "debug_id", apiErr.DebugID, "body", string(raw))

	if status == http.StatusNotFound {
		return fmt.Errorf("paypal %s: %w", operation, domain.ErrNotFound)
	}
	return &domain.UpstreamError{
		Provider: domain.ProviderPayPal,
		Status:   status,
		Message:  apiErr.message(),
		Body:     string(raw),
	}
}

func (c *Client) tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		c.logger.Error("paypal token request rejected", "status", retrieveErr.Response.StatusCode,
			"body", string(retrieveErr.Body))
		status := retrieveErr.Response.StatusCode
		if status == http.StatusUnauthorized {
			// Bad client credentials are a server-side configuration problem, not a client error.
			status = http.StatusBadGateway
		}
		return &domain.UpstreamError{
			Provider: domain.ProviderPayPal,
			Status:   status,
			Message:  "token request rejected",
			Body:     string(retrieveErr.Body),
		}
	}
	c.logger.Error("paypal token request failed", "error", err)
	return &domain.UpstreamError{Provider: domain.ProviderPayPal, Status: http.StatusBadGateway, Body: err.Error()}
}
