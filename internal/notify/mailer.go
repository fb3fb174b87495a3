// Package notify sends order confirmation mails for order.created events.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/offroad-parts/checkout/internal/domain"
	"github.com/offroad-parts/checkout/internal/messaging"
)

type ConfirmationMailer struct {
	mailURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewConfirmationMailer(mailURL string, client *http.Client, logger *slog.Logger) *ConfirmationMailer {
	return &ConfirmationMailer{
		mailURL:    strings.TrimSuffix(mailURL, "/"),
		httpClient: client,
		logger:     logger,
	}
}

type mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Handle is a messaging.MessageHandler for order.created.
func (m *ConfirmationMailer) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("unmarshal order created event: %w", err))
	}

	if event.Shipping == nil || event.Shipping.Email == "" {
		m.logger.Info("no customer email on order, skipping confirmation", "order_id", event.OrderID, "user_id", event.UserID)
		return nil
	}

	if err := m.send(ctx, confirmation(event)); err != nil {
		m.logger.Error("failed to send confirmation email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	m.logger.Info("confirmation email sent", "order_id", event.OrderID)
	return nil
}

func confirmation(event domain.OrderCreatedEvent) mail {
	var body strings.Builder
	greeting := "Hi"
	if event.Shipping.Name != "" {
		greeting += " " + event.Shipping.Name
	}
	fmt.Fprintf(&body, "%s,\n\nThanks for your order %s. We received your payment of $%s for:\n\n",
		greeting, event.OrderID, event.Total.StringFixed(2))
	for _, item := range event.Items {
		fmt.Fprintf(&body, "  %d x %s @ $%s\n", item.Quantity, item.ProductID, item.Price.StringFixed(2))
	}
	if s := event.Shipping; s.Line1 != "" {
		fmt.Fprintf(&body, "\nShipping to: %s, %s, %s %s %s\n", s.Line1, s.City, s.State, s.PostalCode, s.Country)
	}

	return mail{
		To:      event.Shipping.Email,
		Subject: "Order confirmation: " + event.OrderID,
		Body:    body.String(),
	}
}

func (m *ConfirmationMailer) send(ctx context.Context, msg mail) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.mailURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return messaging.Permanent(fmt.Errorf("mail relay rejected message with status %d", resp.StatusCode))
	}
	return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
}
