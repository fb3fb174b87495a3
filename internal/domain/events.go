package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kafka topics carrying order events, keyed by order id.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
)

type OrderCreatedEvent struct {
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	Provider  Provider        `json:"provider"`
	Items     []OrderItem     `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Shipping  *Shipping       `json:"shipping,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type OrderStatusChangedEvent struct {
	OrderID   string      `json:"order_id"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewOrderCreatedEvent(order *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Provider:  order.Provider,
		Items:     order.Items,
		Total:     order.Total,
		Shipping:  order.Shipping,
		Timestamp: order.CreatedAt,
	}
}
