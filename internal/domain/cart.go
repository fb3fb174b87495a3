package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CartItem is one cart line as submitted by the storefront.
type CartItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	ImageURL  string          `json:"imageUrl,omitempty"`
}

// CartTotal sums price times quantity over the cart, rounded to cents.
func CartTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Round(2)
}

func ValidateCart(items []CartItem) error {
	if len(items) == 0 {
		return &ValidationError{Message: "cart is empty"}
	}
	for i, item := range items {
		if item.Quantity <= 0 {
			return &ValidationError{Message: fmt.Sprintf("item %d: quantity must be positive", i)}
		}
		if item.Price.IsNegative() {
			return &ValidationError{Message: fmt.Sprintf("item %d: price must not be negative", i)}
		}
		if item.ProductID == "" && item.Name == "" {
			return &ValidationError{Message: fmt.Sprintf("item %d: product id or name is required", i)}
		}
	}
	return nil
}

// OrderItems snapshots the cart lines as order lines.
func OrderItems(items []CartItem) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, item := range items {
		productID := item.ProductID
		if productID == "" {
			productID = item.Name
		}
		out = append(out, OrderItem{
			ProductID: productID,
			Quantity:  item.Quantity,
			Price:     item.Price.Round(2),
		})
	}
	return out
}
