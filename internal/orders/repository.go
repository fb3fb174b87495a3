package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/offroad-parts/checkout/internal/domain"
)

const orderColumns = `id, user_id, status, total, provider, stripe_session_id, stripe_customer_id,
	paypal_order_id, paypal_capture_id, shipping, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create writes the order header and its items in one transaction. A second order for the
// same provider session or PayPal order fails with domain.ErrAlreadyExists.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	shipping, err := marshalShipping(order.Shipping)
	if err != nil {
		return &domain.PersistenceError{Op: "encode shipping", Err: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.PersistenceError{Op: "begin order tx", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total, provider, stripe_session_id, stripe_customer_id,
			paypal_order_id, paypal_capture_id, shipping, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, order.ID, order.UserID, order.Status, order.Total, order.Provider,
		nullString(order.StripeSessionID), nullString(order.StripeCustomerID),
		nullString(order.PayPalOrderID), nullString(order.PayPalCaptureID),
		shipping, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order for provider reference: %w", domain.ErrAlreadyExists)
		}
		return &domain.PersistenceError{Op: "insert order", Err: err}
	}

	for i := range order.Items {
		order.Items[i].ID = uuid.New().String()
		item := order.Items[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5)
		`, item.ID, order.ID, item.ProductID, item.Quantity, item.Price)
		if err != nil {
			return &domain.PersistenceError{Op: "insert order item", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "commit order", Err: err}
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByStripeSession(ctx context.Context, sessionID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE stripe_session_id = $1`, sessionID)
}

func (r *OrderRepository) GetByPayPalOrder(ctx context.Context, paypalOrderID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE paypal_order_id = $1`, paypalOrderID)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if err := r.loadItems(ctx, map[string]*domain.Order{order.ID: order}, []string{order.ID}); err != nil {
		return nil, err
	}
	return order, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.loadItems(ctx, orderMap, orderIDs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderMap map[string]*domain.Order, orderIDs []string) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, product_id, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, product_id
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	return rows.Err()
}

// UpdateStatus locks the order row, asks allow whether the current status may move to
// status, and writes it. It returns the updated order and the status it had before.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, allow func(from domain.OrderStatus) bool) (*domain.Order, domain.OrderStatus, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, "", domain.ErrNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", &domain.PersistenceError{Op: "begin status tx", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var from domain.OrderStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&from)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", domain.ErrNotFound
		}
		return nil, "", err
	}

	if allow != nil && !allow(from) {
		return nil, from, fmt.Errorf("%s -> %s: %w", from, status, domain.ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, id); err != nil {
		return nil, from, &domain.PersistenceError{Op: "update order status", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, from, &domain.PersistenceError{Op: "commit order status", Err: err}
	}

	order, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, from, err
	}
	return order, from, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var sessionID, customerID, paypalID, capID sql.NullString
	var shipping []byte
	err := row.Scan(&order.ID, &order.UserID, &order.Status, &order.Total, &order.Provider,
		&sessionID, &customerID, &paypalID, &capID, &shipping, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	order.StripeSessionID = sessionID.String
	order.StripeCustomerID = customerID.String
	order.PayPalOrderID = paypalID.String
	order.PayPalCaptureID = capID.String

	if len(shipping) > 0 {
		order.Shipping = &domain.Shipping{}
		if err := json.Unmarshal(shipping, order.Shipping); err != nil {
			return nil, fmt.Errorf("decode shipping for order %s: %w", order.ID, err)
		}
	}
	return &order, nil
}

func marshalShipping(s *domain.Shipping) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
