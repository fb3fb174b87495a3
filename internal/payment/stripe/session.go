package stripe

import (
	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v76"

	"github.com/offroad-parts/checkout/internal/domain"
)

// Session is the provider's view of a checkout session. Amounts are in cents.
type Session struct {
	ID            string
	PaymentStatus string
	AmountTotal   int64
	UserID        string
	CustomerID    string
	CustomerEmail string
	Shipping      *domain.Shipping
	LineItems     []LineItem
}

type LineItem struct {
	ProductID   string `json:"productId"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unitAmount"`
	AmountTotal int64  `json:"amountTotal"`
}

func (s *Session) Paid() bool {
	return s.PaymentStatus == string(stripego.CheckoutSessionPaymentStatusPaid)
}

// OrderItems converts the provider line items to order lines, dividing cent amounts by 100.
func (s *Session) OrderItems() []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(s.LineItems))
	for _, li := range s.LineItems {
		unit := li.UnitAmount
		if unit == 0 && li.Quantity > 0 {
			unit = li.AmountTotal / li.Quantity
		}
		productID := li.ProductID
		if productID == "" {
			productID = li.Description
		}
		items = append(items, domain.OrderItem{
			ProductID: productID,
			Quantity:  int(li.Quantity),
			Price:     fromMinorUnits(unit),
		})
	}
	return items
}

// Order builds the pending order for a paid session.
func (s *Session) Order() *domain.Order {
	return &domain.Order{
		UserID:           s.UserID,
		Items:            s.OrderItems(),
		Status:           domain.OrderStatusPending,
		Provider:         domain.ProviderStripe,
		StripeSessionID:  s.ID,
		StripeCustomerID: s.CustomerID,
		Shipping:         s.Shipping,
	}
}

// checkTotals makes sure the order lines add up to what the provider charged for the session.
func (s *Session) checkTotals() error {
	lines := domain.ItemsTotal(s.OrderItems())
	charged := fromMinorUnits(s.AmountTotal)
	if lines.Equal(charged) {
		return nil
	}
	return &domain.AmountMismatchError{
		Provider:  domain.ProviderStripe,
		Reference: s.ID,
		Expected:  charged,
		Actual:    lines,
	}
}

// sessionFromAPI maps the provider session. lines replaces the expanded line items when the
// caller had to page through them.
func sessionFromAPI(sess *stripego.CheckoutSession, lines []*stripego.LineItem) *Session {
	out := &Session{
		ID:            sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		AmountTotal:   sess.AmountTotal,
		UserID:        sess.ClientReferenceID,
	}
	if out.UserID == "" {
		out.UserID = sess.Metadata["user_id"]
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}

	var shipping domain.Shipping
	if cd := sess.CustomerDetails; cd != nil {
		out.CustomerEmail = cd.Email
		shipping.Name = cd.Name
		shipping.Email = cd.Email
		setAddress(&shipping, cd.Address)
	}
	if sd := sess.ShippingDetails; sd != nil {
		if sd.Name != "" {
			shipping.Name = sd.Name
		}
		setAddress(&shipping, sd.Address)
	}
	if shipping != (domain.Shipping{}) {
		out.Shipping = &shipping
	}

	if lines == nil && sess.LineItems != nil {
		lines = sess.LineItems.Data
	}
	for _, li := range lines {
		out.LineItems = append(out.LineItems, lineItemFromAPI(li))
	}
	return out
}

func lineItemFromAPI(li *stripego.LineItem) LineItem {
	item := LineItem{
		Description: li.Description,
		Quantity:    li.Quantity,
		AmountTotal: li.AmountTotal,
	}
	if li.Price != nil {
		item.UnitAmount = li.Price.UnitAmount
		if p := li.Price.Product; p != nil {
			item.ProductID = p.ID
			if ref := p.Metadata["product_id"]; ref != "" {
				item.ProductID = ref
			}
		}
	}
	return item
}

func setAddress(s *domain.Shipping, addr *stripego.Address) {
	if addr == nil || addr.Line1 == "" {
		return
	}
	s.Line1 = addr.Line1
	s.Line2 = addr.Line2
	s.City = addr.City
	s.State = addr.State
	s.PostalCode = addr.PostalCode
	s.Country = addr.Country
}

func toMinorUnits(price decimal.Decimal) int64 {
	return price.Round(2).Shift(2).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
