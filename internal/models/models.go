package models

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Product represents a product declared in the page catalog
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Image       string          `json:"image,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	Stock       int             `json:"stock"`
}

// LineItem aggregates all quantity of a single product in the cart.
// Price is captured when the product is first added and never re-read.
type LineItem struct {
	ProductID string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	SKU       string          `json:"sku"`
	Image     string          `json:"image"`
}

// LineTotal returns price × quantity
func (li LineItem) LineTotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Totals is derived from the cart on demand, never stored
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
}

// Money is an amount in a specific currency
type Money struct {
	Amount   decimal.Decimal
	Currency currency.Unit
}

// String formats money as "USD 12.34"
func (m Money) String() string {
	return m.Currency.String() + " " + m.Amount.StringFixed(2)
}

type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusCompleted, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusCompleted: {OrderStatusRefunded, OrderStatusCancelled},
}

// CanTransitionTo reports whether the admin collaborator may move an order
// from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusRefunded, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is an immutable snapshot of a completed checkout. Only Status (and
// the timestamps that go with it) changes afterwards.
type Order struct {
	ID        string      `json:"id"`
	Items     []LineItem  `json:"cart"`
	Totals    Totals      `json:"totals"`
	Timestamp time.Time   `json:"timestamp"`
	Status    OrderStatus `json:"status"`
	Processor string      `json:"processor,omitempty"`
	PaymentID string      `json:"paymentId,omitempty"`
	Reference string      `json:"reference,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy of the order
func (o Order) Clone() Order {
	o.Items = CloneItems(o.Items)
	return o
}

// Open reports whether the order still accounts for stock taken from the
// ledger. Cancelled orders have been restocked.
func (o Order) Open() bool {
	return o.Status != OrderStatusCancelled
}

// CloneItems copies a slice of line items. A nil input yields an empty slice
// so JSON encodes it as [] rather than null.
func CloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// CloneProducts copies a slice of products
func CloneProducts(products []Product) []Product {
	out := make([]Product, len(products))
	copy(out, products)
	return out
}

// CloneOrders deep-copies a slice of orders
func CloneOrders(orders []Order) []Order {
	out := make([]Order, len(orders))
	for i, o := range orders {
		out[i] = o.Clone()
	}
	return out
}
