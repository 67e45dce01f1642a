package models

import (
	"time"

	"github.com/google/uuid"
)

type EventName string

// Event names
const (
	EventInitialized        EventName = "initialized"
	EventProductsScanned    EventName = "products-scanned"
	EventItemAdded          EventName = "item-added"
	EventItemRemoved        EventName = "item-removed"
	EventCartCleared        EventName = "cart-cleared"
	EventCheckoutStarted    EventName = "checkout-started"
	EventCheckoutCompleted  EventName = "checkout-completed"
	EventAPISuccess         EventName = "api-success"
	EventAPIError           EventName = "api-error"
	EventPersistenceWarning EventName = "persistence-warning"
	EventInventoryUpdated   EventName = "inventory-updated"
	EventOrderStatusChanged EventName = "order-status-changed"
)

// Event is the envelope every engine notification travels in
type Event struct {
	ID        string    `json:"event_id"`
	Name      EventName `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps a payload with an id and the current time
func NewEvent(name EventName, payload any) Event {
	return Event{
		ID:        uuid.New().String(),
		Name:      name,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

type InitializedPayload struct {
	Products  int `json:"products"`
	CartItems int `json:"cartItems"`
}

type ProductsScannedPayload struct {
	Products []Product `json:"products"`
	Warnings []string  `json:"warnings,omitempty"`
}

// ItemAddedPayload carries the quantity delta and the cart after the change
type ItemAddedPayload struct {
	ProductID string     `json:"productId"`
	Quantity  int        `json:"quantity"`
	Cart      []LineItem `json:"cart"`
}

// ItemRemovedPayload carries the quantity actually released
type ItemRemovedPayload struct {
	ProductID string     `json:"productId"`
	Quantity  int        `json:"quantity"`
	Cart      []LineItem `json:"cart"`
}

type CartClearedPayload struct {
	Released map[string]int `json:"released"`
}

type CheckoutStartedPayload struct {
	SessionID string     `json:"sessionId"`
	Cart      []LineItem `json:"cart"`
	Totals    Totals     `json:"totals"`
}

type CheckoutCompletedPayload struct {
	Order Order `json:"order"`
}

type APISuccessPayload struct {
	SessionID string         `json:"sessionId"`
	Response  map[string]any `json:"response"`
}

type APIErrorPayload struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

type PersistenceWarningPayload struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

type InventoryUpdatedPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type OrderStatusChangedPayload struct {
	OrderID string      `json:"orderId"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}
