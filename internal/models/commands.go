package models

import "time"

type CommandType string

// Admin command types consumed from the broker
const (
	CommandSetInventory CommandType = "inventory.set"
	CommandOrderStatus  CommandType = "order.status"
)

type BaseCommand struct {
	CommandID   string      `json:"command_id"`
	CommandType CommandType `json:"command_type"`
	Timestamp   time.Time   `json:"timestamp"`
}

// SetInventoryCommand overrides a product's available quantity
type SetInventoryCommand struct {
	BaseCommand
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderStatusCommand moves an order to a new status
type OrderStatusCommand struct {
	BaseCommand
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}
