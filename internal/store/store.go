// Package store persists cart, inventory and order snapshots as
// independently keyed JSON blobs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cart-service/internal/models"
)

// ErrCorrupt marks a blob that could not be decoded. The snapshot returned
// alongside it carries empty defaults for that blob.
var ErrCorrupt = errors.New("corrupt blob")

// Store is implemented by every backend. Load treats missing keys as empty;
// Save writes all blobs or none.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Snapshot is everything that survives a reload
type Snapshot struct {
	Cart      []models.LineItem
	Inventory map[string]int
	Orders    []models.Order
}

// Empty returns a snapshot with non-nil empty collections
func Empty() Snapshot {
	return Snapshot{
		Cart:      []models.LineItem{},
		Inventory: map[string]int{},
		Orders:    []models.Order{},
	}
}

// Keys names the storage key of each blob
type Keys struct {
	Cart      string
	Inventory string
	Orders    string
}

func (k Keys) all() []string {
	return []string{k.Cart, k.Inventory, k.Orders}
}

func (k Keys) validate() error {
	if k.Cart == "" || k.Inventory == "" || k.Orders == "" {
		return fmt.Errorf("storage keys must not be empty: %+v", k)
	}
	if k.Cart == k.Inventory || k.Cart == k.Orders || k.Inventory == k.Orders {
		return fmt.Errorf("storage keys must be distinct: %+v", k)
	}
	return nil
}

func encode(keys Keys, snap Snapshot) (map[string][]byte, error) {
	cart := snap.Cart
	if cart == nil {
		cart = []models.LineItem{}
	}
	inventory := snap.Inventory
	if inventory == nil {
		inventory = map[string]int{}
	}
	orders := snap.Orders
	if orders == nil {
		orders = []models.Order{}
	}

	cartBlob, err := json.Marshal(cart)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal cart: %w", err)
	}
	inventoryBlob, err := json.Marshal(inventory)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal inventory: %w", err)
	}
	ordersBlob, err := json.Marshal(orders)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal orders: %w", err)
	}

	return map[string][]byte{
		keys.Cart:      cartBlob,
		keys.Inventory: inventoryBlob,
		keys.Orders:    ordersBlob,
	}, nil
}

// decode never fails outright: each corrupt blob is replaced by its empty
// default and reported through the joined error.
func decode(keys Keys, blobs map[string][]byte) (Snapshot, error) {
	snap := Empty()
	var errs []error

	if raw, ok := blobs[keys.Cart]; ok && len(raw) > 0 {
		var cart []models.LineItem
		if err := json.Unmarshal(raw, &cart); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrCorrupt, keys.Cart, err))
		} else if err := validateCart(cart); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrCorrupt, keys.Cart, err))
		} else if cart != nil {
			snap.Cart = cart
		}
	}

	if raw, ok := blobs[keys.Inventory]; ok && len(raw) > 0 {
		var inventory map[string]int
		if err := json.Unmarshal(raw, &inventory); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrCorrupt, keys.Inventory, err))
		} else if inventory != nil {
			for id, qty := range inventory {
				if qty < 0 {
					inventory[id] = 0
				}
			}
			snap.Inventory = inventory
		}
	}

	if raw, ok := blobs[keys.Orders]; ok && len(raw) > 0 {
		var orders []models.Order
		if err := json.Unmarshal(raw, &orders); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrCorrupt, keys.Orders, err))
		} else if orders != nil {
			snap.Orders = orders
		}
	}

	return snap, errors.Join(errs...)
}

func validateCart(cart []models.LineItem) error {
	seen := make(map[string]bool, len(cart))
	for i, item := range cart {
		if item.ProductID == "" {
			return fmt.Errorf("line %d has no product id", i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("line %d (%s) has quantity %d", i, item.ProductID, item.Quantity)
		}
		if item.Price.IsNegative() {
			return fmt.Errorf("line %d (%s) has negative price", i, item.ProductID)
		}
		if seen[item.ProductID] {
			return fmt.Errorf("duplicate line for %s", item.ProductID)
		}
		seen[item.ProductID] = true
	}
	return nil
}
