package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cart-service/internal/events"
	"cart-service/internal/ledger"
	"cart-service/internal/models"
	"cart-service/internal/store"
	"cart-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineConfig configures the cart engine
type EngineConfig struct {
	Pricing PricingConfig
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock overrides the time source used for order timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger overrides the engine logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Result describes the outcome of a cart mutation
type Result struct {
	ProductID string
	// Quantity is the delta applied: units reserved for an add, units
	// released for a remove.
	Quantity int
	// Removed is false when a remove targeted a product not in the cart.
	Removed bool
	Cart    []models.LineItem
	// Totals belong to Cart, computed under the same lock.
	Totals models.Totals
	// Warning is set when the change applied in memory but could not be
	// persisted.
	Warning error
}

// OrderDraft carries what checkout hands over to close the cart
type OrderDraft struct {
	SessionID string
	Items     []models.LineItem
	Totals    models.Totals
	Processor string
	PaymentID string
	Reference string
}

// Engine owns the cart, the inventory ledger and the order history. All
// mutations are serialized; events are published after the lock is released
// so subscribers may call back into the engine.
type Engine struct {
	mu sync.Mutex

	cfg    EngineConfig
	store  store.Store
	bus    *events.Bus
	ledger *ledger.Ledger
	logger *zap.Logger
	now    func() time.Time

	products []models.Product
	index    map[string]int
	// declared is the stock each product must account for across the
	// ledger, the cart and open orders.
	declared map[string]int
	cart     []models.LineItem
	orders   []models.Order
}

// NewEngine creates a new cart engine
func NewEngine(cfg EngineConfig, st store.Store, bus *events.Bus, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		store:    st,
		bus:      bus,
		ledger:   ledger.New(),
		logger:   util.GetLogger(),
		now:      time.Now,
		index:    make(map[string]int),
		declared: make(map[string]int),
		cart:     []models.LineItem{},
		orders:   []models.Order{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = events.NewBus(e.logger)
	}
	return e
}

// Bus returns the bus the engine publishes on
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Load restores cart, inventory and orders from the store. Corrupt blobs
// are replaced with empty defaults and logged; Load only fails when the
// store returns no usable snapshot at all.
func (e *Engine) Load(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "Engine.Load")
	defer span.End()

	snap, err := e.store.Load(ctx)
	var pending []models.Event
	if err != nil {
		if !errors.Is(err, store.ErrCorrupt) {
			return fmt.Errorf("failed to load state: %w", err)
		}
		e.logger.Warn("Persisted state partially corrupt, using defaults", zap.Error(err))
		pending = append(pending, models.NewEvent(models.EventPersistenceWarning,
			models.PersistenceWarningPayload{Op: "load", Error: err.Error()}))
	}

	e.mu.Lock()
	e.cart = models.CloneItems(snap.Cart)
	e.orders = models.CloneOrders(snap.Orders)
	e.ledger.Restore(snap.Inventory)
	e.declared = make(map[string]int)
	for _, id := range e.ledger.IDs() {
		e.rebaseLocked(id)
	}
	for _, item := range e.cart {
		e.rebaseLocked(item.ProductID)
	}
	payload := models.InitializedPayload{Products: len(e.products), CartItems: len(e.cart)}
	e.mu.Unlock()

	e.logger.Info("Cart state loaded",
		zap.Int("cart_items", payload.CartItems),
		zap.Int("orders", len(snap.Orders)))

	e.publish(append(pending, models.NewEvent(models.EventInitialized, payload))...)
	return nil
}

// ApplyCatalog merges scanned products into the catalog. Known products
// are updated in place; stock is only seeded for products the ledger has
// never seen, so a re-scan never resets counts.
func (e *Engine) ApplyCatalog(ctx context.Context, products []models.Product, warnings []string) error {
	ctx, span := util.StartSpan(ctx, "Engine.ApplyCatalog")
	defer span.End()

	e.mu.Lock()
	for _, p := range products {
		if i, ok := e.index[p.ID]; ok {
			e.products[i] = p
		} else {
			e.index[p.ID] = len(e.products)
			e.products = append(e.products, p)
		}

		// units already held by a restored cart or open orders come out of
		// the declared stock
		held := e.accountedLocked(p.ID) - e.ledger.Get(p.ID)
		if e.ledger.Init(p.ID, max(p.Stock-held, 0)) {
			e.rebaseLocked(p.ID)
		} else if _, ok := e.declared[p.ID]; !ok {
			e.rebaseLocked(p.ID)
		}
	}
	saveErr := e.saveLocked(ctx, "scan")
	scanned := models.CloneProducts(e.products)
	e.mu.Unlock()

	util.CatalogScansTotal.Inc()
	util.CatalogWarningsTotal.Add(float64(len(warnings)))
	e.logger.Info("Catalog applied",
		zap.Int("products", len(products)),
		zap.Int("warnings", len(warnings)))

	evts := []models.Event{models.NewEvent(models.EventProductsScanned,
		models.ProductsScannedPayload{Products: scanned, Warnings: warnings})}
	if saveErr != nil {
		evts = append(evts, persistenceWarning(saveErr))
	}
	e.publish(evts...)
	return nil
}

// AddToCart reserves qty units and merges them into the product's line
// item. Either everything changes or nothing does.
func (e *Engine) AddToCart(ctx context.Context, productID string, qty int) (Result, error) {
	ctx, span := util.StartSpan(ctx, "Engine.AddToCart")
	defer span.End()

	if qty < 1 {
		util.CartRejectionsTotal.WithLabelValues("invalid_quantity").Inc()
		return Result{}, fmt.Errorf("%w: got %d", models.ErrInvalidQuantity, qty)
	}

	e.mu.Lock()
	i, ok := e.index[productID]
	if !ok {
		e.mu.Unlock()
		util.CartRejectionsTotal.WithLabelValues("not_found").Inc()
		return Result{}, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	product := e.products[i]

	if !e.ledger.Reserve(productID, qty) {
		available := e.ledger.Get(productID)
		e.mu.Unlock()
		util.CartRejectionsTotal.WithLabelValues("insufficient_stock").Inc()
		e.logger.Info("Add rejected, insufficient stock",
			zap.String("product_id", productID),
			zap.Int("requested", qty),
			zap.Int("available", available))
		return Result{}, &models.StockError{ProductID: productID, Requested: qty, Available: available}
	}

	if j := e.cartIndexLocked(productID); j >= 0 {
		e.cart[j].Quantity += qty
	} else {
		e.cart = append(e.cart, models.LineItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  qty,
			SKU:       product.SKU,
			Image:     product.Image,
		})
	}

	saveErr := e.saveLocked(ctx, "add")
	res := Result{ProductID: productID, Quantity: qty, Cart: models.CloneItems(e.cart),
		Totals: ComputeTotals(e.cart, e.cfg.Pricing), Warning: saveErr}
	e.mu.Unlock()

	util.CartItemsAddedTotal.Add(float64(qty))

	evts := []models.Event{models.NewEvent(models.EventItemAdded,
		models.ItemAddedPayload{ProductID: productID, Quantity: qty, Cart: models.CloneItems(res.Cart)})}
	if saveErr != nil {
		evts = append(evts, persistenceWarning(saveErr))
	}
	e.publish(evts...)
	return res, nil
}

// RemoveFromCart releases qty units of the product, or the whole line when
// qty is nil or at least what is held. Removing a product that is not in
// the cart is a no-op.
func (e *Engine) RemoveFromCart(ctx context.Context, productID string, qty *int) (Result, error) {
	ctx, span := util.StartSpan(ctx, "Engine.RemoveFromCart")
	defer span.End()

	if qty != nil && *qty < 1 {
		util.CartRejectionsTotal.WithLabelValues("invalid_quantity").Inc()
		return Result{}, fmt.Errorf("%w: got %d", models.ErrInvalidQuantity, *qty)
	}

	e.mu.Lock()
	j := e.cartIndexLocked(productID)
	if j < 0 {
		res := Result{ProductID: productID, Cart: models.CloneItems(e.cart), Totals: ComputeTotals(e.cart, e.cfg.Pricing)}
		e.mu.Unlock()
		return res, nil
	}

	held := e.cart[j].Quantity
	released := held
	if qty != nil && *qty < held {
		released = *qty
		e.cart[j].Quantity -= released
	} else {
		e.cart = append(e.cart[:j], e.cart[j+1:]...)
	}
	e.ledger.Release(productID, released)

	saveErr := e.saveLocked(ctx, "remove")
	res := Result{ProductID: productID, Quantity: released, Removed: true, Cart: models.CloneItems(e.cart),
		Totals: ComputeTotals(e.cart, e.cfg.Pricing), Warning: saveErr}
	e.mu.Unlock()

	util.CartItemsRemovedTotal.Add(float64(released))

	evts := []models.Event{models.NewEvent(models.EventItemRemoved,
		models.ItemRemovedPayload{ProductID: productID, Quantity: released, Cart: models.CloneItems(res.Cart)})}
	if saveErr != nil {
		evts = append(evts, persistenceWarning(saveErr))
	}
	e.publish(evts...)
	return res, nil
}

// ClearCart releases every held unit and empties the cart. If the new
// state cannot be persisted, cart and ledger are restored and the
// PersistenceError is returned.
func (e *Engine) ClearCart(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "Engine.ClearCart")
	defer span.End()

	e.mu.Lock()
	prevCart := e.cart
	prevStock := e.ledger.Snapshot()

	released := make(map[string]int, len(e.cart))
	for _, item := range e.cart {
		e.ledger.Release(item.ProductID, item.Quantity)
		released[item.ProductID] += item.Quantity
	}
	e.cart = []models.LineItem{}

	if err := e.saveLocked(ctx, "clear"); err != nil {
		e.cart = prevCart
		e.ledger.Restore(prevStock)
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	util.CartClearedTotal.Inc()
	e.logger.Info("Cart cleared", zap.Int("lines", len(released)))

	e.publish(models.NewEvent(models.EventCartCleared, models.CartClearedPayload{Released: released}))
	return nil
}

// CalculateTotals derives totals from the current cart
func (e *Engine) CalculateTotals() models.Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ComputeTotals(e.cart, e.cfg.Pricing)
}

// CartSnapshot returns the cart and its totals read under one lock
func (e *Engine) CartSnapshot() ([]models.LineItem, models.Totals) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.CloneItems(e.cart), ComputeTotals(e.cart, e.cfg.Pricing)
}

// GetCart returns a copy of the cart
func (e *Engine) GetCart() []models.LineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.CloneItems(e.cart)
}

// GetInventory returns a copy of the ledger
func (e *Engine) GetInventory() map[string]int {
	return e.ledger.Snapshot()
}

// GetProducts returns the catalog in first-seen order
func (e *Engine) GetProducts() []models.Product {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.CloneProducts(e.products)
}

// GetProduct looks up one catalog entry
func (e *Engine) GetProduct(productID string) (models.Product, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.index[productID]
	if !ok {
		return models.Product{}, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	return e.products[i], nil
}

// GetOrders returns a copy of the order history, oldest first
func (e *Engine) GetOrders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.CloneOrders(e.orders)
}

// GetOrder looks up one order
func (e *Engine) GetOrder(orderID string) (models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.orderIndexLocked(orderID)
	if i < 0 {
		return models.Order{}, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	return e.orders[i].Clone(), nil
}

// SetInventory overrides the available quantity of a product. Units held
// by the cart are untouched, and the declared stock is re-based so the
// conservation check keeps holding.
func (e *Engine) SetInventory(ctx context.Context, productID string, qty int) error {
	ctx, span := util.StartSpan(ctx, "Engine.SetInventory")
	defer span.End()

	e.mu.Lock()
	if _, ok := e.index[productID]; !ok && !e.ledger.Has(productID) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}

	e.ledger.Set(productID, qty)
	e.rebaseLocked(productID)
	available := e.ledger.Get(productID)
	saveErr := e.saveLocked(ctx, "inventory")
	e.mu.Unlock()

	e.logger.Info("Inventory overridden",
		zap.String("product_id", productID),
		zap.Int("quantity", available))

	evts := []models.Event{models.NewEvent(models.EventInventoryUpdated,
		models.InventoryUpdatedPayload{ProductID: productID, Quantity: available})}
	if saveErr != nil {
		evts = append(evts, persistenceWarning(saveErr))
	}
	e.publish(evts...)
	return nil
}

// CartMatches reports whether the live cart still equals items
func (e *Engine) CartMatches(items []models.LineItem) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sameItems(e.cart, items)
}

// CompleteCheckout records a pending order from the draft and empties the
// cart. Stock is not released: the order now accounts for it. On
// persistence failure nothing changes.
func (e *Engine) CompleteCheckout(ctx context.Context, draft OrderDraft) (models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Engine.CompleteCheckout")
	defer span.End()

	e.mu.Lock()
	if len(e.cart) == 0 {
		e.mu.Unlock()
		return models.Order{}, models.ErrEmptyCart
	}
	if !sameItems(e.cart, draft.Items) {
		e.mu.Unlock()
		return models.Order{}, models.ErrCartChanged
	}

	now := e.now().UTC()
	order := models.Order{
		ID:        uuid.New().String(),
		Items:     models.CloneItems(draft.Items),
		Totals:    draft.Totals,
		Timestamp: now,
		Status:    models.OrderStatusPending,
		Processor: draft.Processor,
		PaymentID: draft.PaymentID,
		Reference: draft.Reference,
		UpdatedAt: now,
	}

	prevCart := e.cart
	e.orders = append(e.orders, order)
	e.cart = []models.LineItem{}

	if err := e.saveLocked(ctx, "checkout"); err != nil {
		e.cart = prevCart
		e.orders = e.orders[:len(e.orders)-1]
		e.mu.Unlock()
		return models.Order{}, err
	}
	e.mu.Unlock()

	e.logger.Info("Order recorded",
		zap.String("order_id", order.ID),
		zap.String("session_id", draft.SessionID),
		zap.String("total", order.Totals.Total.StringFixed(2)))

	e.publish(models.NewEvent(models.EventCheckoutCompleted,
		models.CheckoutCompletedPayload{Order: order.Clone()}))
	return order.Clone(), nil
}

// UpdateOrderStatus moves an order along its lifecycle. Cancelling an
// order returns its units to the ledger; refunding does not.
func (e *Engine) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Engine.UpdateOrderStatus")
	defer span.End()

	e.mu.Lock()
	i := e.orderIndexLocked(orderID)
	if i < 0 {
		e.mu.Unlock()
		return models.Order{}, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}

	prev := e.orders[i]
	if !status.Valid() || !prev.Status.CanTransitionTo(status) {
		e.mu.Unlock()
		return models.Order{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, prev.Status, status)
	}

	prevStock := e.ledger.Snapshot()
	if status == models.OrderStatusCancelled && prev.Open() {
		for _, item := range prev.Items {
			e.ledger.Release(item.ProductID, item.Quantity)
		}
	}
	e.orders[i].Status = status
	e.orders[i].UpdatedAt = e.now().UTC()

	if err := e.saveLocked(ctx, "order"); err != nil {
		e.orders[i] = prev
		e.ledger.Restore(prevStock)
		e.mu.Unlock()
		return models.Order{}, err
	}
	updated := e.orders[i].Clone()
	e.mu.Unlock()

	e.logger.Info("Order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(prev.Status)),
		zap.String("to", string(status)))

	e.publish(models.NewEvent(models.EventOrderStatusChanged,
		models.OrderStatusChangedPayload{OrderID: orderID, From: prev.Status, To: status}))
	return updated, nil
}

// CheckInvariant verifies that for every product the available quantity,
// the units in the cart and the units in open orders add up to the
// declared stock.
func (e *Engine) CheckInvariant() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.declared))
	for id := range e.declared {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if got := e.accountedLocked(id); got != e.declared[id] {
			errs = append(errs, fmt.Errorf("product %s: accounted %d, declared %d", id, got, e.declared[id]))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) accountedLocked(productID string) int {
	total := e.ledger.Get(productID)
	for _, item := range e.cart {
		if item.ProductID == productID {
			total += item.Quantity
		}
	}
	for _, o := range e.orders {
		if !o.Open() {
			continue
		}
		for _, item := range o.Items {
			if item.ProductID == productID {
				total += item.Quantity
			}
		}
	}
	return total
}

func (e *Engine) rebaseLocked(productID string) {
	e.declared[productID] = e.accountedLocked(productID)
}

func (e *Engine) cartIndexLocked(productID string) int {
	for i, item := range e.cart {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

func (e *Engine) orderIndexLocked(orderID string) int {
	for i, o := range e.orders {
		if o.ID == orderID {
			return i
		}
	}
	return -1
}

// saveLocked persists the current state. The returned error is always a
// *models.PersistenceError.
func (e *Engine) saveLocked(ctx context.Context, op string) error {
	snap := store.Snapshot{
		Cart:      models.CloneItems(e.cart),
		Inventory: e.ledger.Snapshot(),
		Orders:    models.CloneOrders(e.orders),
	}
	if err := e.store.Save(ctx, snap); err != nil {
		util.PersistenceFailuresTotal.WithLabelValues(op).Inc()
		e.logger.Warn("Failed to persist cart state", zap.String("op", op), zap.Error(err))
		return &models.PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (e *Engine) publish(evts ...models.Event) {
	for _, evt := range evts {
		e.bus.Publish(evt)
	}
}

func persistenceWarning(err error) models.Event {
	op := ""
	var pe *models.PersistenceError
	if errors.As(err, &pe) {
		op = pe.Op
	}
	return models.NewEvent(models.EventPersistenceWarning,
		models.PersistenceWarningPayload{Op: op, Error: err.Error()})
}

func sameItems(a, b []models.LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProductID != b[i].ProductID || a[i].Quantity != b[i].Quantity || !a[i].Price.Equal(b[i].Price) {
			return false
		}
	}
	return true
}
