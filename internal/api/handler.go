package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cart-service/internal/catalog"
	"cart-service/internal/models"
	"cart-service/internal/payment"
	"cart-service/internal/service"
	"cart-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	engine   *service.Engine
	checkout *service.Checkout
	scanner  *catalog.Scanner
	watcher  *catalog.Watcher
	cfg      Config
	logger   *zap.Logger
}

// Config configures the HTTP surface
type Config struct {
	// AdminAPIKey guards the admin routes; empty leaves them open
	AdminAPIKey string
	CORSOrigins []string
}

// AddItemRequest is the body of POST /cart/items
type AddItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

// SetInventoryRequest is the body of PUT /admin/inventory/:id
type SetInventoryRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// UpdateStatusRequest is the body of PATCH /admin/orders/:id
type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// CartResponse is the cart as the widget renders it
type CartResponse struct {
	Items   []models.LineItem `json:"items"`
	Totals  models.Totals     `json:"totals"`
	Warning string            `json:"warning,omitempty"`
}

// NewHandler creates a new HTTP handler. watcher may be nil when the
// catalog is only pushed through the scan endpoints.
func NewHandler(engine *service.Engine, checkout *service.Checkout, scanner *catalog.Scanner, watcher *catalog.Watcher, cfg Config) *Handler {
	return &Handler{
		engine:   engine,
		checkout: checkout,
		scanner:  scanner,
		watcher:  watcher,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(corsMiddleware(h.cfg.CORSOrigins))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		v1.POST("/catalog/scan", h.scanMarkup)
		v1.POST("/catalog/descriptors", h.scanDescriptors)
		v1.POST("/catalog/refresh", h.refreshCatalog)

		v1.GET("/cart", h.getCart)
		v1.GET("/cart/totals", h.getTotals)
		v1.POST("/cart/items", h.addItem)
		v1.DELETE("/cart/items/:id", h.removeItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/checkout", h.startCheckout)
		v1.GET("/checkout/:id", h.getSession)
		v1.DELETE("/checkout/:id", h.abandonSession)
		v1.POST("/checkout/:id/payment", h.preparePayment)
		v1.POST("/checkout/:id/complete", h.completeCheckout)
	}

	admin := v1.Group("/admin")
	if h.cfg.AdminAPIKey != "" {
		admin.Use(apiKeyMiddleware(h.cfg.AdminAPIKey))
	}
	{
		admin.GET("/inventory", h.getInventory)
		admin.PUT("/inventory/:id", h.setInventory)
		admin.GET("/orders", h.listOrders)
		admin.GET("/orders/:id", h.getOrder)
		admin.PATCH("/orders/:id", h.updateOrderStatus)
		admin.POST("/orders/:id/refund", h.refundOrder)
		admin.GET("/invariant", h.checkInvariant)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"products": len(h.engine.GetProducts()),
		"time":     time.Now().Unix(),
	})
}

func (h *Handler) listProducts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"products": h.engine.GetProducts()})
}

func (h *Handler) getProduct(c *gin.Context) {
	p, err := h.engine.GetProduct(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// scanMarkup scans an HTML body and replaces the catalog with what it finds
func (h *Handler) scanMarkup(c *gin.Context) {
	res, err := h.scanner.Scan(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid markup",
			"details": err.Error(),
		})
		return
	}
	h.applyScan(c, res)
}

// scanDescriptors accepts attribute maps already extracted by the widget
func (h *Handler) scanDescriptors(c *gin.Context) {
	var descriptors []catalog.Descriptor
	if err := c.ShouldBindJSON(&descriptors); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	h.applyScan(c, h.scanner.FromDescriptors(descriptors))
}

func (h *Handler) applyScan(c *gin.Context, res catalog.Result) {
	warnings := res.WarningStrings()
	if err := h.engine.ApplyCatalog(c.Request.Context(), res.Products, warnings); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"products": res.Products,
		"warnings": warnings,
	})
}

// refreshCatalog asks the watcher to rescan its source
func (h *Handler) refreshCatalog(c *gin.Context) {
	if h.watcher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "No catalog source configured"})
		return
	}
	h.watcher.Notify()
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

func (h *Handler) getCart(c *gin.Context) {
	items, totals := h.engine.CartSnapshot()
	c.JSON(http.StatusOK, CartResponse{Items: items, Totals: totals})
}

func (h *Handler) getTotals(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.CalculateTotals())
}

func (h *Handler) addItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	res, err := h.engine.AddToCart(c.Request.Context(), req.ProductID, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(res))
}

// removeItem removes ?quantity= units, or the whole line when absent
func (h *Handler) removeItem(c *gin.Context) {
	var qty *int
	if raw := c.Query("quantity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid quantity",
				"details": err.Error(),
			})
			return
		}
		qty = &n
	}

	res, err := h.engine.RemoveFromCart(c.Request.Context(), c.Param("id"), qty)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !res.Removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not in cart"})
		return
	}
	c.JSON(http.StatusOK, cartResponse(res))
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.engine.ClearCart(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func cartResponse(res service.Result) CartResponse {
	resp := CartResponse{Items: res.Cart, Totals: res.Totals}
	if res.Warning != nil {
		resp.Warning = res.Warning.Error()
	}
	return resp
}

func (h *Handler) startCheckout(c *gin.Context) {
	s, err := h.checkout.Start(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) getSession(c *gin.Context) {
	s, err := h.checkout.Session(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) abandonSession(c *gin.Context) {
	h.checkout.Abandon(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// completeCheckout confirms a session; the body carries payment details
// when a processor is configured and may be empty otherwise
func (h *Handler) completeCheckout(c *gin.Context) {
	s, err := h.checkout.Session(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	var details payment.Details
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&details); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}

	order, err := h.checkout.Complete(c.Request.Context(), s, details)
	if errors.Is(err, models.ErrPaymentPending) {
		// the customer still has to finish on the processor's page
		if s, err = h.checkout.Session(s.ID); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, s)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// preparePayment creates the session's payment intent, returning the
// session with its redirect URL for hosted processors
func (h *Handler) preparePayment(c *gin.Context) {
	s, err := h.checkout.PreparePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) getInventory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"inventory": h.engine.GetInventory()})
}

func (h *Handler) setInventory(c *gin.Context) {
	var req SetInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	id := c.Param("id")
	if err := h.engine.SetInventory(c.Request.Context(), id, *req.Quantity); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"productId": id,
		"quantity":  h.engine.GetInventory()[id],
	})
}

func (h *Handler) listOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": h.engine.GetOrders()})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.engine.GetOrder(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown order status"})
		return
	}

	// refunds go through the processor that took the payment
	if req.Status == models.OrderStatusRefunded {
		h.refundOrder(c)
		return
	}

	order, err := h.engine.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) refundOrder(c *gin.Context) {
	order, err := h.checkout.RefundOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) checkInvariant(c *gin.Context) {
	if err := h.engine.CheckInvariant(); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"consistent": false,
			"details":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"consistent": true})
}

// respondError maps domain errors onto status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

func statusFor(err error) (int, string) {
	var (
		stockErr   *models.StockError
		remoteErr  *models.RemoteCheckoutError
		paymentErr *models.PaymentAdapterError
		persistErr *models.PersistenceError
	)

	switch {
	case errors.Is(err, models.ErrProductNotFound):
		return http.StatusNotFound, "Product not found"
	case errors.Is(err, models.ErrOrderNotFound):
		return http.StatusNotFound, "Order not found"
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound, "Checkout session not found"
	case errors.As(err, &stockErr):
		return http.StatusConflict, "Insufficient stock"
	case errors.Is(err, models.ErrCartChanged):
		return http.StatusConflict, "Cart changed"
	case errors.Is(err, models.ErrCheckoutInProgress):
		return http.StatusConflict, "Checkout in progress"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "Invalid status transition"
	case errors.Is(err, models.ErrInvalidQuantity):
		return http.StatusBadRequest, "Invalid quantity"
	case errors.Is(err, models.ErrEmptyCart):
		return http.StatusBadRequest, "Cart is empty"
	case errors.Is(err, models.ErrPaymentNotConfigured):
		return http.StatusBadRequest, "Payment not configured"
	case errors.As(err, &paymentErr):
		return http.StatusPaymentRequired, "Payment failed"
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway, "Checkout endpoint failed"
	case errors.As(err, &persistErr):
		return http.StatusServiceUnavailable, "Storage unavailable"
	}
	return http.StatusInternalServerError, "Internal error"
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
