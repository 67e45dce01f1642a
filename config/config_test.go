package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, CheckoutModeLocal, cfg.Checkout.Mode)
	assert.True(t, decimal.RequireFromString("0.08").Equal(cfg.Cart.TaxRate))
	assert.True(t, decimal.RequireFromString("9.99").Equal(cfg.Cart.ShippingCost))
	assert.Equal(t, "pos_cart", cfg.Storage.CartKey)
	assert.Equal(t, "pos_inventory", cfg.Storage.InventoryKey)
	assert.Equal(t, 30*time.Minute, cfg.Checkout.SessionTTL())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "redis")
	t.Setenv("TAX_RATE", "0.2")
	t.Setenv("CHECKOUT_MODE", CheckoutModeRemote)
	t.Setenv("CHECKOUT_TIMEOUT_SECONDS", "5")
	t.Setenv("CHECKOUT_SESSION_TTL_MINUTES", "10")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg := Load()

	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.True(t, decimal.RequireFromString("0.2").Equal(cfg.Cart.TaxRate))
	assert.Equal(t, CheckoutModeRemote, cfg.Checkout.Mode)
	assert.Equal(t, 5*time.Second, cfg.Checkout.Timeout())
	assert.Equal(t, 10*time.Minute, cfg.Checkout.SessionTTL())
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestInvalidDecimalFallsBack(t *testing.T) {
	t.Setenv("SHIPPING_COST", "free")

	cfg := Load()

	assert.True(t, decimal.RequireFromString("9.99").Equal(cfg.Cart.ShippingCost))
}
