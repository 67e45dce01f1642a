package service

import (
	"cart-service/internal/models"

	"github.com/shopspring/decimal"
)

// Money figures are rounded to cents, half away from zero (half-up for the
// non-negative amounts a cart produces).
const moneyPlaces = 2

// PricingConfig holds the figures totals are derived from
type PricingConfig struct {
	TaxRate      decimal.Decimal
	ShippingCost decimal.Decimal
	// FreeShippingThreshold waives shipping when the subtotal reaches it.
	// Zero disables the waiver.
	FreeShippingThreshold decimal.Decimal
}

// ComputeTotals is a pure function of the items and pricing. Tax is taken
// on the rounded subtotal so every figure is reproducible from the ones
// shown to the customer. An empty cart ships for free.
func ComputeTotals(items []models.LineItem, cfg PricingConfig) models.Totals {
	subtotal := decimal.Zero
	count := 0
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
		count += item.Quantity
	}
	subtotal = subtotal.Round(moneyPlaces)

	tax := subtotal.Mul(cfg.TaxRate).Round(moneyPlaces)

	shipping := cfg.ShippingCost.Round(moneyPlaces)
	if count == 0 {
		shipping = decimal.Zero
	} else if cfg.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(cfg.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	return models.Totals{
		Subtotal:  subtotal,
		Tax:       tax,
		Shipping:  shipping,
		Total:     subtotal.Add(tax).Add(shipping).Round(moneyPlaces),
		ItemCount: count,
	}
}
