package payment

import (
	"fmt"
	"sync"

	"cart-service/internal/models"

	"github.com/shopspring/decimal"
)

type capture struct {
	amount   models.Money
	refunded decimal.Decimal
}

// captures tracks what the simulated processors have taken so refunds can
// be bounded by it.
type captures struct {
	mu   sync.Mutex
	byID map[string]*capture
}

func newCaptures() *captures {
	return &captures{byID: make(map[string]*capture)}
}

func (c *captures) record(paymentID string, amount models.Money) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[paymentID] = &capture{amount: amount, refunded: decimal.Zero}
}

// refund books a refund and returns the amount refunded. A nil amount
// refunds the remaining balance.
func (c *captures) refund(paymentID string, amount *models.Money) (models.Money, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, ok := c.byID[paymentID]
	if !ok {
		return models.Money{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}

	remaining := cp.amount.Amount.Sub(cp.refunded)
	want := models.Money{Amount: remaining, Currency: cp.amount.Currency}
	if amount != nil {
		if amount.Currency != cp.amount.Currency {
			return models.Money{}, fmt.Errorf("%w: currency %s, captured in %s",
				ErrInvalidAmount, amount.Currency, cp.amount.Currency)
		}
		want = *amount
	}
	if err := checkAmount(want); err != nil {
		return models.Money{}, err
	}
	if want.Amount.GreaterThan(remaining) {
		return models.Money{}, fmt.Errorf("%w: requested %s, remaining %s",
			ErrRefundExceedsCapture, want.Amount.StringFixed(2), remaining.StringFixed(2))
	}

	cp.refunded = cp.refunded.Add(want.Amount)
	return want, nil
}
