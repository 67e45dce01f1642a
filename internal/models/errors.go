package models

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidQuantity    = errors.New("quantity must be a positive integer")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrCartChanged        = errors.New("cart changed since checkout started")
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	ErrSessionNotFound    = errors.New("checkout session not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidTransition  = errors.New("invalid order status transition")

	ErrPaymentPending       = errors.New("payment awaiting customer action")
	ErrPaymentNotConfigured = errors.New("no payment processor configured")
)

// StockError reports a reservation that exceeded available stock
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested=%d, available=%d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// ValidationError describes malformed product markup or bad input.
// It is never fatal: the offending element is skipped.
type ValidationError struct {
	ProductID string
	Field     string
	Value     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.ProductID == "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("product %s: invalid %s %q: %s", e.ProductID, e.Field, e.Value, e.Reason)
}

// PersistenceError wraps a failed store operation. In-memory state stays
// authoritative.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RemoteCheckoutError wraps a network or HTTP failure during remote
// submission. The cart is preserved and the checkout may be retried.
type RemoteCheckoutError struct {
	StatusCode int
	Err        error
}

func (e *RemoteCheckoutError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote checkout failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote checkout failed: %v", e.Err)
}

func (e *RemoteCheckoutError) Unwrap() error { return e.Err }

// PaymentAdapterError is an opaque failure from a payment processor
type PaymentAdapterError struct {
	Processor string
	Op        string
	Err       error
}

func (e *PaymentAdapterError) Error() string {
	return fmt.Sprintf("payment %s %s: %v", e.Processor, e.Op, e.Err)
}

func (e *PaymentAdapterError) Unwrap() error { return e.Err }
