// Package payment defines the capability interface every payment processor
// adapter implements and a registry to build them by name.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"cart-service/internal/models"
)

var (
	ErrUnknownProcessor     = errors.New("unknown payment processor")
	ErrNotInitialized       = errors.New("payment processor not initialized")
	ErrInvalidDetails       = errors.New("invalid payment details")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrDeclined             = errors.New("payment declined")
	ErrNotCompleted         = errors.New("payment not completed")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrRefundExceedsCapture = errors.New("refund exceeds captured amount")
)

// Config is handed to Initialize. Simulated processors ignore the
// connection fields.
type Config struct {
	Endpoint   string
	StoreID    string
	APIKey     string
	TestMode   bool
	HTTPClient *http.Client
	// Now defaults to time.Now; card expiry is checked against it.
	Now func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Details is what the customer supplies at confirmation. Each processor
// reads the fields it understands.
type Details struct {
	CardNumber  string `json:"cardNumber,omitempty"`
	ExpMonth    int    `json:"expMonth,omitempty"`
	ExpYear     int    `json:"expYear,omitempty"`
	CVC         string `json:"cvc,omitempty"`
	HolderName  string `json:"holderName,omitempty"`
	WalletToken string `json:"walletToken,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Intent is a prepared payment awaiting confirmation
type Intent struct {
	ID       string
	Amount   models.Money
	Metadata map[string]string
	// RedirectURL is set by processors that collect details off-site.
	RedirectURL string
	CreatedAt   time.Time
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusDeclined  Status = "declined"
	StatusPending   Status = "pending"
	StatusRefunded  Status = "refunded"
)

// Result reports the outcome of a confirm or refund
type Result struct {
	Success   bool
	PaymentID string
	Status    Status
	Message   string
	Amount    models.Money
}

// Validation lists every problem found in a set of details
type Validation struct {
	Valid  bool
	Errors []string
}

// Processor is the capability set a checkout needs from a payment
// provider. Failures are returned as-is; callers never retry on their own.
type Processor interface {
	Name() string
	Initialize(ctx context.Context, cfg Config) error
	CreateIntent(ctx context.Context, amount models.Money, metadata map[string]string) (*Intent, error)
	Confirm(ctx context.Context, intent *Intent, details Details) (*Result, error)
	// Refund returns amount, or everything still captured when amount is nil.
	Refund(ctx context.Context, paymentID string, amount *models.Money) (*Result, error)
	Validate(details Details) Validation
}

// Factory builds an uninitialized processor
type Factory func() Processor

// Registry maps processor names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in processors
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(CardName, NewCard)
	r.Register(WalletName, NewWallet)
	r.Register(HostedName, NewHosted)
	return r
}

// Register adds or replaces a factory
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names lists registered processors in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the named processor and initializes it with cfg
func (r *Registry) Open(ctx context.Context, name string, cfg Config) (Processor, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, name)
	}

	p := f()
	if err := p.Initialize(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize %s processor: %w", name, err)
	}
	return p, nil
}

func checkAmount(amount models.Money) error {
	if !amount.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}
