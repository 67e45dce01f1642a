package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CardName = "card"
	// DeclineCardNumber passes validation but is always declined.
	DeclineCardNumber = "4000000000000002"
)

// cardProcessor simulates a card network. Nothing leaves the process.
type cardProcessor struct {
	cfg         Config
	initialized bool
	captures    *captures
	logger      *zap.Logger
}

// NewCard creates a simulated card processor
func NewCard() Processor {
	return &cardProcessor{captures: newCaptures(), logger: util.GetLogger()}
}

func (p *cardProcessor) Name() string { return CardName }

func (p *cardProcessor) Initialize(_ context.Context, cfg Config) error {
	p.cfg = cfg
	p.initialized = true
	return nil
}

func (p *cardProcessor) CreateIntent(_ context.Context, amount models.Money, metadata map[string]string) (*Intent, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	return &Intent{
		ID:        "pi_" + uuid.New().String(),
		Amount:    amount,
		Metadata:  copyMetadata(metadata),
		CreatedAt: p.cfg.now().UTC(),
	}, nil
}

func (p *cardProcessor) Confirm(ctx context.Context, intent *Intent, details Details) (*Result, error) {
	_, span := util.StartSpan(ctx, "CardProcessor.Confirm")
	defer span.End()

	if !p.initialized {
		return nil, ErrNotInitialized
	}
	if v := p.Validate(details); !v.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDetails, strings.Join(v.Errors, "; "))
	}

	if digitsOnly(details.CardNumber) == DeclineCardNumber {
		p.logger.Info("Card declined", zap.String("intent_id", intent.ID))
		return &Result{Status: StatusDeclined, Message: "card declined", Amount: intent.Amount}, ErrDeclined
	}

	paymentID := "ch_" + uuid.New().String()
	p.captures.record(paymentID, intent.Amount)
	p.logger.Info("Card payment captured",
		zap.String("intent_id", intent.ID),
		zap.String("payment_id", paymentID),
		zap.String("amount", intent.Amount.String()))

	return &Result{Success: true, PaymentID: paymentID, Status: StatusSucceeded, Amount: intent.Amount}, nil
}

func (p *cardProcessor) Refund(_ context.Context, paymentID string, amount *models.Money) (*Result, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	refunded, err := p.captures.refund(paymentID, amount)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, PaymentID: paymentID, Status: StatusRefunded, Amount: refunded}, nil
}

// Validate checks the number with the Luhn algorithm, the expiry against
// the current month and the CVC length.
func (p *cardProcessor) Validate(details Details) Validation {
	var errs []string

	number := digitsOnly(details.CardNumber)
	if len(number) < 12 || len(number) > 19 || len(number) != countNonSeparators(details.CardNumber) {
		errs = append(errs, "card number must be 12 to 19 digits")
	} else if !luhnValid(number) {
		errs = append(errs, "card number failed checksum")
	}

	if details.ExpMonth < 1 || details.ExpMonth > 12 {
		errs = append(errs, "expiry month must be between 1 and 12")
	} else if expired(details.ExpMonth, details.ExpYear, p.cfg.now()) {
		errs = append(errs, "card has expired")
	}

	if len(details.CVC) < 3 || len(details.CVC) > 4 || digitsOnly(details.CVC) != details.CVC {
		errs = append(errs, "cvc must be 3 or 4 digits")
	}

	return Validation{Valid: len(errs) == 0, Errors: errs}
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// expired reports whether the card stopped being valid before now. Cards
// are good through the last day of their expiry month. Two-digit years
// are taken as 20xx.
func expired(month, year int, now time.Time) bool {
	if year < 100 {
		year += 2000
	}
	firstOfNext := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.UTC().Before(firstOfNext)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func countNonSeparators(s string) int {
	n := 0
	for _, r := range s {
		if r != ' ' && r != '-' {
			n++
		}
	}
	return n
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
