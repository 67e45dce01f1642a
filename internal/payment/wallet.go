package payment

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	WalletName = "wallet"
	// DeclineWalletToken is well formed but always declined.
	DeclineWalletToken = "wallet_declined"
)

var walletTokenPattern = regexp.MustCompile(`^wallet_[A-Za-z0-9_]{6,64}$`)

// walletProcessor simulates a token based wallet: the client obtains a
// one-time token from the wallet provider and hands it over at confirm.
type walletProcessor struct {
	cfg         Config
	initialized bool
	captures    *captures
	logger      *zap.Logger
}

// NewWallet creates a simulated wallet processor
func NewWallet() Processor {
	return &walletProcessor{captures: newCaptures(), logger: util.GetLogger()}
}

func (p *walletProcessor) Name() string { return WalletName }

func (p *walletProcessor) Initialize(_ context.Context, cfg Config) error {
	p.cfg = cfg
	p.initialized = true
	return nil
}

func (p *walletProcessor) CreateIntent(_ context.Context, amount models.Money, metadata map[string]string) (*Intent, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	return &Intent{
		ID:        "wi_" + uuid.New().String(),
		Amount:    amount,
		Metadata:  copyMetadata(metadata),
		CreatedAt: p.cfg.now().UTC(),
	}, nil
}

func (p *walletProcessor) Confirm(ctx context.Context, intent *Intent, details Details) (*Result, error) {
	_, span := util.StartSpan(ctx, "WalletProcessor.Confirm")
	defer span.End()

	if !p.initialized {
		return nil, ErrNotInitialized
	}
	if v := p.Validate(details); !v.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDetails, strings.Join(v.Errors, "; "))
	}
	if details.WalletToken == DeclineWalletToken {
		p.logger.Info("Wallet payment declined", zap.String("intent_id", intent.ID))
		return &Result{Status: StatusDeclined, Message: "wallet declined", Amount: intent.Amount}, ErrDeclined
	}

	paymentID := "wp_" + uuid.New().String()
	p.captures.record(paymentID, intent.Amount)
	p.logger.Info("Wallet payment captured",
		zap.String("intent_id", intent.ID),
		zap.String("payment_id", paymentID))

	return &Result{Success: true, PaymentID: paymentID, Status: StatusSucceeded, Amount: intent.Amount}, nil
}

func (p *walletProcessor) Refund(_ context.Context, paymentID string, amount *models.Money) (*Result, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	refunded, err := p.captures.refund(paymentID, amount)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, PaymentID: paymentID, Status: StatusRefunded, Amount: refunded}, nil
}

func (p *walletProcessor) Validate(details Details) Validation {
	if !walletTokenPattern.MatchString(details.WalletToken) {
		return Validation{Errors: []string{"wallet token is malformed"}}
	}
	return Validation{Valid: true}
}
