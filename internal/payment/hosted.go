package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const HostedName = "hosted"

// Order status codes reported by the hosted gateway
const (
	hostedStatusPending    = 1
	hostedStatusAuthorised = 2
	hostedStatusPaid       = 3
)

// hostedProcessor talks to a third-party hosted checkout over JSON HTTP.
// The customer pays on the gateway's page; confirm asks the gateway how
// that went.
type hostedProcessor struct {
	cfg         Config
	client      *http.Client
	initialized bool
	logger      *zap.Logger
}

type hostedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type hostedCreateResponse struct {
	Order struct {
		Ref string `json:"ref"`
		URL string `json:"url"`
	} `json:"order"`
	Error *hostedError `json:"error,omitempty"`
}

type hostedCheckResponse struct {
	Order struct {
		Ref    string `json:"ref"`
		Status struct {
			Code int    `json:"code"`
			Text string `json:"text"`
		} `json:"status"`
		Transaction struct {
			Ref string `json:"ref"`
		} `json:"transaction"`
	} `json:"order"`
	Error *hostedError `json:"error,omitempty"`
}

type hostedRefundResponse struct {
	Refund struct {
		Ref string `json:"ref"`
	} `json:"refund"`
	Error *hostedError `json:"error,omitempty"`
}

// NewHosted creates a hosted checkout processor
func NewHosted() Processor {
	return &hostedProcessor{logger: util.GetLogger()}
}

func (p *hostedProcessor) Name() string { return HostedName }

func (p *hostedProcessor) Initialize(_ context.Context, cfg Config) error {
	if cfg.Endpoint == "" || cfg.StoreID == "" || cfg.APIKey == "" {
		return errors.New("hosted processor configuration missing")
	}
	p.cfg = cfg
	p.client = cfg.HTTPClient
	if p.client == nil {
		p.client = &http.Client{Timeout: 30 * time.Second}
	}
	p.initialized = true
	return nil
}

func (p *hostedProcessor) CreateIntent(ctx context.Context, amount models.Money, metadata map[string]string) (*Intent, error) {
	ctx, span := util.StartSpan(ctx, "HostedProcessor.CreateIntent")
	defer span.End()

	if !p.initialized {
		return nil, ErrNotInitialized
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	cartID := metadata["session_id"]
	if cartID == "" {
		cartID = uuid.New().String()
	}

	var resp hostedCreateResponse
	err := p.call(ctx, p.payload("create", map[string]any{
		"cartid":      cartID,
		"test":        p.testFlag(),
		"amount":      amount.Amount.StringFixed(2),
		"currency":    amount.Currency.String(),
		"description": metadata["description"],
	}), &resp, func() *hostedError { return resp.Error })
	if err != nil {
		return nil, err
	}
	if resp.Order.URL == "" || resp.Order.Ref == "" {
		return nil, errors.New("hosted gateway returned empty payment reference")
	}

	p.logger.Info("Hosted payment created",
		zap.String("cart_id", cartID),
		zap.String("ref", resp.Order.Ref))

	return &Intent{
		ID:          resp.Order.Ref,
		Amount:      amount,
		Metadata:    copyMetadata(metadata),
		RedirectURL: resp.Order.URL,
		CreatedAt:   p.cfg.now().UTC(),
	}, nil
}

func (p *hostedProcessor) Confirm(ctx context.Context, intent *Intent, _ Details) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "HostedProcessor.Confirm")
	defer span.End()

	if !p.initialized {
		return nil, ErrNotInitialized
	}

	var resp hostedCheckResponse
	err := p.call(ctx, p.payload("check", map[string]any{"ref": intent.ID}), &resp,
		func() *hostedError { return resp.Error })
	if err != nil {
		return nil, err
	}

	status := resp.Order.Status
	switch {
	case status.Code == hostedStatusPaid || status.Code == hostedStatusAuthorised:
		paymentID := resp.Order.Transaction.Ref
		if paymentID == "" {
			paymentID = intent.ID
		}
		return &Result{Success: true, PaymentID: paymentID, Status: StatusSucceeded, Message: status.Text, Amount: intent.Amount}, nil
	case status.Code == hostedStatusPending:
		return &Result{Status: StatusPending, Message: status.Text, Amount: intent.Amount},
			fmt.Errorf("%w: %s", ErrNotCompleted, status.Text)
	default:
		return &Result{Status: StatusDeclined, Message: status.Text, Amount: intent.Amount},
			fmt.Errorf("%w: %s", ErrDeclined, status.Text)
	}
}

func (p *hostedProcessor) Refund(ctx context.Context, paymentID string, amount *models.Money) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "HostedProcessor.Refund")
	defer span.End()

	if !p.initialized {
		return nil, ErrNotInitialized
	}

	order := map[string]any{"ref": paymentID}
	var refunded models.Money
	if amount != nil {
		if err := checkAmount(*amount); err != nil {
			return nil, err
		}
		order["amount"] = amount.Amount.StringFixed(2)
		order["currency"] = amount.Currency.String()
		refunded = *amount
	}

	var resp hostedRefundResponse
	err := p.call(ctx, p.payload("refund", order), &resp, func() *hostedError { return resp.Error })
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, PaymentID: paymentID, Status: StatusRefunded, Message: resp.Refund.Ref, Amount: refunded}, nil
}

// Validate accepts anything: card details are entered on the gateway page
func (p *hostedProcessor) Validate(Details) Validation {
	return Validation{Valid: true}
}

func (p *hostedProcessor) payload(method string, order map[string]any) map[string]any {
	return map[string]any{
		"method":  method,
		"store":   p.cfg.StoreID,
		"authkey": p.cfg.APIKey,
		"order":   order,
	}
}

func (p *hostedProcessor) testFlag() int {
	if p.cfg.TestMode {
		return 1
	}
	return 0
}

// call posts payload and decodes the reply into out. gatewayErr reads the
// error member of out after decoding.
func (p *hostedProcessor) call(ctx context.Context, payload any, out any, gatewayErr func() *hostedError) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal hosted request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build hosted request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach hosted gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read hosted response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hosted gateway error (%d): %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse hosted response: %w", err)
	}
	if ge := gatewayErr(); ge != nil {
		return fmt.Errorf("hosted gateway error %s: %s", ge.Code, ge.Message)
	}
	return nil
}
