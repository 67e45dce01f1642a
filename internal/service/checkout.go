package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/payment"
	"cart-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
)

// Checkout modes
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// DefaultSessionTTL bounds how long an unfinished checkout session is kept
const DefaultSessionTTL = 30 * time.Minute

// CheckoutConfig configures the orchestrator
type CheckoutConfig struct {
	Mode       string
	Currency   currency.Unit
	SessionTTL time.Duration
}

// Session is an immutable snapshot of the cart taken when checkout starts.
// Payment is filled in once a payment intent exists for it.
type Session struct {
	ID        string            `json:"id"`
	Items     []models.LineItem `json:"cart"`
	Totals    models.Totals     `json:"totals"`
	StartedAt time.Time         `json:"timestamp"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Payment   *SessionPayment   `json:"payment,omitempty"`
}

// SessionPayment describes the intent created for a session. RedirectURL is
// the page where the customer finishes a hosted payment.
type SessionPayment struct {
	Processor   string         `json:"processor"`
	IntentID    string         `json:"intentId"`
	RedirectURL string         `json:"redirectUrl,omitempty"`
	Status      payment.Status `json:"status"`
}

// session is the orchestrator's own record; callers only see copies
type session struct {
	Session
	intent *payment.Intent
}

func (s *session) snapshot() *Session {
	out := s.Session
	out.Items = models.CloneItems(s.Items)
	if s.Payment != nil {
		p := *s.Payment
		out.Payment = &p
	}
	return &out
}

// Checkout turns a session into an order, locally or through a remote
// endpoint, optionally collecting payment first. Only one completion or
// payment preparation runs at a time.
type Checkout struct {
	engine    *Engine
	cfg       CheckoutConfig
	submitter Submitter
	processor payment.Processor
	logger    *zap.Logger
	now       func() time.Time

	inFlight atomic.Bool

	mu       sync.Mutex
	sessions map[string]*session
}

// NewCheckout creates a new checkout orchestrator. submitter is required in
// remote mode; processor may be nil when payment is not collected.
func NewCheckout(engine *Engine, cfg CheckoutConfig, submitter Submitter, processor payment.Processor) (*Checkout, error) {
	switch cfg.Mode {
	case ModeLocal:
	case ModeRemote:
		if submitter == nil {
			return nil, errors.New("remote checkout requires a submitter")
		}
	default:
		return nil, fmt.Errorf("unknown checkout mode %q", cfg.Mode)
	}
	if cfg.Currency == (currency.Unit{}) {
		cfg.Currency = currency.USD
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &Checkout{
		engine:    engine,
		cfg:       cfg,
		submitter: submitter,
		processor: processor,
		logger:    util.GetLogger(),
		now:       func() time.Time { return time.Now().UTC() },
		sessions:  make(map[string]*session),
	}, nil
}

// Start snapshots the cart. Abandoning the session has no side effects.
func (c *Checkout) Start(ctx context.Context) (*Session, error) {
	_, span := util.StartSpan(ctx, "Checkout.Start")
	defer span.End()

	items, totals := c.engine.CartSnapshot()
	if len(items) == 0 {
		return nil, models.ErrEmptyCart
	}

	now := c.now()
	s := &session{Session: Session{
		ID:        uuid.New().String(),
		Items:     items,
		Totals:    totals,
		StartedAt: now,
		ExpiresAt: now.Add(c.cfg.SessionTTL),
	}}

	c.mu.Lock()
	c.pruneLocked(now)
	c.sessions[s.ID] = s
	out := s.snapshot()
	c.mu.Unlock()

	util.CheckoutsStartedTotal.Inc()
	c.logger.Info("Checkout started",
		zap.String("session_id", s.ID),
		zap.String("total", totals.Total.StringFixed(2)))

	c.engine.Bus().Publish(models.NewEvent(models.EventCheckoutStarted, models.CheckoutStartedPayload{
		SessionID: s.ID,
		Cart:      models.CloneItems(items),
		Totals:    totals,
	}))
	return out, nil
}

// Session looks up a started session that has not expired
func (c *Checkout) Session(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// Abandon forgets a session
func (c *Checkout) Abandon(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// PreparePayment creates the payment intent for a session. It is created
// once; later calls return the same intent, so a hosted payment page can be
// revisited until Complete confirms it.
func (c *Checkout) PreparePayment(ctx context.Context, id string) (*Session, error) {
	if c.processor == nil {
		return nil, models.ErrPaymentNotConfigured
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, models.ErrCheckoutInProgress
	}
	defer c.inFlight.Store(false)

	ctx, span := util.StartSpan(ctx, "Checkout.PreparePayment")
	defer span.End()

	c.mu.Lock()
	s, err := c.lookupLocked(id)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if _, err := c.ensureIntent(ctx, s); err != nil {
		return nil, c.paymentFailed(s.ID, "create_intent", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return s.snapshot(), nil
}

// Complete finishes a session. On any failure the cart and inventory are
// left as they were and the checkout may be retried. A hosted payment the
// customer has not finished yet returns ErrPaymentPending and keeps its
// intent for the next call.
func (c *Checkout) Complete(ctx context.Context, ref *Session, details payment.Details) (models.Order, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		util.CheckoutsFailedTotal.WithLabelValues("in_progress").Inc()
		return models.Order{}, models.ErrCheckoutInProgress
	}
	defer c.inFlight.Store(false)

	ctx, span := util.StartSpan(ctx, "Checkout.Complete")
	defer span.End()

	if ref == nil {
		return models.Order{}, models.ErrSessionNotFound
	}
	c.mu.Lock()
	s, err := c.lookupLocked(ref.ID)
	c.mu.Unlock()
	if err != nil {
		return models.Order{}, err
	}

	if !c.engine.CartMatches(s.Items) {
		util.CheckoutsFailedTotal.WithLabelValues("cart_changed").Inc()
		return models.Order{}, models.ErrCartChanged
	}

	draft := OrderDraft{
		SessionID: s.ID,
		Items:     models.CloneItems(s.Items),
		Totals:    s.Totals,
	}

	if c.processor != nil {
		res, err := c.pay(ctx, s, details)
		if err != nil {
			reason := "payment"
			if errors.Is(err, models.ErrPaymentPending) {
				reason = "payment_pending"
			}
			util.CheckoutsFailedTotal.WithLabelValues(reason).Inc()
			return models.Order{}, err
		}
		draft.Processor = c.processor.Name()
		draft.PaymentID = res.PaymentID
	}

	if c.cfg.Mode == ModeRemote {
		ack, err := c.submitter.Submit(ctx, NewRemoteRequest(&s.Session))
		if err != nil {
			util.CheckoutsFailedTotal.WithLabelValues("remote").Inc()
			c.logger.Warn("Remote checkout failed", zap.String("session_id", s.ID), zap.Error(err))
			c.engine.Bus().Publish(models.NewEvent(models.EventAPIError,
				models.APIErrorPayload{SessionID: s.ID, Error: err.Error()}))
			c.compensate(ctx, s, draft)
			return models.Order{}, err
		}
		c.engine.Bus().Publish(models.NewEvent(models.EventAPISuccess,
			models.APISuccessPayload{SessionID: s.ID, Response: ack}))
		draft.Reference = referenceFrom(ack)
	}

	order, err := c.engine.CompleteCheckout(ctx, draft)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("complete").Inc()
		c.compensate(ctx, s, draft)
		return models.Order{}, err
	}

	c.Abandon(s.ID)
	util.CheckoutsCompletedTotal.WithLabelValues(c.cfg.Mode).Inc()
	return order, nil
}

// RefundOrder refunds the payment taken for an order, if any, and marks it
// refunded. Stock is not returned.
func (c *Checkout) RefundOrder(ctx context.Context, orderID string) (models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Checkout.RefundOrder")
	defer span.End()

	order, err := c.engine.GetOrder(orderID)
	if err != nil {
		return models.Order{}, err
	}
	if !order.Status.CanTransitionTo(models.OrderStatusRefunded) {
		return models.Order{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, order.Status, models.OrderStatusRefunded)
	}

	if order.PaymentID != "" {
		if c.processor == nil || c.processor.Name() != order.Processor {
			return models.Order{}, &models.PaymentAdapterError{
				Processor: order.Processor,
				Op:        "refund",
				Err:       fmt.Errorf("%w: %s", payment.ErrUnknownProcessor, order.Processor),
			}
		}
		if _, err := c.processor.Refund(ctx, order.PaymentID, nil); err != nil {
			util.PaymentFailedTotal.WithLabelValues(order.Processor).Inc()
			return models.Order{}, &models.PaymentAdapterError{Processor: order.Processor, Op: "refund", Err: err}
		}
	}

	return c.engine.UpdateOrderStatus(ctx, orderID, models.OrderStatusRefunded)
}

// pay validates the details, then confirms the session's intent, creating
// it first if PreparePayment was never called
func (c *Checkout) pay(ctx context.Context, s *session, details payment.Details) (*payment.Result, error) {
	name := c.processor.Name()
	util.PaymentAttemptsTotal.WithLabelValues(name).Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if v := c.processor.Validate(details); !v.Valid {
		return nil, c.paymentFailed(s.ID, "validate",
			fmt.Errorf("%w: %s", payment.ErrInvalidDetails, strings.Join(v.Errors, "; ")))
	}

	intent, err := c.ensureIntent(ctx, s)
	if err != nil {
		return nil, c.paymentFailed(s.ID, "create_intent", err)
	}

	res, err := c.processor.Confirm(ctx, intent, details)
	if res != nil && res.Status == payment.StatusPending {
		c.logger.Info("Payment awaiting customer",
			zap.String("processor", name),
			zap.String("session_id", s.ID),
			zap.String("intent_id", intent.ID))
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentPending, intent.RedirectURL)
	}
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", payment.ErrNotCompleted, res.Message)
	}
	if err != nil {
		// a definite answer uses up the intent; a transport error leaves it
		// to be checked again
		if res != nil {
			c.dropIntent(s, payment.StatusDeclined)
		}
		return nil, c.paymentFailed(s.ID, "confirm", err)
	}

	c.mu.Lock()
	s.Payment.Status = payment.StatusSucceeded
	c.mu.Unlock()
	return res, nil
}

// ensureIntent returns the session's intent, creating it on first use.
// Callers hold the inFlight guard, so creation never races.
func (c *Checkout) ensureIntent(ctx context.Context, s *session) (*payment.Intent, error) {
	c.mu.Lock()
	intent := s.intent
	c.mu.Unlock()
	if intent != nil {
		return intent, nil
	}

	amount := models.Money{Amount: s.Totals.Total, Currency: c.cfg.Currency}
	intent, err := c.processor.CreateIntent(ctx, amount, map[string]string{"session_id": s.ID})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	s.intent = intent
	s.Payment = &SessionPayment{
		Processor:   c.processor.Name(),
		IntentID:    intent.ID,
		RedirectURL: intent.RedirectURL,
		Status:      payment.StatusPending,
	}
	c.mu.Unlock()
	return intent, nil
}

// dropIntent forgets a used or failed intent so the next attempt creates a
// fresh one
func (c *Checkout) dropIntent(s *session, status payment.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.intent = nil
	if s.Payment != nil {
		s.Payment.Status = status
	}
}

func (c *Checkout) paymentFailed(sessionID, op string, err error) error {
	name := c.processor.Name()
	util.PaymentFailedTotal.WithLabelValues(name).Inc()
	c.logger.Warn("Payment failed",
		zap.String("processor", name),
		zap.String("op", op),
		zap.String("session_id", sessionID),
		zap.Error(err))
	return &models.PaymentAdapterError{Processor: name, Op: op, Err: err}
}

// compensate refunds a payment taken for a checkout that could not be
// recorded
func (c *Checkout) compensate(ctx context.Context, s *session, draft OrderDraft) {
	if draft.PaymentID == "" || c.processor == nil {
		return
	}
	if _, err := c.processor.Refund(ctx, draft.PaymentID, nil); err != nil {
		c.logger.Error("Failed to refund payment for failed checkout",
			zap.String("session_id", draft.SessionID),
			zap.String("payment_id", draft.PaymentID),
			zap.Error(err))
		return
	}
	c.dropIntent(s, payment.StatusRefunded)
	c.logger.Info("Payment refunded for failed checkout",
		zap.String("session_id", draft.SessionID),
		zap.String("payment_id", draft.PaymentID))
}

// lookupLocked finds a live session, forgetting it if it has expired
func (c *Checkout) lookupLocked(id string) (*session, error) {
	s, ok := c.sessions[id]
	if ok && !c.now().Before(s.ExpiresAt) {
		delete(c.sessions, id)
		ok = false
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return s, nil
}

func (c *Checkout) pruneLocked(now time.Time) {
	for id, s := range c.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(c.sessions, id)
		}
	}
}

func referenceFrom(ack map[string]any) string {
	for _, key := range []string{"orderId", "reference", "id"} {
		if v, ok := ack[key]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}
