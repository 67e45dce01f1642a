package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/payment"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingSubmitter holds Submit until release is closed
type blockingSubmitter struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSubmitter) Submit(ctx context.Context, _ RemoteRequest) (map[string]any, error) {
	close(b.entered)
	select {
	case <-b.release:
		return map[string]any{"ok": true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fakeProcessor approves everything and counts refunds
type fakeProcessor struct {
	refunds atomic.Int32
}

func (p *fakeProcessor) Name() string                                     { return "fake" }
func (p *fakeProcessor) Initialize(context.Context, payment.Config) error { return nil }
func (p *fakeProcessor) Validate(payment.Details) payment.Validation {
	return payment.Validation{Valid: true}
}

func (p *fakeProcessor) CreateIntent(_ context.Context, amount models.Money, md map[string]string) (*payment.Intent, error) {
	return &payment.Intent{ID: "pi_1", Amount: amount, Metadata: md}, nil
}

func (p *fakeProcessor) Confirm(_ context.Context, intent *payment.Intent, _ payment.Details) (*payment.Result, error) {
	return &payment.Result{Success: true, PaymentID: "pay_1", Status: payment.StatusSucceeded, Amount: intent.Amount}, nil
}

func (p *fakeProcessor) Refund(_ context.Context, paymentID string, _ *models.Money) (*payment.Result, error) {
	p.refunds.Add(1)
	return &payment.Result{Success: true, PaymentID: paymentID, Status: payment.StatusRefunded}, nil
}

func newCheckoutFixture(t *testing.T, cfg CheckoutConfig, sub Submitter, proc payment.Processor) (*Engine, *Checkout, *recorder) {
	t.Helper()
	e, rec := newTestEngine(t, newFlakyStore(t), mug, pen)
	c, err := NewCheckout(e, cfg, sub, proc)
	require.NoError(t, err)

	_, err = e.AddToCart(t.Context(), "mug-1", 2)
	require.NoError(t, err)
	_, err = e.AddToCart(t.Context(), "pen-1", 1)
	require.NoError(t, err)
	rec.reset()
	return e, c, rec
}

func TestNewCheckoutValidatesMode(t *testing.T) {
	e, _ := newTestEngine(t, newFlakyStore(t))

	_, err := NewCheckout(e, CheckoutConfig{Mode: "carrier-pigeon"}, nil, nil)
	assert.ErrorContains(t, err, "unknown checkout mode")

	_, err = NewCheckout(e, CheckoutConfig{Mode: ModeRemote}, nil, nil)
	assert.ErrorContains(t, err, "requires a submitter")
}

func TestStartRequiresItems(t *testing.T) {
	e, _ := newTestEngine(t, newFlakyStore(t), mug)
	c, err := NewCheckout(e, CheckoutConfig{Mode: ModeLocal}, nil, nil)
	require.NoError(t, err)

	_, err = c.Start(t.Context())
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestLocalCheckout(t *testing.T) {
	ctx := t.Context()
	e, c, rec := newCheckoutFixture(t, CheckoutConfig{Mode: ModeLocal}, nil, nil)

	s, err := c.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "36.99", s.Totals.Total.StringFixed(2))

	evt, ok := rec.last(models.EventCheckoutStarted)
	require.True(t, ok)
	assert.Equal(t, s.ID, evt.Payload.(models.CheckoutStartedPayload).SessionID)

	found, err := c.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, found)
	assert.Equal(t, s.StartedAt.Add(DefaultSessionTTL), s.ExpiresAt)

	order, err := c.Complete(ctx, s, payment.Details{})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Len(t, order.Items, 2)
	assert.Empty(t, e.GetCart())
	assert.Equal(t, 3, e.GetInventory()["mug-1"])
	assert.NoError(t, e.CheckInvariant())

	_, err = c.Session(s.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestAbandonedSessionHasNoSideEffects(t *testing.T) {
	ctx := t.Context()
	e, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeLocal}, nil, nil)
	cart := e.GetCart()
	inventory := e.GetInventory()

	s, err := c.Start(ctx)
	require.NoError(t, err)
	c.Abandon(s.ID)

	if diff := cmp.Diff(cart, e.GetCart(), decimalComparer()); diff != "" {
		t.Errorf("cart mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, inventory, e.GetInventory())
}

func TestCompleteRejectsChangedCart(t *testing.T) {
	ctx := t.Context()
	e, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeLocal}, nil, nil)

	s, err := c.Start(ctx)
	require.NoError(t, err)
	_, err = e.AddToCart(ctx, "mug-1", 1)
	require.NoError(t, err)

	_, err = c.Complete(ctx, s, payment.Details{})
	assert.ErrorIs(t, err, models.ErrCartChanged)
	assert.Empty(t, e.GetOrders())
}

func TestRemoteCheckoutFailureThenRetry(t *testing.T) {
	ctx := t.Context()

	var (
		calls atomic.Int32
		mu    sync.Mutex
		body  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId":"B-1","status":"accepted"}`))
	}))
	defer srv.Close()

	sub := NewHTTPSubmitter(srv.Client(), srv.URL, time.Second)
	e, c, rec := newCheckoutFixture(t, CheckoutConfig{Mode: ModeRemote}, sub, nil)
	cart := e.GetCart()
	inventory := e.GetInventory()

	s, err := c.Start(ctx)
	require.NoError(t, err)

	_, err = c.Complete(ctx, s, payment.Details{})
	var remoteErr *models.RemoteCheckoutError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusServiceUnavailable, remoteErr.StatusCode)

	if diff := cmp.Diff(cart, e.GetCart(), decimalComparer()); diff != "" {
		t.Errorf("cart mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, inventory, e.GetInventory())
	assert.Empty(t, e.GetOrders())
	_, ok := rec.last(models.EventAPIError)
	assert.True(t, ok)

	order, err := c.Complete(ctx, s, payment.Details{})
	require.NoError(t, err)
	assert.Equal(t, "B-1", order.Reference)
	assert.Empty(t, e.GetCart())

	evt, ok := rec.last(models.EventAPISuccess)
	require.True(t, ok)
	assert.Equal(t, "accepted", evt.Payload.(models.APISuccessPayload).Response["status"])

	mu.Lock()
	defer mu.Unlock()
	totals := body["totals"].(map[string]any)
	assert.InDelta(t, 36.99, totals["total"], 0.0001)
	assert.EqualValues(t, 3, totals["itemCount"])
	items := body["cart"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "mug-1", items[0].(map[string]any)["id"])
}

func TestRemoteCheckoutTimeoutThenRetry(t *testing.T) {
	ctx := t.Context()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId":"B-2"}`))
	}))
	defer srv.Close()

	sub := NewHTTPSubmitter(srv.Client(), srv.URL, 50*time.Millisecond)
	e, c, rec := newCheckoutFixture(t, CheckoutConfig{Mode: ModeRemote}, sub, nil)
	cart := e.GetCart()
	inventory := e.GetInventory()

	s, err := c.Start(ctx)
	require.NoError(t, err)

	_, err = c.Complete(ctx, s, payment.Details{})
	var remoteErr *models.RemoteCheckoutError
	require.ErrorAs(t, err, &remoteErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, remoteErr.StatusCode)

	if diff := cmp.Diff(cart, e.GetCart(), decimalComparer()); diff != "" {
		t.Errorf("cart mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, inventory, e.GetInventory())
	assert.Empty(t, e.GetOrders())
	ev, ok := rec.last(models.EventAPIError)
	require.True(t, ok)
	assert.Equal(t, s.ID, ev.Payload.(models.APIErrorPayload).SessionID)

	order, err := c.Complete(ctx, s, payment.Details{})
	require.NoError(t, err)
	assert.Equal(t, "B-2", order.Reference)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteGuardsAgainstDoubleSubmission(t *testing.T) {
	ctx := t.Context()
	sub := &blockingSubmitter{entered: make(chan struct{}), release: make(chan struct{})}
	_, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeRemote}, sub, nil)

	s, err := c.Start(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Complete(ctx, s, payment.Details{})
		done <- err
	}()

	<-sub.entered
	_, err = c.Complete(ctx, s, payment.Details{})
	assert.ErrorIs(t, err, models.ErrCheckoutInProgress)

	close(sub.release)
	require.NoError(t, <-done)
}

func TestCheckoutWithCardPayment(t *testing.T) {
	ctx := t.Context()
	card, err := payment.DefaultRegistry().Open(ctx, payment.CardName, payment.Config{})
	require.NoError(t, err)
	e, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeLocal}, nil, card)

	s, err := c.Start(ctx)
	require.NoError(t, err)

	declined := payment.Details{CardNumber: payment.DeclineCardNumber, ExpMonth: 12, ExpYear: 2099, CVC: "123"}
	_, err = c.Complete(ctx, s, declined)
	var payErr *models.PaymentAdapterError
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, payment.CardName, payErr.Processor)
	assert.ErrorIs(t, err, payment.ErrDeclined)
	assert.Len(t, e.GetCart(), 2)
	after, err := c.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusDeclined, after.Payment.Status, "a declined intent is not reused")

	_, err = c.Complete(ctx, s, payment.Details{CardNumber: "1234"})
	assert.ErrorIs(t, err, payment.ErrInvalidDetails)

	ok := payment.Details{CardNumber: "4242424242424242", ExpMonth: 12, ExpYear: 2099, CVC: "123"}
	order, err := c.Complete(ctx, s, ok)
	require.NoError(t, err)
	assert.Equal(t, payment.CardName, order.Processor)
	assert.NotEmpty(t, order.PaymentID)

	refunded, err := c.RefundOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, refunded.Status)
	assert.Equal(t, 3, e.GetInventory()["mug-1"], "refund does not restock")

	_, err = c.RefundOrder(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestRemoteFailureRefundsPayment(t *testing.T) {
	ctx := t.Context()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	proc := &fakeProcessor{}
	_, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeRemote},
		NewHTTPSubmitter(srv.Client(), srv.URL, time.Second), proc)

	s, err := c.Start(ctx)
	require.NoError(t, err)

	_, err = c.Complete(ctx, s, payment.Details{})
	var remoteErr *models.RemoteCheckoutError
	require.ErrorAs(t, err, &remoteErr)
	assert.EqualValues(t, 1, proc.refunds.Load())
}

func TestRefundOrderWithoutPayment(t *testing.T) {
	ctx := t.Context()
	e, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeLocal}, nil, nil)

	s, err := c.Start(ctx)
	require.NoError(t, err)
	order, err := c.Complete(ctx, s, payment.Details{})
	require.NoError(t, err)

	refunded, err := c.RefundOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, refunded.Status)
	assert.NoError(t, e.CheckInvariant())

	_, err = c.RefundOrder(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

// hostedGateway speaks the hosted checkout protocol. Orders stay pending
// until paid is set.
type hostedGateway struct {
	mu      sync.Mutex
	paid    bool
	creates int
	checks  int
}

func (g *hostedGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string         `json:"method"`
		Order  map[string]any `json:"order"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	g.mu.Lock()
	defer g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch req.Method {
	case "create":
		g.creates++
		_, _ = w.Write([]byte(`{"order":{"ref":"ORD1","url":"https://pay.example/ORD1"}}`))
	case "check":
		g.checks++
		code := 1
		if g.paid {
			code = 3
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{
			"ref":         req.Order["ref"],
			"status":      map[string]any{"code": code, "text": "status"},
			"transaction": map[string]any{"ref": "TX1"},
		}})
	case "refund":
		_, _ = w.Write([]byte(`{"refund":{"ref":"RF1"}}`))
	}
}

func (g *hostedGateway) counts() (creates, checks int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.checks
}

func openHostedProcessor(t *testing.T, gw *hostedGateway) payment.Processor {
	t.Helper()
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	proc, err := payment.DefaultRegistry().Open(t.Context(), payment.HostedName, payment.Config{
		Endpoint:   srv.URL,
		StoreID:    "store-1",
		APIKey:     "key",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return proc
}

func TestHostedPaymentPendingThenPaid(t *testing.T) {
	ctx := t.Context()
	gw := &hostedGateway{}
	e, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeLocal}, nil, openHostedProcessor(t, gw))
	inventory := e.GetInventory()

	s, err := c.Start(ctx)
	require.NoError(t, err)

	prepared, err := c.PreparePayment(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, prepared.Payment)
	assert.Equal(t, payment.HostedName, prepared.Payment.Processor)
	assert.Equal(t, "ORD1", prepared.Payment.IntentID)
	assert.Equal(t, "https://pay.example/ORD1", prepared.Payment.RedirectURL)
	assert.Equal(t, payment.StatusPending, prepared.Payment.Status)

	_, err = c.PreparePayment(ctx, s.ID)
	require.NoError(t, err)

	_, err = c.Complete(ctx, s, payment.Details{})
	require.ErrorIs(t, err, models.ErrPaymentPending)
	assert.Len(t, e.GetCart(), 2)
	assert.Equal(t, inventory, e.GetInventory())
	assert.Empty(t, e.GetOrders())

	pending, err := c.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/ORD1", pending.Payment.RedirectURL)

	gw.mu.Lock()
	gw.paid = true
	gw.mu.Unlock()

	order, err := c.Complete(ctx, s, payment.Details{})
	require.NoError(t, err)
	assert.Equal(t, payment.HostedName, order.Processor)
	assert.Equal(t, "TX1", order.PaymentID)
	assert.Empty(t, e.GetCart())

	creates, checks := gw.counts()
	assert.Equal(t, 1, creates, "one intent per session")
	assert.Equal(t, 2, checks)
}

func TestCompleteCreatesIntentWhenNotPrepared(t *testing.T) {
	ctx := t.Context()
	gw := &hostedGateway{}
	_, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeLocal}, nil, openHostedProcessor(t, gw))

	s, err := c.Start(ctx)
	require.NoError(t, err)

	_, err = c.Complete(ctx, s, payment.Details{})
	require.ErrorIs(t, err, models.ErrPaymentPending)
	_, err = c.Complete(ctx, s, payment.Details{})
	require.ErrorIs(t, err, models.ErrPaymentPending)

	creates, _ := gw.counts()
	assert.Equal(t, 1, creates)
}

func TestPreparePaymentRequiresProcessor(t *testing.T) {
	_, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeLocal}, nil, nil)
	s, err := c.Start(t.Context())
	require.NoError(t, err)

	_, err = c.PreparePayment(t.Context(), s.ID)
	assert.ErrorIs(t, err, models.ErrPaymentNotConfigured)
}

func TestExpiredSessionsAreForgotten(t *testing.T) {
	ctx := t.Context()
	_, c, _ := newCheckoutFixture(t, CheckoutConfig{Mode: ModeLocal, SessionTTL: time.Minute}, nil, nil)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	old, err := c.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), old.ExpiresAt)

	now = now.Add(30 * time.Second)
	_, err = c.Session(old.ID)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = c.Session(old.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	_, err = c.Complete(ctx, old, payment.Details{})
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	stale, err := c.Start(ctx)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	fresh, err := c.Start(ctx)
	require.NoError(t, err)

	c.mu.Lock()
	assert.NotContains(t, c.sessions, stale.ID, "starting a session prunes expired ones")
	assert.Contains(t, c.sessions, fresh.ID)
	assert.Len(t, c.sessions, 1)
	c.mu.Unlock()
}
