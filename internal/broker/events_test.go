package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cart-service/internal/events"
	"cart-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type published struct {
	key   string
	event models.Event
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail bool
}

func (p *fakePublisher) PublishEvent(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.msgs = append(p.msgs, published{key: key, event: event.(models.Event)})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func TestEventForwarderPublishesBusEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	pub := &fakePublisher{}
	bus := events.NewBus(zap.NewNop())
	fwd := NewEventForwarder(pub, 16)
	detach := fwd.Attach(bus)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fwd.Run(ctx) }()

	bus.Publish(models.NewEvent(models.EventItemAdded, models.ItemAddedPayload{ProductID: "mug-1", Quantity: 1}))
	bus.Publish(models.NewEvent(models.EventCartCleared, models.CartClearedPayload{}))

	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, "product-mug-1", pub.msgs[0].key)
	assert.Equal(t, models.EventItemAdded, pub.msgs[0].event.Name)
	assert.Equal(t, "cart", pub.msgs[1].key)
}

func TestEventForwarderDropsWhenFull(t *testing.T) {
	pub := &fakePublisher{}
	fwd := NewEventForwarder(pub, 1)

	fwd.enqueue(models.NewEvent(models.EventCartCleared, nil))
	fwd.enqueue(models.NewEvent(models.EventCartCleared, nil))
	assert.Len(t, fwd.queue, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fwd.Run(ctx), context.Canceled)
	assert.Equal(t, 1, pub.count(), "queued events are flushed on shutdown")
}

func TestEventForwarderSurvivesPublishErrors(t *testing.T) {
	pub := &fakePublisher{fail: true}
	fwd := NewEventForwarder(pub, 4)
	fwd.enqueue(models.NewEvent(models.EventCartCleared, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fwd.Run(ctx), context.Canceled)
	assert.Zero(t, pub.count())
}

func TestEventKey(t *testing.T) {
	tests := []struct {
		evt  models.Event
		want string
	}{
		{models.NewEvent(models.EventItemRemoved, models.ItemRemovedPayload{ProductID: "p"}), "product-p"},
		{models.NewEvent(models.EventInventoryUpdated, models.InventoryUpdatedPayload{ProductID: "p"}), "product-p"},
		{models.NewEvent(models.EventCheckoutCompleted, models.CheckoutCompletedPayload{Order: models.Order{ID: "o"}}), "order-o"},
		{models.NewEvent(models.EventOrderStatusChanged, models.OrderStatusChangedPayload{OrderID: "o"}), "order-o"},
		{models.NewEvent(models.EventAPIError, models.APIErrorPayload{SessionID: "s"}), "session-s"},
		{models.NewEvent(models.EventInitialized, models.InitializedPayload{}), "cart"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EventKey(tt.evt), tt.evt.Name)
	}
}

func TestCommandHandlerRoutes(t *testing.T) {
	ctx := context.Background()
	h := NewCommandHandler()

	var (
		setCmd    *models.SetInventoryCommand
		statusCmd *models.OrderStatusCommand
	)
	h.OnSetInventory(func(_ context.Context, cmd *models.SetInventoryCommand) error {
		setCmd = cmd
		return nil
	})
	h.OnOrderStatus(func(_ context.Context, cmd *models.OrderStatusCommand) error {
		statusCmd = cmd
		return errors.New("rejected")
	})

	msg := func(v any) kafka.Message {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return kafka.Message{Value: b}
	}

	require.NoError(t, h.HandleMessage(ctx, msg(map[string]any{
		"command_id": "c1", "command_type": "inventory.set", "product_id": "mug-1", "quantity": 7,
	})))
	require.NotNil(t, setCmd)
	assert.Equal(t, "mug-1", setCmd.ProductID)
	assert.Equal(t, 7, setCmd.Quantity)
	assert.Equal(t, "c1", setCmd.CommandID)

	err := h.HandleMessage(ctx, msg(map[string]any{
		"command_id": "c2", "command_type": "order.status", "order_id": "o1", "status": "cancelled",
	}))
	assert.EqualError(t, err, "rejected")
	require.NotNil(t, statusCmd)
	assert.Equal(t, models.OrderStatusCancelled, statusCmd.Status)

	assert.NoError(t, h.HandleMessage(ctx, msg(map[string]any{"command_type": "catalog.wipe"})))
	assert.ErrorContains(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("{")}), "failed to unmarshal base command")
}
