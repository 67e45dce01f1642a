package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cart-service/internal/events"
	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes one keyed message. *Producer implements it.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event any) error
}

// EventForwarder copies every event published on the bus to the broker.
// Bus handlers only enqueue, so a slow broker never stalls the engine;
// when the queue is full the event is dropped and counted.
type EventForwarder struct {
	publisher Publisher
	queue     chan models.Event
	logger    *zap.Logger
}

// NewEventForwarder creates a new event forwarder
func NewEventForwarder(publisher Publisher, buffer int) *EventForwarder {
	if buffer < 1 {
		buffer = 1
	}
	return &EventForwarder{
		publisher: publisher,
		queue:     make(chan models.Event, buffer),
		logger:    util.GetLogger(),
	}
}

// Attach subscribes the forwarder to every event on bus
func (f *EventForwarder) Attach(bus *events.Bus) func() {
	return bus.SubscribeAll(f.enqueue)
}

func (f *EventForwarder) enqueue(evt models.Event) {
	select {
	case f.queue <- evt:
	default:
		util.BrokerEventsTotal.WithLabelValues("dropped").Inc()
		f.logger.Warn("Broker queue full, dropping event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Name)))
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// left with a short deadline.
func (f *EventForwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			f.flush()
			return ctx.Err()
		case evt := <-f.queue:
			f.publish(ctx, evt)
		}
	}
}

func (f *EventForwarder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case evt := <-f.queue:
			f.publish(ctx, evt)
		default:
			return
		}
	}
}

func (f *EventForwarder) publish(ctx context.Context, evt models.Event) {
	if err := f.publisher.PublishEvent(ctx, EventKey(evt), evt); err != nil {
		util.BrokerEventsTotal.WithLabelValues("failed").Inc()
		f.logger.Error("Failed to publish event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Name)),
			zap.Error(err))
		return
	}
	util.BrokerEventsTotal.WithLabelValues("published").Inc()
}

// EventKey partitions events by the entity they concern so consumers see
// each product's or order's history in order.
func EventKey(evt models.Event) string {
	switch p := evt.Payload.(type) {
	case models.ItemAddedPayload:
		return "product-" + p.ProductID
	case models.ItemRemovedPayload:
		return "product-" + p.ProductID
	case models.InventoryUpdatedPayload:
		return "product-" + p.ProductID
	case models.CheckoutCompletedPayload:
		return "order-" + p.Order.ID
	case models.OrderStatusChangedPayload:
		return "order-" + p.OrderID
	case models.CheckoutStartedPayload:
		return "session-" + p.SessionID
	case models.APISuccessPayload:
		return "session-" + p.SessionID
	case models.APIErrorPayload:
		return "session-" + p.SessionID
	}
	return "cart"
}

// CommandHandler routes admin commands to registered callbacks
type CommandHandler struct {
	onSetInventory func(context.Context, *models.SetInventoryCommand) error
	onOrderStatus  func(context.Context, *models.OrderStatusCommand) error
	logger         *zap.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler() *CommandHandler {
	return &CommandHandler{logger: util.GetLogger()}
}

// OnSetInventory registers a handler for inventory.set commands
func (h *CommandHandler) OnSetInventory(handler func(context.Context, *models.SetInventoryCommand) error) {
	h.onSetInventory = handler
}

// OnOrderStatus registers a handler for order.status commands
func (h *CommandHandler) OnOrderStatus(handler func(context.Context, *models.OrderStatusCommand) error) {
	h.onOrderStatus = handler
}

// HandleMessage routes messages to appropriate handlers. Unknown command
// types are acknowledged and ignored.
func (h *CommandHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseCommand
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return fmt.Errorf("failed to unmarshal base command: %w", err)
	}

	h.logger.Info("Handling command",
		zap.String("command_type", string(base.CommandType)),
		zap.String("command_id", base.CommandID))

	switch base.CommandType {
	case models.CommandSetInventory:
		if h.onSetInventory != nil {
			var cmd models.SetInventoryCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				return fmt.Errorf("failed to unmarshal inventory.set command: %w", err)
			}
			return h.onSetInventory(ctx, &cmd)
		}

	case models.CommandOrderStatus:
		if h.onOrderStatus != nil {
			var cmd models.OrderStatusCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				return fmt.Errorf("failed to unmarshal order.status command: %w", err)
			}
			return h.onOrderStatus(ctx, &cmd)
		}

	default:
		h.logger.Warn("Unhandled command type", zap.String("command_type", string(base.CommandType)))
	}

	return nil
}
