package worker

import (
	"context"
	"errors"

	"cart-service/internal/broker"
	"cart-service/internal/models"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// MessageSource delivers broker messages to a handler until ctx ends.
// *broker.Consumer implements it.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// InventoryAdmin is the slice of the cart engine admin commands drive
type InventoryAdmin interface {
	SetInventory(ctx context.Context, productID string, qty int) error
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (models.Order, error)
}

// AdminWorker applies admin commands consumed from the broker
type AdminWorker struct {
	source  MessageSource
	handler *broker.CommandHandler
	admin   InventoryAdmin
	logger  *zap.Logger
}

// NewAdminWorker creates a new admin command worker
func NewAdminWorker(source MessageSource, admin InventoryAdmin) *AdminWorker {
	w := &AdminWorker{
		source:  source,
		handler: broker.NewCommandHandler(),
		admin:   admin,
		logger:  util.GetLogger(),
	}

	w.handler.OnSetInventory(w.handleSetInventory)
	w.handler.OnOrderStatus(w.handleOrderStatus)
	return w
}

// Start consumes commands until ctx is cancelled
func (w *AdminWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting admin command worker")
	return w.source.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *AdminWorker) Stop() error {
	w.logger.Info("Stopping admin command worker")
	return w.source.Close()
}

func (w *AdminWorker) handleSetInventory(ctx context.Context, cmd *models.SetInventoryCommand) error {
	ctx, span := util.StartSpan(ctx, "AdminWorker.SetInventory")
	defer span.End()

	err := w.admin.SetInventory(ctx, cmd.ProductID, cmd.Quantity)
	return w.settle(cmd.BaseCommand, err)
}

func (w *AdminWorker) handleOrderStatus(ctx context.Context, cmd *models.OrderStatusCommand) error {
	ctx, span := util.StartSpan(ctx, "AdminWorker.OrderStatus")
	defer span.End()

	_, err := w.admin.UpdateOrderStatus(ctx, cmd.OrderID, cmd.Status)
	return w.settle(cmd.BaseCommand, err)
}

// settle decides whether a command is done. Commands that can never
// succeed are logged and acknowledged so they do not block the partition;
// anything else goes back to the consumer to be retried.
func (w *AdminWorker) settle(cmd models.BaseCommand, err error) error {
	commandType := string(cmd.CommandType)
	if err == nil {
		util.AdminCommandsTotal.WithLabelValues(commandType, "applied").Inc()
		return nil
	}

	if errors.Is(err, models.ErrProductNotFound) ||
		errors.Is(err, models.ErrOrderNotFound) ||
		errors.Is(err, models.ErrInvalidTransition) {
		util.AdminCommandsTotal.WithLabelValues(commandType, "rejected").Inc()
		w.logger.Warn("Admin command rejected",
			zap.String("command_id", cmd.CommandID),
			zap.String("command_type", commandType),
			zap.Error(err))
		return nil
	}

	util.AdminCommandsTotal.WithLabelValues(commandType, "failed").Inc()
	return err
}
