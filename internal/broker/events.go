package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront-session/internal/models"
	"storefront-session/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing activity events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishCartEvent publishes a cart activity event keyed by session
func (ep *EventPublisher) PublishCartEvent(ctx context.Context, event *models.CartEvent) error {
	key := fmt.Sprintf("cart-%s", event.SessionKey)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishDisputeAction publishes a dispute action event keyed by order
func (ep *EventPublisher) PublishDisputeAction(ctx context.Context, event *models.DisputeActionEvent) error {
	key := fmt.Sprintf("dispute-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishDeadlineExpired publishes a deadline expiry event keyed by order
func (ep *EventPublisher) PublishDeadlineExpired(ctx context.Context, event *models.DeadlineExpiredEvent) error {
	key := fmt.Sprintf("dispute-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming activity events
type EventHandler struct {
	logger     *zap.Logger
	onActivity func(ctx context.Context, base models.BaseEvent, raw []byte) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Named("broker")}
}

// OnActivity registers a handler invoked for every recognized activity
// event with its decoded envelope and raw payload
func (eh *EventHandler) OnActivity(handler func(ctx context.Context, base models.BaseEvent, raw []byte) error) {
	eh.onActivity = handler
}

// HandleMessage decodes the envelope and dispatches the event
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeCartItemAdded,
		models.EventTypeCartItemRemoved,
		models.EventTypeCartItemUpdated,
		models.EventTypeCartCleared,
		models.EventTypeCartReverted,
		models.EventTypeDisputeAction,
		models.EventTypeDeadlineExpired:
		if eh.onActivity != nil {
			return eh.onActivity(ctx, baseEvent, msg.Value)
		}
	default:
		eh.logger.Debug("unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
