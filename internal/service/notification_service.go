package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/events"
)

// NotificationService fans lifecycle events out to the log and, when a
// publisher is configured, to the external event feed.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  events.Publisher
	logger     *zap.Logger
}

// NewNotificationService creates the service. publisher may be nil.
func NewNotificationService(dispatcher events.Dispatcher, publisher events.Publisher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger.Named("notifications"),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.Any("payload", event.Payload),
	}
	if event.ChannelID != nil {
		fields = append(fields, zap.Stringer("channel_id", *event.ChannelID))
	}
	n.logger.Info("lifecycle event", fields...)

	if n.publisher == nil {
		return nil
	}
	if err := n.publisher.Publish(ctx, events.RoutingKey(event.Type), event); err != nil {
		n.logger.Warn("forward lifecycle event",
			zap.String("event_id", event.ID),
			zap.String("routing_key", events.RoutingKey(event.Type)),
			zap.Error(err))
		return err
	}
	return nil
}
