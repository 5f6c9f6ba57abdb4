package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/events"
)

// EventSink forwards auth events outside the process.
type EventSink interface {
	Enqueue(event events.Event) bool
}

// NotificationService logs auth events and forwards them to an optional sink.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	sink       EventSink
	subs       []events.Subscription
}

// NewNotificationService creates the service. sink may be nil.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, sink EventSink) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		sink:       sink,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.subs = append(n.subs,
		n.dispatcher.Subscribe(events.EventSignedIn, n.handleSignedIn),
		n.dispatcher.Subscribe(events.EventSignedOut, n.handleSignedOut),
		n.dispatcher.Subscribe(events.EventTokenRefreshed, n.handleTokenRefreshed),
		n.dispatcher.Subscribe(events.EventUserUpdated, n.handleUserUpdated),
	)
}

// Close releases the subscriptions.
func (n *NotificationService) Close() {
	for _, sub := range n.subs {
		sub.Unsubscribe()
	}
	n.subs = nil
}

func (n *NotificationService) handleSignedIn(ctx context.Context, event events.Event) error {
	n.logger.Info("SignedIn", zap.String("user_id", event.UserID), zap.String("session_id", event.SessionID), zap.Any("payload", event.Payload))
	n.forward(event)
	return nil
}

func (n *NotificationService) handleSignedOut(ctx context.Context, event events.Event) error {
	n.logger.Info("SignedOut", zap.String("user_id", event.UserID), zap.String("session_id", event.SessionID))
	n.forward(event)
	return nil
}

func (n *NotificationService) handleTokenRefreshed(ctx context.Context, event events.Event) error {
	n.logger.Debug("TokenRefreshed", zap.String("user_id", event.UserID), zap.String("session_id", event.SessionID))
	return nil
}

func (n *NotificationService) handleUserUpdated(ctx context.Context, event events.Event) error {
	n.logger.Info("UserUpdated", zap.String("user_id", event.UserID), zap.Any("payload", event.Payload))
	n.forward(event)
	return nil
}

func (n *NotificationService) forward(event events.Event) {
	if n.sink == nil {
		return
	}
	if !n.sink.Enqueue(event) {
		n.logger.Warn("event sink full; dropping event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
	}
}
