package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/events"
	"github.com/spec-kit/access-gate/internal/service"
)

const queueSize = 256

// WebhookWorker posts auth events as JSON to a webhook, one at a time.
type WebhookWorker struct {
	url    string
	client *http.Client
	queue  chan events.Event
	logger *zap.Logger
}

// NewWebhookWorker builds a worker for url.
func NewWebhookWorker(url string, client *http.Client, logger *zap.Logger) *WebhookWorker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookWorker{
		url:    url,
		client: client,
		queue:  make(chan events.Event, queueSize),
		logger: logger,
	}
}

// Enqueue schedules event for delivery. It never blocks; false means the queue is full.
func (w *WebhookWorker) Enqueue(event events.Event) bool {
	select {
	case w.queue <- event:
		return true
	default:
		return false
	}
}

// Run delivers queued events until ctx is done.
func (w *WebhookWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.queue:
			if err := w.deliver(ctx, event); err != nil {
				w.logger.Warn("webhook delivery failed",
					zap.String("event_id", event.ID),
					zap.String("event_type", string(event.Type)),
					zap.Error(err))
			}
		}
	}
}

func (w *WebhookWorker) deliver(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

// StartNotificationWorker registers notification handlers and, when a
// webhook worker is given, starts its delivery loop.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, webhook *WebhookWorker) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	if webhook != nil {
		go webhook.Run(ctx)
	}
}
