package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/events"
	"github.com/spec-kit/access-gate/internal/service"
)

func TestWebhookWorkerDeliversEvents(t *testing.T) {
	t.Parallel()

	received := make(chan events.Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e events.Event
		if err := json.NewDecoder(r.Body).Decode(&e); err == nil {
			received <- e
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dispatcher := events.NewInMemoryDispatcher()
	webhook := NewWebhookWorker(srv.URL, nil, zap.NewNop())
	notifications := service.NewNotificationService(dispatcher, zap.NewNop(), webhook)
	StartNotificationWorker(ctx, notifications, webhook)

	require.NoError(t, dispatcher.Publish(ctx, events.NewEvent(events.EventSignedIn, "u1", "s1", nil)))

	select {
	case e := <-received:
		assert.Equal(t, events.EventSignedIn, e.Type)
		assert.Equal(t, "u1", e.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}

	notifications.Close()
	assert.Zero(t, events.ListenerCount(dispatcher))
}

func TestEnqueueDoesNotBlockWhenFull(t *testing.T) {
	t.Parallel()

	w := NewWebhookWorker("http://127.0.0.1:0", nil, zap.NewNop())
	for i := 0; i < queueSize; i++ {
		require.True(t, w.Enqueue(events.Event{}))
	}
	assert.False(t, w.Enqueue(events.Event{}))
}
