// Package metrics exposes Prometheus counters for sync and webhook
// activity, fed by domain events on the bus.
package metrics

import (
	"context"

	"github.com/matheus3301/icsync/internal/bus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icsync_runs_total",
			Help: "Finished sync runs",
		},
		[]string{"mode", "status"},
	)

	ConversationsSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "icsync_conversations_synced_total",
			Help: "Conversations written to the replica",
		},
	)

	UsersSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "icsync_users_synced_total",
			Help: "Contacts written to the replica",
		},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icsync_webhook_events_total",
			Help: "Webhook notifications received",
		},
		[]string{"topic"},
	)

	WebhookRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "icsync_webhook_rejected_total",
			Help: "Webhook notifications rejected for bad signatures",
		},
	)
)

// Watcher feeds the counters from bus events.
type Watcher struct {
	bus    *bus.Bus
	cancel context.CancelFunc
}

// NewWatcher creates a watcher; call Start to begin consuming.
func NewWatcher(b *bus.Bus) *Watcher {
	return &Watcher{bus: b}
}

// Start subscribes to sync and webhook events on the bus.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ch, unsub := w.bus.Subscribe("", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				w.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) handle(evt bus.Event) {
	fields, _ := evt.Payload.(map[string]string)
	switch evt.Kind {
	case "sync.run_finished":
		SyncRunsTotal.WithLabelValues(fields["mode"], fields["status"]).Inc()
	case "sync.conversation":
		ConversationsSynced.Inc()
	case "sync.user":
		UsersSynced.Inc()
	case "webhook.received":
		WebhookEventsTotal.WithLabelValues(fields["topic"]).Inc()
	case "webhook.rejected":
		WebhookRejectedTotal.Inc()
	}
}
