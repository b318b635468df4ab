// Package webhook receives Intercom notification events over HTTP and
// turns them into targeted replica syncs.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/icsync/internal/bus"
	"github.com/matheus3301/icsync/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxBodySize bounds webhook payloads. Intercom notifications are small;
// anything bigger is hostile.
const maxBodySize = 1 << 20

// Syncer is the subset of the orchestrator the webhook dispatcher needs.
type Syncer interface {
	SyncConversation(ctx context.Context, id string) error
	SyncUser(ctx context.Context, id string) error
}

// Server is the webhook HTTP surface: the notification endpoint plus
// health and metrics.
type Server struct {
	store  store.ReplicaStore
	syncer Syncer
	bus    *bus.Bus
	logger *zap.Logger
	secret string
}

// New creates a webhook server. An empty secret disables signature
// verification; the server logs a warning and accepts everything.
func New(st store.ReplicaStore, syncer Syncer, b *bus.Bus, logger *zap.Logger, secret string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secret == "" {
		logger.Warn("webhook secret not set, signature verification disabled")
	}
	return &Server{store: st, syncer: syncer, bus: b, logger: logger, secret: secret}
}

// Router builds the HTTP routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)
	r.Post("/webhooks/intercom", s.handleNotification)
	// Intercom validates the endpoint with a HEAD request.
	r.Head("/webhooks/intercom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// notification is the envelope Intercom posts. The interesting bits are
// the topic and the item the event is about.
type notification struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Topic string `json:"topic"`
	Data  struct {
		Item struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"item"`
	} `json:"data"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature")) {
		s.logger.Warn("webhook signature rejected",
			zap.String("remote", r.RemoteAddr))
		s.publish("webhook.rejected", nil)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	eventID, err := s.store.InsertWebhookEvent(r.Context(), &store.WebhookEvent{
		EventType:  n.Type,
		Topic:      n.Topic,
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("webhook event insert failed", zap.Error(err))
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}

	s.publish("webhook.received", map[string]string{"topic": n.Topic})

	procErr := s.dispatch(r.Context(), &n)
	errStr := ""
	if procErr != nil {
		errStr = procErr.Error()
		s.logger.Warn("webhook dispatch failed",
			zap.String("topic", n.Topic),
			zap.String("item_id", n.Data.Item.ID),
			zap.Error(procErr))
	}
	if err := s.store.MarkWebhookProcessed(r.Context(), eventID, errStr); err != nil {
		s.logger.Error("webhook event update failed", zap.Error(err))
	}

	// Always 200 once recorded: a failed dispatch is retried by the next
	// incremental run, and Intercom stops delivering on repeated errors.
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// dispatch routes a notification to the matching targeted sync. Topics
// with no replica impact are acknowledged and skipped.
func (s *Server) dispatch(ctx context.Context, n *notification) error {
	itemID := n.Data.Item.ID
	switch {
	case n.Topic == "ping":
		return nil
	case strings.HasPrefix(n.Topic, "conversation"):
		if itemID == "" {
			return nil
		}
		return s.syncer.SyncConversation(ctx, itemID)
	case strings.HasPrefix(n.Topic, "contact.") || strings.HasPrefix(n.Topic, "user."):
		if itemID == "" {
			return nil
		}
		return s.syncer.SyncUser(ctx, itemID)
	default:
		s.logger.Debug("webhook topic ignored", zap.String("topic", n.Topic))
		return nil
	}
}

// verifySignature checks the X-Hub-Signature header, which carries
// "sha1=" plus the hex HMAC-SHA1 of the raw body under the shared
// secret.
func (s *Server) verifySignature(body []byte, header string) bool {
	if s.secret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha1=")
	if !ok {
		return false
	}
	mac := hmac.New(sha1.New, []byte(s.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (s *Server) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
