package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/matheus3301/icsync/internal/bus"
	"github.com/matheus3301/icsync/internal/store"
)

type fakeSyncer struct {
	conversations []string
	users         []string
	err           error
}

func (f *fakeSyncer) SyncConversation(_ context.Context, id string) error {
	f.conversations = append(f.conversations, id)
	return f.err
}

func (f *fakeSyncer) SyncUser(_ context.Context, id string) error {
	f.users = append(f.users, id)
	return f.err
}

func testServer(t *testing.T, secret string) (*Server, *fakeSyncer, *store.SQLiteStore) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	syncer := &fakeSyncer{}
	return New(st, syncer, bus.New(), nil, secret), syncer, st
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func post(t *testing.T, srv *Server, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/intercom", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature", signature)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestConversationTopicTriggersSync(t *testing.T) {
	srv, syncer, st := testServer(t, "s3cret")
	body := []byte(`{"type":"notification_event","topic":"conversation.user.replied","data":{"item":{"type":"conversation","id":"c42"}}}`)

	rec := post(t, srv, body, sign("s3cret", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(syncer.conversations) != 1 || syncer.conversations[0] != "c42" {
		t.Errorf("synced conversations = %v, want [c42]", syncer.conversations)
	}

	// Event recorded and marked processed.
	events, err := st.RecentWebhookEvents(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Topic != "conversation.user.replied" || !events[0].Processed {
		t.Errorf("event = %+v", events[0])
	}
}

func TestContactTopicTriggersUserSync(t *testing.T) {
	srv, syncer, _ := testServer(t, "")
	body := []byte(`{"type":"notification_event","topic":"contact.created","data":{"item":{"type":"contact","id":"u7"}}}`)

	rec := post(t, srv, body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(syncer.users) != 1 || syncer.users[0] != "u7" {
		t.Errorf("synced users = %v, want [u7]", syncer.users)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	srv, syncer, _ := testServer(t, "s3cret")
	body := []byte(`{"topic":"conversation.user.created","data":{"item":{"id":"c1"}}}`)

	rec := post(t, srv, body, "sha1=deadbeef")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(syncer.conversations) != 0 {
		t.Errorf("sync triggered despite bad signature: %v", syncer.conversations)
	}

	rec = post(t, srv, body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature status = %d, want 401", rec.Code)
	}
}

func TestUnknownTopicAcknowledged(t *testing.T) {
	srv, syncer, _ := testServer(t, "")
	body := []byte(`{"type":"notification_event","topic":"company.created","data":{"item":{"type":"company","id":"co1"}}}`)

	rec := post(t, srv, body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(syncer.conversations) != 0 || len(syncer.users) != 0 {
		t.Error("unexpected sync for unhandled topic")
	}
}

func TestPingTopic(t *testing.T) {
	srv, syncer, _ := testServer(t, "")
	body := []byte(`{"type":"notification_event","topic":"ping"}`)

	rec := post(t, srv, body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(syncer.conversations) != 0 {
		t.Error("ping must not trigger a sync")
	}
}

func TestDispatchErrorStillAccepted(t *testing.T) {
	srv, syncer, st := testServer(t, "")
	syncer.err = context.DeadlineExceeded
	body := []byte(`{"topic":"conversation.admin.closed","data":{"item":{"id":"c9"}}}`)

	rec := post(t, srv, body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (event recorded, retried later)", rec.Code)
	}

	events, err := st.RecentWebhookEvents(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Error == "" {
		t.Errorf("dispatch error not recorded on event: %+v", events)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
