package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)

	// testStore already ran Migrate, so run it again to check idempotency.
	result, err := s.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestConversationUpsertIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := &ConversationRecord{
		ConversationID: "c1",
		Type:           "conversation",
		SourceBody:     "<p>hi</p>",
		ContactIDs:     []string{"u1"},
		TagIDs:         []string{"t1"},
		State:          "open",
		Open:           true,
		CreatedAt:      FromEpoch(1700000000),
		UpdatedAt:      FromEpoch(1700000100),
		SyncedAt:       time.Now().UTC(),
	}
	if err := s.UpsertConversation(ctx, c); err != nil {
		t.Fatal(err)
	}

	// Second upsert updates in place.
	c.State = "closed"
	c.Open = false
	if err := s.UpsertConversation(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("conversation not found")
	}
	if got.State != "closed" || got.Open {
		t.Errorf("state = %q open = %v, want closed/false", got.State, got.Open)
	}
	if len(got.ContactIDs) != 1 || got.ContactIDs[0] != "u1" {
		t.Errorf("contacts = %v, want [u1]", got.ContactIDs)
	}
	if got.CreatedAt == nil || got.CreatedAt.Unix() != 1700000000 {
		t.Errorf("created_at = %v, want epoch 1700000000", got.CreatedAt)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Conversations != 1 {
		t.Errorf("conversations = %d, want 1 (idempotent upsert failed)", counts.Conversations)
	}
}

func TestGetConversationMissing(t *testing.T) {
	s := testStore(t)

	got, err := s.GetConversation(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected nil for missing conversation")
	}
}

func TestMessagesOrderedByIndex(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertConversation(ctx, &ConversationRecord{ConversationID: "c1", SyncedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	msgs := []MessageRecord{
		{MessageID: "p2", ConversationID: "c1", Body: "second", MessageIndex: 2, SyncedAt: time.Now().UTC()},
		{MessageID: "c1_source", ConversationID: "c1", Body: "first", MessageIndex: 0, SyncedAt: time.Now().UTC()},
		{MessageID: "p1", ConversationID: "c1", Body: "middle", MessageIndex: 1, SyncedAt: time.Now().UTC()},
	}
	if err := s.UpsertMessages(ctx, msgs); err != nil {
		t.Fatal(err)
	}
	// Re-upserting the batch must not duplicate.
	if err := s.UpsertMessages(ctx, msgs); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, id := range []string{"c1_source", "p1", "p2"} {
		if got[i].MessageID != id {
			t.Errorf("msgs[%d] = %q, want %q", i, got[i].MessageID, id)
		}
	}
}

func TestUserUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := &UserRecord{UserID: "u1", Type: "user", Email: "a@b.c", TagIDs: []string{"t1"}, SyncedAt: time.Now().UTC()}
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	u.Email = "new@b.c"
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Email != "new@b.c" {
		t.Errorf("got %v, want new@b.c", got)
	}
	if len(got.TagIDs) != 1 || got.TagIDs[0] != "t1" {
		t.Errorf("tags = %v, want [t1]", got.TagIDs)
	}
}

func TestReplaceConversationTags(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertTags(ctx, []TagRecord{{TagID: "t1", Name: "vip"}, {TagID: "t2", Name: "billing"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceConversationTags(ctx, "c1", []TagLinkRecord{
		{ConversationID: "c1", TagID: "t1"},
		{ConversationID: "c1", TagID: "t2"},
	}); err != nil {
		t.Fatal(err)
	}

	// Tag t2 removed at the source; replacement must drop the stale link.
	if err := s.ReplaceConversationTags(ctx, "c1", []TagLinkRecord{
		{ConversationID: "c1", TagID: "t1", AppliedByID: "a9", AppliedByType: "admin", AppliedAt: FromEpoch(1700000000)},
	}); err != nil {
		t.Fatal(err)
	}

	links, err := s.ListConversationTags(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
	if links[0].TagID != "t1" || links[0].AppliedByID != "a9" {
		t.Errorf("link = %+v, want t1 applied by a9", links[0])
	}
}

func TestSyncRunLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	last, err := s.LastCompletedAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Errorf("expected nil before any run, got %v", last)
	}

	started := time.Now().UTC().Truncate(time.Second)
	run := &SyncRun{RunID: "r1", Mode: "full", Status: RunStatusRunning, StartedAt: started}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	done := started.Add(time.Minute)
	run.Status = RunStatusCompleted
	run.ConversationsSynced = 5
	run.MessagesSynced = 12
	run.Errors = nil
	run.CompletedAt = &done
	if err := s.CompleteRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	last, err = s.LastCompletedAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || !last.Equal(done) {
		t.Errorf("last completed = %v, want %v", last, done)
	}

	runs, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != RunStatusCompleted || runs[0].ConversationsSynced != 5 {
		t.Errorf("run = %+v", runs[0])
	}
}

func TestLastCompletedAtIgnoresPartialRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	done := time.Now().UTC().Truncate(time.Second)
	run := &SyncRun{RunID: "r1", Mode: "full", Status: RunStatusRunning, StartedAt: done.Add(-time.Hour)}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Status = RunStatusPartial
	run.Errors = []string{"conversation c3: boom"}
	run.CompletedAt = &done
	if err := s.CompleteRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	last, err := s.LastCompletedAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Errorf("partial run must not advance the incremental watermark, got %v", last)
	}
}

func TestFailStaleRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := &SyncRun{RunID: "old", Mode: "full", Status: RunStatusRunning, StartedAt: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := &SyncRun{RunID: "fresh", Mode: "incremental", Status: RunStatusRunning, StartedAt: time.Now().UTC()}
	if err := s.CreateRun(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRun(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := s.FailStaleRuns(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("failed %d runs, want 1", n)
	}

	runs, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range runs {
		switch r.RunID {
		case "old":
			if r.Status != RunStatusFailed {
				t.Errorf("old run status = %q, want failed", r.Status)
			}
		case "fresh":
			if r.Status != RunStatusRunning {
				t.Errorf("fresh run status = %q, want running", r.Status)
			}
		}
	}
}

func TestWebhookEventAudit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.InsertWebhookEvent(ctx, &WebhookEvent{
		EventType:  "notification_event",
		Topic:      "conversation.user.replied",
		Payload:    []byte(`{"topic":"conversation.user.replied"}`),
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero event id")
	}

	if err := s.MarkWebhookProcessed(ctx, id, ""); err != nil {
		t.Fatal(err)
	}

	var processed bool
	var procErr string
	err = s.db.QueryRow("SELECT processed, error FROM webhook_events WHERE event_id = ?", id).Scan(&processed, &procErr)
	if err != nil {
		t.Fatal(err)
	}
	if !processed || procErr != "" {
		t.Errorf("processed = %v error = %q", processed, procErr)
	}
}
