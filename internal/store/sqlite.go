package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the single-file replica backend. WAL mode keeps reads
// open while sync batches write.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates a SQLite connection with WAL mode and recommended
// pragmas.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// UpsertConversation inserts or updates a conversation row.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, c *ConversationRecord) error {
	_, err := s.db.ExecContext(ctx, upsertConversationSQL, conversationArgs(c)...)
	return err
}

// UpsertMessages writes a conversation's message batch in one
// transaction, so a partially written timeline is never visible.
func (s *SQLiteStore) UpsertMessages(ctx context.Context, msgs []MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := range msgs {
		if _, err := tx.ExecContext(ctx, upsertMessageSQL, messageArgs(&msgs[i])...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertUser inserts or updates a contact row.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u *UserRecord) error {
	_, err := s.db.ExecContext(ctx, upsertUserSQL, userArgs(u)...)
	return err
}

// UpsertAdmin inserts or updates a teammate row.
func (s *SQLiteStore) UpsertAdmin(ctx context.Context, a *AdminRecord) error {
	_, err := s.db.ExecContext(ctx, upsertAdminSQL, adminArgs(a)...)
	return err
}

// UpsertTags writes the tag catalog.
func (s *SQLiteStore) UpsertTags(ctx context.Context, tags []TagRecord) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, upsertTagSQL, t.TagID, t.Name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceConversationTags swaps the conversation's tag link set for the
// given one. Delete-then-insert in a transaction keeps removals at the
// source from leaving stale links behind.
func (s *SQLiteStore) ReplaceConversationTags(ctx context.Context, conversationID string, links []TagLinkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteConversationTagsSQL, conversationID); err != nil {
		return err
	}
	for _, l := range links {
		if _, err := tx.ExecContext(ctx, insertConversationTagSQL,
			conversationID, l.TagID, l.AppliedByID, l.AppliedByType, l.AppliedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateRun records the start of a sync run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *SyncRun) error {
	_, err := s.db.ExecContext(ctx, insertRunSQL, runArgs(run)...)
	return err
}

// CompleteRun writes the final status and counters for a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *SyncRun) error {
	_, err := s.db.ExecContext(ctx, completeRunSQL,
		run.Status,
		run.ConversationsSynced, run.MessagesSynced, run.UsersSynced, run.AdminsSynced, run.TagsSynced,
		jsonList(run.Errors), run.CompletedAt, run.RunID)
	return err
}

// LastCompletedAt returns the completion time of the most recent fully
// successful run, or nil when none exists.
func (s *SQLiteStore) LastCompletedAt(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, lastCompletedAtSQL).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecentRuns returns the latest runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []SyncRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// FailStaleRuns marks runs still flagged running but older than the
// cutoff as failed, returning how many rows changed.
func (s *SQLiteStore) FailStaleRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, failStaleRunsSQL, time.Now().UTC(), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// InsertWebhookEvent appends a received event to the audit table.
func (s *SQLiteStore) InsertWebhookEvent(ctx context.Context, ev *WebhookEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx, insertWebhookEventSQL,
		ev.EventType, ev.Topic, jsonOrNil(ev.Payload), ev.Processed, ev.Error, ev.ReceivedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkWebhookProcessed records the processing outcome for an event.
func (s *SQLiteStore) MarkWebhookProcessed(ctx context.Context, id int64, procErr string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, markWebhookProcessedSQL, true, now, procErr, id)
	return err
}

// RecentWebhookEvents returns the latest received events, newest first.
func (s *SQLiteStore) RecentWebhookEvents(ctx context.Context, limit int) ([]WebhookEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, recentWebhookEventsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []WebhookEvent
	for rows.Next() {
		ev, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// GetConversation returns a conversation by id, nil when absent.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*ConversationRecord, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, selectConversationSQL, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListMessages returns a conversation's messages in timeline order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectMessagesSQL, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []MessageRecord
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetUser returns a contact by id, nil when absent.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUserSQL, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ListConversationTags returns the tag links for a conversation.
func (s *SQLiteStore) ListConversationTags(ctx context.Context, conversationID string) ([]TagLinkRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectConversationTagsSQL, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var links []TagLinkRecord
	for rows.Next() {
		l, err := scanTagLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

// Counts reports replica table sizes.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		sql  string
		dest *int64
	}{
		{"SELECT COUNT(*) FROM conversations", &c.Conversations},
		{"SELECT COUNT(*) FROM messages", &c.Messages},
		{"SELECT COUNT(*) FROM users", &c.Users},
		{"SELECT COUNT(*) FROM admins", &c.Admins},
		{"SELECT COUNT(*) FROM tags", &c.Tags},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return Counts{}, err
		}
	}
	return c, nil
}
