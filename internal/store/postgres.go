package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the shared-server replica backend, used when several
// consumers read the replica concurrently.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pgx pool to the given DSN.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) UpsertConversation(ctx context.Context, c *ConversationRecord) error {
	_, err := s.pool.Exec(ctx, rebind(upsertConversationSQL), conversationArgs(c)...)
	return err
}

func (s *PostgresStore) UpsertMessages(ctx context.Context, msgs []MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := rebind(upsertMessageSQL)
	for i := range msgs {
		if _, err := tx.Exec(ctx, q, messageArgs(&msgs[i])...); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u *UserRecord) error {
	_, err := s.pool.Exec(ctx, rebind(upsertUserSQL), userArgs(u)...)
	return err
}

func (s *PostgresStore) UpsertAdmin(ctx context.Context, a *AdminRecord) error {
	_, err := s.pool.Exec(ctx, rebind(upsertAdminSQL), adminArgs(a)...)
	return err
}

func (s *PostgresStore) UpsertTags(ctx context.Context, tags []TagRecord) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := rebind(upsertTagSQL)
	for _, t := range tags {
		if _, err := tx.Exec(ctx, q, t.TagID, t.Name); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ReplaceConversationTags(ctx context.Context, conversationID string, links []TagLinkRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, rebind(deleteConversationTagsSQL), conversationID); err != nil {
		return err
	}
	q := rebind(insertConversationTagSQL)
	for _, l := range links {
		if _, err := tx.Exec(ctx, q,
			conversationID, l.TagID, l.AppliedByID, l.AppliedByType, l.AppliedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *SyncRun) error {
	_, err := s.pool.Exec(ctx, rebind(insertRunSQL), runArgs(run)...)
	return err
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *SyncRun) error {
	_, err := s.pool.Exec(ctx, rebind(completeRunSQL),
		run.Status,
		run.ConversationsSynced, run.MessagesSynced, run.UsersSynced, run.AdminsSynced, run.TagsSynced,
		jsonList(run.Errors), run.CompletedAt, run.RunID)
	return err
}

func (s *PostgresStore) LastCompletedAt(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, lastCompletedAtSQL).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, rebind(recentRunsSQL), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *PostgresStore) FailStaleRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, rebind(failStaleRunsSQL), time.Now().UTC(), cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) InsertWebhookEvent(ctx context.Context, ev *WebhookEvent) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, rebind(insertWebhookEventSQL)+" RETURNING event_id",
		ev.EventType, ev.Topic, jsonOrNil(ev.Payload), ev.Processed, ev.Error, ev.ReceivedAt).Scan(&id)
	return id, err
}

func (s *PostgresStore) MarkWebhookProcessed(ctx context.Context, id int64, procErr string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, rebind(markWebhookProcessedSQL), true, now, procErr, id)
	return err
}

func (s *PostgresStore) RecentWebhookEvents(ctx context.Context, limit int) ([]WebhookEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, rebind(recentWebhookEventsSQL), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*ConversationRecord, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx, rebind(selectConversationSQL), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]MessageRecord, error) {
	rows, err := s.pool.Query(ctx, rebind(selectMessagesSQL), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, rebind(selectUserSQL), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *PostgresStore) ListConversationTags(ctx context.Context, conversationID string) ([]TagLinkRecord, error) {
	rows, err := s.pool.Query(ctx, rebind(selectConversationTagsSQL), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
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
		if err := s.pool.QueryRow(ctx, q.sql).Scan(q.dest); err != nil {
			return Counts{}, err
		}
	}
	return c, nil
}
