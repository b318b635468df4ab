package store

import (
	"context"
	"fmt"
	"time"
)

// ReplicaStore is the upsert-oriented persistence contract shared by the
// SQLite and Postgres backends. Every entity write is an upsert keyed on
// the entity's natural id, which is what makes at-least-once batch
// processing safe to retry. The one exception is tag links, which are
// replaced wholesale per conversation so stale links cannot survive a
// tag removal at the source.
type ReplicaStore interface {
	Close() error
	Ping(ctx context.Context) error
	Migrate() (*MigrateResult, error)

	UpsertConversation(ctx context.Context, c *ConversationRecord) error
	UpsertMessages(ctx context.Context, msgs []MessageRecord) error
	UpsertUser(ctx context.Context, u *UserRecord) error
	UpsertAdmin(ctx context.Context, a *AdminRecord) error
	UpsertTags(ctx context.Context, tags []TagRecord) error
	ReplaceConversationTags(ctx context.Context, conversationID string, links []TagLinkRecord) error

	CreateRun(ctx context.Context, run *SyncRun) error
	CompleteRun(ctx context.Context, run *SyncRun) error
	LastCompletedAt(ctx context.Context) (*time.Time, error)
	RecentRuns(ctx context.Context, limit int) ([]SyncRun, error)
	FailStaleRuns(ctx context.Context, olderThan time.Duration) (int, error)

	InsertWebhookEvent(ctx context.Context, ev *WebhookEvent) (int64, error)
	MarkWebhookProcessed(ctx context.Context, id int64, procErr string) error
	RecentWebhookEvents(ctx context.Context, limit int) ([]WebhookEvent, error)

	GetConversation(ctx context.Context, id string) (*ConversationRecord, error)
	ListMessages(ctx context.Context, conversationID string) ([]MessageRecord, error)
	GetUser(ctx context.Context, id string) (*UserRecord, error)
	ListConversationTags(ctx context.Context, conversationID string) ([]TagLinkRecord, error)
	Counts(ctx context.Context) (Counts, error)
}

// Open creates the replica store for the configured driver. For sqlite
// the dsn is a file path; for postgres a connection string.
func Open(ctx context.Context, driver, dsn string) (ReplicaStore, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
