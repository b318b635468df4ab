// Package sync pulls conversations, contacts, admins and tags from the
// Intercom API into the local replica. Every write is an idempotent
// upsert, so full, incremental and webhook-triggered runs can overlap a
// previous crash without corrupting the replica.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/icsync/internal/bus"
	"github.com/matheus3301/icsync/internal/intercom"
	"github.com/matheus3301/icsync/internal/store"
	"go.uber.org/zap"
)

// maxRunErrors caps the error list persisted on a sync run. Beyond the
// cap errors are still counted in logs, just not stored.
const maxRunErrors = 100

// Run modes recorded on sync_runs rows.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
	ModeWebhook     = "webhook"
)

// Options tunes an Orchestrator. Zero fields fall back to defaults.
type Options struct {
	BatchSize            int
	IncrementalBatchSize int
	Workers              int
	Lookback             time.Duration
}

// Orchestrator coordinates sync runs: it streams conversation summaries
// from the API, fans hydration and store writes out to a bounded worker
// pool, and records each run in the sync_runs audit log.
type Orchestrator struct {
	client        *intercom.Client
	store         store.ReplicaStore
	bus           *bus.Bus
	logger        *zap.Logger
	batchSize     int
	incrBatchSize int
	workers       int
	lookback      time.Duration
}

// New creates an orchestrator.
func New(client *intercom.Client, st store.ReplicaStore, b *bus.Bus, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.IncrementalBatchSize <= 0 {
		opts.IncrementalBatchSize = 20
	}
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		client:        client,
		store:         st,
		bus:           b,
		logger:        logger,
		batchSize:     opts.BatchSize,
		incrBatchSize: opts.IncrementalBatchSize,
		workers:       opts.Workers,
		lookback:      opts.Lookback,
	}
}

// runState is the mutable per-run accumulator shared by workers. The
// seen sets deduplicate participant fetches within a run; across runs
// the upserts make re-fetching harmless.
type runState struct {
	mu         gosync.Mutex
	seenUsers  map[string]struct{}
	seenAdmins map[string]struct{}

	conversations int
	messages      int
	users         int
	admins        int
	tags          int
	errors        []string
}

func newRunState() *runState {
	return &runState{
		seenUsers:  make(map[string]struct{}),
		seenAdmins: make(map[string]struct{}),
	}
}

func (rs *runState) addError(msg string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.errors) >= maxRunErrors {
		return
	}
	rs.errors = append(rs.errors, msg)
}

// firstUser marks a contact id as handled, reporting whether this call
// was the first to see it.
func (rs *runState) firstUser(id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.seenUsers[id]; ok {
		return false
	}
	rs.seenUsers[id] = struct{}{}
	return true
}

func (rs *runState) firstAdmin(id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.seenAdmins[id]; ok {
		return false
	}
	rs.seenAdmins[id] = struct{}{}
	return true
}

func (rs *runState) add(conversations, messages, users, admins, tags int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.conversations += conversations
	rs.messages += messages
	rs.users += users
	rs.admins += admins
	rs.tags += tags
}

func (rs *runState) snapshot() (c, m, u, a, t int, errs []string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	errs = append([]string(nil), rs.errors...)
	return rs.conversations, rs.messages, rs.users, rs.admins, rs.tags, errs
}

// RunFull replicates every conversation, optionally bounded by a
// created_at window. Reference data (admins, tags) is synced first so
// tag links always point at existing catalog rows.
func (o *Orchestrator) RunFull(ctx context.Context, start, end *time.Time) (*store.SyncRun, error) {
	meta := map[string]any{}
	if start != nil {
		meta["start_date"] = start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		meta["end_date"] = end.UTC().Format(time.RFC3339)
	}
	run, err := o.beginRun(ctx, ModeFull, meta)
	if err != nil {
		return nil, err
	}

	rs := newRunState()
	o.syncReferenceData(ctx, rs)

	stream := o.client.ExportConversations(start, end, 0)
	fatal := o.drainStream(ctx, rs, stream, o.batchSize)
	return o.finishRun(ctx, run, rs, fatal)
}

// RunIncremental replicates conversations updated since the watermark.
// The watermark is, in order: the explicit override, the completion time
// of the last fully successful run, or now minus the configured
// lookback. Partial runs do not advance the watermark, so their failed
// entities are retried on the next pass.
func (o *Orchestrator) RunIncremental(ctx context.Context, sinceOverride *time.Time) (*store.SyncRun, error) {
	since := sinceOverride
	if since == nil {
		last, err := o.store.LastCompletedAt(ctx)
		if err != nil {
			return nil, fmt.Errorf("load watermark: %w", err)
		}
		since = last
	}
	if since == nil {
		t := time.Now().UTC().Add(-o.lookback)
		since = &t
	}

	run, err := o.beginRun(ctx, ModeIncremental, map[string]any{
		"since": since.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	rs := newRunState()
	// Admins and tags are small; refresh them on every run so tag links
	// and assignee references never dangle between full syncs.
	o.syncReferenceData(ctx, rs)

	stream := o.client.UpdatedSince(*since, 0)
	fatal := o.drainStream(ctx, rs, stream, o.incrBatchSize)
	return o.finishRun(ctx, run, rs, fatal)
}

// SyncConversation replicates a single conversation, participants and
// tag links included. Used by webhook dispatch and the CLI; it does not
// write a sync_runs row.
func (o *Orchestrator) SyncConversation(ctx context.Context, id string) error {
	rs := newRunState()
	if !o.syncEntity(ctx, rs, id) {
		_, _, _, _, _, errs := rs.snapshot()
		if len(errs) > 0 {
			return fmt.Errorf("sync conversation %s: %s", id, errs[len(errs)-1])
		}
		return fmt.Errorf("sync conversation %s failed", id)
	}
	return nil
}

// SyncUser replicates a single contact. Used by webhook dispatch for
// contact/user topics.
func (o *Orchestrator) SyncUser(ctx context.Context, id string) error {
	contact, err := o.client.GetContact(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch contact %s: %w", id, err)
	}
	if err := o.store.UpsertUser(ctx, userRecord(contact, time.Now().UTC())); err != nil {
		return fmt.Errorf("upsert contact %s: %w", id, err)
	}
	o.publish("sync.user", map[string]string{"user_id": id})
	return nil
}

// drainStream consumes a summary stream in batches, fanning each batch
// out to the worker pool. A stream fetch error is fatal for the run;
// per-entity errors are not.
func (o *Orchestrator) drainStream(ctx context.Context, rs *runState, stream *intercom.ConversationStream, batchSize int) error {
	batch := make([]string, 0, batchSize)
	for stream.Next(ctx) {
		batch = append(batch, stream.Conversation().ID)
		if len(batch) == batchSize {
			o.syncBatch(ctx, rs, batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		o.syncBatch(ctx, rs, batch)
	}
	return stream.Err()
}

// syncBatch processes one batch of conversation ids with at most
// workers concurrent entities in flight.
func (o *Orchestrator) syncBatch(ctx context.Context, rs *runState, ids []string) {
	sem := make(chan struct{}, o.workers)
	var wg gosync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			o.syncEntity(ctx, rs, id)
		}(id)
	}
	wg.Wait()
}

// syncEntity hydrates and stores one conversation. It is the failure
// boundary: any error, panic included, is recorded on the run and the
// rest of the batch proceeds.
func (o *Orchestrator) syncEntity(ctx context.Context, rs *runState, id string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rs.addError(fmt.Sprintf("conversation %s: panic: %v", id, r))
			o.logger.Error("panic while syncing conversation",
				zap.String("conversation_id", id), zap.Any("panic", r))
			ok = false
		}
	}()

	conv, err := o.client.GetConversation(ctx, id)
	if err != nil {
		rs.addError(fmt.Sprintf("conversation %s: %v", id, err))
		o.logger.Warn("conversation hydration failed",
			zap.String("conversation_id", id), zap.Error(err))
		return false
	}
	return o.storeConversation(ctx, rs, conv)
}

// storeConversation writes one hydrated conversation and its satellite
// rows. Participant fetch failures degrade the conversation, they do
// not fail it; store write failures do.
func (o *Orchestrator) storeConversation(ctx context.Context, rs *runState, conv *intercom.Conversation) bool {
	now := time.Now().UTC()

	o.syncParticipants(ctx, rs, conv)

	if err := o.store.UpsertConversation(ctx, conversationRecord(conv, now)); err != nil {
		rs.addError(fmt.Sprintf("conversation %s: %v", conv.ID, err))
		o.logger.Warn("conversation upsert failed",
			zap.String("conversation_id", conv.ID), zap.Error(err))
		return false
	}

	msgs := messageRecords(conv, now)
	if err := o.store.UpsertMessages(ctx, msgs); err != nil {
		rs.addError(fmt.Sprintf("conversation %s messages: %v", conv.ID, err))
		o.logger.Warn("message upsert failed",
			zap.String("conversation_id", conv.ID), zap.Error(err))
		return false
	}

	if tags := tagRecords(conv.Tags.Tags); len(tags) > 0 {
		if err := o.store.UpsertTags(ctx, tags); err != nil {
			rs.addError(fmt.Sprintf("conversation %s tags: %v", conv.ID, err))
			return false
		}
	}
	if err := o.store.ReplaceConversationTags(ctx, conv.ID, tagLinks(conv)); err != nil {
		rs.addError(fmt.Sprintf("conversation %s tag links: %v", conv.ID, err))
		return false
	}

	rs.add(1, len(msgs), 0, 0, 0)
	o.publish("sync.conversation", map[string]string{"conversation_id": conv.ID})
	return true
}

// syncParticipants fetches and upserts the conversation's contacts and
// teammates, skipping ids already handled in this run.
func (o *Orchestrator) syncParticipants(ctx context.Context, rs *runState, conv *intercom.Conversation) {
	now := time.Now().UTC()

	for _, ref := range conv.Contacts.Contacts {
		if ref.ID == "" || !rs.firstUser(ref.ID) {
			continue
		}
		contact, err := o.client.GetContact(ctx, ref.ID)
		if err != nil {
			rs.addError(fmt.Sprintf("contact %s: %v", ref.ID, err))
			o.logger.Warn("contact fetch failed", zap.String("contact_id", ref.ID), zap.Error(err))
			continue
		}
		if err := o.store.UpsertUser(ctx, userRecord(contact, now)); err != nil {
			rs.addError(fmt.Sprintf("contact %s: %v", ref.ID, err))
			continue
		}
		rs.add(0, 0, 1, 0, 0)
	}

	for _, ref := range conv.Teammates.Teammates {
		if ref.ID == "" || !rs.firstAdmin(ref.ID) {
			continue
		}
		admin, err := o.client.GetAdmin(ctx, ref.ID)
		if err != nil {
			rs.addError(fmt.Sprintf("admin %s: %v", ref.ID, err))
			o.logger.Warn("admin fetch failed", zap.String("admin_id", ref.ID), zap.Error(err))
			continue
		}
		if err := o.store.UpsertAdmin(ctx, adminRecord(admin, now)); err != nil {
			rs.addError(fmt.Sprintf("admin %s: %v", ref.ID, err))
			continue
		}
		rs.add(0, 0, 0, 1, 0)
	}
}

// syncReferenceData replicates the admin roster and tag catalog.
// Failures here are recorded but never abort the run; conversations can
// still sync without a fresh catalog.
func (o *Orchestrator) syncReferenceData(ctx context.Context, rs *runState) {
	now := time.Now().UTC()

	admins, err := o.client.ListAdmins(ctx)
	if err != nil {
		rs.addError(fmt.Sprintf("list admins: %v", err))
		o.logger.Warn("admin roster sync failed", zap.Error(err))
	} else {
		for i := range admins {
			if !rs.firstAdmin(admins[i].ID) {
				continue
			}
			if err := o.store.UpsertAdmin(ctx, adminRecord(&admins[i], now)); err != nil {
				rs.addError(fmt.Sprintf("admin %s: %v", admins[i].ID, err))
				continue
			}
			rs.add(0, 0, 0, 1, 0)
		}
	}

	tags, err := o.client.ListTags(ctx)
	if err != nil {
		rs.addError(fmt.Sprintf("list tags: %v", err))
		o.logger.Warn("tag catalog sync failed", zap.Error(err))
		return
	}
	if err := o.store.UpsertTags(ctx, tagRecords(tags)); err != nil {
		rs.addError(fmt.Sprintf("upsert tags: %v", err))
		return
	}
	rs.add(0, 0, 0, 0, len(tags))
}

func (o *Orchestrator) beginRun(ctx context.Context, mode string, meta map[string]any) (*store.SyncRun, error) {
	var metadata []byte
	if len(meta) > 0 {
		metadata, _ = json.Marshal(meta)
	}
	run := &store.SyncRun{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Status:    store.RunStatusRunning,
		Metadata:  metadata,
		StartedAt: time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}
	o.logger.Info("sync run started", zap.String("run_id", run.RunID), zap.String("mode", mode))
	o.publish("sync.run_started", map[string]string{"run_id": run.RunID, "mode": mode})
	return run, nil
}

// finishRun writes the terminal run row. Status is failed when the
// stream itself broke, partial when any entity errored, completed
// otherwise.
func (o *Orchestrator) finishRun(ctx context.Context, run *store.SyncRun, rs *runState, fatal error) (*store.SyncRun, error) {
	c, m, u, a, t, errs := rs.snapshot()
	if fatal != nil {
		errs = append(errs, fmt.Sprintf("stream: %v", fatal))
	}

	now := time.Now().UTC()
	run.ConversationsSynced = c
	run.MessagesSynced = m
	run.UsersSynced = u
	run.AdminsSynced = a
	run.TagsSynced = t
	run.Errors = errs
	run.CompletedAt = &now
	switch {
	case fatal != nil:
		run.Status = store.RunStatusFailed
	case len(errs) > 0:
		run.Status = store.RunStatusPartial
	default:
		run.Status = store.RunStatusCompleted
	}

	if err := o.store.CompleteRun(ctx, run); err != nil {
		return run, fmt.Errorf("complete sync run: %w", err)
	}

	o.logger.Info("sync run finished",
		zap.String("run_id", run.RunID),
		zap.String("mode", run.Mode),
		zap.String("status", run.Status),
		zap.Int("conversations", c),
		zap.Int("messages", m),
		zap.Int("users", u),
		zap.Int("admins", a),
		zap.Int("tags", t),
		zap.Int("errors", len(errs)),
		zap.Duration("elapsed", now.Sub(run.StartedAt)))
	o.publish("sync.run_finished", map[string]string{
		"run_id": run.RunID,
		"mode":   run.Mode,
		"status": run.Status,
	})

	return run, fatal
}

func (o *Orchestrator) publish(kind string, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
