package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/matheus3301/icsync/internal/config"
	"github.com/matheus3301/icsync/internal/intercom"
	"github.com/matheus3301/icsync/internal/lock"
	"github.com/matheus3301/icsync/internal/logging"
	"github.com/matheus3301/icsync/internal/store"
	intsync "github.com/matheus3301/icsync/internal/sync"
)

func main() {
	configFlag := flag.String("config", defaultConfigPath(), "path to config file")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fatal(err)
	}

	ctx := context.Background()

	switch args[0] {
	case "full":
		cmdFull(ctx, cfg, args[1:], *jsonFlag)
	case "incremental":
		cmdIncremental(ctx, cfg, args[1:], *jsonFlag)
	case "conversation":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: icsyncctl conversation <id>")
			os.Exit(1)
		}
		cmdConversation(ctx, cfg, args[1])
	case "user":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: icsyncctl user <id>")
			os.Exit(1)
		}
		cmdUser(ctx, cfg, args[1])
	case "status":
		cmdStatus(ctx, cfg, *jsonFlag)
	case "check":
		cmdCheck(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: icsyncctl [--config <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  full [--start <date>] [--end <date>] [--batch-size <n>] [--workers <n>]")
	fmt.Fprintln(os.Stderr, "                                         Run a full sync")
	fmt.Fprintln(os.Stderr, "  incremental [--since <date>]           Run an incremental sync")
	fmt.Fprintln(os.Stderr, "  conversation <id>                      Sync a single conversation")
	fmt.Fprintln(os.Stderr, "  user <id>                              Sync a single user")
	fmt.Fprintln(os.Stderr, "  status                                 Show replica and run status")
	fmt.Fprintln(os.Stderr, "  check                                  Verify config, store, and API access")
}

func defaultConfigPath() string {
	if v := os.Getenv("ICSYNC_DATA_DIR"); v != "" {
		return filepath.Join(v, "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".icsync", "config.toml")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// acquireLock takes the data-dir lock for commands that write to the
// replica. A running daemon holds the same lock; manual syncs must not
// race it for the watermark.
func acquireLock(cfg *config.Config) *lock.Lock {
	l, err := lock.Acquire(cfg.Daemon.DataDir)
	if err != nil {
		fatal(err)
	}
	return l
}

// openStore connects to the configured replica store and applies any
// pending migrations so one-shot commands work against a fresh data dir.
func openStore(ctx context.Context, cfg *config.Config) store.ReplicaStore {
	dsn := cfg.Store.DSN
	if cfg.Store.Driver == "sqlite" {
		dsn = cfg.Store.Path
		if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
			fatal(err)
		}
	}
	st, err := store.Open(ctx, cfg.Store.Driver, dsn)
	if err != nil {
		fatal(err)
	}
	if _, err := st.Migrate(); err != nil {
		_ = st.Close()
		fatal(err)
	}
	return st
}

func newOrchestrator(cfg *config.Config, st store.ReplicaStore) *intsync.Orchestrator {
	client := intercom.New(intercom.Options{
		BaseURL:            cfg.Intercom.BaseURL,
		AccessToken:        cfg.Intercom.AccessToken,
		APIVersion:         cfg.Intercom.APIVersion,
		HTTPClient:         &http.Client{Timeout: cfg.Intercom.RequestTimeout()},
		RateLimitPerMinute: cfg.Intercom.RateLimitPerMinute,
		MaxRetries:         cfg.Intercom.MaxRetries,
		Logger:             logging.NewConsole(),
	})
	return intsync.New(client, st, nil, logging.NewConsole(), intsync.Options{
		BatchSize:            cfg.Sync.BatchSize,
		IncrementalBatchSize: cfg.Sync.IncrementalBatchSize,
		Workers:              cfg.Sync.Workers,
		Lookback:             cfg.Sync.Lookback(),
	})
}

func cmdFull(ctx context.Context, cfg *config.Config, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("full", flag.ExitOnError)
	startFlag := fs.String("start", "", "only conversations created at or after this date")
	endFlag := fs.String("end", "", "only conversations created at or before this date")
	batchFlag := fs.Int("batch-size", 0, "override configured batch size")
	workersFlag := fs.Int("workers", 0, "override configured worker count")
	_ = fs.Parse(args)

	start := parseDateFlag(*startFlag)
	end := parseDateFlag(*endFlag)
	if *batchFlag > 0 {
		cfg.Sync.BatchSize = *batchFlag
	}
	if *workersFlag > 0 {
		cfg.Sync.Workers = *workersFlag
	}

	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	lk := acquireLock(cfg)
	defer func() { _ = lk.Release() }()
	st := openStore(ctx, cfg)
	defer func() { _ = st.Close() }()

	run, err := newOrchestrator(cfg, st).RunFull(ctx, start, end)
	if err != nil {
		fatal(err)
	}
	printRun(run, jsonOut)
}

func cmdIncremental(ctx context.Context, cfg *config.Config, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("incremental", flag.ExitOnError)
	sinceFlag := fs.String("since", "", "sync conversations updated since this date (default: last completed run)")
	_ = fs.Parse(args)

	since := parseDateFlag(*sinceFlag)

	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	lk := acquireLock(cfg)
	defer func() { _ = lk.Release() }()
	st := openStore(ctx, cfg)
	defer func() { _ = st.Close() }()

	run, err := newOrchestrator(cfg, st).RunIncremental(ctx, since)
	if err != nil {
		fatal(err)
	}
	printRun(run, jsonOut)
}

func cmdConversation(ctx context.Context, cfg *config.Config, id string) {
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	lk := acquireLock(cfg)
	defer func() { _ = lk.Release() }()
	st := openStore(ctx, cfg)
	defer func() { _ = st.Close() }()

	if err := newOrchestrator(cfg, st).SyncConversation(ctx, id); err != nil {
		fatal(err)
	}
	fmt.Printf("Conversation %s synced.\n", id)
}

func cmdUser(ctx context.Context, cfg *config.Config, id string) {
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	lk := acquireLock(cfg)
	defer func() { _ = lk.Release() }()
	st := openStore(ctx, cfg)
	defer func() { _ = st.Close() }()

	if err := newOrchestrator(cfg, st).SyncUser(ctx, id); err != nil {
		fatal(err)
	}
	fmt.Printf("User %s synced.\n", id)
}

func cmdStatus(ctx context.Context, cfg *config.Config, jsonOut bool) {
	st := openStore(ctx, cfg)
	defer func() { _ = st.Close() }()

	counts, err := st.Counts(ctx)
	if err != nil {
		fatal(err)
	}
	runs, err := st.RecentRuns(ctx, 5)
	if err != nil {
		fatal(err)
	}
	events, err := st.RecentWebhookEvents(ctx, 5)
	if err != nil {
		fatal(err)
	}

	if jsonOut {
		outputJSON(map[string]any{
			"counts":         counts,
			"recent_runs":    runs,
			"webhook_events": events,
		})
		return
	}

	fmt.Printf("Store:         %s\n", cfg.Store.Driver)
	fmt.Printf("Conversations: %d\n", counts.Conversations)
	fmt.Printf("Messages:      %d\n", counts.Messages)
	fmt.Printf("Users:         %d\n", counts.Users)
	fmt.Printf("Admins:        %d\n", counts.Admins)
	fmt.Printf("Tags:          %d\n", counts.Tags)

	fmt.Println("\nRecent runs:")
	if len(runs) == 0 {
		fmt.Println("  (none)")
	}
	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format(time.RFC3339)
		}
		fmt.Printf("  %-12s %-10s started=%s completed=%s conversations=%d errors=%d\n",
			r.Mode, r.Status, r.StartedAt.Format(time.RFC3339), completed,
			r.ConversationsSynced, len(r.Errors))
	}

	fmt.Println("\nRecent webhook events:")
	if len(events) == 0 {
		fmt.Println("  (none)")
	}
	for _, ev := range events {
		state := "pending"
		if ev.Processed {
			state = "processed"
			if ev.Error != "" {
				state = "error"
			}
		}
		fmt.Printf("  %-40s %-10s received=%s\n", ev.Topic, state, ev.ReceivedAt.Format(time.RFC3339))
	}
}

func cmdCheck(ctx context.Context, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		fmt.Printf("config:  FAIL (%v)\n", err)
		os.Exit(1)
	}
	fmt.Println("config:  OK")

	st := openStore(ctx, cfg)
	defer func() { _ = st.Close() }()
	if err := st.Ping(ctx); err != nil {
		fmt.Printf("store:   FAIL (%v)\n", err)
		os.Exit(1)
	}
	fmt.Printf("store:   OK (%s)\n", cfg.Store.Driver)

	client := intercom.New(intercom.Options{
		BaseURL:     cfg.Intercom.BaseURL,
		AccessToken: cfg.Intercom.AccessToken,
		APIVersion:  cfg.Intercom.APIVersion,
		HTTPClient:  &http.Client{Timeout: cfg.Intercom.RequestTimeout()},
		MaxRetries:  1,
	})
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	tags, err := client.ListTags(checkCtx)
	if err != nil {
		fmt.Printf("api:     FAIL (%v)\n", err)
		os.Exit(1)
	}
	fmt.Printf("api:     OK (%d tags visible)\n", len(tags))
}

func printRun(run *store.SyncRun, jsonOut bool) {
	if jsonOut {
		outputJSON(run)
		return
	}
	fmt.Printf("Run:           %s\n", run.RunID)
	fmt.Printf("Mode:          %s\n", run.Mode)
	fmt.Printf("Status:        %s\n", run.Status)
	fmt.Printf("Conversations: %d\n", run.ConversationsSynced)
	fmt.Printf("Messages:      %d\n", run.MessagesSynced)
	fmt.Printf("Users:         %d\n", run.UsersSynced)
	fmt.Printf("Admins:        %d\n", run.AdminsSynced)
	fmt.Printf("Tags:          %d\n", run.TagsSynced)
	if len(run.Errors) > 0 {
		fmt.Printf("Errors:        %d\n", len(run.Errors))
		for _, e := range run.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	if run.Status != store.RunStatusCompleted {
		os.Exit(1)
	}
}

// parseDateFlag accepts a date ("2024-01-31") or an RFC3339 timestamp.
func parseDateFlag(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	fatal(fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC3339)", v))
	return nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
