package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/iago/internal/api"
	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/engine"
	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/notify"
	"github.com/Veraticus/iago/internal/service"
	"github.com/Veraticus/iago/internal/storage"
	"github.com/Veraticus/iago/internal/workflow"
	"github.com/spf13/cobra"
)

const remoteEngineTimeout = 30 * time.Second

// notifyRetry keeps a rate-limited webhook from stalling takeover notifications.
var notifyRetry = service.RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2,
}

// initStorage opens the configured database and brings its schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(appConfig.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newLocalEngine builds the engine backed by the local pattern store.
func newLocalEngine(store *storage.SQLiteStorage) *engine.Engine {
	return engine.NewWithConfig(store, engine.Config{
		ContextWords: appConfig.Extraction.ContextWords,
	})
}

// newExtractor returns the remote engine when a server URL is configured and
// the local engine otherwise.
func newExtractor(store *storage.SQLiteStorage) engine.Extractor {
	if appConfig.Extraction.ServerURL != "" {
		return api.NewClient(appConfig.Extraction.ServerURL, remoteEngineTimeout)
	}
	return newLocalEngine(store)
}

// newManager wires the workflow manager from configuration.
func newManager(store *storage.SQLiteStorage, extractor engine.Extractor) *workflow.Manager {
	notifier := notify.New(notify.Config{
		URL:     appConfig.Notify.URL,
		Timeout: appConfig.Notify.Timeout,
		Retry:   notifyRetry,
	})
	return workflow.NewManager(store, extractor, notifier, workflow.Options{
		LockTTL: appConfig.Locks.TTL,
	})
}

// withManager opens storage and runs fn with a manager. Pending notifications
// are flushed before storage is closed.
func withManager(ctx context.Context, fn func(*workflow.Manager) error) error {
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manager := newManager(store, newExtractor(store))
	defer manager.Wait()

	return fn(manager)
}

// readText reads a document from path, or from stdin when path is empty or "-".
func readText(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// parseFieldAssignments parses FIELD=value pairs into canonical field names.
func parseFieldAssignments(pairs []string) (map[model.FieldName]string, error) {
	fields := make(map[model.FieldName]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, common.NewUserError(
				fmt.Sprintf("expected FIELD=value, got %q", pair), nil)
		}
		field, known := model.ParseFieldName(name)
		if !known {
			return nil, common.NewUserError(
				fmt.Sprintf("unknown field %q", name), nil)
		}
		fields[field] = strings.TrimSpace(value)
	}
	return fields, nil
}

func parseRecordID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, common.NewUserError(fmt.Sprintf("invalid record id %q", arg), err)
	}
	return id, nil
}

func addActorFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("user", "u", os.Getenv("USER"), "Reviewer acting on the record")
	cmd.Flags().StringP("role", "r", string(model.RoleReviewer), "Reviewer role (admin, supervisor, reviewer)")
}

func actorFromFlags(cmd *cobra.Command) (string, model.Role) {
	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	return strings.TrimSpace(user), model.Role(strings.ToLower(strings.TrimSpace(role)))
}
