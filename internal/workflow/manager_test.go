package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/engine"
	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/notify"
	"github.com/Veraticus/iago/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deedText = "CARTÓRIO DO 1º OFÍCIO\n" +
	"MATRÍCULA número 4521\n" +
	"Localização do imóvel BAIRRO: ALEIXO\n" +
	"Município de CIDADE: MANAUS"

type recordingNotifier struct {
	err    error
	events []notify.LockStolenEvent
	mu     sync.Mutex
}

func (n *recordingNotifier) NotifyLockStolen(_ context.Context, event notify.LockStolenEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Events() []notify.LockStolenEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.LockStolenEvent(nil), n.events...)
}

type failingExtractor struct {
	err error
}

func (f failingExtractor) Learn(context.Context, string, map[string]string) (int, error) {
	return 0, f.err
}

func (f failingExtractor) Analyze(context.Context, string) (map[string]string, error) {
	return nil, f.err
}

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store    *storage.SQLiteStorage
	engine   *engine.Engine
	notifier *recordingNotifier
	clock    *fakeClock
	manager  *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "workflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	env := &testEnv{
		store:    store,
		engine:   engine.New(store),
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
	}
	env.manager = NewManager(store, env.engine, env.notifier, Options{
		LockTTL: DefaultLockTTL,
		Clock:   env.clock.Now,
	})
	t.Cleanup(env.manager.Wait)
	return env
}

func (e *testEnv) createRecord(t *testing.T, text string) *model.Record {
	t.Helper()
	record := &model.Record{RecognizedText: text, Fields: map[model.FieldName]string{}}
	require.NoError(t, e.store.CreateRecord(context.Background(), record))
	return record
}

func TestOpenForEdit_ReviewerContention(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	first, err := env.manager.OpenForEdit(ctx, record.ID, "ana", model.RoleReviewer)
	require.NoError(t, err)
	assert.True(t, first.Granted)
	assert.NoError(t, first.Err())

	second, err := env.manager.OpenForEdit(ctx, record.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)
	assert.False(t, second.Granted)
	assert.Equal(t, "ana", second.LockedBy)

	var denied *common.LockDeniedError
	require.ErrorAs(t, second.Err(), &denied)
	assert.Equal(t, "ana", denied.LockedBy)
	assert.Equal(t, record.ID, denied.RecordID)
	assert.ErrorIs(t, second.Err(), common.ErrLockDenied)

	again, err := env.manager.OpenForEdit(ctx, record.ID, "ana", model.RoleReviewer)
	require.NoError(t, err)
	assert.True(t, again.Granted)

	lock, err := env.store.GetLock(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", lock.EditingBy)
	env.manager.Wait()
	assert.Empty(t, env.notifier.Events())
}

func TestOpenForEdit_CompletedRecordDeniedToReviewer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)
	require.NoError(t, env.store.CompleteRecord(ctx, record.ID, "ana"))

	result, err := env.manager.OpenForEdit(ctx, record.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)
	assert.False(t, result.Granted)
	assert.True(t, result.Completed)

	var denied *common.LockDeniedError
	require.ErrorAs(t, result.Err(), &denied)
	assert.True(t, denied.Completed)

	lock, err := env.store.GetLock(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, lock)

	supervisor, err := env.manager.OpenForEdit(ctx, record.ID, "sara", model.RoleSupervisor)
	require.NoError(t, err)
	assert.True(t, supervisor.Granted)
}

func TestOpenForEdit_PrivilegedStealNotifiesHolder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	_, err := env.manager.OpenForEdit(ctx, record.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)

	env.clock.Advance(5 * time.Minute)
	result, err := env.manager.OpenForEdit(ctx, record.ID, "carla", model.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.True(t, result.Stolen)
	assert.Equal(t, "bia", result.PreviousHolder)

	lock, err := env.store.GetLock(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "carla", lock.EditingBy)

	env.manager.Wait()
	events := env.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "bia", events[0].PreviousHolder)
	assert.Equal(t, "carla", events[0].NewHolder)
	assert.Equal(t, record.ID, events[0].RecordID)
}

func TestOpenForEdit_NotificationFailureDoesNotBlockSteal(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("webhook down")
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	_, err := env.manager.OpenForEdit(ctx, record.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)

	result, err := env.manager.OpenForEdit(ctx, record.ID, "sara", model.RoleSupervisor)
	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.True(t, result.Stolen)
}

type blockingNotifier struct {
	done chan error
}

func (n *blockingNotifier) NotifyLockStolen(ctx context.Context, _ notify.LockStolenEvent) error {
	<-ctx.Done()
	n.done <- ctx.Err()
	return ctx.Err()
}

func TestOpenForEdit_SlowNotifierDoesNotDelaySteal(t *testing.T) {
	env := newTestEnv(t)
	notifier := &blockingNotifier{done: make(chan error, 1)}
	manager := NewManager(env.store, env.engine, notifier, Options{
		Clock:         env.clock.Now,
		LockTTL:       DefaultLockTTL,
		NotifyTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	record := env.createRecord(t, deedText)

	_, err := manager.OpenForEdit(ctx, record.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)

	start := time.Now()
	result, err := manager.OpenForEdit(ctx, record.ID, "sara", model.RoleSupervisor)
	require.NoError(t, err)
	assert.True(t, result.Stolen)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// Canceling the request must not cut the notification short.
	cancel()
	select {
	case err := <-notifier.done:
		t.Fatalf("notification ended early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	manager.Wait()
	assert.ErrorIs(t, <-notifier.done, context.DeadlineExceeded)
}

func TestOpenForEdit_RateLimitedWebhookDoesNotDelaySteal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	env := newTestEnv(t)
	manager := NewManager(env.store, env.engine, notify.New(notify.Config{URL: server.URL}), Options{
		Clock:         env.clock.Now,
		LockTTL:       DefaultLockTTL,
		NotifyTimeout: 200 * time.Millisecond,
	})
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	_, err := manager.OpenForEdit(ctx, record.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)

	start := time.Now()
	result, err := manager.OpenForEdit(ctx, record.ID, "carla", model.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, result.Stolen)
	assert.Less(t, time.Since(start), time.Second)

	start = time.Now()
	manager.Wait()
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpenForEdit_ExpiredLockIsAvailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	_, err := env.manager.OpenForEdit(ctx, record.ID, "ana", model.RoleReviewer)
	require.NoError(t, err)

	env.clock.Advance(DefaultLockTTL + time.Minute)
	result, err := env.manager.OpenForEdit(ctx, record.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.False(t, result.Stolen)
	assert.Equal(t, "ana", result.PreviousHolder)
	env.manager.Wait()
	assert.Empty(t, env.notifier.Events())
}

func TestOpenForEdit_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	_, err := env.manager.OpenForEdit(ctx, record.ID, "", model.RoleReviewer)
	require.ErrorIs(t, err, common.ErrInvalidRole)

	_, err = env.manager.OpenForEdit(ctx, record.ID, "ana", model.Role("guest"))
	require.ErrorIs(t, err, common.ErrInvalidRole)

	_, err = env.manager.OpenForEdit(ctx, 999, "ana", model.RoleReviewer)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestOpenForEdit_ConcurrentReviewersOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	reviewers := []string{"ana", "bia", "caio", "davi", "edu"}
	results := make(chan *OpenResult, len(reviewers))
	var wg sync.WaitGroup
	for _, name := range reviewers {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			result, err := env.manager.OpenForEdit(ctx, record.ID, name, model.RoleReviewer)
			assert.NoError(t, err)
			results <- result
		}(name)
	}
	wg.Wait()
	close(results)

	granted := 0
	var winner string
	for result := range results {
		if result != nil && result.Granted {
			granted++
			winner = result.LockedBy
		}
	}
	assert.Equal(t, 1, granted)

	lock, err := env.store.GetLock(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, lock.EditingBy)
}

func TestSaveRecord_ReleasesLockKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	_, err := env.manager.OpenForEdit(ctx, record.ID, "ana", model.RoleReviewer)
	require.NoError(t, err)

	err = env.manager.SaveRecord(ctx, record.ID, map[model.FieldName]string{model.FieldCity: "MANAUS"})
	require.NoError(t, err)

	got, err := env.store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "MANAUS", got.Fields[model.FieldCity])

	lock, err := env.store.GetLock(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, lock)

	require.ErrorIs(t, env.manager.SaveRecord(ctx, 999, nil), common.ErrNotFound)
}

func TestConcludeRecord_CompletesAndLearns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	_, err := env.manager.OpenForEdit(ctx, record.ID, "ana", model.RoleReviewer)
	require.NoError(t, err)

	result, err := env.manager.ConcludeRecord(ctx, record.ID, "ana", map[model.FieldName]string{
		model.FieldRegistrationNumber: "4521",
		model.FieldNeighborhood:       "ALEIXO",
		model.FieldCity:               "MANAUS",
	})
	require.NoError(t, err)
	require.NoError(t, result.LearnErr)
	assert.Equal(t, 3, result.LearnedCount)

	got, err := env.store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "ana", got.CompletedBy)

	lock, err := env.store.GetLock(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, lock)

	// A similar document now gets suggestions.
	suggestions, err := env.engine.Analyze(ctx, "CARTÓRIO DO 1º OFÍCIO\nMATRÍCULA número 7788\nLocalização do imóvel BAIRRO: CENTRO")
	require.NoError(t, err)
	assert.Equal(t, "7788", suggestions["NUMERO_REGISTRO"])
	assert.Equal(t, "CENTRO", suggestions["BAIRRO"])
}

func TestConcludeRecord_LearnFailureKeepsCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	manager := NewManager(env.store, failingExtractor{err: errors.New("engine offline")}, env.notifier, Options{})
	record := env.createRecord(t, deedText)

	result, err := manager.ConcludeRecord(ctx, record.ID, "ana", map[model.FieldName]string{model.FieldCity: "MANAUS"})
	require.NoError(t, err)
	require.Error(t, result.LearnErr)
	assert.Zero(t, result.LearnedCount)

	got, err := env.store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted())
}

func TestConcludeRecord_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.ConcludeRecord(context.Background(), 999, "ana", nil)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestReopenRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)
	require.NoError(t, env.store.CompleteRecord(ctx, record.ID, "ana"))

	err := env.manager.ReopenRecord(ctx, record.ID, "bia", model.RoleReviewer)
	require.ErrorIs(t, err, common.ErrNotPrivileged)

	got, err := env.store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted())

	require.NoError(t, env.manager.ReopenRecord(ctx, record.ID, "sara", model.RoleSupervisor))
	got, err = env.store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Empty(t, got.CompletedBy)

	opened, err := env.manager.OpenForEdit(ctx, record.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)
	assert.True(t, opened.Granted)
}

func TestReleaseLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := env.createRecord(t, deedText)

	_, err := env.manager.OpenForEdit(ctx, record.ID, "ana", model.RoleReviewer)
	require.NoError(t, err)
	require.NoError(t, env.manager.ReleaseLock(ctx, record.ID))

	result, err := env.manager.OpenForEdit(ctx, record.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)
	assert.True(t, result.Granted)
}

func TestReanalyze(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Learn(ctx, deedText, map[string]string{
		"BAIRRO": "ALEIXO",
		"CIDADE": "MANAUS",
	})
	require.NoError(t, err)

	record := env.createRecord(t, deedText)
	require.NoError(t, env.store.UpdateRecordFields(ctx, record.ID, map[model.FieldName]string{
		model.FieldNeighborhood: "ALEXO",
		model.FieldCity:         "MANAUS",
	}))
	_, err = env.manager.OpenForEdit(ctx, record.ID, "ana", model.RoleReviewer)
	require.NoError(t, err)

	changes, err := env.manager.Reanalyze(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, []FieldChange{
		{Field: model.FieldNeighborhood, OldValue: "ALEXO", NewValue: "ALEIXO"},
	}, changes)

	got, err := env.store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "ALEIXO", got.Fields[model.FieldNeighborhood])
	assert.Equal(t, model.StatusPending, got.Status)

	lock, err := env.store.GetLock(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "ana", lock.EditingBy)
}

func TestReanalyze_NoRecognizedText(t *testing.T) {
	env := newTestEnv(t)
	record := env.createRecord(t, "  ")

	_, err := env.manager.Reanalyze(context.Background(), record.ID)
	require.ErrorIs(t, err, common.ErrNoRecognizedText)
}

func TestSweepExpiredLocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.createRecord(t, deedText)
	fresh := env.createRecord(t, deedText)

	_, err := env.manager.OpenForEdit(ctx, old.ID, "ana", model.RoleReviewer)
	require.NoError(t, err)
	env.clock.Advance(DefaultLockTTL + time.Minute)
	_, err = env.manager.OpenForEdit(ctx, fresh.ID, "bia", model.RoleReviewer)
	require.NoError(t, err)

	removed, err := env.manager.SweepExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	views, err := env.manager.ListRecords(ctx, model.RecordFilter{Status: model.StatusEditing})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, fresh.ID, views[0].ID)
}

func TestSweepExpiredLocks_DisabledWithoutTTL(t *testing.T) {
	env := newTestEnv(t)
	manager := NewManager(env.store, env.engine, nil, Options{})

	removed, err := manager.SweepExpiredLocks(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRunLockSweeper_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		env.manager.RunLockSweeper(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
