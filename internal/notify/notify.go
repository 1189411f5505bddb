// Package notify tells reviewers when a supervisor takes over a record they
// were editing.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/service"
	"github.com/google/uuid"
)

const userAgent = "iago/1.0"

// Notifier defines the notification surface used by the workflow.
type Notifier interface {
	NotifyLockStolen(ctx context.Context, event LockStolenEvent) error
}

// LockStolenEvent describes a privileged takeover of an edit lock.
type LockStolenEvent struct {
	At             time.Time
	PreviousHolder string
	NewHolder      string
	RecordID       int64
}

// Config configures the webhook notifier.
type Config struct {
	URL     string
	Timeout time.Duration
	Retry   service.RetryOptions
}

// New builds a webhook notifier when a URL is configured and a log-only
// notifier otherwise.
func New(cfg Config) Notifier {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return logNotifier{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		retry:    cfg.Retry,
	}
}

type payload struct {
	id       string
	title    string
	message  string
	tags     []string
	priority string
}

type webhookNotifier struct {
	client   *http.Client
	endpoint string
	retry    service.RetryOptions
}

func (n *webhookNotifier) NotifyLockStolen(ctx context.Context, event LockStolenEvent) error {
	data := payload{
		id:       uuid.NewString(),
		title:    "iago - Record taken over",
		message:  lockStolenMessage(event),
		tags:     []string{"iago", "lock", "override"},
		priority: "high",
	}

	err := common.WithRetry(ctx, func() error {
		return n.send(ctx, data)
	}, n.retry)
	if err != nil {
		return fmt.Errorf("failed to notify %s: %w", event.PreviousHolder, err)
	}
	return nil
}

func (n *webhookNotifier) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("build notification request: %w", err), Retryable: false}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("X-Event-ID", data.id)
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("notification endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
		case resp.StatusCode < 500:
			return &common.RetryableError{Err: err, Retryable: false}
		}
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type logNotifier struct{}

func (logNotifier) NotifyLockStolen(_ context.Context, event LockStolenEvent) error {
	slog.Info("Edit lock taken over",
		"record_id", event.RecordID,
		"previous_holder", event.PreviousHolder,
		"new_holder", event.NewHolder)
	return nil
}

func lockStolenMessage(event LockStolenEvent) string {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("%s took over record %d from %s at %s. Unsaved changes by %s may be lost.",
		event.NewHolder, event.RecordID, event.PreviousHolder,
		at.UTC().Format(time.RFC3339), event.PreviousHolder)
}
