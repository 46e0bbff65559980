package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"renderqueue/internal/config"
	"renderqueue/internal/taskfile"
)

const userAgent = "renderq/1"

// Service defines the notification surface used by the daemon.
type Service interface {
	NotifyTaskCompleted(ctx context.Context, task taskfile.Task, elapsed time.Duration) error
	NotifyTaskFailed(ctx context.Context, task taskfile.Task, exitCode int32, detail string) error
	NotifyFileReceived(ctx context.Context, name, peer string, size int64) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyTaskCompleted(ctx context.Context, task taskfile.Task, elapsed time.Duration) error {
	data := payload{
		title:   "renderq - " + task.Type.DisplayName() + " Complete",
		message: fmt.Sprintf("✅ %s finished in %s", displayFile(task), roundDuration(elapsed)),
		tags:    []string{"renderq", string(task.Type), "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, task taskfile.Task, exitCode int32, detail string) error {
	message := fmt.Sprintf("❌ %s failed with exit code %d", displayFile(task), exitCode)
	if detail = strings.TrimSpace(detail); detail != "" {
		message = fmt.Sprintf("❌ %s failed: %s", displayFile(task), detail)
	}
	data := payload{
		title:    "renderq - " + task.Type.DisplayName() + " Failed",
		message:  message,
		tags:     []string{"renderq", string(task.Type), "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyFileReceived(ctx context.Context, name, peer string, size int64) error {
	message := fmt.Sprintf("📥 Received %s (%s)", strings.TrimSpace(name), humanize.IBytes(uint64(max(size, 0))))
	if peer = strings.TrimSpace(peer); peer != "" {
		message += " from " + peer
	}
	data := payload{
		title:   "renderq - File Received",
		message: message,
		tags:    []string{"renderq", "lan", "received"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "renderq - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"renderq", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func displayFile(task taskfile.Task) string {
	file := task.File()
	if file == "" {
		return task.Type.DisplayName()
	}
	return filepath.Base(file)
}

func roundDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) NotifyTaskCompleted(context.Context, taskfile.Task, time.Duration) error { return nil }
func (noopService) NotifyTaskFailed(context.Context, taskfile.Task, int32, string) error    { return nil }
func (noopService) NotifyFileReceived(context.Context, string, string, int64) error         { return nil }
func (noopService) TestNotification(context.Context) error                                  { return nil }
