package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/config"
	"github.com/dgnsrekt/gexbot-engine/internal/refresh"
)

// Notifier is the interface for sending refresh notifications.
type Notifier interface {
	SendFailure(ctx context.Context, result refresh.CycleResult) error
	SendRecovery(ctx context.Context, result refresh.CycleResult) error
}

var (
	_ Notifier = (*Client)(nil)
	_ Notifier = (*NoopNotifier)(nil)
)

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	settings   *config.NotifyConfig
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *config.NotifyConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		settings:   cfg,
		logger:     logger,
	}
}

// SendFailure sends a notification for a cycle with failed symbols.
func (c *Client) SendFailure(ctx context.Context, result refresh.CycleResult) error {
	if !c.settings.Enabled {
		return nil
	}

	title := fmt.Sprintf("Refresh Failed: %d of %d symbols", len(result.Errors), result.Total())
	message := FormatFailureMessage(result)
	tags := c.settings.Tags + ",x"
	priority := "high" // Override to high priority for failures

	return c.send(ctx, title, message, tags, priority)
}

// SendRecovery sends a notification when a cycle succeeds after failures.
func (c *Client) SendRecovery(ctx context.Context, result refresh.CycleResult) error {
	if !c.settings.Enabled || !c.settings.NotifyRecovery {
		return nil
	}

	title := "Refresh Recovered"
	message := FormatRecoveryMessage(result)
	tags := c.settings.Tags + ",white_check_mark"

	return c.send(ctx, title, message, tags, c.settings.Priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.settings.Server, "/"), c.settings.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.settings.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.settings.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendFailure is a no-op.
func (n *NoopNotifier) SendFailure(_ context.Context, _ refresh.CycleResult) error {
	return nil
}

// SendRecovery is a no-op.
func (n *NoopNotifier) SendRecovery(_ context.Context, _ refresh.CycleResult) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *config.NotifyConfig, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}

// CycleHook alerts on every cycle with failures and once when a later cycle
// completes cleanly.
func CycleHook(n Notifier, logger *zap.Logger) refresh.CycleHook {
	var (
		mu      sync.Mutex
		failing bool
	)

	return func(ctx context.Context, result refresh.CycleResult) {
		mu.Lock()
		defer mu.Unlock()

		if len(result.Errors) > 0 {
			failing = true
			if err := n.SendFailure(ctx, result); err != nil {
				logger.Warn("failure notification not sent", zap.Error(err))
			}
			return
		}

		if failing {
			failing = false
			if err := n.SendRecovery(ctx, result); err != nil {
				logger.Warn("recovery notification not sent", zap.Error(err))
			}
		}
	}
}
