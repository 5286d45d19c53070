// ABOUTME: Fire-and-forget webhook delivery of normalized messages as JSON.
// ABOUTME: Bounded by a timeout, logged with a delivery id, never retried or propagated.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/courier-gateway/internal/message"
)

// WebhookClient POSTs normalized messages to configured webhook targets.
// Deliveries run detached from the caller with their own timeout, so a
// slow endpoint never stalls message ingestion.
type WebhookClient struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewWebhookClient creates a client whose deliveries are bounded by timeout.
func NewWebhookClient(timeout time.Duration, logger *slog.Logger) *WebhookClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookClient{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger.With("component", "webhook"),
	}
}

// DeliverAsync starts a detached delivery and returns immediately. The
// delivery outlives the caller's context: a session destroyed mid-flight
// abandons the delivery to its timeout rather than cancelling it.
func (c *WebhookClient) DeliverAsync(url string, msg *message.Message) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		deliveryID := uuid.New().String()
		if err := c.deliver(url, msg); err != nil {
			c.logger.Warn("webhook delivery failed",
				"delivery_id", deliveryID,
				"session_id", msg.SessionID,
				"url", url,
				"error", err,
			)
			return
		}
		c.logger.Debug("webhook delivered",
			"delivery_id", deliveryID,
			"session_id", msg.SessionID,
			"url", url,
		)
	}()
}

// deliver performs one POST of the message as JSON.
func (c *WebhookClient) deliver(url string, msg *message.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	// Response body is not consumed beyond the status; drain for reuse.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until all in-flight deliveries finish. Used during process
// shutdown; session teardown deliberately does not wait.
func (c *WebhookClient) Wait() {
	c.wg.Wait()
}
