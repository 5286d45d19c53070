// ABOUTME: The dispatch pipeline invoked by each session's event loop per message.
// ABOUTME: Handler is awaited; webhook and message log are best-effort side paths.

package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/courier-gateway/internal/message"
)

// Handler is the in-process callback a session registers for inbound
// messages. Errors are logged, never propagated.
type Handler func(ctx context.Context, msg *message.Message) error

// MessageLog is the subset of the store the pipeline writes to.
type MessageLog interface {
	SaveMessage(ctx context.Context, msg *message.Message) error
}

// Pipeline fans a normalized message out to its delivery paths.
type Pipeline struct {
	webhook *WebhookClient
	log     MessageLog
	logger  *slog.Logger
}

// NewPipeline creates a pipeline. log may be nil to disable persistence.
func NewPipeline(webhook *WebhookClient, log MessageLog, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		webhook: webhook,
		log:     log,
		logger:  logger.With("component", "dispatch"),
	}
}

// Deliver processes one message: handler first (awaited), then webhook
// (detached), then the message log. Each path is attempted regardless of
// the others' outcome, and Deliver itself never fails.
func (p *Pipeline) Deliver(ctx context.Context, handler Handler, webhookURL string, msg *message.Message) {
	if handler != nil {
		if err := p.invokeHandler(ctx, handler, msg); err != nil {
			p.logger.Error("message handler failed",
				"session_id", msg.SessionID,
				"from", msg.FromHandle,
				"error", err,
			)
		}
	}

	if webhookURL != "" {
		p.webhook.DeliverAsync(webhookURL, msg)
	}

	if p.log != nil {
		if err := p.log.SaveMessage(ctx, msg); err != nil {
			p.logger.Error("message log write failed",
				"session_id", msg.SessionID,
				"error", err,
			)
		}
	}
}

// invokeHandler awaits the handler, converting a panic into an error so a
// misbehaving bot cannot take down the session's event loop.
func (p *Pipeline) invokeHandler(ctx context.Context, handler Handler, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, msg)
}
