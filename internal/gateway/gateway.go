// ABOUTME: Gateway construction and the presentation-facing operation set.
// ABOUTME: Owns the registry, dispatch pipeline, dedupe cache, and message log wiring.

package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/courier-gateway/internal/channel"
	"github.com/2389/courier-gateway/internal/dedupe"
	"github.com/2389/courier-gateway/internal/dispatch"
	"github.com/2389/courier-gateway/internal/session"
)

// Typed failures surfaced to the presentation layer.
var (
	ErrSessionNotFound = session.ErrNotFound
	ErrSessionNotReady = session.ErrNotReady
)

// Config holds gateway assembly parameters.
type Config struct {
	// StateDir is the root directory for per-session transport credentials.
	StateDir string

	// WebhookTimeout bounds each webhook delivery attempt.
	WebhookTimeout time.Duration

	// DedupeTTL and DedupeMax configure redelivery suppression. A zero
	// TTL disables suppression entirely.
	DedupeTTL time.Duration
	DedupeMax int
}

// CreateOptions is the per-session configuration accepted at creation.
type CreateOptions struct {
	// WebhookURL optionally receives every inbound message as JSON.
	WebhookURL string

	// Handler is the in-process bot/automation callback. Nil means only
	// the webhook and message log receive messages.
	Handler dispatch.Handler
}

// CreateResult reports the outcome of a create call.
type CreateResult struct {
	State   session.State `json:"status"`
	Message string        `json:"message"`
}

// SendResult confirms a transmitted message to the caller.
type SendResult struct {
	Recipient string `json:"recipient"`
	Content   string `json:"message"`
}

// Gateway is the assembled session core.
type Gateway struct {
	registry *session.Registry
	webhook  *dispatch.WebhookClient
	logger   *slog.Logger
}

// New assembles a gateway. log may be nil to disable message persistence.
func New(cfg Config, factory channel.Factory, log dispatch.MessageLog, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 30 * time.Second
	}

	webhook := dispatch.NewWebhookClient(cfg.WebhookTimeout, logger)
	pipeline := dispatch.NewPipeline(webhook, log, logger)

	var seen *dedupe.Cache
	if cfg.DedupeTTL > 0 {
		max := cfg.DedupeMax
		if max <= 0 {
			max = 10000
		}
		seen = dedupe.New(cfg.DedupeTTL, max)
	}

	registry := session.NewRegistry(session.Config{
		StateDir: cfg.StateDir,
		Factory:  factory,
		Pipeline: pipeline,
		Dedupe:   seen,
		Logger:   logger,
	})

	return &Gateway{
		registry: registry,
		webhook:  webhook,
		logger:   logger.With("component", "gateway"),
	}
}

// CreateSession creates (or idempotently re-reports) the session for id.
func (g *Gateway) CreateSession(ctx context.Context, id string, opts CreateOptions) (CreateResult, error) {
	state, existed, err := g.registry.Create(ctx, id, session.CreateConfig{
		WebhookURL: opts.WebhookURL,
		Handler:    opts.Handler,
	})
	if err != nil {
		return CreateResult{}, err
	}
	if existed {
		return CreateResult{State: state, Message: "session already exists"}, nil
	}
	return CreateResult{State: state, Message: "session initialized, scan pairing code to authenticate"}, nil
}

// GetStatus returns the liveness snapshot for id; unknown ids yield the
// distinguished not_found status.
func (g *Gateway) GetStatus(id string) session.Status {
	return g.registry.Status(id)
}

// GetIdentity returns the authenticated identity for id, only while the
// session is ready.
func (g *Gateway) GetIdentity(id string) (*channel.Identity, bool) {
	return g.registry.Identity(id)
}

// GetPairingCode returns the pending pairing payload for id, if any.
func (g *Gateway) GetPairingCode(id string) (string, bool) {
	return g.registry.PairingCode(id)
}

// SendMessage sends content to a recipient through the session for id.
// Fails with ErrSessionNotFound / ErrSessionNotReady, or propagates the
// transport's send error verbatim.
func (g *Gateway) SendMessage(ctx context.Context, id, to, content string) (SendResult, error) {
	recipient, err := g.registry.Send(ctx, id, to, content)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Recipient: recipient, Content: content}, nil
}

// DestroySession tears down the session for id; false for unknown ids.
func (g *Gateway) DestroySession(id string) bool {
	return g.registry.Destroy(id)
}

// ListSessions returns all live session ids in creation order.
func (g *Gateway) ListSessions() []string {
	return g.registry.IDs()
}

// Watch subscribes to session state changes until ctx is cancelled.
func (g *Gateway) Watch(ctx context.Context) <-chan session.StateChange {
	return g.registry.Watch(ctx)
}

// Shutdown destroys all sessions and waits for in-flight webhook
// deliveries to drain.
func (g *Gateway) Shutdown() {
	g.registry.Shutdown()
	g.webhook.Wait()
	g.logger.Info("gateway shut down")
}
