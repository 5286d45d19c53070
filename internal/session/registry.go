// ABOUTME: Registry mapping session ids to live Sessions; owns creation and teardown.
// ABOUTME: Create is idempotent; Destroy never fails outward; ids list in insertion order.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/2389/courier-gateway/internal/channel"
	"github.com/2389/courier-gateway/internal/dedupe"
	"github.com/2389/courier-gateway/internal/dispatch"
)

// ErrNotFound indicates an operation referenced an unknown session id.
var ErrNotFound = errors.New("session not found")

// ErrNotReady indicates a send was attempted before the session reached
// ready.
var ErrNotReady = errors.New("session not ready")

// CreateConfig carries the per-session configuration fixed at creation.
type CreateConfig struct {
	// WebhookURL optionally receives every normalized inbound message.
	WebhookURL string

	// Handler is the optional in-process callback for inbound messages.
	Handler dispatch.Handler
}

// Config wires a Registry's collaborators.
type Config struct {
	// StateDir is the root under which each session gets its own
	// credential namespace, derived from its id.
	StateDir string

	// Factory constructs a transport per session.
	Factory channel.Factory

	// Pipeline delivers normalized inbound messages.
	Pipeline *dispatch.Pipeline

	// Dedupe suppresses transport redeliveries. Nil disables suppression.
	Dedupe *dedupe.Cache

	Logger *slog.Logger
}

// Registry owns all live sessions. All map access is synchronized; each
// session's event processing runs on its own goroutine.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
	pending  map[string]chan struct{}

	stateDir string
	factory  channel.Factory
	pipeline *dispatch.Pipeline
	seen     *dedupe.Cache
	watch    *Broadcaster
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")

	return &Registry{
		sessions: make(map[string]*Session),
		pending:  make(map[string]chan struct{}),
		stateDir: cfg.StateDir,
		factory:  cfg.Factory,
		pipeline: cfg.Pipeline,
		seen:     cfg.Dedupe,
		watch:    newBroadcaster(logger),
		logger:   logger,
	}
}

// Create builds and connects a session for id. If a live session already
// exists the call is an idempotent no-op returning its current state with
// existed=true. On transport failure no record is retained.
//
// Concurrent creates for the same id serialize through a pending
// reservation, so at most one transport is ever built per id. The registry
// lock is never held across transport construction or connect; a slow
// connect cannot stall reads or other sessions.
func (r *Registry) Create(ctx context.Context, id string, cfg CreateConfig) (state State, existed bool, err error) {
	for {
		r.mu.Lock()
		if s, ok := r.sessions[id]; ok {
			r.mu.Unlock()
			return s.State(), true, nil
		}
		wait, inflight := r.pending[id]
		if !inflight {
			done := make(chan struct{})
			r.pending[id] = done
			r.mu.Unlock()

			s, err := r.connect(ctx, id, cfg)

			r.mu.Lock()
			delete(r.pending, id)
			var total int
			if err == nil {
				r.sessions[id] = s
				r.order = append(r.order, id)
				total = len(r.sessions)
			}
			r.mu.Unlock()
			close(done)

			if err != nil {
				return "", false, err
			}

			r.logger.Info("session created",
				"session_id", id,
				"webhook", cfg.WebhookURL != "",
				"total_sessions", total,
			)
			s.publishState(StateInitializing)
			return s.State(), false, nil
		}
		r.mu.Unlock()

		// Another create for this id is connecting; wait for its outcome
		// and re-check. A failed attempt makes this caller the next one
		// to try.
		select {
		case <-wait:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// connect builds the transport and starts the session's event loop. The
// loop starts before Connect so a pairing code emitted during the connect
// handshake is already applied when connect returns.
func (r *Registry) connect(ctx context.Context, id string, cfg CreateConfig) (*Session, error) {
	transport, err := r.factory(ctx, id, filepath.Join(r.stateDir, id))
	if err != nil {
		return nil, fmt.Errorf("initializing transport: %w", err)
	}

	s := newSession(id, transport, cfg, r)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(runCtx)

	if err := transport.Connect(ctx); err != nil {
		cancel()
		if derr := transport.Disconnect(); derr != nil {
			r.logger.Debug("disconnect after failed connect", "session_id", id, "error", derr)
		}
		return nil, fmt.Errorf("connecting transport: %w", err)
	}
	return s, nil
}

// Get returns the live session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// IDs returns all live session ids in insertion order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Destroy tears down the session for id. Returns false for an unknown id.
// Teardown always succeeds from the caller's perspective: a failing
// transport disconnect is logged and discarded, the record is removed
// unconditionally.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	s.close()
	r.logger.Info("session destroyed", "session_id", id)
	return true
}

// Send validates the session and recipient, then delegates to the
// transport. Transport send errors propagate verbatim, unlike teardown.
func (r *Registry) Send(ctx context.Context, id, to, content string) (recipient string, err error) {
	s, ok := r.Get(id)
	if !ok {
		return "", ErrNotFound
	}
	if s.State() != StateReady {
		return "", ErrNotReady
	}

	recipient = channel.NormalizeRecipient(to)
	if err := s.transport.Send(ctx, recipient, content); err != nil {
		return "", err
	}

	r.logger.Debug("message sent", "session_id", id, "recipient", recipient)
	return recipient, nil
}

// Status projects the liveness snapshot for id; unknown ids yield the
// distinguished not_found status.
func (r *Registry) Status(id string) Status {
	s, ok := r.Get(id)
	if !ok {
		return Status{State: StateNotFound}
	}
	return s.Status()
}

// Identity returns the account identity for id, only while ready.
func (r *Registry) Identity(id string) (*channel.Identity, bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return s.Identity()
}

// PairingCode returns the pending pairing payload for id, if any.
func (r *Registry) PairingCode(id string) (string, bool) {
	s, ok := r.Get(id)
	if !ok {
		return "", false
	}
	return s.PairingCode()
}

// Watch subscribes to session state changes until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) <-chan StateChange {
	ch, _ := r.watch.Watch(ctx)
	return ch
}

// Shutdown destroys every live session and stops the broadcaster.
func (r *Registry) Shutdown() {
	for _, id := range r.IDs() {
		r.Destroy(id)
	}
	r.watch.Close()
}
