// ABOUTME: Session record, its state machine, and the per-session event loop.
// ABOUTME: State mutates only from transport events; teardown races are resolved here.

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/courier-gateway/internal/channel"
	"github.com/2389/courier-gateway/internal/dedupe"
	"github.com/2389/courier-gateway/internal/dispatch"
	"github.com/2389/courier-gateway/internal/message"
)

// State is a session's lifecycle state.
type State string

const (
	StateInitializing   State = "initializing"
	StatePairingPending State = "pairing_pending"
	StateReady          State = "ready"
	StateAuthFailed     State = "auth_failed"
	StateDisconnected   State = "disconnected"

	// StateNotFound is a projection-only sentinel for unknown session ids;
	// no live session ever holds it.
	StateNotFound State = "not_found"
)

// Status is the point-in-time snapshot served to pollers. Field names
// match the wire format the dashboard already consumes.
type Status struct {
	State          State  `json:"status"`
	HasAuthFailure bool   `json:"hasAuthFailure"`
	AuthFailure    string `json:"authFailure,omitempty"`
	HasPairingCode bool   `json:"hasQr"`
}

// Session is one live channel session. It exclusively owns its transport;
// state mutates only from the event loop, snapshots are read on demand.
type Session struct {
	id         string
	transport  channel.Transport
	webhookURL string
	handler    dispatch.Handler

	pipeline  *dispatch.Pipeline
	seen      *dedupe.Cache
	broadcast *Broadcaster
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	pairingCode string
	authFailure string
	identity    *channel.Identity

	// deliverMu serializes message delivery against teardown: Destroy
	// acquires it after marking closed, so an in-flight handler completes
	// before removal and nothing is delivered afterwards.
	deliverMu sync.Mutex
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(id string, t channel.Transport, cfg CreateConfig, r *Registry) *Session {
	return &Session{
		id:         id,
		transport:  t,
		webhookURL: cfg.WebhookURL,
		handler:    cfg.Handler,
		pipeline:   r.pipeline,
		seen:       r.seen,
		broadcast:  r.watch,
		logger:     r.logger.With("session_id", id),
		state:      StateInitializing,
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the liveness snapshot for pollers.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:          s.state,
		HasAuthFailure: s.authFailure != "",
		AuthFailure:    s.authFailure,
		HasPairingCode: s.pairingCode != "",
	}
}

// Identity returns the authenticated account identity, only while the
// session is ready. The identity is retained internally across disconnects
// for diagnostics but never served as current once the session leaves
// ready.
func (s *Session) Identity() (*channel.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady || s.identity == nil {
		return nil, false
	}
	ident := *s.identity
	return &ident, true
}

// PairingCode returns the pairing payload while one is pending.
func (s *Session) PairingCode() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingCode, s.pairingCode != ""
}

// run is the session's event loop. It consumes transport events in
// arrival order until the context is cancelled or the stream closes.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev channel.Event) {
	switch ev.Kind {
	case channel.EventPairingCode:
		s.applyPairingCode(ev.PairingCode)
	case channel.EventReady:
		s.applyReady(ev.Identity)
	case channel.EventAuthFailure:
		s.applyAuthFailure(ev.Detail)
	case channel.EventDisconnected:
		s.applyDisconnected(ev.Detail)
	case channel.EventMessage:
		s.dispatchMessage(ctx, ev.Message)
	default:
		s.logger.Warn("unknown transport event", "kind", int(ev.Kind))
	}
}

// applyPairingCode stores the code and enters pairing_pending. Codes
// reported outside the pairing phase do not revive the session.
func (s *Session) applyPairingCode(code string) {
	s.mu.Lock()
	if s.state != StateInitializing && s.state != StatePairingPending {
		s.mu.Unlock()
		s.logger.Debug("pairing code ignored in state", "state", string(s.state))
		return
	}
	s.state = StatePairingPending
	s.pairingCode = code
	s.mu.Unlock()

	s.logger.Info("pairing code received, waiting for scan")
	s.publishState(StatePairingPending)
}

// applyReady marks the session authenticated. The pairing code is cleared
// and a sticky auth failure is cleared by the successful reconnect. A
// disconnected session never re-enters ready; recovery is destroy plus a
// fresh create.
func (s *Session) applyReady(ident *channel.Identity) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		s.logger.Debug("ready event ignored in state", "state", string(s.state))
		return
	}
	s.state = StateReady
	s.pairingCode = ""
	s.authFailure = ""
	if ident != nil {
		s.identity = ident
	}
	s.mu.Unlock()

	if ident != nil {
		s.logger.Info("session ready", "account", ident.Address, "push_name", ident.DisplayName)
	} else {
		s.logger.Info("session ready")
	}
	s.publishState(StateReady)
}

// applyAuthFailure records the failure detail. The detail is sticky in any
// state, but only a session still authenticating moves to auth_failed; the
// transport may still report a recovery afterwards.
func (s *Session) applyAuthFailure(detail string) {
	s.mu.Lock()
	s.authFailure = detail
	transitioned := s.state == StateInitializing || s.state == StatePairingPending
	if transitioned {
		s.state = StateAuthFailed
	}
	s.mu.Unlock()

	s.logger.Error("authentication failure", "detail", detail)
	if transitioned {
		s.publishState(StateAuthFailed)
	}
}

// applyDisconnected marks the session down. Identity and failure detail
// are retained for diagnostic display.
func (s *Session) applyDisconnected(reason string) {
	s.mu.Lock()
	s.state = StateDisconnected
	s.pairingCode = ""
	s.mu.Unlock()

	s.logger.Info("session disconnected", "reason", reason)
	s.publishState(StateDisconnected)
}

// dispatchMessage normalizes an inbound message and hands it to the
// pipeline, unless it is a redelivery or the session is being torn down.
func (s *Session) dispatchMessage(ctx context.Context, in *channel.Inbound) {
	if in == nil {
		return
	}
	if in.MessageID != "" && s.seen != nil && s.seen.SeenOrRemember(dedupe.Key(s.id, in.MessageID)) {
		s.logger.Debug("duplicate message ignored", "message_id", in.MessageID)
		return
	}

	msg := message.Normalize(s.id, in)
	s.logger.Info("message received",
		"from", msg.DisplayName,
		"handle", msg.FromHandle,
		"type", msg.Type,
		"group", msg.IsGroup,
	)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.closed {
		// Teardown won the race; the message is discarded, never
		// half-applied to a removed record.
		return
	}
	s.pipeline.Deliver(ctx, s.handler, s.webhookURL, msg)
}

func (s *Session) publishState(state State) {
	if s.broadcast != nil {
		s.broadcast.publish(StateChange{SessionID: s.id, State: state})
	}
}

// close tears the session down: after it returns no handler or webhook
// invocation for this session starts. The transport disconnect outcome is
// observable only in logs.
func (s *Session) close() {
	s.deliverMu.Lock()
	s.closed = true
	s.deliverMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if err := s.transport.Disconnect(); err != nil {
		s.logger.Warn("transport disconnect failed during teardown", "error", err)
	}
}
