// ABOUTME: Shared test doubles for the session package.
// ABOUTME: Mock transport driven by an injected event channel; canned factories.

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/2389/courier-gateway/internal/channel"
	"github.com/2389/courier-gateway/internal/dispatch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockTransport implements channel.Transport for tests. Events are pushed
// through emit; sends and disconnects are recorded.
type mockTransport struct {
	events chan channel.Event

	// connectGate, when set, makes Connect block until the gate closes.
	connectGate chan struct{}

	mu            sync.Mutex
	sends         [][2]string
	disconnects   int
	connectErr    error
	sendErr       error
	disconnectErr error
}

func newMockTransport() *mockTransport {
	return &mockTransport{events: make(chan channel.Event, 64)}
}

func (m *mockTransport) Connect(ctx context.Context) error {
	if m.connectGate != nil {
		select {
		case <-m.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.connectErr
}

func (m *mockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return m.disconnectErr
}

func (m *mockTransport) Send(ctx context.Context, recipient, content string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, [2]string{recipient, content})
	return nil
}

func (m *mockTransport) Events() <-chan channel.Event { return m.events }

func (m *mockTransport) emit(ev channel.Event) { m.events <- ev }

func (m *mockTransport) sentMessages() [][2]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][2]string, len(m.sends))
	copy(out, m.sends)
	return out
}

func (m *mockTransport) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// transportBank hands out pre-built mock transports by session id and
// counts factory invocations.
type transportBank struct {
	mu         sync.Mutex
	transports map[string]*mockTransport
	built      int
	factoryErr error
}

func newTransportBank() *transportBank {
	return &transportBank{transports: make(map[string]*mockTransport)}
}

func (b *transportBank) factory(ctx context.Context, sessionID, stateDir string) (channel.Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.factoryErr != nil {
		return nil, b.factoryErr
	}
	b.built++
	t, ok := b.transports[sessionID]
	if !ok {
		t = newMockTransport()
		b.transports[sessionID] = t
	}
	return t, nil
}

func (b *transportBank) get(sessionID string) *mockTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transports[sessionID]
}

func (b *transportBank) builtCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.built
}

func testRegistry(t *testing.T, bank *transportBank) *Registry {
	t.Helper()
	r := NewRegistry(Config{
		StateDir: t.TempDir(),
		Factory:  bank.factory,
		Pipeline: dispatch.NewPipeline(dispatch.NewWebhookClient(time.Second, testLogger()), nil, testLogger()),
		Logger:   testLogger(),
	})
	t.Cleanup(r.Shutdown)
	return r
}

// waitForState polls until the session reaches the expected state.
func waitForState(t *testing.T, r *Registry, id string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Status(id).State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached state %s (stuck at %s)", id, want, r.Status(id).State)
}

var errConnectRefused = errors.New("connection refused")
