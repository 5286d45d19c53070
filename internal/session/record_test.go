// ABOUTME: Tests for the session state machine and status/identity projection.
// ABOUTME: Drives transitions through transport events and checks snapshot side effects.

package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/courier-gateway/internal/channel"
	"github.com/2389/courier-gateway/internal/dedupe"
	"github.com/2389/courier-gateway/internal/dispatch"
	"github.com/2389/courier-gateway/internal/message"
)

func createSession(t *testing.T, bank *transportBank, r *Registry, id string) *mockTransport {
	t.Helper()
	_, _, err := r.Create(context.Background(), id, CreateConfig{})
	require.NoError(t, err)
	return bank.get(id)
}

func TestStateMachinePairingFlow(t *testing.T) {
	bank := newTransportBank()
	r := testRegistry(t, bank)
	mt := createSession(t, bank, r, "personal")

	mt.emit(channel.Event{Kind: channel.EventPairingCode, PairingCode: "2@abc123"})
	waitForState(t, r, "personal", StatePairingPending)

	status := r.Status("personal")
	assert.True(t, status.HasPairingCode)
	code, ok := r.PairingCode("personal")
	require.True(t, ok)
	assert.Equal(t, "2@abc123", code)

	// A refreshed code replaces the stored one without leaving pairing.
	mt.emit(channel.Event{Kind: channel.EventPairingCode, PairingCode: "2@def456"})
	require.Eventually(t, func() bool {
		code, _ := r.PairingCode("personal")
		return code == "2@def456"
	}, 2*time.Second, 5*time.Millisecond)

	// Ready clears the pairing code and stores the identity.
	mt.emit(channel.Event{Kind: channel.EventReady, Identity: &channel.Identity{
		DisplayName: "Ada",
		Address:     "15551234567",
		Platform:    "android",
	}})
	waitForState(t, r, "personal", StateReady)

	status = r.Status("personal")
	assert.False(t, status.HasPairingCode)
	_, ok = r.PairingCode("personal")
	assert.False(t, ok)

	ident, ok := r.Identity("personal")
	require.True(t, ok)
	assert.Equal(t, "Ada", ident.DisplayName)
	assert.Equal(t, "15551234567", ident.Address)
}

func TestStateMachineAuthFailure(t *testing.T) {
	t.Run("failure during pairing moves to auth_failed and sticks", func(t *testing.T) {
		bank := newTransportBank()
		r := testRegistry(t, bank)
		mt := createSession(t, bank, r, "personal")

		mt.emit(channel.Event{Kind: channel.EventPairingCode, PairingCode: "2@abc"})
		mt.emit(channel.Event{Kind: channel.EventAuthFailure, Detail: "unable to restore session"})
		waitForState(t, r, "personal", StateAuthFailed)

		status := r.Status("personal")
		assert.True(t, status.HasAuthFailure)
		assert.Equal(t, "unable to restore session", status.AuthFailure)

		// A later pairing code does not clear the failure detail.
		// The auth_failed state is advisory; the transport restarting its
		// pairing flow is not modeled as a transition back.
		mt.emit(channel.Event{Kind: channel.EventDisconnected, Detail: "logged out"})
		waitForState(t, r, "personal", StateDisconnected)
		assert.True(t, r.Status("personal").HasAuthFailure)
	})

	t.Run("failure after ready records detail without leaving ready", func(t *testing.T) {
		bank := newTransportBank()
		r := testRegistry(t, bank)
		mt := createSession(t, bank, r, "personal")

		mt.emit(channel.Event{Kind: channel.EventReady, Identity: &channel.Identity{Address: "1"}})
		waitForState(t, r, "personal", StateReady)

		mt.emit(channel.Event{Kind: channel.EventAuthFailure, Detail: "token refresh failed"})
		require.Eventually(t, func() bool {
			return r.Status("personal").HasAuthFailure
		}, 2*time.Second, 5*time.Millisecond)

		assert.Equal(t, StateReady, r.Status("personal").State)
	})

	t.Run("successful reconnect clears the failure", func(t *testing.T) {
		bank := newTransportBank()
		r := testRegistry(t, bank)
		mt := createSession(t, bank, r, "personal")

		mt.emit(channel.Event{Kind: channel.EventAuthFailure, Detail: "flaky"})
		waitForState(t, r, "personal", StateAuthFailed)

		mt.emit(channel.Event{Kind: channel.EventReady, Identity: &channel.Identity{Address: "1"}})
		waitForState(t, r, "personal", StateReady)
		assert.False(t, r.Status("personal").HasAuthFailure)
	})
}

func TestStateMachineDisconnect(t *testing.T) {
	bank := newTransportBank()
	r := testRegistry(t, bank)
	mt := createSession(t, bank, r, "personal")

	mt.emit(channel.Event{Kind: channel.EventReady, Identity: &channel.Identity{Address: "15551234567"}})
	waitForState(t, r, "personal", StateReady)

	mt.emit(channel.Event{Kind: channel.EventDisconnected, Detail: "phone offline"})
	waitForState(t, r, "personal", StateDisconnected)

	// Identity is retained internally but no longer served as current.
	_, ok := r.Identity("personal")
	assert.False(t, ok, "identity must be gated on ready")

	// A pairing code in disconnected does not revive the session.
	mt.emit(channel.Event{Kind: channel.EventPairingCode, PairingCode: "2@zzz"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, r.Status("personal").State)
	_, ok = r.PairingCode("personal")
	assert.False(t, ok)

	// Neither does a stray ready event; recovery is destroy plus create.
	mt.emit(channel.Event{Kind: channel.EventReady, Identity: &channel.Identity{Address: "15551234567"}})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, r.Status("personal").State)
	_, ok = r.Identity("personal")
	assert.False(t, ok)
}

func TestMessageDelivery(t *testing.T) {
	t.Run("inbound messages reach the handler in order", func(t *testing.T) {
		bank := newTransportBank()

		var got []string
		done := make(chan struct{}, 3)
		handler := func(ctx context.Context, msg *message.Message) error {
			got = append(got, msg.Body) // serialized by the event loop
			done <- struct{}{}
			return nil
		}

		r := NewRegistry(Config{
			StateDir: t.TempDir(),
			Factory:  bank.factory,
			Pipeline: dispatch.NewPipeline(dispatch.NewWebhookClient(time.Second, testLogger()), nil, testLogger()),
			Logger:   testLogger(),
		})
		defer r.Shutdown()

		_, _, err := r.Create(context.Background(), "personal", CreateConfig{Handler: handler})
		require.NoError(t, err)

		mt := bank.get("personal")
		for _, body := range []string{"one", "two", "three"} {
			mt.emit(channel.Event{Kind: channel.EventMessage, Message: &channel.Inbound{
				From: "15551234567@c.us",
				Body: body,
			}})
		}

		for i := 0; i < 3; i++ {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("handler never saw all messages")
			}
		}
		assert.Equal(t, []string{"one", "two", "three"}, got)
	})

	t.Run("redelivered message ids are suppressed", func(t *testing.T) {
		bank := newTransportBank()

		var count atomic.Int32
		delivered := make(chan struct{}, 4)
		handler := func(ctx context.Context, msg *message.Message) error {
			count.Add(1)
			delivered <- struct{}{}
			return nil
		}

		r := NewRegistry(Config{
			StateDir: t.TempDir(),
			Factory:  bank.factory,
			Pipeline: dispatch.NewPipeline(dispatch.NewWebhookClient(time.Second, testLogger()), nil, testLogger()),
			Dedupe:   dedupe.New(time.Minute, 100),
			Logger:   testLogger(),
		})
		defer r.Shutdown()

		_, _, err := r.Create(context.Background(), "personal", CreateConfig{Handler: handler})
		require.NoError(t, err)

		mt := bank.get("personal")
		mt.emit(channel.Event{Kind: channel.EventMessage, Message: &channel.Inbound{MessageID: "A1", From: "1@c.us", Body: "hi"}})
		mt.emit(channel.Event{Kind: channel.EventMessage, Message: &channel.Inbound{MessageID: "A1", From: "1@c.us", Body: "hi"}})
		mt.emit(channel.Event{Kind: channel.EventMessage, Message: &channel.Inbound{MessageID: "A2", From: "1@c.us", Body: "again"}})

		<-delivered
		<-delivered
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(2), count.Load())
	})

	t.Run("messages without ids are never dropped", func(t *testing.T) {
		bank := newTransportBank()

		var count atomic.Int32
		delivered := make(chan struct{}, 2)
		handler := func(ctx context.Context, msg *message.Message) error {
			count.Add(1)
			delivered <- struct{}{}
			return nil
		}

		r := NewRegistry(Config{
			StateDir: t.TempDir(),
			Factory:  bank.factory,
			Pipeline: dispatch.NewPipeline(dispatch.NewWebhookClient(time.Second, testLogger()), nil, testLogger()),
			Dedupe:   dedupe.New(time.Minute, 100),
			Logger:   testLogger(),
		})
		defer r.Shutdown()

		_, _, err := r.Create(context.Background(), "personal", CreateConfig{Handler: handler})
		require.NoError(t, err)

		mt := bank.get("personal")
		mt.emit(channel.Event{Kind: channel.EventMessage, Message: &channel.Inbound{From: "1@c.us", Body: "x"}})
		mt.emit(channel.Event{Kind: channel.EventMessage, Message: &channel.Inbound{From: "1@c.us", Body: "x"}})

		<-delivered
		<-delivered
		assert.Equal(t, int32(2), count.Load())
	})
}

func TestWatch(t *testing.T) {
	bank := newTransportBank()
	r := testRegistry(t, bank)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := r.Watch(ctx)

	_, _, err := r.Create(context.Background(), "personal", CreateConfig{})
	require.NoError(t, err)
	bank.get("personal").emit(channel.Event{Kind: channel.EventReady, Identity: &channel.Identity{Address: "1"}})

	var seen []State
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case change := <-changes:
			assert.Equal(t, "personal", change.SessionID)
			seen = append(seen, change.State)
		case <-deadline:
			t.Fatalf("watcher saw %v, expected initializing then ready", seen)
		}
	}
	assert.Equal(t, []State{StateInitializing, StateReady}, seen)
}
