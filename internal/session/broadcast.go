// ABOUTME: Non-blocking fan-out of session state changes to watchers.
// ABOUTME: Lets a UI push state instead of polling; slow watchers drop events.

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// watcherBufferSize is the channel buffer for each watcher.
const watcherBufferSize = 64

// StateChange is one observed session state transition.
type StateChange struct {
	SessionID string `json:"sessionId"`
	State     State  `json:"status"`
}

// Broadcaster fans session state changes out to registered watchers.
// Publishing never blocks: a watcher that falls behind loses events rather
// than stalling the session that produced them.
type Broadcaster struct {
	mu       sync.RWMutex
	watchers map[string]chan StateChange
	closed   bool
	logger   *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		watchers: make(map[string]chan StateChange),
		logger:   logger.With("component", "broadcaster"),
	}
}

// Watch registers a watcher for all session state changes. The watcher is
// removed and its channel closed when ctx is cancelled.
func (b *Broadcaster) Watch(ctx context.Context) (<-chan StateChange, string) {
	id := uuid.New().String()
	ch := make(chan StateChange, watcherBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, id
	}
	b.watchers[id] = ch
	b.mu.Unlock()

	b.logger.Debug("watcher added", "watcher_id", id)

	go func() {
		<-ctx.Done()
		b.remove(id)
	}()

	return ch, id
}

// publish delivers a state change to every watcher, dropping it for any
// watcher whose buffer is full. The lock is held through the sends so no
// channel is closed mid-send; sends never block, so this is cheap.
func (b *Broadcaster) publish(change StateChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.watchers {
		select {
		case ch <- change:
		default:
			b.logger.Debug("dropped state change for slow watcher",
				"session_id", change.SessionID)
		}
	}
}

// remove unregisters a watcher and closes its channel.
func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.watchers[id]
	if !ok {
		return
	}
	delete(b.watchers, id)
	close(ch)

	b.logger.Debug("watcher removed", "watcher_id", id)
}

// Close shuts the broadcaster down and closes all watcher channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.watchers {
		close(ch)
		delete(b.watchers, id)
	}
}
