// ABOUTME: whatsmeow-backed Transport; bridges the multidevice client onto
// ABOUTME: the channel event union and legacy-suffix addressing.

package wadriver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/2389/courier-gateway/internal/channel"
)

const eventBufferSize = 256

// Driver is a channel.Transport backed by a whatsmeow multidevice client.
// Credentials persist in a per-session SQLite store so a paired session
// reconnects without rescanning.
type Driver struct {
	sessionID string
	logger    *slog.Logger

	container *sqlstore.Container
	client    *whatsmeow.Client

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	sending sync.WaitGroup
	events  chan channel.Event
}

// Factory returns a channel.Factory producing whatsmeow drivers.
func Factory(logger *slog.Logger) channel.Factory {
	return func(ctx context.Context, sessionID, stateDir string) (channel.Transport, error) {
		return New(ctx, sessionID, stateDir, logger)
	}
}

// New opens the session's credential store and builds a client. The client
// does not connect until Connect is called.
func New(ctx context.Context, sessionID, stateDir string, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)",
		filepath.Join(stateDir, "session.db"))
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("loading device: %w", err)
	}

	d := &Driver{
		sessionID: sessionID,
		logger:    logger.With("component", "wadriver", "session_id", sessionID),
		container: container,
		client:    whatsmeow.NewClient(device, waLog.Noop),
		done:      make(chan struct{}),
		events:    make(chan channel.Event, eventBufferSize),
	}
	d.client.AddEventHandler(d.handleEvent)
	return d, nil
}

// Connect starts the connection. For an unpaired device the pairing-code
// stream must be opened before the socket, so ordering here matters.
func (d *Driver) Connect(ctx context.Context) error {
	if d.client.Store.ID == nil {
		qrChan, err := d.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("opening pairing channel: %w", err)
		}
		go d.pumpPairingCodes(qrChan)
	}
	if err := d.client.Connect(); err != nil {
		return fmt.Errorf("connecting client: %w", err)
	}
	return nil
}

// Disconnect tears the socket down and closes the credential store and
// event stream.
func (d *Driver) Disconnect() error {
	d.client.Disconnect()
	d.closeEventStream()

	if err := d.container.Close(); err != nil {
		return fmt.Errorf("closing credential store: %w", err)
	}
	return nil
}

// closeEventStream releases any emit blocked on a full buffer, waits for
// in-flight sends to finish, and closes the stream exactly once.
func (d *Driver) closeEventStream() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	d.sending.Wait()
	close(d.events)
	d.logger.Debug("event stream closed")
}

// Send transmits a text message. Recipients use the legacy c.us suffix
// upstream; the multidevice server name is substituted here.
func (d *Driver) Send(ctx context.Context, recipient, content string) error {
	jid, err := parseRecipient(recipient)
	if err != nil {
		return err
	}
	_, err = d.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(content),
	})
	if err != nil {
		return fmt.Errorf("sending to %s: %w", recipient, err)
	}
	return nil
}

// Events returns the driver's event stream.
func (d *Driver) Events() <-chan channel.Event {
	return d.events
}

func parseRecipient(recipient string) (types.JID, error) {
	user, server, found := strings.Cut(recipient, "@")
	if !found || user == "" {
		return types.JID{}, fmt.Errorf("invalid recipient %q", recipient)
	}
	switch server {
	case channel.UserSuffix:
		server = types.DefaultUserServer
	case channel.GroupSuffix:
		server = types.GroupServer
	}
	return types.NewJID(user, server), nil
}

func (d *Driver) pumpPairingCodes(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			d.emit(channel.Event{Kind: channel.EventPairingCode, PairingCode: item.Code})
		case "success":
			// Connected event carries the identity; nothing to do here.
		case "timeout":
			d.emit(channel.Event{Kind: channel.EventAuthFailure, Detail: "pairing timed out"})
		default:
			d.emit(channel.Event{Kind: channel.EventAuthFailure, Detail: item.Event})
		}
	}
}

func (d *Driver) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		d.emit(channel.Event{Kind: channel.EventReady, Identity: d.identity()})
	case *events.Disconnected:
		d.emit(channel.Event{Kind: channel.EventDisconnected, Detail: "connection lost"})
	case *events.LoggedOut:
		d.emit(channel.Event{Kind: channel.EventAuthFailure, Detail: fmt.Sprintf("logged out: %s", evt.Reason)})
		d.emit(channel.Event{Kind: channel.EventDisconnected, Detail: "logged out"})
	case *events.Message:
		d.handleMessage(evt)
	}
}

func (d *Driver) identity() *channel.Identity {
	ident := &channel.Identity{
		DisplayName: d.client.Store.PushName,
		Platform:    d.client.Store.Platform,
	}
	if d.client.Store.ID != nil {
		ident.Address = d.client.Store.ID.User
	}
	return ident
}

func (d *Driver) handleMessage(evt *events.Message) {
	// Messages the account sent itself (e.g. from the paired phone) come
	// through the same event; forwarding them inbound would loop a bot
	// back on its own traffic.
	if evt.Info.IsFromMe {
		return
	}

	body := extractText(evt.Message)
	if body == "" && evt.Info.Type == "text" {
		return
	}

	from := evt.Info.Chat
	if !evt.Info.IsGroup {
		from = evt.Info.Sender.ToNonAD()
	}

	in := &channel.Inbound{
		MessageID: string(evt.Info.ID),
		From:      legacyAddress(from),
		PushName:  evt.Info.PushName,
		Body:      body,
		Timestamp: evt.Info.Timestamp.Unix(),
		Type:      evt.Info.Type,
	}
	if evt.Info.VerifiedName != nil {
		in.VerifiedName = evt.Info.VerifiedName.Details.GetVerifiedName()
	}
	if contact, err := d.client.Store.Contacts.GetContact(context.Background(), evt.Info.Sender); err == nil && contact.Found {
		in.ContactName = contact.FullName
	}

	d.emit(channel.Event{Kind: channel.EventMessage, Message: in})
}

// legacyAddress renders a JID with the legacy suffixes the rest of the
// system speaks.
func legacyAddress(jid types.JID) string {
	switch jid.Server {
	case types.DefaultUserServer:
		return jid.User + "@" + channel.UserSuffix
	case types.GroupServer:
		return jid.User + "@" + channel.GroupSuffix
	default:
		return jid.String()
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if text := msg.GetExtendedTextMessage().GetText(); text != "" {
		return text
	}
	if caption := msg.GetImageMessage().GetCaption(); caption != "" {
		return caption
	}
	return msg.GetVideoMessage().GetCaption()
}

// emit delivers an event to the session's loop. When the buffer is full
// the send blocks rather than dropping, so events are never lost or
// reordered; shutdown releases blocked senders.
func (d *Driver) emit(ev channel.Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.sending.Add(1)
	d.mu.Unlock()
	defer d.sending.Done()

	select {
	case d.events <- ev:
	case <-d.done:
	}
}
