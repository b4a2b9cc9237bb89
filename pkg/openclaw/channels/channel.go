// Package channels defines the interfaces the pipeline delivers replies
// through. Platform adapters (WhatsApp, Telegram, ...) implement Channel
// elsewhere; the pipeline only depends on these types.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel is one messaging surface.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send delivers an outgoing message to the specified recipient.
	Send(ctx context.Context, to string, msg *OutgoingMessage) error

	// Receive returns a Go channel emitting incoming messages.
	Receive() <-chan *IncomingMessage
}

// IncomingMessage is a message received from a surface, already reduced to
// what the pipeline needs to resolve a session and build a prompt.
type IncomingMessage struct {
	// ID is the platform message identifier.
	ID string

	// Channel identifies the source surface.
	Channel string

	// From is the sender identifier on the platform.
	From string

	// ChatID is the group or DM identifier; combined with Channel it forms
	// the session key.
	ChatID string

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// OutgoingMessage is one reply payload addressed to a surface.
type OutgoingMessage struct {
	// Text is the reply text (may be empty for media-only replies).
	Text string

	// MediaURL references a single media attachment (URL or local path).
	MediaURL string

	// MediaURLs carries multiple attachments in order.
	MediaURLs []string

	// Voice requests audio attachments be sent as voice notes.
	Voice bool

	// ReplyTo threads the reply to an original message when supported.
	ReplyTo string
}

// ErrUnknownChannel is returned when sending to an unregistered surface.
var ErrUnknownChannel = fmt.Errorf("unknown channel")

// Manager routes outgoing messages to registered channels.
type Manager struct {
	channels map[string]Channel
}

// NewManager creates an empty channel manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// Register adds a channel. Registering the same name twice is an error.
func (m *Manager) Register(ch Channel) error {
	name := ch.Name()
	if _, ok := m.channels[name]; ok {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	return nil
}

// Send delivers a message through the named channel.
func (m *Manager) Send(ctx context.Context, channel, to string, msg *OutgoingMessage) error {
	ch, ok := m.channels[channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return ch.Send(ctx, to, msg)
}

// Get returns the named channel.
func (m *Manager) Get(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}
