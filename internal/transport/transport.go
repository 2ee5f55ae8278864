// Package transport defines the event-driven connection to the messaging
// network. The wire protocol behind a Handle is opaque to the rest of the
// program: callers open a handle, subscribe to its events, send payloads and
// close it.
package transport

import (
	"context"
	"fmt"
	"time"
)

// StatusBroadcast is the distinguished address status updates arrive from.
const StatusBroadcast = "status@broadcast"

// Kind identifies an event stream on a Handle.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindCredentials
	KindMessage
	KindMessageDeleted
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindCredentials:
		return "credentials"
	case KindMessage:
		return "message"
	case KindMessageDeleted:
		return "message-deleted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one inbound notification from a Handle.
type Event interface {
	Kind() Kind
}

// ConnState is the coarse state reported by ConnectionChanged.
type ConnState int

const (
	StateOpen ConnState = iota + 1
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "close"
	default:
		return "unknown"
	}
}

// CloseReason classifies why a connection closed.
type CloseReason int

const (
	ReasonUnknown CloseReason = iota
	ReasonNetwork
	ReasonTimeout
	ReasonRestartRequired
	ReasonReplaced
	ReasonLoggedOut
)

func (r CloseReason) String() string {
	switch r {
	case ReasonNetwork:
		return "network"
	case ReasonTimeout:
		return "timeout"
	case ReasonRestartRequired:
		return "restart-required"
	case ReasonReplaced:
		return "replaced"
	case ReasonLoggedOut:
		return "logged-out"
	default:
		return "unknown"
	}
}

// Terminal reports whether the account discarded the session. Only an explicit
// logout is terminal; every other reason can reconnect with the same credentials.
func (r CloseReason) Terminal() bool {
	return r == ReasonLoggedOut
}

// ConnectionChanged reports the handle opening or closing. Linked is set on
// open when the handle is authenticated as a paired device.
type ConnectionChanged struct {
	State  ConnState
	Linked bool
	Reason CloseReason
	Err    error
}

// CredentialsChanged carries a new credentials blob to persist.
type CredentialsChanged struct {
	Blob []byte
}

// MessageKey addresses one message.
type MessageKey struct {
	Chat   string
	Sender string
	ID     string
	FromMe bool
}

// Message is an inbound chat message or status update.
type Message struct {
	Key       MessageKey
	PushName  string
	Text      string
	Timestamp time.Time
}

// IsStatus reports whether the message is a broadcast status update.
func (m Message) IsStatus() bool {
	return m.Key.Chat == StatusBroadcast
}

// MessageDeleted reports retracted messages.
type MessageDeleted struct {
	Keys      []MessageKey
	Timestamp time.Time
}

func (ConnectionChanged) Kind() Kind  { return KindConnection }
func (CredentialsChanged) Kind() Kind { return KindCredentials }
func (Message) Kind() Kind            { return KindMessage }
func (MessageDeleted) Kind() Kind     { return KindMessageDeleted }

// Reaction reacts to an existing message.
type Reaction struct {
	Key   MessageKey
	Emoji string
}

// Payload is an outbound message. With ImageURL set, Text becomes the caption.
type Payload struct {
	Text     string
	ImageURL string
	Reaction *Reaction
}

// Sender is the outbound half of a Handle.
type Sender interface {
	Send(ctx context.Context, to string, p Payload) error
	MarkRead(ctx context.Context, keys ...MessageKey) error
	// Self is the account's own address, empty until linked.
	Self() string
}

// Handle is one connection attempt. Subscribe before Open so no event is missed.
// Events for one handle are delivered sequentially, in order.
type Handle interface {
	Sender
	Subscribe(kind Kind, fn func(Event)) (unsubscribe func())
	Open(ctx context.Context) error
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Close() error
}

// Transport creates handles. A NewHandle error is not retried.
type Transport interface {
	NewHandle(identity string, creds []byte) (Handle, error)
}
