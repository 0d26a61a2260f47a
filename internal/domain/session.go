package domain

import "context"

// ConnState is the lifecycle state of the single chat session.
type ConnState string

const (
	StateIdle       ConnState = "idle"
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosing    ConnState = "closing"
	StateClosed     ConnState = "close"
	StateLoggedOut  ConnState = "logged-out"
)

// DisconnectCode classifies why a session closed. Values follow the
// status codes the multi-device web clients report.
type DisconnectCode int

const (
	CodeNone               DisconnectCode = 0
	CodeLoggedOut          DisconnectCode = 401
	CodeForbidden          DisconnectCode = 403
	CodeConnectionLost     DisconnectCode = 408
	CodeConnectionClosed   DisconnectCode = 428
	CodeConnectionReplaced DisconnectCode = 440
	CodeBadSession         DisconnectCode = 500
	CodeUnavailable        DisconnectCode = 503
	CodeRestartRequired    DisconnectCode = 515
)

// LoggedOut reports whether the session credentials are no longer valid.
func (c DisconnectCode) LoggedOut() bool {
	return c == CodeLoggedOut
}

// RestartRequired reports whether the backend asked for a fresh handshake.
func (c DisconnectCode) RestartRequired() bool {
	return c == CodeRestartRequired
}

// SessionEvent is the closed set of events a chat client emits.
type SessionEvent interface {
	sessionEvent()
}

// PairingCodeIssued carries a fresh QR pairing token.
type PairingCodeIssued struct {
	Code string
}

// ConnectionStateChanged reports a transport transition. Code is only
// meaningful when State is StateClosed.
type ConnectionStateChanged struct {
	State ConnState
	Code  DisconnectCode
	Err   error
}

// MessageBatchReceived carries inbound messages.
type MessageBatchReceived struct {
	Batch MessageBatch
}

func (PairingCodeIssued) sessionEvent()      {}
func (ConnectionStateChanged) sessionEvent() {}
func (MessageBatchReceived) sessionEvent()   {}

// EventSink receives events from a chat client.
type EventSink interface {
	Emit(evt SessionEvent)
}

// SelfIdentity is the account the session is logged in as.
type SelfIdentity struct {
	Phone    string // raw phone-addressed token, empty before pairing
	Opaque   string // raw opaque (LID) token, empty when unknown
	PushName string
}

// ChatClient is one session object against the chat backend. A client is
// never reused after Disconnect; the controller builds a new one.
type ChatClient interface {
	// Connect starts the connection. Progress is reported through the sink
	// the client was built with.
	Connect(ctx context.Context) error
	Disconnect()
	Logout(ctx context.Context) error
	GroupName(ctx context.Context, groupID string) (string, error)
	Self() SelfIdentity
}

// AliasLookup is implemented by clients that can map an opaque identifier
// to its phone form from their own contact store.
type AliasLookup interface {
	PhoneForOpaque(ctx context.Context, opaque string) (string, error)
}

// ClientFactory builds a fresh client that reports into sink.
type ClientFactory func(ctx context.Context, sink EventSink) (ChatClient, error)
