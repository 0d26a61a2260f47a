package domain

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// InboundMessage is one message event delivered by the chat backend.
// Addresses are raw protocol tokens (user[:device]@server).
type InboundMessage struct {
	ID        string
	Chat      string
	Sender    string
	SenderAlt string // same sender under the other addressing scheme, when known
	PushName  string
	FromMe    bool
	Content   *waE2E.Message
	Timestamp time.Time
}

type BatchType string

const (
	BatchNotify  BatchType = "notify"  // live delivery
	BatchHistory BatchType = "history" // replay/backfill, never relayed
)

// MessageBatch is one delivery unit from the backend event stream.
type MessageBatch struct {
	Type     BatchType
	Messages []InboundMessage
}
