package webhook

import "github.com/google/uuid"

// Payload is the JSON body posted for every relayed message. It is built
// once and never mutated.
type Payload struct {
	MessageID    string  `json:"messageId"`
	GroupID      string  `json:"groupId"`
	GroupName    string  `json:"groupName"`
	SenderName   string  `json:"senderName"`
	SenderNumber *string `json:"senderNumber"`
	Text         string  `json:"text"`

	// Debug fields, only set when debug output is enabled.
	MentionedJIDs []string `json:"mentionedJids,omitempty"`
	Quoted        *bool    `json:"quoted,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mentionrelay/webhook"))

// IdempotencyKey is stable for a given group and message, so redeliveries
// after a reconnect carry the same key.
func (p Payload) IdempotencyKey() string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(p.GroupID+"\x00"+p.MessageID)).String()
}
