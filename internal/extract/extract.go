// Package extract pulls normalized text, referenced identities and the
// quoted flag out of a message protobuf.
package extract

import "go.mau.fi/whatsmeow/proto/waE2E"

// Content is what the relevance pipeline needs from one message.
type Content struct {
	Text     string
	Mentions []string
	Quoted   bool
}

// wrappers lists container kinds whose inner message carries the content.
var wrappers = []func(*waE2E.Message) *waE2E.Message{
	func(m *waE2E.Message) *waE2E.Message { return m.GetEphemeralMessage().GetMessage() },
	func(m *waE2E.Message) *waE2E.Message { return m.GetViewOnceMessage().GetMessage() },
	func(m *waE2E.Message) *waE2E.Message { return m.GetViewOnceMessageV2().GetMessage() },
	func(m *waE2E.Message) *waE2E.Message { return m.GetViewOnceMessageV2Extension().GetMessage() },
	func(m *waE2E.Message) *waE2E.Message { return m.GetEditedMessage().GetMessage() },
	func(m *waE2E.Message) *waE2E.Message { return m.GetDocumentWithCaptionMessage().GetMessage() },
	func(m *waE2E.Message) *waE2E.Message { return m.GetProtocolMessage().GetEditedMessage() },
}

// Unwrap strips wrapper layers until none applies, at most one pass per
// wrapper kind. Unwrapping an already unwrapped message returns it unchanged.
func Unwrap(m *waE2E.Message) *waE2E.Message {
	for range wrappers {
		if m == nil {
			break
		}
		inner := unwrapOnce(m)
		if inner == nil {
			break
		}
		m = inner
	}
	return m
}

func unwrapOnce(m *waE2E.Message) *waE2E.Message {
	for _, w := range wrappers {
		if inner := w(m); inner != nil {
			return inner
		}
	}
	return nil
}

// textExtractors are tried in order; the first non-empty result wins.
var textExtractors = []func(*waE2E.Message) string{
	(*waE2E.Message).GetConversation,
	func(m *waE2E.Message) string { return m.GetExtendedTextMessage().GetText() },
	func(m *waE2E.Message) string { return m.GetImageMessage().GetCaption() },
	func(m *waE2E.Message) string { return m.GetVideoMessage().GetCaption() },
	func(m *waE2E.Message) string { return m.GetDocumentMessage().GetCaption() },
}

// Text returns the user-visible text of the message, or "".
func Text(m *waE2E.Message) string {
	m = Unwrap(m)
	if m == nil {
		return ""
	}
	for _, fn := range textExtractors {
		if s := fn(m); s != "" {
			return s
		}
	}
	return ""
}

var contextExtractors = []func(*waE2E.Message) *waE2E.ContextInfo{
	func(m *waE2E.Message) *waE2E.ContextInfo { return m.GetExtendedTextMessage().GetContextInfo() },
	func(m *waE2E.Message) *waE2E.ContextInfo { return m.GetImageMessage().GetContextInfo() },
	func(m *waE2E.Message) *waE2E.ContextInfo { return m.GetVideoMessage().GetContextInfo() },
	func(m *waE2E.Message) *waE2E.ContextInfo { return m.GetDocumentMessage().GetContextInfo() },
}

// ContextInfo returns the first context block found on the unwrapped
// message, or nil.
func ContextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	m = Unwrap(m)
	if m == nil {
		return nil
	}
	for _, fn := range contextExtractors {
		if ci := fn(m); ci != nil {
			return ci
		}
	}
	return nil
}

// Extract collects text, mentioned identities and the quoted flag.
func Extract(m *waE2E.Message) Content {
	c := Content{Text: Text(m)}
	ci := ContextInfo(m)
	if ci == nil {
		return c
	}
	if jids := ci.GetMentionedJID(); len(jids) > 0 {
		c.Mentions = append([]string(nil), jids...)
	}
	c.Quoted = ci.GetQuotedMessage() != nil || ci.GetStanzaID() != ""
	return c
}
