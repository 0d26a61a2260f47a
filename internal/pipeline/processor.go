// Package pipeline turns live message batches into webhook deliveries.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"mentionrelay/internal/bus"
	"mentionrelay/internal/domain"
	"mentionrelay/internal/extract"
	"mentionrelay/internal/groupcache"
	"mentionrelay/internal/identity"
	"mentionrelay/internal/metrics"
	"mentionrelay/internal/relevance"
	"mentionrelay/internal/webhook"
)

// Deliverer sends one payload. It must not return errors to the caller.
type Deliverer interface {
	Deliver(ctx context.Context, p webhook.Payload)
}

// Config configures a Processor.
type Config struct {
	Classifier *relevance.Classifier
	Groups     *groupcache.Cache
	Relay      Deliverer
	Events     *bus.EventBus // optional
	Debug      bool          // include referenced identities in payloads
	Logger     *slog.Logger
}

// Processor runs extract, classify, name lookup and relay for each message.
type Processor struct {
	classifier *relevance.Classifier
	groups     *groupcache.Cache
	relay      Deliverer
	events     *bus.EventBus
	debug      bool
	logger     *slog.Logger
}

func New(cfg Config) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		classifier: cfg.Classifier,
		groups:     cfg.Groups,
		relay:      cfg.Relay,
		events:     cfg.Events,
		debug:      cfg.Debug,
		logger:     cfg.Logger,
	}
}

// HandleBatch processes messages one at a time, in order. A failure in one
// message is logged and the batch continues.
func (p *Processor) HandleBatch(ctx context.Context, batch domain.MessageBatch) {
	for _, msg := range batch.Messages {
		if err := p.handleSafe(ctx, msg); err != nil {
			metrics.MessageErrors.Inc()
			p.logger.Error("failed processing message",
				"message_id", msg.ID,
				"chat", msg.Chat,
				"err", err,
			)
		}
	}
}

func (p *Processor) handleSafe(ctx context.Context, msg domain.InboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handle(ctx, msg)
}

func (p *Processor) handle(ctx context.Context, msg domain.InboundMessage) error {
	if !identity.IsGroup(msg.Chat) {
		return nil
	}
	metrics.MessagesSeen.Inc()

	content := extract.Extract(msg.Content)
	decision := p.classifier.Evaluate(ctx, content)
	if !decision.Forward {
		metrics.Dropped(string(decision.Reason)).Inc()
		p.logger.Debug("message dropped", "message_id", msg.ID, "chat", msg.Chat, "reason", decision.Reason)
		p.emit(bus.EventMessageDropped, msg, decision.Reason)
		return nil
	}

	payload := webhook.Payload{
		MessageID:    msg.ID,
		GroupID:      msg.Chat,
		GroupName:    p.groups.ResolveName(ctx, msg.Chat),
		SenderName:   SenderName(msg),
		SenderNumber: SenderNumber(msg),
		Text:         decision.Text,
	}
	metrics.GroupsCached.Set(int64(p.groups.Len()))
	if p.debug {
		quoted := content.Quoted
		payload.MentionedJIDs = content.Mentions
		if payload.MentionedJIDs == nil {
			payload.MentionedJIDs = []string{}
		}
		payload.Quoted = &quoted
		payload.Reason = string(decision.Reason)
	}

	p.logger.Info("relaying message",
		"message_id", msg.ID,
		"group", payload.GroupName,
		"reason", decision.Reason,
	)
	p.relay.Deliver(ctx, payload)
	metrics.MessagesRelayed.Inc()
	p.emit(bus.EventMessageForwarded, msg, decision.Reason)
	return nil
}

func (p *Processor) emit(topic string, msg domain.InboundMessage, reason relevance.Reason) {
	if p.events == nil {
		return
	}
	p.events.Emit(bus.Event{
		Type:   topic,
		Source: "pipeline",
		Payload: map[string]any{
			"messageId": msg.ID,
			"groupId":   msg.Chat,
			"reason":    string(reason),
		},
	})
}

// phoneSender returns the phone-addressed form of the sender, if any.
func phoneSender(msg domain.InboundMessage) string {
	for _, addr := range []string{msg.Sender, msg.SenderAlt} {
		if addr != "" && identity.Server(addr) == identity.PhoneServer {
			return addr
		}
	}
	return ""
}

// SenderName is the push name, else the sender's phone digits, else the
// raw sender address.
func SenderName(msg domain.InboundMessage) string {
	if msg.PushName != "" {
		return msg.PushName
	}
	if phone := identity.CanonicalPhone(phoneSender(msg)); phone != "" {
		return phone
	}
	if msg.Sender != "" {
		return msg.Sender
	}
	return msg.Chat
}

// SenderNumber is the sender's phone digits, or nil when the sender is
// only known by an opaque identifier.
func SenderNumber(msg domain.InboundMessage) *string {
	phone := identity.CanonicalPhone(phoneSender(msg))
	if phone == "" {
		return nil
	}
	return &phone
}
