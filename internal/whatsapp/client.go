// Package whatsapp adapts a whatsmeow client to the session controller's
// ChatClient contract, translating its events into session events.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"mentionrelay/internal/domain"
)

var ErrNoPhoneForOpaque = errors.New("no phone number known for identifier")

// ClientConfig configures the client factory.
type ClientConfig struct {
	Store  *Store
	Logger *slog.Logger
}

// Client is one whatsmeow session. It is discarded after Disconnect.
type Client struct {
	wa     *whatsmeow.Client
	sink   domain.EventSink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewFactory returns a ClientFactory that loads the stored device and wires
// a fresh whatsmeow client to sink.
func NewFactory(cfg ClientConfig) domain.ClientFactory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	waLogger := NewLogger(logger, "whatsmeow")

	return func(ctx context.Context, sink domain.EventSink) (domain.ChatClient, error) {
		device, err := cfg.Store.Device(ctx)
		if err != nil {
			return nil, err
		}
		return newClient(whatsmeow.NewClient(device, waLogger), sink, logger), nil
	}
}

func newClient(wa *whatsmeow.Client, sink domain.EventSink, logger *slog.Logger) *Client {
	// The controller owns reconnection, including the restart after pairing.
	wa.EnableAutoReconnect = false
	wa.DisableLoginAutoReconnect = true

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		wa:     wa,
		sink:   sink,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	wa.AddEventHandler(c.handleEvent)
	return c
}

// Connect starts the connection. Unpaired devices get a QR channel whose
// codes are forwarded as pairing events.
func (c *Client) Connect(ctx context.Context) error {
	if c.wa.Store.ID == nil {
		qr, err := c.wa.GetQRChannel(c.ctx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			return fmt.Errorf("get QR channel: %w", err)
		}
		if qr != nil {
			go c.consumeQR(qr)
		}
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	return nil
}

func (c *Client) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			c.sink.Emit(domain.PairingCodeIssued{Code: item.Code})
		case "success":
			c.logger.Info("device paired")
		case "timeout":
			c.sink.Emit(domain.ConnectionStateChanged{
				State: domain.StateClosed,
				Code:  domain.CodeConnectionLost,
				Err:   errors.New("pairing window expired"),
			})
		default:
			c.logger.Warn("qr channel event", "event", item.Event, "err", item.Error)
		}
	}
}

func (c *Client) Disconnect() {
	c.once.Do(func() {
		c.cancel()
		c.wa.RemoveEventHandlers()
		c.wa.Disconnect()
	})
}

func (c *Client) Logout(ctx context.Context) error {
	if c.wa.Store.ID == nil {
		return nil
	}
	return c.wa.Logout(ctx)
}

func (c *Client) GroupName(ctx context.Context, groupID string) (string, error) {
	jid, err := types.ParseJID(groupID)
	if err != nil {
		return "", fmt.Errorf("parse group id %q: %w", groupID, err)
	}
	info, err := c.wa.GetGroupInfo(ctx, jid)
	if err != nil {
		return "", fmt.Errorf("group info %s: %w", groupID, err)
	}
	return info.Name, nil
}

func (c *Client) Self() domain.SelfIdentity {
	var self domain.SelfIdentity
	if id := c.wa.Store.ID; id != nil {
		self.Phone = id.String()
	}
	if !c.wa.Store.LID.IsEmpty() {
		self.Opaque = c.wa.Store.LID.String()
	}
	self.PushName = c.wa.Store.PushName
	return self
}

// PhoneForOpaque maps an opaque base to its phone address using the
// identifiers the session has learned.
func (c *Client) PhoneForOpaque(ctx context.Context, opaque string) (string, error) {
	pn, err := c.wa.Store.LIDs.GetPNForLID(ctx, types.NewJID(opaque, types.HiddenUserServer))
	if err != nil {
		return "", fmt.Errorf("lid lookup %s: %w", opaque, err)
	}
	if pn.IsEmpty() {
		return "", ErrNoPhoneForOpaque
	}
	return pn.String(), nil
}

func (c *Client) handleEvent(evt interface{}) {
	if out, ok := translate(evt); ok {
		c.sink.Emit(out)
		return
	}
	switch v := evt.(type) {
	case *events.PairSuccess:
		c.logger.Info("pair success", "id", v.ID.String(), "platform", v.Platform)
	case *events.KeepAliveTimeout:
		c.logger.Warn("keepalive timeout", "errors", v.ErrorCount)
	case *events.ClientOutdated:
		c.logger.Error("client version rejected as outdated")
	}
}

// translate maps a whatsmeow event to a session event. Unknown events
// return false.
func translate(evt interface{}) (domain.SessionEvent, bool) {
	switch v := evt.(type) {
	case *events.Connected:
		return domain.ConnectionStateChanged{State: domain.StateOpen}, true
	case *events.LoggedOut:
		return closedWith(domain.CodeLoggedOut, fmt.Errorf("logged out: %s", v.Reason.String())), true
	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			return closedWith(domain.CodeLoggedOut, fmt.Errorf("connect failure: %s", v.Reason.String())), true
		}
		return closedWith(domain.DisconnectCode(v.Reason), fmt.Errorf("connect failure: %s %s", v.Reason.String(), v.Message)), true
	case *events.ManualLoginReconnect:
		return closedWith(domain.CodeRestartRequired, errors.New("restart required after login")), true
	case *events.StreamReplaced:
		return closedWith(domain.CodeConnectionReplaced, errors.New("stream replaced")), true
	case *events.TemporaryBan:
		return closedWith(domain.CodeForbidden, fmt.Errorf("temporary ban: %s", v.String())), true
	case *events.Disconnected:
		return closedWith(domain.CodeConnectionClosed, nil), true
	case *events.Message:
		return domain.MessageBatchReceived{Batch: domain.MessageBatch{
			Type:     domain.BatchNotify,
			Messages: []domain.InboundMessage{inbound(v)},
		}}, true
	case *events.HistorySync:
		return domain.MessageBatchReceived{Batch: domain.MessageBatch{Type: domain.BatchHistory}}, true
	}
	return nil, false
}

func closedWith(code domain.DisconnectCode, err error) domain.ConnectionStateChanged {
	return domain.ConnectionStateChanged{State: domain.StateClosed, Code: code, Err: err}
}

func inbound(v *events.Message) domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:        v.Info.ID,
		Chat:      v.Info.Chat.String(),
		Sender:    v.Info.Sender.String(),
		PushName:  v.Info.PushName,
		FromMe:    v.Info.IsFromMe,
		Content:   v.Message,
		Timestamp: v.Info.Timestamp,
	}
	if !v.Info.SenderAlt.IsEmpty() {
		msg.SenderAlt = v.Info.SenderAlt.String()
	}
	return msg
}
