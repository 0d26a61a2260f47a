// Package session owns the single chat session: it consumes client events,
// tracks connection state and the pairing token, learns the owner identity
// and schedules reconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"mentionrelay/internal/bus"
	"mentionrelay/internal/domain"
	"mentionrelay/internal/identity"
	"mentionrelay/internal/metrics"
)

// RestartMode selects how a restart-required close is handled.
type RestartMode string

const (
	RestartInProcess RestartMode = "inprocess"
	RestartExit      RestartMode = "exit"
)

const (
	defaultReconnectDelay = 2 * time.Second
	defaultRestartDelay   = 1 * time.Second
	exitDelay             = 200 * time.Millisecond
	restartExitDelay      = 100 * time.Millisecond
)

// ErrNoSession is returned by client-backed lookups while no client exists.
var ErrNoSession = errors.New("no active session")

// BatchHandler processes one live message batch. Implementations must not
// panic out; the controller still recovers if they do.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch domain.MessageBatch)
}

// Config configures a Controller.
type Config struct {
	Factory        domain.ClientFactory
	Bus            *bus.InMemoryBus
	Events         *bus.EventBus // optional status observers
	Resolver       *identity.Resolver
	Handler        BatchHandler
	ReconnectDelay time.Duration
	RestartDelay   time.Duration
	RestartMode    RestartMode

	// Wipe removes stored credentials. Used by Reset.
	Wipe func() error
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)

	Logger *slog.Logger
}

// Status is the snapshot exposed to the control layer.
type Status struct {
	State    domain.ConnState      `json:"status"`
	HasQR    bool                  `json:"hasQR"`
	Owner    identity.Owner        `json:"owner"`
	LastCode domain.DisconnectCode `json:"lastCode,omitempty"`
}

// Controller is the connection lifecycle state machine.
type Controller struct {
	factory        domain.ClientFactory
	bus            *bus.InMemoryBus
	events         *bus.EventBus
	resolver       *identity.Resolver
	handler        BatchHandler
	reconnectDelay time.Duration
	restartDelay   time.Duration
	restartMode    RestartMode
	wipe           func() error
	exit           func(int)
	after          func(time.Duration, func())
	logger         *slog.Logger

	mu       sync.RWMutex
	state    domain.ConnState
	qr       string
	lastCode domain.DisconnectCode
	client   domain.ChatClient
	gen      uint64

	reconnecting atomic.Bool
	fatal        chan error
	batches      sync.WaitGroup
	runCtx       context.Context
}

func New(cfg Config) *Controller {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.RestartMode == "" {
		cfg.RestartMode = RestartInProcess
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		factory:        cfg.Factory,
		bus:            cfg.Bus,
		events:         cfg.Events,
		resolver:       cfg.Resolver,
		handler:        cfg.Handler,
		reconnectDelay: cfg.ReconnectDelay,
		restartDelay:   cfg.RestartDelay,
		restartMode:    cfg.RestartMode,
		wipe:           cfg.Wipe,
		exit:           cfg.Exit,
		after:          func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		logger:         cfg.Logger,
		state:          domain.StateIdle,
		fatal:          make(chan error, 1),
		runCtx:         context.Background(),
	}
}

// Run connects and consumes session events until ctx is cancelled, the bus
// is closed, or a connect attempt fails. A connect failure is returned so
// the caller can exit non-zero.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}

	events := c.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case err := <-c.fatal:
			c.shutdown()
			return err
		case env, ok := <-events:
			if !ok {
				c.shutdown()
				return nil
			}
			c.dispatch(ctx, env)
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		client.Disconnect()
	}
	c.batches.Wait()
}

// connect builds a fresh client under a new generation and starts it.
func (c *Controller) connect(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	client, err := c.factory(ctx, c.bus.Sink(gen))
	if err != nil {
		return fmt.Errorf("create session client: %w", err)
	}

	if self := client.Self(); self.Opaque != "" {
		c.resolver.SetOwner(identity.Owner{Opaque: self.Opaque})
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	c.setState(domain.StateConnecting, domain.CodeNone)

	c.logger.Info("connecting session", "generation", gen)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect session: %w", err)
	}
	return nil
}

func (c *Controller) dispatch(ctx context.Context, env bus.Envelope) {
	if batch, ok := env.Event.(domain.MessageBatchReceived); ok {
		c.onBatch(ctx, batch.Batch)
		return
	}

	c.mu.RLock()
	current := c.gen
	c.mu.RUnlock()
	if env.Generation != current {
		c.logger.Debug("ignoring event from replaced client",
			"generation", env.Generation, "current", current)
		return
	}

	switch e := env.Event.(type) {
	case domain.PairingCodeIssued:
		c.onPairingCode(e.Code)
	case domain.ConnectionStateChanged:
		switch e.State {
		case domain.StateOpen:
			c.onOpen()
		case domain.StateClosed:
			c.onClose(e.Code, e.Err)
		default:
			c.setState(e.State, domain.CodeNone)
		}
	}
}

func (c *Controller) onPairingCode(code string) {
	c.mu.Lock()
	if c.state != domain.StateConnecting {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("pairing code outside connecting state ignored", "state", state)
		return
	}
	c.qr = code
	c.mu.Unlock()

	c.logger.Info("pairing code available")
	c.emit(bus.EventSessionQR, map[string]any{"hasQR": true, "qr": code})
}

func (c *Controller) onOpen() {
	c.mu.Lock()
	c.qr = ""
	client := c.client
	c.mu.Unlock()
	c.setState(domain.StateOpen, domain.CodeNone)
	metrics.SessionConnected.Set(1)

	if client == nil {
		return
	}
	self := client.Self()
	if c.resolver.SetOwner(identity.Owner{Phone: self.Phone, Opaque: self.Opaque}) {
		owner := c.resolver.Owner()
		c.logger.Info("detected owner identity for mentions", "phone", owner.Phone, "opaque", owner.Opaque)
	}
}

func (c *Controller) onClose(code domain.DisconnectCode, cause error) {
	metrics.SessionConnected.Set(0)

	c.mu.Lock()
	if c.state == domain.StateLoggedOut {
		c.mu.Unlock()
		c.logger.Debug("close after logout ignored", "code", int(code))
		return
	}
	if code.LoggedOut() {
		c.qr = ""
		c.mu.Unlock()
		c.setState(domain.StateLoggedOut, code)
		c.logger.Warn("session logged out, reset credentials to pair again", "code", int(code), "err", cause)
		return
	}
	c.mu.Unlock()

	c.setState(domain.StateClosed, code)
	c.logger.Warn("connection closed", "code", int(code), "err", cause)

	if code.RestartRequired() {
		if c.restartMode == RestartExit {
			c.logger.Warn("restart required, exiting for supervisor", "mode", c.restartMode)
			c.after(restartExitDelay, func() { c.exit(0) })
			return
		}
		c.scheduleReconnect(c.restartDelay, "restart required")
		return
	}
	c.scheduleReconnect(c.reconnectDelay, "connection lost")
}

// scheduleReconnect tears down the current client and builds a new one
// after delay. At most one reconnect is pending at any time.
func (c *Controller) scheduleReconnect(delay time.Duration, reason string) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		c.logger.Debug("reconnect already pending", "reason", reason)
		return
	}
	metrics.Reconnects.Inc()
	c.logger.Info("reconnect scheduled", "reason", reason, "delay", delay)

	c.after(delay, func() {
		defer c.reconnecting.Store(false)

		c.mu.Lock()
		old := c.client
		c.client = nil
		state := c.state
		ctx := c.runCtx
		c.mu.Unlock()

		if old != nil {
			old.Disconnect()
		}
		if state == domain.StateLoggedOut || ctx.Err() != nil {
			return
		}
		if err := c.connect(ctx); err != nil {
			c.logger.Error("reconnect failed", "err", err)
			select {
			case c.fatal <- err:
			default:
			}
		}
	})
}

func (c *Controller) onBatch(ctx context.Context, batch domain.MessageBatch) {
	if batch.Type != domain.BatchNotify {
		c.logger.Debug("skipping non-live batch", "type", batch.Type, "count", len(batch.Messages))
		return
	}
	if c.handler == nil || len(batch.Messages) == 0 {
		return
	}

	c.batches.Add(1)
	go func() {
		defer c.batches.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("batch handler panic", "panic", r)
			}
		}()
		c.handler.HandleBatch(ctx, batch)
	}()
}

func (c *Controller) setState(state domain.ConnState, code domain.DisconnectCode) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	if code != domain.CodeNone {
		c.lastCode = code
	}
	c.mu.Unlock()

	if prev != state {
		c.logger.Info("connection update", "from", prev, "to", state)
	}
	c.emit(bus.EventSessionState, map[string]any{"state": string(state), "code": int(code)})
}

func (c *Controller) emit(topic string, payload map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Emit(bus.Event{Type: topic, Source: "session", Payload: payload})
}

// Status returns the last known state, even while disconnected.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		State:    c.state,
		HasQR:    c.qr != "",
		Owner:    c.resolver.Owner(),
		LastCode: c.lastCode,
	}
}

// PairingCode returns the current pairing token, if any.
func (c *Controller) PairingCode() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qr, c.qr != ""
}

// GroupName fetches a group subject through the current client.
func (c *Controller) GroupName(ctx context.Context, groupID string) (string, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return "", ErrNoSession
	}
	return client.GroupName(ctx, groupID)
}

// PhoneForOpaque resolves an opaque identifier through the current client's
// contact store, when it has one.
func (c *Controller) PhoneForOpaque(ctx context.Context, opaque string) (string, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	lookup, ok := client.(domain.AliasLookup)
	if !ok {
		return "", ErrNoSession
	}
	return lookup.PhoneForOpaque(ctx, opaque)
}

// Reset logs out (best effort), wipes stored credentials and exits the
// process shortly after. It does not wait for the exit.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		if err := client.Logout(ctx); err != nil {
			c.logger.Warn("logout during reset failed", "err", err)
		}
	}
	if c.wipe != nil {
		if err := c.wipe(); err != nil {
			c.logger.Warn("credential wipe failed", "err", err)
		}
	}
	c.logger.Warn("session reset requested, exiting")
	c.after(exitDelay, func() { c.exit(0) })
}

// Restart exits the process shortly after, keeping credentials.
func (c *Controller) Restart() {
	c.logger.Warn("restart requested, exiting")
	c.after(exitDelay, func() { c.exit(0) })
}
