// Package client implements MQClient, the peer-side session described in
// spec.md §4.6: connect/disconnect/send/request/register_handler over a
// dealer transport, adapted from the teacher's BrokerClient
// correlation-channel pattern to raw envelopes instead of JSON-RPC.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NadimGhaznavi/hydra-router/internal/config"
	"github.com/NadimGhaznavi/hydra-router/internal/envelope"
	"github.com/NadimGhaznavi/hydra-router/internal/herrors"
	"github.com/NadimGhaznavi/hydra-router/internal/transport"
)

type pendingSlot struct {
	resultCh chan envelope.Message
	errCh    chan error
}

// HandlerFunc processes an unsolicited inbound message. It runs on the
// receive loop and must not block.
type HandlerFunc func(msg envelope.Message)

// MQClient is the peer-side session. Zero value is not usable; construct
// with New.
type MQClient struct {
	cfg       config.PeerConfig
	transport transport.DealerTransport
	log       zerolog.Logger

	mu       sync.Mutex
	pending  map[string]*pendingSlot
	handlers map[envelope.Kind]HandlerFunc

	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg config.PeerConfig, t transport.DealerTransport, log zerolog.Logger) *MQClient {
	return &MQClient{
		cfg:       cfg,
		transport: t,
		log:       log.With().Str("component", "client").Logger(),
		pending:   make(map[string]*pendingSlot),
		handlers:  make(map[envelope.Kind]HandlerFunc),
	}
}

// RegisterHandler installs fn for unsolicited inbound messages of kind.
func (c *MQClient) RegisterHandler(kind envelope.Kind, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = fn
}

// Connect opens the dealer socket, sends an initial heartbeat, and
// starts the heartbeat and receive background tasks. A second call while
// connected is a no-op.
func (c *MQClient) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if err := c.transport.Connect(c.cfg.RouterAddress); err != nil {
		return herrors.New(herrors.ConnectionError, "client", "connect failed").WithField("error", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.Send(envelope.Message{Kind: envelope.KindHeartbeat}); err != nil {
		c.log.Warn().Err(err).Msg("initial heartbeat failed")
	}

	c.wg.Add(2)
	go c.heartbeatLoop(ctx)
	go c.receiveLoop(ctx)
	return nil
}

// Disconnect cancels background tasks, closes the socket, and resolves
// all pending requests with a cancellation error.
func (c *MQClient) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	err := c.transport.Close()
	c.wg.Wait()

	c.mu.Lock()
	for id, slot := range c.pending {
		delete(c.pending, id)
		slot.errCh <- herrors.New(herrors.ConnectionError, "client", "disconnected while request pending")
	}
	c.mu.Unlock()

	if err != nil {
		return herrors.New(herrors.ConnectionError, "client", "close failed").WithField("error", err.Error())
	}
	return nil
}

// Send converts message to an Envelope and transmits it.
func (c *MQClient) Send(message envelope.Message) error {
	env, err := envelope.ToEnvelope(c.cfg.PeerType, message)
	if err != nil {
		return err
	}
	if env.ClientID == "" {
		env.ClientID = c.cfg.ClientID
	}
	payload, err := env.ToJSON()
	if err != nil {
		return err
	}
	if c.cfg.MaxMessageBytes > 0 && len(payload) > c.cfg.MaxMessageBytes {
		return herrors.New(herrors.FormatError, "client", "message exceeds max_message_bytes").WithField("size", len(payload))
	}
	if err := c.transport.Send(payload); err != nil {
		return herrors.New(herrors.ConnectionError, "client", "send failed").WithField("error", err.Error())
	}
	return nil
}

// Request sends kind/data with a fresh request_id and blocks until a
// matching response arrives or timeout elapses.
func (c *MQClient) Request(kind envelope.Kind, data map[string]any, timeout time.Duration) (envelope.Message, error) {
	requestID := uuid.New().String()
	slot := &pendingSlot{resultCh: make(chan envelope.Message, 1), errCh: make(chan error, 1)}

	c.mu.Lock()
	c.pending[requestID] = slot
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}

	if err := c.Send(envelope.Message{Kind: kind, RequestID: requestID, Data: data}); err != nil {
		cleanup()
		return envelope.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-slot.resultCh:
		cleanup()
		return msg, nil
	case err := <-slot.errCh:
		cleanup()
		return envelope.Message{}, err
	case <-timer.C:
		cleanup()
		return envelope.Message{}, herrors.New(herrors.TimeoutError, "client", "request timed out").
			WithField("request_id", requestID).WithField("timeout", timeout.String())
	}
}

// QueryRegistry is shorthand for Request(client_registry_request, {}, timeout).
func (c *MQClient) QueryRegistry(timeout time.Duration) (envelope.Message, error) {
	return c.Request(envelope.KindClientRegistryRequest, map[string]any{}, timeout)
}

func (c *MQClient) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	interval := c.cfg.HeartbeatInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(envelope.Message{Kind: envelope.KindHeartbeat}); err != nil {
				c.log.Warn().Err(err).Msg("heartbeat send failed")
			}
		}
	}
}

func (c *MQClient) receiveLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		payload, err := c.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("receive error")
			continue
		}
		env, err := envelope.FromJSON(payload)
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed inbound payload")
			continue
		}
		msg := envelope.FromEnvelope(env)
		c.dispatchInbound(msg)
	}
}

func (c *MQClient) dispatchInbound(msg envelope.Message) {
	if msg.RequestID != "" {
		c.mu.Lock()
		slot, ok := c.pending[msg.RequestID]
		if ok {
			delete(c.pending, msg.RequestID)
		}
		c.mu.Unlock()
		if ok {
			slot.resultCh <- msg
			return
		}
	}

	c.mu.Lock()
	handler, ok := c.handlers[msg.Kind]
	c.mu.Unlock()
	if !ok {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("handler panicked")
			}
		}()
		handler(msg)
	}()
}
