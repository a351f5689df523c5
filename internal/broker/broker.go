// Package broker implements the accept-and-dispatch loop and the
// periodic prune task described in spec.md §4.5, adapted from the
// teacher's accept-loop/goroutine shape in its JSON-RPC service to a
// router-socket multipart loop.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NadimGhaznavi/hydra-router/internal/config"
	"github.com/NadimGhaznavi/hydra-router/internal/envelope"
	"github.com/NadimGhaznavi/hydra-router/internal/registry"
	"github.com/NadimGhaznavi/hydra-router/internal/router"
	"github.com/NadimGhaznavi/hydra-router/internal/transport"
)

const shutdownGrace = 5 * time.Second

// Broker owns the router transport endpoint and the peer registry. It
// never crashes on malformed input or a downstream send failure; both
// are logged and the loop continues.
type Broker struct {
	cfg       config.BrokerConfig
	transport transport.RouterTransport
	registry  *registry.Registry
	log       zerolog.Logger

	wg sync.WaitGroup
}

func New(cfg config.BrokerConfig, t transport.RouterTransport, log zerolog.Logger) *Broker {
	reg := registry.New()
	b := &Broker{cfg: cfg, transport: t, registry: reg, log: log.With().Str("component", "broker").Logger()}
	reg.OnEvent(func(event string, rec registry.PeerRecord) {
		b.log.Info().Str("event", event).Str("identity", registry.HexIdentity(rec.Identity)).Str("type", string(rec.Type)).Msg("peer registry change")
	})
	return b
}

// Registry exposes the peer registry for tests and for a
// client_registry_request served outside the normal loop (e.g. an admin
// probe); production routing never needs this accessor.
func (b *Broker) Registry() *registry.Registry { return b.registry }

// Run binds the transport and runs the accept-dispatch loop and the
// prune task until ctx is cancelled, then shuts both down within a
// bounded grace period.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.transport.Bind(b.cfg.ListenAddress()); err != nil {
		return err
	}
	b.log.Info().Str("address", b.cfg.ListenAddress()).Msg("broker listening")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.wg.Add(2)
	go b.acceptLoop(runCtx)
	go b.pruneLoop(runCtx)

	<-ctx.Done()
	b.log.Info().Msg("shutdown requested")
	cancel()
	_ = b.transport.Close()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		b.log.Warn().Msg("shutdown grace period elapsed, abandoning remaining tasks")
	}
	return nil
}

func (b *Broker) acceptLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		identity, payload, err := b.transport.RecvMultipart(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn().Err(err).Msg("frame error")
			continue
		}
		b.handleInbound(identity, payload)
	}
}

func (b *Broker) handleInbound(identity string, payload []byte) {
	env, diag := envelope.Validate(payload, maxEnvelopeBytes)
	if diag != nil {
		// Best-effort read of the declared sender type; empty when the
		// payload is not an object or carries no string sender.
		var declared struct {
			Sender any `json:"sender"`
		}
		_ = json.Unmarshal(payload, &declared)
		senderType, _ := declared.Sender.(string)
		b.log.Warn().
			Str("rule", diag.Rule).
			Str("identity", registry.HexIdentity(identity)).
			Str("sender_type", senderType).
			Str("body", diag.TruncatedBody).
			Msg("dropped invalid envelope")
		return
	}

	b.registry.Observe(identity, envelope.PeerType(env.Sender), env.ClientID)

	actions := router.Route(env, identity, b.registry)
	for _, action := range actions {
		b.dispatch(action)
	}
}

// maxEnvelopeBytes mirrors the peer-side max_message_bytes default; the
// broker applies the same ceiling uniformly to every inbound envelope.
const maxEnvelopeBytes = 65536

func (b *Broker) dispatch(action router.Action) {
	payload, err := action.Envelope.ToJSON()
	if err != nil {
		b.log.Error().Err(err).Msg("failed to serialize outbound envelope")
		return
	}
	for _, recipient := range action.Recipients {
		if err := b.transport.SendMultipart(recipient, payload); err != nil {
			b.log.Warn().Err(err).Str("recipient", registry.HexIdentity(recipient)).Msg("send failed, peer not evicted")
		}
	}
}

func (b *Broker) pruneLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.HeartbeatCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := b.registry.Prune(time.Now(), b.cfg.ClientTimeout)
			for _, rec := range evicted {
				b.log.Info().Str("identity", registry.HexIdentity(rec.Identity)).Str("type", string(rec.Type)).Msg("pruned idle peer")
			}
		}
	}
}
