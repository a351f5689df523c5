package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/NadimGhaznavi/hydra-router/internal/broker"
	"github.com/NadimGhaznavi/hydra-router/internal/config"
	"github.com/NadimGhaznavi/hydra-router/internal/envelope"
	"github.com/NadimGhaznavi/hydra-router/internal/transport/memtransport"
	"github.com/NadimGhaznavi/hydra-router/public/client"
)

const testAddress = "mem:5556"

func startTestBroker(t *testing.T, timeout time.Duration) (*memtransport.Network, context.CancelFunc) {
	t.Helper()
	net := memtransport.NewNetwork()
	cfg := config.DefaultBrokerConfig()
	cfg.Address = "mem"
	cfg.Port = 5556
	cfg.ClientTimeoutSeconds = timeout.Seconds()
	cfg.Resolve()

	rt := net.NewRouter()
	b := broker.New(cfg, rt, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	return net, cancel
}

func newPeer(t *testing.T, net *memtransport.Network, peerType envelope.PeerType) *client.MQClient {
	t.Helper()
	cfg := config.DefaultPeerConfig(testAddress, peerType)
	cfg.HeartbeatIntervalSeconds = 1 // slow enough not to interfere with short tests
	c := client.New(cfg, net.NewDealer(), zerolog.Nop())
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

// S1 square round-trip.
func TestSquareRoundTrip(t *testing.T) {
	net, cancel := startTestBroker(t, 30*time.Second)
	defer cancel()

	server := newPeer(t, net, envelope.SimpleServer)
	server.RegisterHandler(envelope.KindSquareRequest, func(msg envelope.Message) {
		n, _ := msg.Data["number"].(float64)
		_ = server.Send(envelope.Message{
			Kind:      envelope.KindSquareResponse,
			RequestID: msg.RequestID,
			Data:      map[string]any{"number": n, "result": n * n},
		})
	})
	time.Sleep(20 * time.Millisecond)

	clientPeer := newPeer(t, net, envelope.SimpleClient)
	resp, err := clientPeer.Request(envelope.KindSquareRequest, map[string]any{"number": float64(7)}, 2*time.Second)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.Kind != envelope.KindSquareResponse {
		t.Fatalf("expected square_response, got %s", resp.Kind)
	}
	if resp.Data["result"] != float64(49) {
		t.Fatalf("expected result 49, got %v", resp.Data["result"])
	}
}

// S2 no server.
func TestNoServerSynthesizesError(t *testing.T) {
	net, cancel := startTestBroker(t, 30*time.Second)
	defer cancel()

	clientPeer := newPeer(t, net, envelope.SimpleClient)
	resp, err := clientPeer.Request(envelope.KindSquareRequest, map[string]any{"number": float64(3)}, time.Second)
	if err != nil {
		t.Fatalf("expected a synthesized error response, not a client-side error: %v", err)
	}
	if resp.Kind != envelope.KindError {
		t.Fatalf("expected error kind, got %s", resp.Kind)
	}
	if resp.Data["reason"] != "no server connected" {
		t.Fatalf("unexpected reason: %v", resp.Data["reason"])
	}
}

// S3 broadcast.
func TestBroadcastExcludesSenderAndServers(t *testing.T) {
	net, cancel := startTestBroker(t, 30*time.Second)
	defer cancel()

	server := newPeer(t, net, envelope.HydraServer)

	received := make(chan envelope.Message, 2)
	a := newPeer(t, net, envelope.HydraClient)
	a.RegisterHandler(envelope.KindStatusUpdate, func(msg envelope.Message) { received <- msg })
	b := newPeer(t, net, envelope.HydraClient)
	b.RegisterHandler(envelope.KindStatusUpdate, func(msg envelope.Message) { received <- msg })
	serverGotOwn := make(chan envelope.Message, 1)
	server.RegisterHandler(envelope.KindStatusUpdate, func(msg envelope.Message) { serverGotOwn <- msg })

	time.Sleep(20 * time.Millisecond)
	if err := server.Send(envelope.Message{Kind: envelope.KindStatusUpdate, Data: map[string]any{"state": "running"}}); err != nil {
		t.Fatalf("server send: %v", err)
	}

	timeout := time.After(time.Second)
	count := 0
	for count < 2 {
		select {
		case <-received:
			count++
		case <-timeout:
			t.Fatalf("expected 2 broadcasts, got %d", count)
		}
	}
	select {
	case <-serverGotOwn:
		t.Fatal("server must not receive its own broadcast back")
	case <-time.After(50 * time.Millisecond):
	}
}

// S5 registry query.
func TestRegistryQueryListsAllPeers(t *testing.T) {
	net, cancel := startTestBroker(t, 30*time.Second)
	defer cancel()

	_ = newPeer(t, net, envelope.HydraServer)
	c1 := newPeer(t, net, envelope.HydraClient)
	_ = newPeer(t, net, envelope.HydraClient)
	time.Sleep(20 * time.Millisecond)

	resp, err := c1.QueryRegistry(time.Second)
	if err != nil {
		t.Fatalf("query_registry: %v", err)
	}
	if resp.Kind != envelope.KindClientRegistryResponse {
		t.Fatalf("expected client_registry_response, got %s", resp.Kind)
	}
	if len(resp.Data) != 3 {
		t.Fatalf("expected 3 registered peers, got %d: %+v", len(resp.Data), resp.Data)
	}
}
