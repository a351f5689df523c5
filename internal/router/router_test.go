package router

import (
	"testing"
	"time"

	"github.com/NadimGhaznavi/hydra-router/internal/envelope"
	"github.com/NadimGhaznavi/hydra-router/internal/registry"
)

type fakeRegistry struct {
	clients   []string
	serverID  string
	displaced []string // server-category peers still registered but no longer THE server
	snapshot  map[string]registry.Snapshot
}

func (f fakeRegistry) ByType(category envelope.Category) []string {
	if category == envelope.CategoryClient {
		return f.clients
	}
	var out []string
	if f.serverID != "" {
		out = append(out, f.serverID)
	}
	out = append(out, f.displaced...)
	return out
}

func (f fakeRegistry) AllIdentities() []string {
	var out []string
	out = append(out, f.clients...)
	if f.serverID != "" {
		out = append(out, f.serverID)
	}
	out = append(out, f.displaced...)
	return out
}

func (f fakeRegistry) ServerIdentity() string                  { return f.serverID }
func (f fakeRegistry) Snapshot() map[string]registry.Snapshot { return f.snapshot }

func TestHeartbeatProducesNoAction(t *testing.T) {
	env := &envelope.Envelope{Sender: string(envelope.HydraClient), Elem: string(envelope.KindHeartbeat)}
	actions := Route(env, "c1", fakeRegistry{})
	if actions != nil {
		t.Fatalf("expected no outbound actions for heartbeat, got %v", actions)
	}
}

func TestClientRequestForwardsToServer(t *testing.T) {
	env := &envelope.Envelope{Sender: string(envelope.HydraClient), Elem: "square_request", RequestID: "r1"}
	reg := fakeRegistry{serverID: "srv"}
	actions := Route(env, "c1", reg)
	if len(actions) != 1 || actions[0].Kind != ActionSendTo || actions[0].Recipients[0] != "srv" {
		t.Fatalf("expected forward to srv, got %+v", actions)
	}
	if actions[0].Envelope != env {
		t.Fatal("forward must not re-wrap or mutate the original envelope")
	}
}

func TestClientRequestNoServerSynthesizesError(t *testing.T) {
	env := &envelope.Envelope{Sender: string(envelope.HydraClient), Elem: "square_request", RequestID: "r1"}
	actions := Route(env, "c1", fakeRegistry{})
	if len(actions) != 1 {
		t.Fatalf("expected exactly one action, got %d", len(actions))
	}
	a := actions[0]
	if a.Kind != ActionSendTo || a.Recipients[0] != "c1" {
		t.Fatalf("expected error sent back to sender, got %+v", a)
	}
	if a.Envelope.Elem != string(envelope.KindError) || a.Envelope.Data["reason"] != noServerReason {
		t.Fatalf("expected synthesized no-server error, got %+v", a.Envelope)
	}
	if a.Envelope.RequestID != "r1" {
		t.Fatal("expected request_id preserved on synthesized error")
	}
}

func TestServerMessageBroadcastsExcludingSender(t *testing.T) {
	env := &envelope.Envelope{Sender: string(envelope.HydraServer), Elem: string(envelope.KindStatusUpdate)}
	reg := fakeRegistry{clients: []string{"a", "b"}, serverID: "srv"}
	actions := Route(env, "srv", reg)
	if len(actions) != 1 || actions[0].Kind != ActionBroadcast {
		t.Fatalf("expected one broadcast action, got %+v", actions)
	}
	if len(actions[0].Recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %v", actions[0].Recipients)
	}
}

func TestServerMessageBroadcastReachesDisplacedServer(t *testing.T) {
	env := &envelope.Envelope{Sender: string(envelope.HydraServer), Elem: string(envelope.KindStatusUpdate)}
	reg := fakeRegistry{clients: []string{"a", "b"}, serverID: "srv2", displaced: []string{"srv1"}}
	actions := Route(env, "srv2", reg)
	if len(actions) != 1 || actions[0].Kind != ActionBroadcast {
		t.Fatalf("expected one broadcast action, got %+v", actions)
	}
	want := map[string]bool{"a": true, "b": true, "srv1": true}
	if len(actions[0].Recipients) != len(want) {
		t.Fatalf("expected %d recipients, got %v", len(want), actions[0].Recipients)
	}
	for _, id := range actions[0].Recipients {
		if !want[id] {
			t.Fatalf("unexpected recipient %q", id)
		}
		delete(want, id)
	}
	if len(want) != 0 {
		t.Fatalf("displaced server srv1 did not receive broadcast, missing %v", want)
	}
}

func TestRegistryQueryFromClientOrServer(t *testing.T) {
	snap := map[string]registry.Snapshot{
		"c1": {ClientID: "c1", Type: envelope.HydraClient, LastHeartbeat: time.Now()},
	}
	reg := fakeRegistry{snapshot: snap}

	for _, sender := range []envelope.PeerType{envelope.HydraClient, envelope.HydraServer} {
		env := &envelope.Envelope{Sender: string(sender), Elem: string(envelope.KindClientRegistryRequest), RequestID: "r1"}
		actions := Route(env, "requester", reg)
		if len(actions) != 1 || actions[0].Envelope.Elem != string(envelope.KindClientRegistryResponse) {
			t.Fatalf("expected registry response for sender %s, got %+v", sender, actions)
		}
		data, ok := actions[0].Envelope.Data["c1"]
		if !ok {
			t.Fatalf("expected snapshot to include c1, got %+v", actions[0].Envelope.Data)
		}
		_ = data
	}
}
