// Package router implements the routing engine: a pure function over an
// inbound envelope, its sender identity, and a registry view, yielding
// outbound actions. It never touches a transport or a clock directly.
package router

import (
	"github.com/NadimGhaznavi/hydra-router/internal/envelope"
	"github.com/NadimGhaznavi/hydra-router/internal/registry"
)

// RegistryView is the read surface the routing engine needs. Satisfied
// by *registry.Registry; narrowed to an interface so tests can supply a
// fixed snapshot without a live registry.
type RegistryView interface {
	ByType(category envelope.Category) []string
	AllIdentities() []string
	ServerIdentity() string
	Snapshot() map[string]registry.Snapshot
}

// ActionKind enumerates the outbound actions the broker loop executes.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSendTo
	ActionBroadcast
)

// Action is one outbound instruction: send Envelope to Recipients (one
// identity for ActionSendTo, many for ActionBroadcast).
type Action struct {
	Kind       ActionKind
	Recipients []string
	Envelope   *envelope.Envelope
}

const noServerReason = "no server connected"

// Route implements spec.md §4.4's decision table.
func Route(env *envelope.Envelope, senderIdentity string, reg RegistryView) []Action {
	if env.Elem == string(envelope.KindHeartbeat) {
		return nil
	}

	category := envelope.CategoryOf(envelope.PeerType(env.Sender))

	if env.Elem == string(envelope.KindClientRegistryRequest) {
		return []Action{registryQueryResponse(env, senderIdentity, reg)}
	}

	switch category {
	case envelope.CategoryClient:
		serverID := reg.ServerIdentity()
		if serverID == "" {
			return []Action{noServerError(env, senderIdentity)}
		}
		return []Action{{Kind: ActionSendTo, Recipients: []string{serverID}, Envelope: env}}
	case envelope.CategoryServer:
		// Broadcast reaches every known peer except the sender and the
		// current server identity, not just peers declared client-type:
		// a server displaced by a newer registration (spec.md §4.3/§9)
		// keeps its stored server Type and would be missed by
		// ByType(CategoryClient), but it must still receive broadcasts
		// as an ordinary recipient.
		serverID := reg.ServerIdentity()
		recipients := make([]string, 0)
		for _, id := range reg.AllIdentities() {
			if id != senderIdentity && id != serverID {
				recipients = append(recipients, id)
			}
		}
		if len(recipients) == 0 {
			return nil
		}
		return []Action{{Kind: ActionBroadcast, Recipients: recipients, Envelope: env}}
	default:
		return nil
	}
}

func registryQueryResponse(env *envelope.Envelope, senderIdentity string, reg RegistryView) Action {
	snap := reg.Snapshot()
	data := make(map[string]any, len(snap))
	for key, row := range snap {
		data[key] = map[string]any{
			"type":           string(row.Type),
			"last_heartbeat": row.LastHeartbeat.Unix(),
		}
	}
	resp := &envelope.Envelope{
		Sender:    string(envelope.RouterIdentity),
		Elem:      string(envelope.KindClientRegistryResponse),
		Timestamp: env.Timestamp,
		RequestID: env.RequestID,
		Data:      data,
	}
	return Action{Kind: ActionSendTo, Recipients: []string{senderIdentity}, Envelope: resp}
}

func noServerError(env *envelope.Envelope, senderIdentity string) Action {
	resp := &envelope.Envelope{
		Sender:    string(envelope.RouterIdentity),
		Elem:      string(envelope.KindError),
		Timestamp: env.Timestamp,
		RequestID: env.RequestID,
		Data:      map[string]any{"reason": noServerReason},
	}
	return Action{Kind: ActionSendTo, Recipients: []string{senderIdentity}, Envelope: resp}
}
