// Package envelope defines the on-wire Envelope schema, the closed
// PeerType/MessageKind vocabularies, the typed in-process Message used by
// the peer client, and the bidirectional codec between the two.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/NadimGhaznavi/hydra-router/internal/herrors"
)

// PeerType is a peer-declared label. The closed set is enforced by
// ValidPeerTypes; RouterIdentity exists only for the broker's own
// self-identification on synthesized replies and is never a legal
// inbound sender.
type PeerType string

const (
	HydraClient    PeerType = "HydraClient"
	SimpleClient   PeerType = "SimpleClient"
	HydraServer    PeerType = "HydraServer"
	SimpleServer   PeerType = "SimpleServer"
	RouterIdentity PeerType = "HydraRouter"
)

// ValidPeerTypes is the closed set of labels accepted as an inbound
// envelope's sender.
var ValidPeerTypes = map[PeerType]bool{
	HydraClient:  true,
	SimpleClient: true,
	HydraServer:  true,
	SimpleServer: true,
}

// Category classifies a PeerType into the two behavioral groups the
// routing engine reasons about.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryClient
	CategoryServer
)

func CategoryOf(p PeerType) Category {
	switch p {
	case HydraClient, SimpleClient:
		return CategoryClient
	case HydraServer, SimpleServer:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}

// Kind is the in-process enumerated tag corresponding one-to-one with a
// wire `elem` label, plus the KindUnknown sentinel for forward
// compatibility with labels this build does not recognize.
type Kind string

const (
	KindHeartbeat               Kind = "heartbeat"
	KindError                   Kind = "error"
	KindClientRegistryRequest   Kind = "client_registry_request"
	KindClientRegistryResponse  Kind = "client_registry_response"
	KindSquareRequest           Kind = "square_request"
	KindSquareResponse          Kind = "square_response"
	KindStartSimulation         Kind = "start_simulation"
	KindStopSimulation          Kind = "stop_simulation"
	KindPauseSimulation         Kind = "pause_simulation"
	KindResumeSimulation        Kind = "resume_simulation"
	KindResetSimulation         Kind = "reset_simulation"
	KindGetSimulationStatus     Kind = "get_simulation_status"
	KindStatusUpdate            Kind = "status_update"
	KindUnknown                 Kind = "unknown"
)

// knownKinds is the static bidirectional table between Kind and its wire
// `elem` label. KindUnknown is deliberately absent: it is a sentinel
// produced by the codec, never a value transmitted on its own account.
var knownKinds = map[Kind]bool{
	KindHeartbeat:              true,
	KindError:                  true,
	KindClientRegistryRequest:  true,
	KindClientRegistryResponse: true,
	KindSquareRequest:          true,
	KindSquareResponse:         true,
	KindStartSimulation:        true,
	KindStopSimulation:         true,
	KindPauseSimulation:        true,
	KindResumeSimulation:       true,
	KindResetSimulation:        true,
	KindGetSimulationStatus:    true,
	KindStatusUpdate:           true,
}

// Envelope is the single on-wire unit exchanged with the broker.
type Envelope struct {
	Sender    string         `json:"sender"`
	Elem      string         `json:"elem"`
	Timestamp float64        `json:"timestamp"`
	ClientID  string         `json:"client_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ToJSON serializes the envelope to its wire form.
func (e *Envelope) ToJSON() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, herrors.New(herrors.FormatError, "envelope", "marshal failed").WithField("error", err.Error())
	}
	return b, nil
}

// FromJSON decodes a wire payload into an Envelope. It does not validate;
// callers run Validate separately so the diagnostic can name the exact
// rule violated.
func FromJSON(payload []byte) (*Envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, herrors.New(herrors.FormatError, "envelope", "invalid JSON").WithField("error", err.Error())
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, herrors.New(herrors.FormatError, "envelope", "schema mismatch").WithField("error", err.Error())
	}
	return &env, nil
}

// Message is the typed in-process record the peer library hands to and
// receives from the application. KindLabel preserves the original wire
// elem when Kind is KindUnknown.
type Message struct {
	Kind      Kind
	KindLabel string
	ClientID  string
	RequestID string
	Data      map[string]any
	Timestamp float64
}

// ToEnvelope converts a typed Message to a wire Envelope, filling
// Timestamp with the current wall-clock time if unset. Unknown kinds
// fail with a FormatError: a peer may receive generic kinds but must
// never originate one.
func ToEnvelope(sender PeerType, m Message) (*Envelope, error) {
	if m.Kind == KindUnknown || !knownKinds[m.Kind] {
		return nil, herrors.New(herrors.FormatError, "envelope", "cannot send unknown message kind").
			WithField("kind", string(m.Kind))
	}
	ts := m.Timestamp
	if ts == 0 {
		ts = float64(time.Now().UnixNano()) / 1e9
	}
	return &Envelope{
		Sender:    string(sender),
		Elem:      string(m.Kind),
		Timestamp: ts,
		ClientID:  m.ClientID,
		RequestID: m.RequestID,
		Data:      m.Data,
	}, nil
}

// FromEnvelope converts a wire Envelope into a typed Message. An elem not
// in the closed set produces KindUnknown with KindLabel preserving the
// original value, rather than failing.
func FromEnvelope(e *Envelope) Message {
	k := Kind(e.Elem)
	label := ""
	if !knownKinds[k] {
		label = e.Elem
		k = KindUnknown
	}
	return Message{
		Kind:      k,
		KindLabel: label,
		ClientID:  e.ClientID,
		RequestID: e.RequestID,
		Data:      e.Data,
		Timestamp: e.Timestamp,
	}
}
