// Package registry tracks connected peers and their heartbeat-driven
// lifecycle: identity to PeerRecord, with a secondary client_id index.
package registry

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/NadimGhaznavi/hydra-router/internal/envelope"
)

// HexIdentity renders a raw transport identity as hex, matching spec.md
// §4.3/§7's "declared client_id (or identity hex)" convention. A
// transport-assigned identity is opaque bytes smuggled through a Go
// string; hex-encoding it is the only representation guaranteed to
// produce valid JSON text and a stable log field.
func HexIdentity(identity string) string {
	return hex.EncodeToString([]byte(identity))
}

// PeerRecord mirrors spec.md §3's PeerRecord: identity, declared type,
// and the monotonic last-heartbeat time.
type PeerRecord struct {
	Identity      string
	Type          envelope.PeerType
	ClientID      string
	LastHeartbeat time.Time
}

// Snapshot is a single row of the stable registry-query response.
type Snapshot struct {
	ClientID      string
	Type          envelope.PeerType
	LastHeartbeat time.Time
}

// Registry is the concurrent peer map. All mutating operations are
// serialized by mu; readers take a read lock, matching the teacher's
// sync.RWMutex-guarded connection map.
type Registry struct {
	mu       sync.RWMutex
	peers    map[string]*PeerRecord
	byClient map[string]string // client_id -> identity
	onEvent  func(event string, rec PeerRecord)
}

func New() *Registry {
	return &Registry{
		peers:    make(map[string]*PeerRecord),
		byClient: make(map[string]string),
	}
}

// OnEvent installs a callback invoked for "observe" and "remove" events;
// the broker wires this to its logger.
func (r *Registry) OnEvent(fn func(event string, rec PeerRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = fn
}

func (r *Registry) emit(event string, rec PeerRecord) {
	if r.onEvent != nil {
		r.onEvent(event, rec)
	}
}

// Observe upserts a peer record for identity. If a different peer
// already claims server-category and sender is also server-category,
// the last writer wins: the prior holder is not removed and keeps its
// stored Type, only no longer reported by ServerIdentity. It still
// receives broadcasts as an ordinary peer via AllIdentities (displace
// policy, spec.md §4.3/§9).
func (r *Registry) Observe(identity string, senderType envelope.PeerType, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, existed := r.peers[identity]
	if !existed {
		rec = &PeerRecord{Identity: identity}
		r.peers[identity] = rec
	}
	rec.Type = senderType
	rec.LastHeartbeat = time.Now()
	if clientID != "" {
		rec.ClientID = clientID
		r.byClient[clientID] = identity
	}

	if !existed {
		r.emit("observe", *rec)
	}
}

// Remove deletes a peer by identity.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[identity]
	if !ok {
		return
	}
	delete(r.peers, identity)
	if rec.ClientID != "" {
		delete(r.byClient, rec.ClientID)
	}
	r.emit("remove", *rec)
}

// ByType lists identities whose declared type belongs to category.
func (r *Registry) ByType(category envelope.Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, rec := range r.peers {
		if envelope.CategoryOf(rec.Type) == category {
			out = append(out, id)
		}
	}
	return out
}

// AllIdentities lists every currently registered peer identity,
// regardless of declared type. A server displaced by a newer
// server-category registration (see Observe) keeps its stored Type and
// so would not appear via ByType(CategoryClient) — broadcast fan-out
// must use this instead of ByType to reach it, per spec.md §4.3/§9.
func (r *Registry) AllIdentities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}

// ServerIdentity returns the most-recently-observed server-category
// identity, or "" if none is registered.
func (r *Registry) ServerIdentity() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best string
	var bestAt time.Time
	for id, rec := range r.peers {
		if envelope.CategoryOf(rec.Type) != envelope.CategoryServer {
			continue
		}
		if best == "" || rec.LastHeartbeat.After(bestAt) {
			best = id
			bestAt = rec.LastHeartbeat
		}
	}
	return best
}

// Prune removes and returns every peer whose last heartbeat predates
// now-timeout.
func (r *Registry) Prune(now time.Time, timeout time.Duration) []PeerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []PeerRecord
	for id, rec := range r.peers {
		if now.Sub(rec.LastHeartbeat) > timeout {
			evicted = append(evicted, *rec)
			delete(r.peers, id)
			if rec.ClientID != "" {
				delete(r.byClient, rec.ClientID)
			}
		}
	}
	for _, rec := range evicted {
		r.emit("remove", rec)
	}
	return evicted
}

// Snapshot returns a stable copy of the registry for the
// client_registry_response payload.
func (r *Registry) Snapshot() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.peers))
	for id, rec := range r.peers {
		key := rec.ClientID
		if key == "" {
			key = HexIdentity(id)
		}
		out[key] = Snapshot{ClientID: key, Type: rec.Type, LastHeartbeat: rec.LastHeartbeat}
	}
	return out
}

// Len reports the number of currently registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
