// Package memtransport implements internal/transport's RouterTransport
// and DealerTransport over in-process Go channels, so the broker loop
// and MQClient can be exercised end-to-end in tests without a live
// socket or network.
package memtransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type frame struct {
	identity string
	payload  []byte
}

// Network is a shared in-memory broker endpoint addressable by name; it
// stands in for a bound tcp://host:port address.
type Network struct {
	mu      sync.Mutex
	routers map[string]*Router
}

func NewNetwork() *Network {
	return &Network{routers: make(map[string]*Router)}
}

func (n *Network) register(address string, r *Router) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routers[address] = r
}

func (n *Network) lookup(address string) (*Router, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.routers[address]
	return r, ok
}

// Router is the broker-side in-memory endpoint.
type Router struct {
	net     *Network
	address string
	inbox   chan frame

	mu      sync.Mutex
	dealers map[string]*Dealer
	closed  bool
}

func (n *Network) NewRouter() *Router {
	return &Router{net: n, inbox: make(chan frame, 256), dealers: make(map[string]*Dealer)}
}

func (r *Router) Bind(address string) error {
	r.address = address
	r.net.register(address, r)
	return nil
}

func (r *Router) RecvMultipart(ctx context.Context) (string, []byte, error) {
	select {
	case f, ok := <-r.inbox:
		if !ok {
			return "", nil, fmt.Errorf("router closed")
		}
		return f.identity, f.payload, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (r *Router) SendMultipart(identity string, payload []byte) error {
	r.mu.Lock()
	d, ok := r.dealers[identity]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown identity %q", identity)
	}
	select {
	case d.fromRouter <- payload:
		return nil
	default:
		return fmt.Errorf("dealer %q receive buffer full", identity)
	}
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.inbox)
	return nil
}

func (r *Router) attach(d *Dealer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dealers[d.identity] = d
}

// Dealer is the peer-side in-memory endpoint.
type Dealer struct {
	net        *Network
	router     *Router
	identity   string
	fromRouter chan []byte
	closed     bool
	mu         sync.Mutex
}

func (n *Network) NewDealer() *Dealer {
	return &Dealer{net: n, identity: uuid.New().String(), fromRouter: make(chan []byte, 256)}
}

func (d *Dealer) Connect(address string) error {
	rt, ok := d.net.lookup(address)
	if !ok {
		return fmt.Errorf("no router bound at %q", address)
	}
	d.router = rt
	rt.attach(d)
	return nil
}

func (d *Dealer) Identity() string { return d.identity }

func (d *Dealer) Send(payload []byte) error {
	if d.router == nil {
		return fmt.Errorf("dealer not connected")
	}
	select {
	case d.router.inbox <- frame{identity: d.identity, payload: payload}:
		return nil
	default:
		return fmt.Errorf("router inbox full")
	}
}

func (d *Dealer) Recv(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-d.fromRouter:
		if !ok {
			return nil, fmt.Errorf("dealer closed")
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dealer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.fromRouter)
	return nil
}
