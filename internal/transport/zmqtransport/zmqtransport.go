// Package zmqtransport implements internal/transport's RouterTransport
// and DealerTransport against github.com/luxfi/zmq/v4, a pure-Go
// ZeroMQ-4 implementation.
package zmqtransport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	zmq4 "github.com/luxfi/zmq/v4"
)

// Router wraps a zmq4 ROUTER socket bound to one address.
type Router struct {
	ctx    context.Context
	cancel context.CancelFunc
	sock   zmq4.Socket
}

func NewRouter() *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{ctx: ctx, cancel: cancel, sock: zmq4.NewRouter(ctx)}
}

func (r *Router) Bind(address string) error {
	return r.sock.Listen("tcp://" + address)
}

// RecvMultipart reads one [identity, payload] frame group. Frame counts
// other than two are reported as an error rather than panicking, so the
// broker loop can log a frame-error diagnostic and continue.
func (r *Router) RecvMultipart(ctx context.Context) (string, []byte, error) {
	msg, err := r.sock.Recv()
	if err != nil {
		return "", nil, err
	}
	if len(msg.Frames) != 2 {
		return "", nil, fmt.Errorf("expected 2 frames, got %d", len(msg.Frames))
	}
	return string(msg.Frames[0]), msg.Frames[1], nil
}

func (r *Router) SendMultipart(identity string, payload []byte) error {
	msg := zmq4.NewMsgFrom([]byte(identity), payload)
	return r.sock.Send(msg)
}

func (r *Router) Close() error {
	r.cancel()
	return r.sock.Close()
}

// Dealer wraps a zmq4 DEALER socket connected to one router endpoint.
type Dealer struct {
	ctx      context.Context
	cancel   context.CancelFunc
	sock     zmq4.Socket
	identity string
}

func NewDealer() *Dealer {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Dealer{
		ctx:      ctx,
		cancel:   cancel,
		sock:     zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(id))),
		identity: id,
	}
}

func (d *Dealer) Connect(address string) error {
	return d.sock.Dial("tcp://" + address)
}

func (d *Dealer) Identity() string { return d.identity }

func (d *Dealer) Send(payload []byte) error {
	return d.sock.Send(zmq4.NewMsg(payload))
}

func (d *Dealer) Recv(ctx context.Context) ([]byte, error) {
	msg, err := d.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

func (d *Dealer) Close() error {
	d.cancel()
	return d.sock.Close()
}
