// Package transport narrows the dealer/router wire abstraction the
// broker and peer client consume down to the operations spec.md §6
// requires, so routing logic never imports a concrete ZeroMQ binding.
package transport

import "context"

// RouterTransport is the broker-side binding: a bound endpoint that
// preserves sender identity across multipart sends and receives.
type RouterTransport interface {
	Bind(address string) error
	RecvMultipart(ctx context.Context) (identity string, payload []byte, err error)
	SendMultipart(identity string, payload []byte) error
	Close() error
}

// DealerTransport is the peer-side binding: a single connection with a
// transport-assigned identity.
type DealerTransport interface {
	Connect(address string) error
	Identity() string
	Send(payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}
