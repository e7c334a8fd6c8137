// Package pubsub carries realtime events between service instances.
//
// A Broker only moves opaque payloads between topics; local subscriber
// bookkeeping lives in the chat hub, which receives every payload through
// the Handler passed to Run.
package pubsub

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("broker closed")

// Handler receives every payload published on any topic.
type Handler func(topic string, payload []byte)

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Run blocks delivering payloads to handler until ctx is done or the
	// broker is closed.
	Run(ctx context.Context, handler Handler) error
	Close() error
}
