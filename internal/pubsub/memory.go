package pubsub

import (
	"context"
	"sync"
)

type message struct {
	topic   string
	payload []byte
}

// Memory is a single-process broker.
type Memory struct {
	queue  chan message
	closed chan struct{}
	once   sync.Once
}

func NewMemory(buffer int) *Memory {
	return &Memory{
		queue:  make(chan message, buffer),
		closed: make(chan struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}

	select {
	case m.queue <- message{topic: topic, payload: payload}:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.closed:
			return nil
		case msg := <-m.queue:
			handler(msg.topic, msg.payload)
		}
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
