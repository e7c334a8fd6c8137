package chat

import (
	"context"
	"log/slog"
)

// Hub owns the local topic subscriber sets. Only the Run goroutine touches
// topics and clients; everything else talks to it over channels.
type Hub struct {
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	membership chan membership
	direct     chan outbound // Hub -> one client
	broadcast  chan delivery // Broker -> subscribed clients
	done       chan struct{}

	logger *slog.Logger
}

type membership struct {
	client *Client
	topic  string
	join   bool
	reply  []byte
}

type outbound struct {
	client  *Client
	payload []byte
}

type delivery struct {
	topic   string
	payload []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		membership: make(chan membership),
		direct:     make(chan outbound, 64),
		broadcast:  make(chan delivery, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return nil

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.subscribe(client, InboxTopic(client.userID))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case m := <-h.membership:
			if _, ok := h.clients[m.client]; !ok {
				continue
			}
			if m.join {
				h.subscribe(m.client, m.topic)
			} else {
				h.unsubscribe(m.client, m.topic)
			}
			if m.reply != nil {
				h.send(m.client, m.reply)
			}

		case out := <-h.direct:
			if _, ok := h.clients[out.client]; ok {
				h.send(out.client, out.payload)
			}

		case d := <-h.broadcast:
			for client := range h.topics[d.topic] {
				h.send(client, d.payload)
			}
		}
	}
}

// Deliver hands a payload received from the broker to the local
// subscribers of topic.
func (h *Hub) Deliver(topic string, payload []byte) {
	select {
	case h.broadcast <- delivery{topic: topic, payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) join(client *Client, topic string, reply []byte) {
	select {
	case h.membership <- membership{client: client, topic: topic, join: true, reply: reply}:
	case <-h.done:
	}
}

func (h *Hub) leave(client *Client, topic string, reply []byte) {
	select {
	case h.membership <- membership{client: client, topic: topic, join: false, reply: reply}:
	case <-h.done:
	}
}

func (h *Hub) sendTo(client *Client, payload []byte) {
	select {
	case h.direct <- outbound{client: client, payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) subscribe(client *Client, topic string) {
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Client]struct{})
		h.topics[topic] = set
	}
	set[client] = struct{}{}
	client.topics[topic] = struct{}{}
}

func (h *Hub) unsubscribe(client *Client, topic string) {
	if set, ok := h.topics[topic]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(client.topics, topic)
}

// send never blocks the hub; a client that cannot keep up is disconnected.
func (h *Hub) send(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.logger.Warn("dropping slow client", "user_id", client.userID)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	for topic := range client.topics {
		h.unsubscribe(client, topic)
	}
	delete(h.clients, client)
	close(client.send)
}
