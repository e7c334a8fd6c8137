package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 4096                // Maximum frame size allowed from peer.
	sendBuffer     = 256
)

// Ingester is the part of the Service a websocket session needs.
type Ingester interface {
	Ingest(ctx context.Context, senderID, recipientID, content string) (*Ack, error)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	ingester Ingester
	logger   *slog.Logger

	// topics is owned by the hub goroutine.
	topics map[string]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, ingester Ingester, logger *slog.Logger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		userID:   userID,
		ingester: ingester,
		logger:   logger,
		topics:   make(map[string]struct{}),
	}
}

// ReadPump pumps frames from the websocket connection into the session.
// Frames of one connection are handled in order.
func (c *Client) ReadPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", "user_id", c.userID, "err", err)
			}
			return
		}
		c.handle(ctx, frame)
	}
}

func (c *Client) handle(ctx context.Context, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.fail(fmt.Errorf("%w: invalid frame", errBadRequest))
		return
	}

	switch env.Event {
	case EventJoin, EventLeave:
		var req RoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.fail(fmt.Errorf("%w: invalid %s payload", errBadRequest, env.Event))
			return
		}
		roomID, err := c.authorizeRoom(req.RoomID)
		if err != nil {
			c.fail(err)
			return
		}
		if env.Event == EventJoin {
			reply, _ := encodeEvent(EventJoined, RoomRequest{RoomID: roomID})
			c.hub.join(c, RoomTopic(roomID), reply)
		} else {
			reply, _ := encodeEvent(EventLeft, RoomRequest{RoomID: roomID})
			c.hub.leave(c, RoomTopic(roomID), reply)
		}

	case EventSendMessage:
		var req SendMessageRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.fail(fmt.Errorf("%w: invalid send_message payload", errBadRequest))
			return
		}
		if req.From != "" && req.From != c.userID {
			c.fail(ErrForbidden)
			return
		}
		// Delivery and the send confirmation arrive through the broker.
		if _, err := c.ingester.Ingest(ctx, c.userID, req.To, req.Text); err != nil {
			c.fail(err)
		}

	default:
		c.fail(fmt.Errorf("%w: unsupported event %q", errBadRequest, env.Event))
	}
}

// authorizeRoom admits only the two participants encoded in the room id.
func (c *Client) authorizeRoom(roomID string) (string, error) {
	a, b, err := ParseRoomID(roomID)
	if err != nil {
		return "", err
	}
	if c.userID != a && c.userID != b {
		return "", ErrForbidden
	}
	return a + roomDelimiter + b, nil
}

func (c *Client) fail(err error) {
	c.hub.sendTo(c, errorEvent(err))
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
