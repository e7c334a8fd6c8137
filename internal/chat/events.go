package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Inbound events.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSendMessage = "send_message"
)

// Outbound events.
const (
	EventReceiveMessage      = "receive_message"
	EventMessageSent         = "message_sent"
	EventConversationUpdated = "conversation_updated"
	EventJoined              = "joined"
	EventLeft                = "left"
	EventError               = "error"
)

// Envelope is the frame format on the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRequest is the payload of join and leave. A bare JSON string is
// accepted as the room id too.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

func (r *RoomRequest) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.RoomID)
	}
	type plain RoomRequest
	return json.Unmarshal(data, (*plain)(r))
}

type SendMessageRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Text string `json:"text"`
}

type ReceiveMessageEvent struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageSentEvent struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

type ConversationUpdatedEvent struct {
	RoomID      string    `json:"roomId"`
	LastMessage string    `json:"lastMessage"`
	LastSeq     int64     `json:"lastSeq"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// errorEvent builds the error frame for err. Store and internal failures
// carry a fixed message so driver details stay in the server log.
func errorEvent(err error) []byte {
	code := ErrorCode(err)
	message := err.Error()
	switch code {
	case "store_unavailable":
		message = "storage unavailable"
	case "timeout":
		message = "timed out"
	case "internal":
		message = "internal server error"
	}
	payload, _ := encodeEvent(EventError, ErrorEvent{Code: code, Message: message})
	return payload
}

// ErrorCode maps an error to the code sent to websocket clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParticipants):
		return "invalid_participants"
	case errors.Is(err, ErrMalformedRoomID):
		return "malformed_room_id"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, ErrMessageTooLong):
		return "message_too_long"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, errBadRequest):
		return "bad_request"
	default:
		return "internal"
	}
}

var errBadRequest = errors.New("bad request")
