package chat

import "time"

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Conversation struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	Participants []string  `json:"participants"`
	LastMessage  string    `json:"lastMessage"`
	LastSeq      int64     `json:"lastSeq"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the conversation's members.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Seq            int64     `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
}

// Profile is the display information of a user as seen by the chat.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

type MessageView struct {
	ID        string    `json:"id"`
	Sender    Profile   `json:"sender"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

type ConversationView struct {
	ID            string        `json:"id"`
	RoomID        string        `json:"roomId"`
	Participants  []Profile     `json:"participants"`
	Messages      []MessageView `json:"messages"`
	LastMessage   string        `json:"lastMessage"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	NextBeforeSeq int64         `json:"nextBeforeSeq,omitempty"`
}

type ConversationSummary struct {
	RoomID      string    `json:"roomId"`
	With        Profile   `json:"with"`
	LastMessage string    `json:"lastMessage"`
	LastSeq     int64     `json:"lastSeq"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Page bounds a history read. The zero value means full history.
type Page struct {
	Limit     int
	BeforeSeq int64
}

// Ack is returned to the sender once a message is durable.
type Ack struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}
