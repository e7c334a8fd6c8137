//go:generate mockgen -destination=mock_contract_test.go -package=${GOPACKAGE} -source=contract.go
package chat

import (
	"context"
	"time"
)

// Store persists conversations and their messages. Implementations must
// enforce uniqueness of RoomID and make AppendMessage a single logical write.
type Store interface {
	FindConversation(ctx context.Context, roomID string) (*Conversation, error)
	// CreateConversation returns ErrDuplicateRoom when another writer created
	// the room first.
	CreateConversation(ctx context.Context, roomID string, participants []string) (*Conversation, error)
	// AppendMessage assigns the next Seq and a timestamp not earlier than the
	// conversation's UpdatedAt, stores the message and refreshes the
	// conversation's LastMessage, LastSeq and UpdatedAt.
	AppendMessage(ctx context.Context, conversationID, senderID, content string, now time.Time) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, page Page) ([]Message, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
}

// Publisher hands events to the realtime channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// UserDirectory resolves display profiles. Unknown ids are simply absent
// from the result.
type UserDirectory interface {
	Profiles(ctx context.Context, ids []string) (map[string]Profile, error)
}
