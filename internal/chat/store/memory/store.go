// Package memory is an in-process chat.Store used for local development and
// tests. Every operation runs under one mutex, which gives the same
// single-record atomicity the database stores provide.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"travel-chat/internal/chat"
)

type Store struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation // by id
	rooms         map[string]string             // room id -> conversation id
	messages      map[string][]chat.Message     // conversation id -> messages in seq order
}

func New() *Store {
	return &Store{
		conversations: make(map[string]*chat.Conversation),
		rooms:         make(map[string]string),
		messages:      make(map[string][]chat.Message),
	}
}

func (s *Store) FindConversation(ctx context.Context, roomID string) (*chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.rooms[roomID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return clone(s.conversations[id]), nil
}

func (s *Store) CreateConversation(ctx context.Context, roomID string, participants []string) (*chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[roomID]; exists {
		return nil, chat.ErrDuplicateRoom
	}

	now := time.Now().UTC()
	conv := &chat.Conversation{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		Participants: append([]string(nil), participants...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[conv.ID] = conv
	s.rooms[roomID] = conv.ID
	return clone(conv), nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, content string, now time.Time) (*chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, chat.ErrNotFound
	}

	ts := now.UTC()
	if ts.Before(conv.UpdatedAt) {
		ts = conv.UpdatedAt
	}

	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Seq:            conv.LastSeq + 1,
		Timestamp:      ts,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)

	conv.LastSeq = msg.Seq
	conv.LastMessage = content
	conv.UpdatedAt = ts

	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, page chat.Page) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.messages[conversationID]
	end := len(all)
	if page.BeforeSeq > 0 {
		// Seq is 1-based and dense, so the message with Seq n sits at n-1.
		end = min(end, int(page.BeforeSeq-1))
	}
	start := 0
	if page.Limit > 0 && end-page.Limit > 0 {
		start = end - page.Limit
	}
	if end <= start {
		return []chat.Message{}, nil
	}
	return append([]chat.Message(nil), all[start:end]...), nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []chat.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, *clone(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// MessageCount reports how many messages are stored across all conversations.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, msgs := range s.messages {
		n += len(msgs)
	}
	return n
}

// ConversationCount reports how many conversations exist.
func (s *Store) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func clone(c *chat.Conversation) *chat.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}
