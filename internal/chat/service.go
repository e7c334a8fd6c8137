package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

type Options struct {
	StoreTimeout     time.Duration
	PublishTimeout   time.Duration
	MaxMessageLength int
	// Now is the clock used for message timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Service is the messaging core: ingestion, history and conversation listing.
type Service struct {
	resolver  *Resolver
	store     Store
	publisher Publisher
	users     UserDirectory
	logger    *slog.Logger
	opts      Options
}

func NewService(store Store, publisher Publisher, users UserDirectory, logger *slog.Logger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 2000
	}
	return &Service{
		resolver:  NewResolver(store, opts.StoreTimeout),
		store:     store,
		publisher: publisher,
		users:     users,
		logger:    logger,
		opts:      opts,
	}
}

func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Ingest validates, persists and fans out one message. Fan-out only starts
// after the message is durable, and its failures never reach the caller.
func (s *Service) Ingest(ctx context.Context, senderID, recipientID, content string) (*Ack, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > s.opts.MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	conv, err := s.resolver.ResolveByParticipants(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	msg, err := withTimeout(ctx, s.opts.StoreTimeout, func(ctx context.Context) (*Message, error) {
		return s.store.AppendMessage(ctx, conv.ID, senderID, text, s.opts.Now())
	})
	if err != nil {
		s.logger.Error("failed to persist message", "room_id", conv.RoomID, "sender", senderID, "err", err)
		return nil, err
	}

	s.fanOut(context.WithoutCancel(ctx), conv.RoomID, recipientID, msg)

	return &Ack{
		MessageID: msg.ID,
		RoomID:    conv.RoomID,
		Seq:       msg.Seq,
		Timestamp: msg.Timestamp,
	}, nil
}

func (s *Service) fanOut(ctx context.Context, roomID, recipientID string, msg *Message) {
	s.publish(ctx, InboxTopic(recipientID), EventReceiveMessage, ReceiveMessageEvent{
		MessageID: msg.ID,
		RoomID:    roomID,
		From:      msg.SenderID,
		Text:      msg.Content,
		Seq:       msg.Seq,
		Timestamp: msg.Timestamp,
	})
	s.publish(ctx, InboxTopic(msg.SenderID), EventMessageSent, MessageSentEvent{
		Success:   true,
		MessageID: msg.ID,
		RoomID:    roomID,
		Seq:       msg.Seq,
		Timestamp: msg.Timestamp,
	})
	s.publish(ctx, RoomTopic(roomID), EventConversationUpdated, ConversationUpdatedEvent{
		RoomID:      roomID,
		LastMessage: msg.Content,
		LastSeq:     msg.Seq,
		UpdatedAt:   msg.Timestamp,
	})
}

func (s *Service) publish(ctx context.Context, topic, event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		s.logger.Error("failed to encode event", "event", event, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "event", event, "err", err)
	}
}

// GetHistory returns the conversation for roomID with its messages in
// ascending Seq order, creating the conversation on first contact.
func (s *Service) GetHistory(ctx context.Context, roomID, requester string, page Page) (*ConversationView, error) {
	if page.Limit < 0 {
		page.Limit = 0
	}
	if page.BeforeSeq < 0 {
		page.BeforeSeq = 0
	}

	conv, err := s.resolver.ResolveByRoomID(ctx, roomID, requester)
	if err != nil {
		return nil, err
	}

	messages, err := withTimeout(ctx, s.opts.StoreTimeout, func(ctx context.Context) ([]Message, error) {
		return s.store.ListMessages(ctx, conv.ID, page)
	})
	if err != nil {
		s.logger.Error("failed to list messages", "room_id", conv.RoomID, "err", err)
		return nil, err
	}

	ids := append([]string{}, conv.Participants...)
	for _, m := range messages {
		ids = append(ids, m.SenderID)
	}
	profiles := s.profiles(ctx, ids)

	view := &ConversationView{
		ID:           conv.ID,
		RoomID:       conv.RoomID,
		Participants: make([]Profile, 0, len(conv.Participants)),
		Messages:     make([]MessageView, 0, len(messages)),
		LastMessage:  conv.LastMessage,
		UpdatedAt:    conv.UpdatedAt,
	}
	for _, p := range conv.Participants {
		view.Participants = append(view.Participants, profileOf(profiles, p))
	}
	for _, m := range messages {
		view.Messages = append(view.Messages, MessageView{
			ID:        m.ID,
			Sender:    profileOf(profiles, m.SenderID),
			Content:   m.Content,
			Seq:       m.Seq,
			Timestamp: m.Timestamp,
		})
	}

	n := len(messages)
	if page.BeforeSeq == 0 {
		// The newest stored message is authoritative for the preview field.
		view.LastMessage = ""
		if n > 0 {
			view.LastMessage = messages[n-1].Content
		}
	}
	if n > 0 && page.Limit > 0 && n == page.Limit && messages[0].Seq > 1 {
		view.NextBeforeSeq = messages[0].Seq
	}
	return view, nil
}

// ListConversations returns the caller's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	convs, err := withTimeout(ctx, s.opts.StoreTimeout, func(ctx context.Context) ([]Conversation, error) {
		return s.store.ListConversations(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	others := make([]string, 0, len(convs))
	for i := range convs {
		others = append(others, convs[i].Other(userID))
	}
	profiles := s.profiles(ctx, others)

	summaries := make([]ConversationSummary, 0, len(convs))
	for i := range convs {
		preview := convs[i].LastMessage
		if convs[i].LastSeq == 0 {
			preview = ""
		}
		summaries = append(summaries, ConversationSummary{
			RoomID:      convs[i].RoomID,
			With:        profileOf(profiles, convs[i].Other(userID)),
			LastMessage: preview,
			LastSeq:     convs[i].LastSeq,
			UpdatedAt:   convs[i].UpdatedAt,
		})
	}
	return summaries, nil
}

// profiles degrades to id-only profiles when the directory is unavailable.
func (s *Service) profiles(ctx context.Context, ids []string) map[string]Profile {
	if s.users == nil || len(ids) == 0 {
		return nil
	}
	profiles, err := withTimeout(ctx, s.opts.StoreTimeout, func(ctx context.Context) (map[string]Profile, error) {
		return s.users.Profiles(ctx, unique(ids))
	})
	if err != nil {
		s.logger.Warn("failed to resolve profiles", "err", err)
		return nil
	}
	return profiles
}

func profileOf(profiles map[string]Profile, id string) Profile {
	if p, ok := profiles[id]; ok {
		p.ID = id
		return p
	}
	return Profile{ID: id}
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
