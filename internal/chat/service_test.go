package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-chat/internal/chat"
	"travel-chat/internal/chat/store/memory"
)

type published struct {
	Topic    string
	Envelope chat.Envelope
}

// recorder is a Publisher that keeps everything it is handed.
type recorder struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (r *recorder) Publish(_ context.Context, topic string, payload []byte) error {
	var env chat.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Topic: topic, Envelope: env})
	return r.err
}

func (r *recorder) Events() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(store chat.Store, pub chat.Publisher, users chat.UserDirectory) *chat.Service {
	return chat.NewService(store, pub, users, testLogger(), chat.Options{
		StoreTimeout:     time.Second,
		PublishTimeout:   time.Second,
		MaxMessageLength: 20,
	})
}

func TestService_IngestPersistsThenFansOut(t *testing.T) {
	store := memory.New()
	pub := &recorder{}
	svc := newTestService(store, pub, nil)

	ack, err := svc.Ingest(context.Background(), "alice", "bob", "  hi bob  ")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", ack.RoomID)
	assert.Equal(t, int64(1), ack.Seq)
	assert.NotEmpty(t, ack.MessageID)
	assert.Equal(t, 1, store.MessageCount())

	events := pub.Events()
	require.Len(t, events, 3)

	assert.Equal(t, "inbox:bob", events[0].Topic)
	assert.Equal(t, chat.EventReceiveMessage, events[0].Envelope.Event)
	var received chat.ReceiveMessageEvent
	require.NoError(t, json.Unmarshal(events[0].Envelope.Data, &received))
	assert.Equal(t, "alice", received.From)
	assert.Equal(t, "hi bob", received.Text)
	assert.Equal(t, ack.MessageID, received.MessageID)

	assert.Equal(t, "inbox:alice", events[1].Topic)
	assert.Equal(t, chat.EventMessageSent, events[1].Envelope.Event)
	var sent chat.MessageSentEvent
	require.NoError(t, json.Unmarshal(events[1].Envelope.Data, &sent))
	assert.True(t, sent.Success)
	assert.Equal(t, int64(1), sent.Seq)

	assert.Equal(t, "room:alice_bob", events[2].Topic)
	assert.Equal(t, chat.EventConversationUpdated, events[2].Envelope.Event)
}

func TestService_IngestRejectsInvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		to      string
		text    string
		wantErr error
	}{
		{name: "empty", to: "bob", text: "", wantErr: chat.ErrEmptyMessage},
		{name: "whitespace only", to: "bob", text: " \n\t ", wantErr: chat.ErrEmptyMessage},
		{name: "too long", to: "bob", text: strings.Repeat("a", 21), wantErr: chat.ErrMessageTooLong},
		{name: "to self", to: "alice", text: "hello me", wantErr: chat.ErrInvalidParticipants},
		{name: "no recipient", to: "", text: "hello", wantErr: chat.ErrInvalidParticipants},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			pub := &recorder{}
			svc := newTestService(store, pub, nil)

			_, err := svc.Ingest(context.Background(), "alice", tt.to, tt.text)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, store.MessageCount())
			assert.Empty(t, pub.Events())
		})
	}
}

func TestService_IngestLengthCountsRunes(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, &recorder{}, nil)

	_, err := svc.Ingest(context.Background(), "alice", "bob", strings.Repeat("é", 20))
	require.NoError(t, err)
}

func TestService_PublishFailureIsSwallowed(t *testing.T) {
	store := memory.New()
	pub := &recorder{err: errors.New("broker down")}
	svc := newTestService(store, pub, nil)

	ack, err := svc.Ingest(context.Background(), "alice", "bob", "still saved")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ack.Seq)
	assert.Len(t, pub.Events(), 3)

	view, err := svc.GetHistory(context.Background(), "alice_bob", "bob", chat.Page{})
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "still saved", view.Messages[0].Content)
}

func TestService_StoreFailureSkipsFanOut(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := chat.NewMockStore(ctrl)
	pub := chat.NewMockPublisher(ctrl)
	svc := newTestService(store, pub, nil)

	conv := &chat.Conversation{ID: "conv-1", RoomID: "alice_bob", Participants: []string{"alice", "bob"}}
	store.EXPECT().FindConversation(gomock.Any(), "alice_bob").Return(conv, nil)
	store.EXPECT().AppendMessage(gomock.Any(), "conv-1", "alice", "hello", gomock.Any()).
		Return(nil, errors.New("disk full"))
	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := svc.Ingest(context.Background(), "alice", "bob", "hello")
	assert.ErrorIs(t, err, chat.ErrStoreUnavailable)
}

func TestService_FanOutOutlivesCallerContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := chat.NewMockPublisher(ctrl)
	svc := newTestService(memory.New(), pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var publishErrs []error
	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(pctx context.Context, _ string, _ []byte) error {
			cancel()
			publishErrs = append(publishErrs, pctx.Err())
			return nil
		}).Times(3)

	_, err := svc.Ingest(ctx, "alice", "bob", "hello")
	require.NoError(t, err)
	require.Len(t, publishErrs, 3)
	for _, err := range publishErrs {
		assert.NoError(t, err)
	}
}

func TestService_TimestampsNeverGoBackwards(t *testing.T) {
	store := memory.New()
	// Ahead of the store's own clock so the injected skew is what counts.
	base := time.Now().UTC().Add(time.Hour)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	svc := chat.NewService(store, &recorder{}, nil, testLogger(), chat.Options{
		StoreTimeout:   time.Second,
		PublishTimeout: time.Second,
		Now: func() time.Time {
			now := clock[i%len(clock)]
			i++
			return now
		},
	})

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		_, err := svc.Ingest(ctx, "alice", "bob", text)
		require.NoError(t, err)
	}

	view, err := svc.GetHistory(ctx, "alice_bob", "alice", chat.Page{})
	require.NoError(t, err)
	require.Len(t, view.Messages, 3)
	for n, m := range view.Messages {
		assert.Equal(t, int64(n+1), m.Seq)
		if n > 0 {
			assert.False(t, m.Timestamp.Before(view.Messages[n-1].Timestamp))
		}
	}
	assert.Equal(t, []string{"one", "two", "three"},
		[]string{view.Messages[0].Content, view.Messages[1].Content, view.Messages[2].Content})
}

func TestService_GetHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := chat.NewMockUserDirectory(ctrl)
	users.EXPECT().Profiles(gomock.Any(), gomock.Any()).Return(map[string]chat.Profile{
		"alice": {Name: "Alice", AvatarURL: "https://img/alice.png"},
		"bob":   {Name: "Bob"},
	}, nil).AnyTimes()

	store := memory.New()
	svc := newTestService(store, &recorder{}, users)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "alice", "bob", "hi")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "bob", "alice", "hey")
	require.NoError(t, err)

	view, err := svc.GetHistory(ctx, "alice_bob", "alice", chat.Page{})
	require.NoError(t, err)

	assert.Equal(t, "alice_bob", view.RoomID)
	assert.Equal(t, "hey", view.LastMessage)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "hi", view.Messages[0].Content)
	assert.Equal(t, chat.Profile{ID: "alice", Name: "Alice", AvatarURL: "https://img/alice.png"}, view.Messages[0].Sender)
	assert.Equal(t, "hey", view.Messages[1].Content)
	assert.Equal(t, "Bob", view.Messages[1].Sender.Name)
	assert.Len(t, view.Participants, 2)
	assert.Zero(t, view.NextBeforeSeq)
}

func TestService_GetHistoryFirstContactIsEmpty(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, &recorder{}, nil)

	view, err := svc.GetHistory(context.Background(), "bob_alice", "bob", chat.Page{})
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", view.RoomID)
	assert.Empty(t, view.Messages)
	assert.NotNil(t, view.Messages)
	assert.Equal(t, 1, store.ConversationCount())
}

func TestService_GetHistoryForbidden(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, &recorder{}, nil)
	_, err := svc.Ingest(context.Background(), "alice", "bob", "secret")
	require.NoError(t, err)

	_, err = svc.GetHistory(context.Background(), "alice_bob", "mallory", chat.Page{})
	assert.ErrorIs(t, err, chat.ErrForbidden)
}

func TestService_GetHistoryPaging(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, &recorder{}, nil)
	ctx := context.Background()
	for _, text := range []string{"m1", "m2", "m3", "m4", "m5"} {
		_, err := svc.Ingest(ctx, "alice", "bob", text)
		require.NoError(t, err)
	}

	contents := func(view *chat.ConversationView) []string {
		out := make([]string, 0, len(view.Messages))
		for _, m := range view.Messages {
			out = append(out, m.Content)
		}
		return out
	}

	view, err := svc.GetHistory(ctx, "alice_bob", "alice", chat.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5"}, contents(view))
	assert.Equal(t, int64(4), view.NextBeforeSeq)

	view, err = svc.GetHistory(ctx, "alice_bob", "alice", chat.Page{Limit: 2, BeforeSeq: view.NextBeforeSeq})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, contents(view))
	assert.Equal(t, int64(2), view.NextBeforeSeq)
	assert.Equal(t, "m5", view.LastMessage)

	view, err = svc.GetHistory(ctx, "alice_bob", "alice", chat.Page{Limit: 2, BeforeSeq: view.NextBeforeSeq})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, contents(view))
	assert.Zero(t, view.NextBeforeSeq)
}

func TestService_ProfilesDegradeToIDs(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := chat.NewMockUserDirectory(ctrl)
	users.EXPECT().Profiles(gomock.Any(), gomock.Any()).Return(nil, errors.New("users db down")).AnyTimes()

	svc := newTestService(memory.New(), &recorder{}, users)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, "alice", "bob", "hi")
	require.NoError(t, err)

	view, err := svc.GetHistory(ctx, "alice_bob", "bob", chat.Page{})
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, chat.Profile{ID: "alice"}, view.Messages[0].Sender)
}

func TestService_ListConversations(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := chat.NewMockUserDirectory(ctrl)
	users.EXPECT().Profiles(gomock.Any(), gomock.Any()).Return(map[string]chat.Profile{
		"bob":   {Name: "Bob"},
		"carol": {Name: "Carol"},
	}, nil)

	base := time.Now().UTC().Add(time.Hour)
	tick := 0
	svc := chat.NewService(memory.New(), &recorder{}, users, testLogger(), chat.Options{
		StoreTimeout:   time.Second,
		PublishTimeout: time.Second,
		Now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Hour)
		},
	})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "alice", "bob", "first")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "carol", "alice", "second")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "bob", "carol", "not alice's")
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "alice_carol", summaries[0].RoomID)
	assert.Equal(t, "Carol", summaries[0].With.Name)
	assert.Equal(t, "second", summaries[0].LastMessage)
	assert.Equal(t, "alice_bob", summaries[1].RoomID)
	assert.Equal(t, "Bob", summaries[1].With.Name)
}

func TestService_PreviewNeverOutlivesStoredMessages(t *testing.T) {
	ghost := &chat.Conversation{
		ID:           "c1",
		RoomID:       "alice_bob",
		Participants: []string{"alice", "bob"},
		LastMessage:  "ghost",
	}

	t.Run("history without messages", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := chat.NewMockStore(ctrl)
		store.EXPECT().FindConversation(gomock.Any(), "alice_bob").Return(ghost, nil)
		store.EXPECT().ListMessages(gomock.Any(), "c1", chat.Page{}).Return([]chat.Message{}, nil)

		view, err := newTestService(store, &recorder{}, nil).GetHistory(context.Background(), "alice_bob", "alice", chat.Page{})
		require.NoError(t, err)
		assert.Empty(t, view.Messages)
		assert.Equal(t, "", view.LastMessage)
	})

	t.Run("history with messages", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := chat.NewMockStore(ctrl)
		store.EXPECT().FindConversation(gomock.Any(), "alice_bob").Return(ghost, nil)
		store.EXPECT().ListMessages(gomock.Any(), "c1", chat.Page{}).Return([]chat.Message{
			{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "stored", Seq: 1},
		}, nil)

		view, err := newTestService(store, &recorder{}, nil).GetHistory(context.Background(), "alice_bob", "alice", chat.Page{})
		require.NoError(t, err)
		assert.Equal(t, "stored", view.LastMessage)
	})

	t.Run("older page keeps the stored preview", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := chat.NewMockStore(ctrl)
		withMessages := *ghost
		withMessages.LastMessage, withMessages.LastSeq = "newest", 5
		page := chat.Page{Limit: 1, BeforeSeq: 2}
		store.EXPECT().FindConversation(gomock.Any(), "alice_bob").Return(&withMessages, nil)
		store.EXPECT().ListMessages(gomock.Any(), "c1", page).Return([]chat.Message{
			{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "oldest", Seq: 1},
		}, nil)

		view, err := newTestService(store, &recorder{}, nil).GetHistory(context.Background(), "alice_bob", "alice", page)
		require.NoError(t, err)
		assert.Equal(t, "newest", view.LastMessage)
	})

	t.Run("conversation list", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := chat.NewMockStore(ctrl)
		store.EXPECT().ListConversations(gomock.Any(), "alice").Return([]chat.Conversation{*ghost}, nil)

		summaries, err := newTestService(store, &recorder{}, nil).ListConversations(context.Background(), "alice")
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, "", summaries[0].LastMessage)
	})
}
