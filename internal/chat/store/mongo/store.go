// Package mongo stores conversations and messages in MongoDB.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"travel-chat/internal/chat"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"

	rollbackTimeout = 5 * time.Second
)

type conversationDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	RoomID       string             `bson:"roomId"`
	Participants []string           `bson:"participants"`
	LastMessage  string             `bson:"lastMessage"`
	LastSeq      int64              `bson:"lastSeq"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`

	// Messages lists message ids in seq order. History is read from the
	// messages collection; an id whose insert failed has no document.
	Messages []primitive.ObjectID `bson:"messages"`
}

func (d *conversationDoc) toConversation() *chat.Conversation {
	return &chat.Conversation{
		ID:           d.ID.Hex(),
		RoomID:       d.RoomID,
		Participants: d.Participants,
		LastMessage:  d.LastMessage,
		LastSeq:      d.LastSeq,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type messageDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Conversation primitive.ObjectID `bson:"conversation"`
	Sender       string             `bson:"sender"`
	Content      string             `bson:"content"`
	Seq          int64              `bson:"seq"`
	Timestamp    time.Time          `bson:"timestamp"`
}

func (d *messageDoc) toMessage() chat.Message {
	return chat.Message{
		ID:             d.ID.Hex(),
		ConversationID: d.Conversation.Hex(),
		SenderID:       d.Sender,
		Content:        d.Content,
		Seq:            d.Seq,
		Timestamp:      d.Timestamp,
	}
}

type Store struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
	}
}

// EnsureIndexes creates the indexes the store relies on for uniqueness.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "roomId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}}},
	})
	if err != nil {
		return errors.Wrap(err, "mongoStore.EnsureIndexes.conversations")
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "mongoStore.EnsureIndexes.messages")
}

func (s *Store) FindConversation(ctx context.Context, roomID string) (*chat.Conversation, error) {
	var doc conversationDoc
	err := s.conversations.FindOne(ctx, bson.M{"roomId": roomID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, chat.ErrNotFound
		}
		return nil, errors.Wrap(err, "mongoStore.FindConversation")
	}
	return doc.toConversation(), nil
}

func (s *Store) CreateConversation(ctx context.Context, roomID string, participants []string) (*chat.Conversation, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := conversationDoc{
		ID:           primitive.NewObjectID(),
		RoomID:       roomID,
		Participants: append([]string(nil), participants...),
		Messages:     []primitive.ObjectID{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, chat.ErrDuplicateRoom
		}
		return nil, errors.Wrap(err, "mongoStore.CreateConversation")
	}
	return doc.toConversation(), nil
}

// AppendMessage reserves the next seq on the conversation document, then
// inserts the message under it. A failed insert rolls the reservation back.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, content string, now time.Time) (*chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, chat.ErrNotFound
	}

	// BSON dates have millisecond precision.
	stamp := now.UTC().Truncate(time.Millisecond)
	msgID := primitive.NewObjectID()
	reserve := mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "lastSeq", Value: bson.D{{Key: "$add", Value: bson.A{"$lastSeq", 1}}}},
		{Key: "messages", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$messages", bson.A{}}}},
			bson.A{msgID},
		}}}},
		{Key: "lastMessage", Value: bson.D{{Key: "$literal", Value: content}}},
		{Key: "updatedAt", Value: bson.D{{Key: "$max", Value: bson.A{"$updatedAt", stamp}}}},
	}}}}

	var prev conversationDoc
	err = s.conversations.FindOneAndUpdate(ctx, bson.M{"_id": oid}, reserve,
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&prev)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, chat.ErrNotFound
		}
		return nil, errors.Wrap(err, "mongoStore.AppendMessage.Reserve")
	}

	doc := messageDoc{
		ID:           msgID,
		Conversation: oid,
		Sender:       senderID,
		Content:      content,
		Seq:          prev.LastSeq + 1,
		Timestamp:    stamp,
	}
	if prev.UpdatedAt.After(stamp) {
		doc.Timestamp = prev.UpdatedAt
	}

	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if rbErr := s.release(ctx, &prev, doc.Seq, msgID); rbErr != nil {
			return nil, errors.Wrapf(err, "mongoStore.AppendMessage.Insert (rollback: %v)", rbErr)
		}
		return nil, errors.Wrap(err, "mongoStore.AppendMessage.Insert")
	}

	msg := doc.toMessage()
	return &msg, nil
}

// release undoes a reservation whose message was never stored. When no later
// append has landed the conversation gets its previous preview back;
// otherwise only the dangling message id is removed.
func (s *Store) release(ctx context.Context, prev *conversationDoc, seq int64, msgID primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": prev.ID, "lastSeq": seq},
		bson.M{
			"$set": bson.M{
				"lastSeq":     prev.LastSeq,
				"lastMessage": prev.LastMessage,
				"updatedAt":   prev.UpdatedAt,
			},
			"$pull": bson.M{"messages": msgID},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	_, err = s.conversations.UpdateOne(ctx,
		bson.M{"_id": prev.ID},
		bson.M{"$pull": bson.M{"messages": msgID}},
	)
	return err
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, page chat.Page) ([]chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return []chat.Message{}, nil
	}

	filter := bson.M{"conversation": oid}
	if page.BeforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": page.BeforeSeq}
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if page.Limit > 0 {
		opts = options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}).SetLimit(int64(page.Limit))
	}

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListMessages.Find")
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListMessages.All")
	}

	messages := make([]chat.Message, len(docs))
	for i := range docs {
		messages[i] = docs[i].toMessage()
	}
	if page.Limit > 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	cursor, err := s.conversations.Find(ctx,
		bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListConversations.Find")
	}
	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListConversations.All")
	}

	conversations := make([]chat.Conversation, len(docs))
	for i := range docs {
		conversations[i] = *docs[i].toConversation()
	}
	return conversations, nil
}
