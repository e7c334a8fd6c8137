package chat

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var conversationColumns = []string{
	"id", "room_id", "participant_a", "participant_b",
	"last_message", "last_seq", "created_at", "updated_at",
}

var messageColumns = []string{
	"id", "conversation_id", "sender_id", "content", "seq", "created_at",
}

type conversationRow struct {
	ID           string    `db:"id"`
	RoomID       string    `db:"room_id"`
	ParticipantA string    `db:"participant_a"`
	ParticipantB string    `db:"participant_b"`
	LastMessage  string    `db:"last_message"`
	LastSeq      int64     `db:"last_seq"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r conversationRow) toConversation() *Conversation {
	return &Conversation{
		ID:           r.ID,
		RoomID:       r.RoomID,
		Participants: []string{r.ParticipantA, r.ParticipantB},
		LastMessage:  r.LastMessage,
		LastSeq:      r.LastSeq,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	Content        string    `db:"content"`
	Seq            int64     `db:"seq"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r messageRow) toMessage() Message {
	return Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Content:        r.Content,
		Seq:            r.Seq,
		Timestamp:      r.CreatedAt,
	}
}

// Repository is the Postgres implementation of Store.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindConversation(ctx context.Context, roomID string) (*Conversation, error) {
	query, args, err := psql.Select(conversationColumns...).
		From("conversations").
		Where(sq.Eq{"room_id": roomID}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.FindConversation.ToSql")
	}

	var row conversationRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "chatRepo.FindConversation.GetContext")
	}
	return row.toConversation(), nil
}

func (r *Repository) CreateConversation(ctx context.Context, roomID string, participants []string) (*Conversation, error) {
	if len(participants) != 2 {
		return nil, ErrInvalidParticipants
	}

	query, args, err := psql.Insert("conversations").
		Columns("id", "room_id", "participant_a", "participant_b").
		Values(uuid.NewString(), roomID, participants[0], participants[1]).
		Suffix("RETURNING " + strings.Join(conversationColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.CreateConversation.ToSql")
	}

	var row conversationRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRoom
		}
		return nil, errors.Wrap(err, "chatRepo.CreateConversation.GetContext")
	}
	return row.toConversation(), nil
}

// AppendMessage bumps the conversation counter and inserts the message in
// one transaction. The row lock taken by the UPDATE serializes concurrent
// appends to the same conversation.
func (r *Repository) AppendMessage(ctx context.Context, conversationID, senderID, content string, now time.Time) (*Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.AppendMessage.BeginTxx")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	update, args, err := psql.Update("conversations").
		Set("last_seq", sq.Expr("last_seq + 1")).
		Set("last_message", content).
		Set("updated_at", sq.Expr("GREATEST(?::timestamptz, updated_at)", now.UTC())).
		Where(sq.Eq{"id": conversationID}).
		Suffix("RETURNING last_seq, updated_at").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.AppendMessage.UpdateToSql")
	}

	var stamp struct {
		Seq       int64     `db:"last_seq"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	if err := tx.GetContext(ctx, &stamp, update, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "chatRepo.AppendMessage.UpdateConversation")
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Seq:            stamp.Seq,
		Timestamp:      stamp.UpdatedAt,
	}
	insert, args, err := psql.Insert("messages").
		Columns(messageColumns...).
		Values(msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Seq, msg.Timestamp).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.AppendMessage.InsertToSql")
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return nil, errors.Wrap(err, "chatRepo.AppendMessage.InsertMessage")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "chatRepo.AppendMessage.Commit")
	}
	return &msg, nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID string, page Page) ([]Message, error) {
	q := psql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID})
	if page.BeforeSeq > 0 {
		q = q.Where(sq.Lt{"seq": page.BeforeSeq})
	}
	if page.Limit > 0 {
		q = q.OrderBy("seq DESC").Limit(uint64(page.Limit))
	} else {
		q = q.OrderBy("seq ASC")
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListMessages.ToSql")
	}

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListMessages.SelectContext")
	}

	messages := make([]Message, len(rows))
	for i, row := range rows {
		messages[i] = row.toMessage()
	}
	if page.Limit > 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

func (r *Repository) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	query, args, err := psql.Select(conversationColumns...).
		From("conversations").
		Where(sq.Or{sq.Eq{"participant_a": userID}, sq.Eq{"participant_b": userID}}).
		OrderBy("updated_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListConversations.ToSql")
	}

	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "chatRepo.ListConversations.SelectContext")
	}

	conversations := make([]Conversation, len(rows))
	for i, row := range rows {
		conversations[i] = *row.toConversation()
	}
	return conversations, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
