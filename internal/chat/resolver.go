package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Resolver maps a participant pair, or the room id derived from it, to the
// single conversation between them, creating it on first contact.
type Resolver struct {
	store   Store
	timeout time.Duration
}

func NewResolver(store Store, timeout time.Duration) *Resolver {
	return &Resolver{store: store, timeout: timeout}
}

func (r *Resolver) ResolveByParticipants(ctx context.Context, userA, userB string) (*Conversation, error) {
	roomID, err := RoomID(userA, userB)
	if err != nil {
		return nil, err
	}
	return r.findOrCreate(ctx, roomID, []string{userA, userB})
}

func (r *Resolver) ResolveByRoomID(ctx context.Context, roomID, requester string) (*Conversation, error) {
	a, b, err := ParseRoomID(roomID)
	if err != nil {
		return nil, err
	}
	if requester != a && requester != b {
		return nil, ErrForbidden
	}

	conv, err := r.findOrCreate(ctx, a+roomDelimiter+b, []string{a, b})
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(requester) {
		return nil, ErrForbidden
	}
	return conv, nil
}

func (r *Resolver) findOrCreate(ctx context.Context, roomID string, participants []string) (*Conversation, error) {
	conv, err := r.find(ctx, roomID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	conv, err = withTimeout(ctx, r.timeout, func(ctx context.Context) (*Conversation, error) {
		return r.store.CreateConversation(ctx, roomID, participants)
	})
	if errors.Is(err, ErrDuplicateRoom) {
		// Lost the first-contact race; the winner's record is the conversation.
		return r.find(ctx, roomID)
	}
	return conv, err
}

func (r *Resolver) find(ctx context.Context, roomID string) (*Conversation, error) {
	return withTimeout(ctx, r.timeout, func(ctx context.Context) (*Conversation, error) {
		return r.store.FindConversation(ctx, roomID)
	})
}

// withTimeout bounds a store call and folds driver failures into the chat
// error taxonomy.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	v, err := fn(ctx)
	return v, classifyStoreErr(err)
}

func classifyStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateRoom),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
