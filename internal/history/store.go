package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/comigor/assistant-go/internal/logger"
)

// ErrNotFound is returned when a conversation id does not resolve. Malformed
// ids are reported the same way.
var ErrNotFound = errors.New("conversation not found")

// Store is the conversation persistence contract. Implementations guarantee
// single-document atomicity only; concurrent appends are not serialized.
type Store interface {
	Create(ctx context.Context, userID string) (*Conversation, error)
	Append(ctx context.Context, id string, msg Message) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	// Latest returns the most recently updated conversation of userID.
	Latest(ctx context.Context, userID string) (*Conversation, error)
	// ListByUser returns userID's conversations, most recently updated first.
	ListByUser(ctx context.Context, userID string) ([]Conversation, error)
	// Delete reports whether a conversation was removed.
	Delete(ctx context.Context, id string) (bool, error)
	Close(ctx context.Context) error
}

// ResolveOrCreate picks the conversation a chat request belongs to. A given id
// that resolves is reused; a given id that does not resolve gets a fresh
// conversation. Without an id the user's latest conversation is reused, or a
// new one is created.
func ResolveOrCreate(ctx context.Context, s Store, userID, conversationID string) (*Conversation, error) {
	if conversationID != "" {
		conv, err := s.Get(ctx, conversationID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("get conversation %s: %w", conversationID, err)
		}
		logger.L.Info("conversation not found, creating a new one", "conversation_id", conversationID, "user_id", userID)
		return create(ctx, s, userID)
	}

	conv, err := s.Latest(ctx, userID)
	if err == nil {
		logger.L.Debug("reusing latest conversation", "conversation_id", conv.ID, "user_id", userID)
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("latest conversation for %s: %w", userID, err)
	}
	return create(ctx, s, userID)
}

func create(ctx context.Context, s Store, userID string) (*Conversation, error) {
	conv, err := s.Create(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	logger.L.Info("created conversation", "conversation_id", conv.ID, "user_id", userID)
	return conv, nil
}

// Option configures a Store backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
