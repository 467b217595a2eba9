package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock *stepClock) Store {
		return NewMemoryStore(WithClock(clock.Now))
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, err := s.Create(ctx, "u")
	require.NoError(t, err)

	conv.Messages = append(conv.Messages, Message{Role: RoleUser, Content: "local only"})

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Empty(t, got.Messages)
}
