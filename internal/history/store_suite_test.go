package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newStepClock() *stepClock {
	return &stepClock{cur: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T, clock *stepClock) Store) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t, newStepClock())
		conv, err := s.Create(ctx, "user_a")
		require.NoError(t, err)
		require.NotEmpty(t, conv.ID)
		assert.Equal(t, "user_a", conv.UserID)
		assert.Empty(t, conv.Messages)

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
		assert.Equal(t, "user_a", got.UserID)
		assert.True(t, conv.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t, newStepClock())
		_, err := s.Get(ctx, "does-not-exist")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AppendPreservesOrder", func(t *testing.T) {
		clock := newStepClock()
		s := newStore(t, clock)
		conv, err := s.Create(ctx, "user_a")
		require.NoError(t, err)

		want := []Message{
			{Role: RoleUser, Content: "hello", Timestamp: clock.Now()},
			{Role: RoleAssistant, Content: "hi there, how can I help?", Timestamp: clock.Now()},
			{Role: RoleUser, Content: "多语言 content ✓", Timestamp: clock.Now()},
		}
		var last *Conversation
		for _, m := range want {
			last, err = s.Append(ctx, conv.ID, m)
			require.NoError(t, err)
		}
		require.Len(t, last.Messages, 3)
		assert.True(t, last.UpdatedAt.After(conv.UpdatedAt), "append bumps updatedAt")

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, got.Messages, len(want))
		for i := range want {
			assert.Equal(t, want[i].Role, got.Messages[i].Role)
			assert.Equal(t, want[i].Content, got.Messages[i].Content)
			assert.True(t, want[i].Timestamp.Equal(got.Messages[i].Timestamp),
				"timestamp %d: want %v got %v", i, want[i].Timestamp, got.Messages[i].Timestamp)
		}
	})

	t.Run("AppendUnknown", func(t *testing.T) {
		s := newStore(t, newStepClock())
		_, err := s.Append(ctx, "does-not-exist", Message{Role: RoleUser, Content: "x", Timestamp: time.Now()})
		require.ErrorIs(t, err, ErrNotFound)

		conv, err := s.Create(ctx, "user_a")
		require.NoError(t, err)
		ok, err := s.Delete(ctx, conv.ID)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = s.Append(ctx, conv.ID, Message{Role: RoleUser, Content: "x", Timestamp: time.Now()})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("LatestAndList", func(t *testing.T) {
		clock := newStepClock()
		s := newStore(t, clock)

		_, err := s.Latest(ctx, "user_a")
		require.ErrorIs(t, err, ErrNotFound)

		a, err := s.Create(ctx, "user_a")
		require.NoError(t, err)
		b, err := s.Create(ctx, "user_a")
		require.NoError(t, err)
		other, err := s.Create(ctx, "user_b")
		require.NoError(t, err)

		latest, err := s.Latest(ctx, "user_a")
		require.NoError(t, err)
		assert.Equal(t, b.ID, latest.ID)

		_, err = s.Append(ctx, a.ID, Message{Role: RoleUser, Content: "bump", Timestamp: clock.Now()})
		require.NoError(t, err)

		latest, err = s.Latest(ctx, "user_a")
		require.NoError(t, err)
		assert.Equal(t, a.ID, latest.ID)

		list, err := s.ListByUser(ctx, "user_a")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, a.ID, list[0].ID)
		assert.Equal(t, b.ID, list[1].ID)
		assert.Len(t, list[0].Messages, 1)

		list, err = s.ListByUser(ctx, "user_b")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, other.ID, list[0].ID)

		list, err = s.ListByUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := newStore(t, newStepClock())
		keep, err := s.Create(ctx, "user_a")
		require.NoError(t, err)
		gone, err := s.Create(ctx, "user_a")
		require.NoError(t, err)

		ok, err := s.Delete(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.Delete(ctx, gone.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Delete(ctx, gone.ID)
		require.NoError(t, err)
		assert.False(t, ok, "second delete reports not found")

		_, err = s.Get(ctx, gone.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, keep.ID)
		require.NoError(t, err)
	})
}
