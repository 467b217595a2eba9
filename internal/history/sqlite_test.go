package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock *stepClock) Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"), WithClock(clock.Now))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close(context.Background()) })
		return s
	})
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	conv, err := s.Create(ctx, "u")
	require.NoError(t, err)
	_, err = s.Append(ctx, conv.ID, Message{Role: RoleUser, Content: "persisted", Timestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close(ctx)
	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "persisted", got.Messages[0].Content)
}
