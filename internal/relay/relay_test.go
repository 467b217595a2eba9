package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var f map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &f), "line %q", sc.Text())
		out = append(out, f)
	}
	return out
}

func TestRelay_ContentThenComplete(t *testing.T) {
	rec := httptest.NewRecorder()
	r := New(rec, 0)

	require.NoError(t, r.Send(context.Background(), "Hel"))
	require.NoError(t, r.Send(context.Background(), "lo"))
	require.NoError(t, r.Complete("conv-1"))

	assert.Equal(t, "Hello", r.Text())
	assert.True(t, rec.Flushed)

	got := frames(t, rec.Body.Bytes())
	require.Len(t, got, 3)
	assert.Equal(t, map[string]any{"content": "Hel", "isComplete": false}, got[0])
	assert.Equal(t, map[string]any{"content": "lo", "isComplete": false}, got[1])
	assert.Equal(t, map[string]any{"content": "", "isComplete": true, "conversationId": "conv-1"}, got[2])
}

func TestRelay_ExactlyOneTerminalFrame(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 0)

	require.NoError(t, r.Fail("error processing request"))
	require.NoError(t, r.Complete("ignored"))
	require.NoError(t, r.Close())
	assert.True(t, r.Finished())
	assert.ErrorIs(t, r.Send(context.Background(), "late"), ErrFinished)

	got := frames(t, buf.Bytes())
	require.Len(t, got, 1)
	assert.Equal(t, true, got[0]["isComplete"])
	assert.Equal(t, "error processing request", got[0]["error"])
	assert.NotContains(t, got[0], "conversationId")
}

func TestRelay_CloseWritesErrorFrameWhenUnfinished(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 0)
	require.NoError(t, r.Send(context.Background(), "partial"))
	require.NoError(t, r.Close())

	got := frames(t, buf.Bytes())
	require.Len(t, got, 2)
	assert.Equal(t, closedMessage, got[1]["error"])
}

func TestRelay_DelayHonoursCancellation(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Send(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, "x", r.Text(), "the frame was written before waiting")

	assert.ErrorIs(t, r.Send(ctx, "y"), context.Canceled)
	assert.Equal(t, "x", r.Text())
}

func TestRelay_Delay(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 15*time.Millisecond)

	start := time.Now()
	require.NoError(t, r.Send(context.Background(), "a"))
	require.NoError(t, r.Send(context.Background(), "b"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestRelay_WriteError(t *testing.T) {
	r := New(brokenWriter{}, 0)
	require.Error(t, r.Send(context.Background(), "x"))
	require.Error(t, r.Complete("c"))
	assert.True(t, r.Finished(), "a failed terminal write still counts as the terminal frame")
}

func TestSetHeaders(t *testing.T) {
	h := http.Header{}
	SetHeaders(h)
	assert.Equal(t, "text/event-stream", h.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", h.Get("Cache-Control"))
	assert.Equal(t, "keep-alive", h.Get("Connection"))
}
