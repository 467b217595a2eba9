// Package relay frames a token stream as newline-delimited JSON for a browser
// reading the response body incrementally.
//
// Every frame is one JSON object followed by "\n". Content frames carry
// isComplete=false; exactly one terminal frame (isComplete=true) ends the
// response and carries either the conversation id or an error.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrFinished is returned by Send after the terminal frame was written.
var ErrFinished = errors.New("relay: terminal frame already sent")

// Frame is the wire object.
type Frame struct {
	Content        string `json:"content"`
	IsComplete     bool   `json:"isComplete"`
	ConversationID string `json:"conversationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

const closedMessage = "stream closed unexpectedly"

// SetHeaders prepares a response for incremental delivery.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
}

// Relay writes frames to w and accumulates the streamed text.
type Relay struct {
	mu       sync.Mutex
	enc      *json.Encoder
	flusher  http.Flusher
	delay    time.Duration
	text     strings.Builder
	finished bool
}

// New returns a Relay writing to w. When w is an http.Flusher every frame is
// flushed. delay is waited after each content frame.
func New(w io.Writer, delay time.Duration) *Relay {
	r := &Relay{enc: json.NewEncoder(w), delay: delay}
	if f, ok := w.(http.Flusher); ok {
		r.flusher = f
	}
	return r
}

func (r *Relay) write(f Frame) error {
	// Encode appends the newline delimiter
	if err := r.enc.Encode(f); err != nil {
		return err
	}
	if r.flusher != nil {
		r.flusher.Flush()
	}
	return nil
}

// Send forwards one fragment, then waits the inter-chunk delay. It returns
// ctx.Err() if the client went away while waiting.
func (r *Relay) Send(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return ErrFinished
	}
	r.text.WriteString(content)
	err := r.write(Frame{Content: content})
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if r.delay <= 0 {
		return nil
	}
	t := time.NewTimer(r.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete writes the success terminal frame.
func (r *Relay) Complete(conversationID string) error {
	return r.finish(Frame{IsComplete: true, ConversationID: conversationID})
}

// Fail writes the error terminal frame.
func (r *Relay) Fail(message string) error {
	return r.finish(Frame{IsComplete: true, Error: message})
}

func (r *Relay) finish(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	r.finished = true
	return r.write(f)
}

// Close guarantees a terminal frame: it writes an error frame unless Complete
// or Fail already ran.
func (r *Relay) Close() error {
	return r.Fail(closedMessage)
}

// Text is everything sent so far.
func (r *Relay) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text.String()
}

// Finished reports whether the terminal frame was written.
func (r *Relay) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}
