package agent

import "errors"

// ErrEmptyMessage is returned when a chat request carries no message text.
var ErrEmptyMessage = errors.New("message is required")

// FailureMessage is the error text put on the terminal frame of a failed
// stream. Details stay in the logs and in the stored conversation.
const FailureMessage = "error processing request"

// UpstreamError wraps a failure reported by the LLM provider.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "llm upstream: " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure of the conversation store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// cause is the message recorded in the conversation for a failed request.
func cause(err error) string {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Err.Error()
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}
