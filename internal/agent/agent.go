// Package agent drives one chat request from the user's message to the
// persisted assistant reply.
//
// Each request runs its own state machine:
//
//	Received -> ResolvingConversation -> AppendingUserMessage -> Streaming
//	         -> PersistingAssistantMessage -> Done
//
// with Error reachable from every non-terminal state. Prepare walks the
// machine up to AppendingUserMessage; Run (streaming) or Reply (single
// response) walks it to the end.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/assistant-go/internal/config"
	"github.com/comigor/assistant-go/internal/history"
	"github.com/comigor/assistant-go/internal/llm"
	"github.com/comigor/assistant-go/internal/logger"
)

// FSM States
type FSMState string

const (
	StateReceived        FSMState = "Received"
	StateResolving       FSMState = "ResolvingConversation"
	StateAppendingUser   FSMState = "AppendingUserMessage"
	StateStreaming       FSMState = "Streaming"
	StatePersistingReply FSMState = "PersistingAssistantMessage"
	StateDone            FSMState = "Done"  // Terminal: reply delivered
	StateError           FSMState = "Error" // Terminal: error state
)

// FSM Triggers
type FSMTrigger string

const (
	triggerResolve      FSMTrigger = "Resolve"
	triggerAppendUser   FSMTrigger = "AppendUserMessage"
	triggerGenerate     FSMTrigger = "Generate"
	triggerPersistReply FSMTrigger = "PersistReply"
	triggerFinish       FSMTrigger = "Finish"
	triggerFail         FSMTrigger = "Fail"
)

const (
	defaultWriteTimeout = 5 * time.Second
	errorNotePrefix     = "Error processing request: "
)

// LLM is the part of the gateway the orchestrator needs.
type LLM interface {
	Ready() error
	Stream(ctx context.Context, messages []llm.Message) (llm.TokenStream, error)
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Sink receives the streamed reply. relay.Relay implements it.
type Sink interface {
	Send(ctx context.Context, content string) error
	Complete(conversationID string) error
	Fail(message string) error
}

// Request is one inbound chat message.
type Request struct {
	RequestID      string
	UserID         string
	ConversationID string
	Message        string
}

// Agent holds what every request shares.
type Agent struct {
	store         history.Store
	llm           LLM
	systemPrompt  string
	streamTimeout time.Duration
	writeTimeout  time.Duration
	now           func() time.Time
}

// Option customises an Agent.
type Option func(*Agent)

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

func New(store history.Store, model LLM, cfg config.Config, opts ...Option) *Agent {
	a := &Agent{
		store:         store,
		llm:           model,
		systemPrompt:  cfg.LLM.SystemPrompt,
		streamTimeout: cfg.LLM.StreamTimeout,
		writeTimeout:  cfg.Store.WriteTimeout,
		now:           time.Now,
	}
	if a.systemPrompt == "" {
		a.systemPrompt = config.DefaultSystemPrompt
	}
	if a.writeTimeout <= 0 {
		a.writeTimeout = defaultWriteTimeout
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Validate rejects a request before anything is stored. A missing credential
// is reported ahead of an empty message.
func (a *Agent) Validate(req Request) error {
	if err := a.llm.Ready(); err != nil {
		return err
	}
	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Session is one request's trip through the state machine.
type Session struct {
	agent *Agent
	req   Request
	log   *slog.Logger
	fsm   *stateless.StateMachine

	conv       *history.Conversation
	sink       Sink
	reply      string
	generating bool
	clientGone bool
	lastError  error
}

// Prepare validates the request, resolves (or creates) the conversation and
// stores the user message. Errors returned here happen before any reply is
// produced.
func (a *Agent) Prepare(ctx context.Context, req Request) (*Session, error) {
	if err := a.Validate(req); err != nil {
		return nil, err
	}

	s := a.newSession(req)
	if err := s.fsm.FireCtx(ctx, triggerResolve); err != nil {
		return nil, fmt.Errorf("chat state machine: %w", err)
	}
	if s.lastError != nil {
		return nil, s.lastError
	}
	return s, nil
}

// ConversationID is the resolved conversation.
func (s *Session) ConversationID() string {
	if s.conv == nil {
		return ""
	}
	return s.conv.ID
}

// State is the current machine state.
func (s *Session) State() FSMState {
	return s.fsm.MustState().(FSMState)
}

// Run streams the reply into sink and persists it. sink always receives
// exactly one terminal frame.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	s.sink = sink
	if err := s.fsm.FireCtx(ctx, triggerGenerate); err != nil {
		if ferr := sink.Fail(FailureMessage); ferr != nil {
			s.log.Warn("failed to write terminal frame", "error", ferr)
		}
		return fmt.Errorf("chat state machine: %w", err)
	}
	return s.lastError
}

// Reply produces the reply in one piece and persists it.
func (s *Session) Reply(ctx context.Context) (string, error) {
	if err := s.fsm.FireCtx(ctx, triggerGenerate); err != nil {
		return "", fmt.Errorf("chat state machine: %w", err)
	}
	if s.lastError != nil {
		return "", s.lastError
	}
	return s.reply, nil
}

func (a *Agent) newSession(req Request) *Session {
	s := &Session{
		agent: a,
		req:   req,
		log:   logger.L.With("user_id", req.UserID),
	}
	if req.RequestID != "" {
		s.log = s.log.With("request_id", req.RequestID)
	}

	fsm := stateless.NewStateMachineWithMode(StateReceived, stateless.FiringQueued)
	s.fsm = fsm

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		s.log.Debug("chat state changed", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})

	fsm.Configure(StateReceived).
		Permit(triggerResolve, StateResolving).
		Permit(triggerFail, StateError)

	fsm.Configure(StateResolving).
		OnEntry(func(ctx context.Context, _ ...any) error {
			conv, err := history.ResolveOrCreate(ctx, a.store, req.UserID, req.ConversationID)
			if err != nil {
				s.lastError = &PersistenceError{Op: "resolve conversation", Err: err}
				return fsm.FireCtx(ctx, triggerFail)
			}
			s.conv = conv
			s.log = s.log.With("conversation_id", conv.ID)
			return fsm.FireCtx(ctx, triggerAppendUser)
		}).
		Permit(triggerAppendUser, StateAppendingUser).
		Permit(triggerFail, StateError)

	// AppendingUserMessage is where Prepare stops; the next trigger comes
	// from Run or Reply.
	fsm.Configure(StateAppendingUser).
		OnEntry(func(ctx context.Context, _ ...any) error {
			msg := history.Message{Role: history.RoleUser, Content: req.Message, Timestamp: a.now()}
			conv, err := a.store.Append(ctx, s.conv.ID, msg)
			if err != nil {
				s.lastError = &PersistenceError{Op: "append user message", Err: err}
				return fsm.FireCtx(ctx, triggerFail)
			}
			s.conv = conv
			return nil
		}).
		Permit(triggerGenerate, StateStreaming).
		Permit(triggerFail, StateError)

	fsm.Configure(StateStreaming).
		OnEntry(func(ctx context.Context, _ ...any) error {
			s.generating = true
			messages := a.buildMessages(s.conv)

			var err error
			if s.sink != nil {
				err = s.stream(ctx, messages)
			} else {
				err = s.complete(ctx, messages)
			}
			if err != nil {
				s.lastError = err
				return fsm.FireCtx(ctx, triggerFail)
			}
			return fsm.FireCtx(ctx, triggerPersistReply)
		}).
		Permit(triggerPersistReply, StatePersistingReply).
		Permit(triggerFail, StateError)

	fsm.Configure(StatePersistingReply).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if strings.TrimSpace(s.reply) == "" {
				s.log.Info("empty reply, nothing to store")
				return fsm.FireCtx(ctx, triggerFinish)
			}
			msg := history.Message{Role: history.RoleAssistant, Content: s.reply, Timestamp: a.now()}
			if _, err := a.store.Append(ctx, s.conv.ID, msg); err != nil {
				s.lastError = &PersistenceError{Op: "append assistant message", Err: err}
				return fsm.FireCtx(ctx, triggerFail)
			}
			return fsm.FireCtx(ctx, triggerFinish)
		}).
		Permit(triggerFinish, StateDone).
		Permit(triggerFail, StateError)

	fsm.Configure(StateDone).
		OnEntry(func(ctx context.Context, _ ...any) error {
			s.log.Info("chat completed", "reply_length", len(s.reply))
			if s.sink != nil {
				if err := s.sink.Complete(s.conv.ID); err != nil {
					s.log.Warn("failed to write terminal frame", "error", err)
				}
			}
			return nil
		})

	fsm.Configure(StateError).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if s.lastError == nil {
				s.lastError = errors.New("chat ended in error state without a specific error")
			}
			if !s.generating {
				s.log.Error("chat request failed", "error", s.lastError)
				return nil
			}
			if s.clientGone {
				s.log.Info("client went away", "error", s.lastError)
			} else {
				s.log.Error("chat request failed", "error", s.lastError)
				s.recordFailure(ctx)
			}
			if s.sink != nil {
				if err := s.sink.Fail(FailureMessage); err != nil {
					s.log.Warn("failed to write terminal frame", "error", err)
				}
			}
			return nil
		})

	return s
}

func (a *Agent) buildMessages(conv *history.Conversation) []llm.Message {
	out := make([]llm.Message, 0, len(conv.Messages)+1)
	out = append(out, llm.Message{Role: string(history.RoleSystem), Content: a.systemPrompt})
	for _, m := range conv.Messages {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (a *Agent) withStreamTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.streamTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.streamTimeout)
}

func (s *Session) stream(ctx context.Context, messages []llm.Message) error {
	streamCtx, cancel := s.agent.withStreamTimeout(ctx)
	defer cancel()

	ts, err := s.agent.llm.Stream(streamCtx, messages)
	if err != nil {
		return s.upstream(ctx, err)
	}
	defer ts.Close()

	var text strings.Builder
	for {
		tok, err := ts.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.reply = text.String()
			return s.upstream(ctx, err)
		}
		text.WriteString(tok)
		if err := s.sink.Send(ctx, tok); err != nil {
			s.reply = text.String()
			s.clientGone = true
			return fmt.Errorf("relay fragment: %w", err)
		}
	}
	s.reply = text.String()
	return nil
}

func (s *Session) complete(ctx context.Context, messages []llm.Message) error {
	callCtx, cancel := s.agent.withStreamTimeout(ctx)
	defer cancel()

	reply, err := s.agent.llm.Complete(callCtx, messages)
	if err != nil {
		return s.upstream(ctx, err)
	}
	s.reply = reply
	return nil
}

// upstream classifies a provider failure; a cancelled client context is not
// the provider's fault.
func (s *Session) upstream(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		s.clientGone = true
		return fmt.Errorf("client cancelled: %w", ctx.Err())
	}
	return &UpstreamError{Err: err}
}

// recordFailure appends the error note to the conversation. It runs on a
// context detached from the client so a disconnect does not skip it.
func (s *Session) recordFailure(ctx context.Context) {
	if s.conv == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.agent.writeTimeout)
	defer cancel()

	note := history.Message{
		Role:      history.RoleAssistant,
		Content:   errorNotePrefix + cause(s.lastError),
		Timestamp: s.agent.now(),
	}
	if _, err := s.agent.store.Append(wctx, s.conv.ID, note); err != nil {
		s.log.Error("failed to record error message", "error", err)
	}
}
