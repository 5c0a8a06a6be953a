// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jeranaias/chatrelay/internal/uimsg"
)

// =============================================================================
// STATUS AND ERRORS
// =============================================================================

// Status is the request state of a session.
type Status string

const (
	// StatusReady means no request is in flight.
	StatusReady Status = "ready"

	// StatusSubmitted means a request was sent and no chunk has arrived yet.
	StatusSubmitted Status = "submitted"

	// StatusStreaming means chunks are arriving.
	StatusStreaming Status = "streaming"

	// StatusError means the last request failed. Err has the cause.
	StatusError Status = "error"
)

var (
	// ErrEmptyPrompt is returned when SendMessage gets only whitespace.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrBusy is returned when a request is already in flight.
	ErrBusy = errors.New("a response is still streaming")

	// ErrNothingToRegenerate is returned when there is no user message to resend.
	ErrNothingToRegenerate = errors.New("no user message to regenerate")

	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("session closed")
)

// =============================================================================
// SESSION
// =============================================================================

// activeStream is the request currently feeding the session.
type activeStream struct {
	cancel context.CancelFunc
	target *uimsg.Message
	failed bool
}

// Session holds one conversation. All state below the channel fields is
// owned by the loop goroutine and only touched from events.
type Session struct {
	transport Transport
	handlers  []ToolHandler

	events chan func()
	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	messages    []*uimsg.Message
	status      Status
	err         error
	active      *activeStream
	continued   map[string]int
	dispatched  map[string]bool
	subscribers []chan struct{}
}

// NewSession creates a session and starts its event loop. Call Close to
// stop it.
func NewSession(transport Transport, handlers ...ToolHandler) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		transport:  transport,
		handlers:   handlers,
		events:     make(chan func()),
		quit:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		status:     StatusReady,
		continued:  make(map[string]int),
		dispatched: make(map[string]bool),
	}

	s.wg.Add(1)
	go s.loop()
	return s
}

// loop runs events until Close.
func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.quit:
			if s.active != nil {
				s.active.cancel()
			}
			for _, ch := range s.subscribers {
				close(ch)
			}
			s.subscribers = nil
			return
		}
	}
}

// post hands fn to the loop without waiting for it to run. It reports
// false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	if !s.post(func() { fn(); close(done) }) {
		return ErrSessionClosed
	}
	<-done
	return nil
}

// Close stops the event loop and cancels any in-flight request. Tool
// handlers still running get ErrSessionClosed when they report.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.quit)
		s.cancel()
	})
	s.wg.Wait()
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Messages returns a deep copy of the conversation.
func (s *Session) Messages() []uimsg.Message {
	var out []uimsg.Message
	_ = s.do(func() { out = uimsg.CloneAll(s.messages) })
	return out
}

// Status returns the request state.
func (s *Session) Status() Status {
	status := StatusReady
	_ = s.do(func() { status = s.status })
	return status
}

// Err returns the error of the last failed request, or nil.
func (s *Session) Err() error {
	var err error
	_ = s.do(func() { err = s.err })
	return err
}

// Snapshot returns the conversation, status and last error from one
// consistent read.
func (s *Session) Snapshot() ([]uimsg.Message, Status, error) {
	var (
		msgs   []uimsg.Message
		status = StatusReady
		err    error
	)
	_ = s.do(func() {
		msgs = uimsg.CloneAll(s.messages)
		status = s.status
		err = s.err
	})
	return msgs, status, err
}

// Subscribe returns a channel that receives a value after every change.
// Notifications are coalesced: a slow reader sees one pending signal, never
// a backlog. The channel is closed by Close.
func (s *Session) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	if err := s.do(func() { s.subscribers = append(s.subscribers, ch) }); err != nil {
		close(ch)
	}
	return ch
}

// changed notifies subscribers without blocking.
func (s *Session) changed() {
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// =============================================================================
// USER ACTIONS
// =============================================================================

// SendMessage appends a user message and requests a response.
func (s *Session) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyPrompt
	}

	var err error
	if derr := s.do(func() {
		if s.active != nil {
			err = ErrBusy
			return
		}
		s.messages = append(s.messages, uimsg.NewUserMessage(text))
		s.startStream(nil)
	}); derr != nil {
		return derr
	}
	return err
}

// AddToolResult resolves a client tool call with output, which is encoded
// as JSON. Resolving an unknown or already resolved call changes nothing
// and returns the uimsg error.
func (s *Session) AddToolResult(toolCallID string, output any) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to encode tool output: %w", err)
	}
	return s.resolve(toolCallID, raw, "")
}

// AddToolError resolves a client tool call with an error.
func (s *Session) AddToolError(toolCallID, errText string) error {
	if errText == "" {
		errText = "tool failed"
	}
	return s.resolve(toolCallID, nil, errText)
}

func (s *Session) resolve(toolCallID string, output json.RawMessage, errText string) error {
	var err error
	if derr := s.do(func() {
		msg := s.findToolMessage(toolCallID)
		if msg == nil {
			err = fmt.Errorf("%w: %s", uimsg.ErrUnknownToolCall, toolCallID)
			return
		}
		if err = uimsg.ResolveTool(msg, toolCallID, output, errText); err != nil {
			return
		}
		slog.Debug("TOOL_RESOLVED", "call_id", toolCallID, "error", errText != "")
		s.changed()
		s.maybeContinue()
	}); derr != nil {
		return derr
	}
	return err
}

// Stop aborts the in-flight request. Parts already applied stay and the
// message is marked finished. Stop with nothing in flight does nothing.
func (s *Session) Stop() {
	_ = s.do(func() {
		st := s.active
		if st == nil {
			return
		}
		st.cancel()
		s.active = nil
		if st.target != nil {
			st.target.Finalize()
		}
		if !st.failed {
			s.status = StatusReady
		}
		slog.Debug("STREAM_STOPPED")
		s.changed()
	})
}

// Regenerate drops the assistant messages after the last user message and
// requests a fresh response.
func (s *Session) Regenerate() error {
	var err error
	if derr := s.do(func() {
		if s.active != nil {
			err = ErrBusy
			return
		}
		last := -1
		for i := len(s.messages) - 1; i >= 0; i-- {
			if s.messages[i].Role == uimsg.RoleUser {
				last = i
				break
			}
		}
		if last < 0 {
			err = ErrNothingToRegenerate
			return
		}
		s.messages = s.messages[:last+1]
		s.startStream(nil)
	}); derr != nil {
		return derr
	}
	return err
}

// =============================================================================
// STREAMING (loop goroutine only)
// =============================================================================

// startStream sends the history. A nil target creates a new assistant
// message on the first chunk; a continuation streams into target.
func (s *Session) startStream(target *uimsg.Message) {
	ctx, cancel := context.WithCancel(s.ctx)
	st := &activeStream{cancel: cancel, target: target}
	s.active = st
	s.status = StatusSubmitted
	s.err = nil

	history := uimsg.CloneAll(s.messages)
	slog.Debug("STREAM_START", "messages", len(history), "continuation", target != nil)

	s.wg.Add(1)
	go s.pump(ctx, st, history)
	s.changed()
}

// pump reads the response and posts every chunk to the loop. It exits when
// the stream ends, the request is cancelled, or the session closes.
func (s *Session) pump(ctx context.Context, st *activeStream, history []uimsg.Message) {
	defer s.wg.Done()

	cs, err := s.transport.Send(ctx, history)
	if err != nil {
		s.post(func() { s.endStream(st, err) })
		return
	}
	defer cs.Close()

	for {
		c, err := cs.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			s.post(func() { s.endStream(st, err) })
			return
		}
		if !s.post(func() { s.applyChunk(st, c) }) {
			return
		}
	}
}

// applyChunk folds one chunk into the target message.
func (s *Session) applyChunk(st *activeStream, c uimsg.Chunk) {
	if st != s.active {
		// Stopped or superseded.
		return
	}
	if st.target == nil {
		st.target = uimsg.NewAssistantMessage()
		s.messages = append(s.messages, st.target)
	}
	if !st.failed {
		s.status = StatusStreaming
	}

	if err := uimsg.Apply(st.target, c); err != nil {
		slog.Debug("CHUNK_REJECTED", "type", c.Type, "error", err)
	}

	switch c.Type {
	case uimsg.ChunkError:
		st.failed = true
		s.status = StatusError
		s.err = errors.New(c.ErrorText)
	case uimsg.ChunkToolInputAvailable:
		s.dispatch(st.target, c.ToolCallID)
	}
	s.changed()
}

// endStream closes out the active request and evaluates continuation.
func (s *Session) endStream(st *activeStream, err error) {
	if st != s.active {
		return
	}
	s.active = nil
	st.cancel()

	if st.target != nil {
		if st.target.ID == "" {
			st.target.ID = uimsg.NewID()
		}
		if err != nil && st.target.ErrorText() == "" {
			_ = uimsg.Apply(st.target, uimsg.Chunk{Type: uimsg.ChunkError, ErrorText: err.Error()})
		}
		st.target.Finalize()
	}

	switch {
	case err != nil:
		s.status = StatusError
		s.err = err
		slog.Debug("STREAM_FAILED", "error", err)
	case st.failed:
		s.status = StatusError
	default:
		s.status = StatusReady
	}
	s.changed()
	s.maybeContinue()
}

// dispatch hands a client tool call to the handlers, once per call.
func (s *Session) dispatch(msg *uimsg.Message, toolCallID string) {
	p := msg.FindTool(toolCallID)
	if p == nil || p.ProviderExecuted || p.State != uimsg.StateInputAvailable {
		return
	}
	if s.dispatched[toolCallID] {
		return
	}
	s.dispatched[toolCallID] = true

	call := ToolCall{
		ID:      toolCallID,
		Name:    p.ToolName(),
		Input:   p.InputMap(),
		session: s,
	}
	slog.Debug("TOOL_DISPATCH", "tool", call.Name, "call_id", call.ID)
	for _, h := range s.handlers {
		go h.OnToolCall(call)
	}
}

// maybeContinue resends the history once every tool call of the last
// assistant message is resolved and at least one was resolved here. Each
// set of client results is sent at most once.
func (s *Session) maybeContinue() {
	if s.active != nil || s.status == StatusError || len(s.messages) == 0 {
		return
	}
	last := s.messages[len(s.messages)-1]
	if last.Role != uimsg.RoleAssistant {
		return
	}

	resolved := 0
	for _, p := range last.ToolParts() {
		if !p.State.IsTerminal() {
			return
		}
		if !p.ProviderExecuted {
			resolved++
		}
	}
	if resolved == 0 || s.continued[last.ID] >= resolved {
		return
	}
	s.continued[last.ID] = resolved

	slog.Debug("AUTO_CONTINUE", "message_id", last.ID, "client_results", resolved)
	s.startStream(last)
}

// findToolMessage returns the message holding the tool call, newest first.
func (s *Session) findToolMessage(toolCallID string) *uimsg.Message {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].FindTool(toolCallID) != nil {
			return s.messages[i]
		}
	}
	return nil
}
