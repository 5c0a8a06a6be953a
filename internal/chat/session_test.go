// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatrelay/internal/tools"
	"github.com/jeranaias/chatrelay/internal/uimsg"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// script is one scripted response.
type script struct {
	chunks []uimsg.Chunk
	err    error         // returned by Send
	hold   chan struct{} // blocks after the chunks until closed
	endErr error         // returned instead of io.EOF
}

type fakeTransport struct {
	mu      sync.Mutex
	scripts []script
	sent    [][]uimsg.Message
}

func (f *fakeTransport) Send(ctx context.Context, messages []uimsg.Message) (ChunkStream, error) {
	f.mu.Lock()
	i := len(f.sent)
	f.sent = append(f.sent, messages)
	f.mu.Unlock()

	if i >= len(f.scripts) {
		return nil, errors.New("unexpected request")
	}
	sc := f.scripts[i]
	if sc.err != nil {
		return nil, sc.err
	}
	return &fakeStream{ctx: ctx, sc: sc}, nil
}

func (f *fakeTransport) requests() [][]uimsg.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]uimsg.Message(nil), f.sent...)
}

type fakeStream struct {
	ctx context.Context
	sc  script
	pos int
}

func (s *fakeStream) Next() (uimsg.Chunk, error) {
	if s.pos < len(s.sc.chunks) {
		c := s.sc.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.sc.hold != nil {
		select {
		case <-s.sc.hold:
		case <-s.ctx.Done():
			return uimsg.Chunk{}, s.ctx.Err()
		}
	}
	if s.sc.endErr != nil {
		return uimsg.Chunk{}, s.sc.endErr
	}
	return uimsg.Chunk{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

// =============================================================================
// CHUNK BUILDERS
// =============================================================================

func textResponse(text string) []uimsg.Chunk {
	return []uimsg.Chunk{
		{Type: uimsg.ChunkStart, MessageID: "msg-" + text},
		{Type: uimsg.ChunkStartStep},
		{Type: uimsg.ChunkTextStart, ID: "t"},
		{Type: uimsg.ChunkTextDelta, ID: "t", Delta: text},
		{Type: uimsg.ChunkTextEnd, ID: "t"},
		{Type: uimsg.ChunkFinishStep},
		{Type: uimsg.ChunkFinish, FinishReason: "stop"},
	}
}

func clientToolResponse(tool, id, input string) []uimsg.Chunk {
	return []uimsg.Chunk{
		{Type: uimsg.ChunkStart, MessageID: "msg-tool"},
		{Type: uimsg.ChunkStartStep},
		{Type: uimsg.ChunkToolInputStart, ToolCallID: id, ToolName: tool},
		{Type: uimsg.ChunkToolInputDelta, ToolCallID: id, InputTextDelta: input},
		{Type: uimsg.ChunkToolInputAvailable, ToolCallID: id, ToolName: tool, Input: json.RawMessage(input)},
		{Type: uimsg.ChunkFinishStep},
		{Type: uimsg.ChunkFinish, FinishReason: "tool-calls"},
	}
}

// continuationResponse is what the server streams after a client result:
// a new step in the same assistant message.
func continuationResponse(text string) []uimsg.Chunk {
	out := textResponse(text)
	out[0].MessageID = "ignored-id"
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func waitReady(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := s.Status()
		return st == StatusReady || st == StatusError
	}, 2*time.Second, 5*time.Millisecond)
}

func waitRequests(t *testing.T, f *fakeTransport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.requests()) >= n }, 2*time.Second, 5*time.Millisecond)
}

func lastMessage(t *testing.T, s *Session) *uimsg.Message {
	t.Helper()
	msgs := s.Messages()
	require.NotEmpty(t, msgs)
	return &msgs[len(msgs)-1]
}

// =============================================================================
// SEND MESSAGE
// =============================================================================

func TestSendMessage_EmptyPrompt(t *testing.T) {
	f := &fakeTransport{}
	s := NewSession(f)
	defer s.Close()

	for _, text := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, s.SendMessage(text), ErrEmptyPrompt)
	}
	assert.Empty(t, s.Messages())
	assert.Empty(t, f.requests())
	assert.Equal(t, StatusReady, s.Status())
}

func TestSendMessage_StreamsAssistantReply(t *testing.T) {
	f := &fakeTransport{scripts: []script{{chunks: textResponse("Hello")}}}
	s := NewSession(f)
	defer s.Close()

	require.NoError(t, s.SendMessage("  hi  "))
	waitRequests(t, f, 1)
	waitReady(t, s)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, uimsg.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Text())
	assert.Equal(t, uimsg.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "msg-Hello", msgs[1].ID)
	assert.Equal(t, "Hello", msgs[1].Text())
	assert.False(t, msgs[1].IsStreaming())
	assert.Equal(t, StatusReady, s.Status())
	assert.NoError(t, s.Err())

	sent := f.requests()[0]
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", sent[0].Text())
}

func TestSendMessage_Busy(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	f := &fakeTransport{scripts: []script{{chunks: textResponse("x")[:4], hold: hold}}}
	s := NewSession(f)
	defer s.Close()

	require.NoError(t, s.SendMessage("first"))
	assert.ErrorIs(t, s.SendMessage("second"), ErrBusy)
}

func TestMessages_ReturnsCopy(t *testing.T) {
	f := &fakeTransport{scripts: []script{{chunks: textResponse("Hello")}}}
	s := NewSession(f)
	defer s.Close()

	require.NoError(t, s.SendMessage("hi"))
	waitReady(t, s)

	msgs := s.Messages()
	msgs[1].Parts[0].Text = "mutated"
	assert.Equal(t, "Hello", lastMessage(t, s).Text())
}

func TestSnapshot(t *testing.T) {
	f := &fakeTransport{scripts: []script{{chunks: textResponse("Hello")}}}
	s := NewSession(f)
	defer s.Close()

	msgs, status, err := s.Snapshot()
	assert.Empty(t, msgs)
	assert.Equal(t, StatusReady, status)
	assert.NoError(t, err)

	require.NoError(t, s.SendMessage("hi"))
	waitReady(t, s)

	msgs, status, err = s.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Text())
	assert.Equal(t, StatusReady, status)
	assert.NoError(t, err)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestProviderErrorChunk(t *testing.T) {
	f := &fakeTransport{scripts: []script{{chunks: []uimsg.Chunk{
		{Type: uimsg.ChunkStart, MessageID: "m1"},
		{Type: uimsg.ChunkStartStep},
		{Type: uimsg.ChunkTextStart, ID: "t"},
		{Type: uimsg.ChunkTextDelta, ID: "t", Delta: "partial"},
		{Type: uimsg.ChunkError, ErrorText: "authentication failed"},
		{Type: uimsg.ChunkFinish, FinishReason: "error"},
	}}}}
	s := NewSession(f)
	defer s.Close()

	require.NoError(t, s.SendMessage("hi"))
	waitRequests(t, f, 1)
	waitReady(t, s)

	assert.Equal(t, StatusError, s.Status())
	require.Error(t, s.Err())
	assert.Equal(t, "authentication failed", s.Err().Error())

	msg := lastMessage(t, s)
	assert.Equal(t, "partial", msg.Text(), "applied parts are kept")
	assert.Equal(t, "authentication failed", msg.ErrorText())
	assert.False(t, msg.IsStreaming())
}

func TestEndpointNotConfigured(t *testing.T) {
	s := NewSession(NewHTTPTransport(""))
	defer s.Close()

	require.NoError(t, s.SendMessage("hi"))
	waitReady(t, s)

	assert.Equal(t, StatusError, s.Status())
	assert.ErrorIs(t, s.Err(), ErrEndpointNotConfigured)
	assert.Equal(t, "Error: endpoint base URL not set", "Error: "+s.Err().Error())
	assert.Len(t, s.Messages(), 1, "no assistant message without a response")
}

func TestNetworkInterruption(t *testing.T) {
	f := &fakeTransport{scripts: []script{{
		chunks: textResponse("cut")[:4],
		endErr: ErrStreamInterrupted,
	}}}
	s := NewSession(f)
	defer s.Close()

	require.NoError(t, s.SendMessage("hi"))
	waitRequests(t, f, 1)
	waitReady(t, s)

	assert.Equal(t, StatusError, s.Status())
	assert.ErrorIs(t, s.Err(), ErrStreamInterrupted)

	msg := lastMessage(t, s)
	assert.Equal(t, "cut", msg.Text())
	assert.False(t, msg.IsStreaming(), "message is marked finished")
	assert.Equal(t, ErrStreamInterrupted.Error(), msg.ErrorText())
	assert.Len(t, f.requests(), 1, "no automatic retry")
}

// =============================================================================
// STOP
// =============================================================================

func TestStop_KeepsPartialMessage(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	f := &fakeTransport{scripts: []script{{chunks: textResponse("partial")[:4], hold: hold}}}
	s := NewSession(f)
	defer s.Close()

	require.NoError(t, s.SendMessage("hi"))
	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 2 && msgs[1].Text() == "partial"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusStreaming, s.Status())

	s.Stop()

	assert.Equal(t, StatusReady, s.Status())
	assert.NoError(t, s.Err())
	msg := lastMessage(t, s)
	assert.Equal(t, "partial", msg.Text())
	assert.False(t, msg.IsStreaming())

	// Stop is idempotent.
	s.Stop()
	assert.Equal(t, StatusReady, s.Status())
}

// =============================================================================
// TOOLS AND CONTINUATION
// =============================================================================

func TestAutoResolver_ContinuesOnce(t *testing.T) {
	f := &fakeTransport{scripts: []script{
		{chunks: clientToolResponse(tools.LocationToolName, "loc1", `{}`)},
		{chunks: continuationResponse("Weather in Chicago is nice")},
	}}
	resolver := &AutoResolver{Location: func() string { return "Chicago" }}
	s := NewSession(f, resolver)
	defer s.Close()

	require.NoError(t, s.SendMessage("where am I?"))
	waitRequests(t, f, 2)
	waitReady(t, s)

	msgs := s.Messages()
	require.Len(t, msgs, 2, "the continuation streams into the same assistant message")
	assistant := msgs[1]
	assert.Equal(t, "msg-tool", assistant.ID)

	part := assistant.FindTool("loc1")
	require.NotNil(t, part)
	assert.Equal(t, uimsg.StateOutputAvailable, part.State)
	assert.Equal(t, "Chicago", part.OutputText())
	assert.Equal(t, "Weather in Chicago is nice", assistant.Text())

	// The continuation carries the full updated history.
	second := f.requests()[1]
	require.Len(t, second, 2)
	resolved := second[1].FindTool("loc1")
	require.NotNil(t, resolved)
	assert.Equal(t, uimsg.StateOutputAvailable, resolved.State)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.requests(), 2, "exactly one continuation")
}

func TestConfirmation_WaitsForUser(t *testing.T) {
	f := &fakeTransport{scripts: []script{
		{chunks: clientToolResponse(tools.ConfirmationToolName, "c1", `{"message":"Check the weather?"}`)},
		{chunks: continuationResponse("Checking now")},
	}}
	s := NewSession(f, NewAutoResolver())
	defer s.Close()

	require.NoError(t, s.SendMessage("weather?"))
	waitRequests(t, f, 1)
	waitReady(t, s)

	time.Sleep(50 * time.Millisecond)
	part := lastMessage(t, s).FindTool("c1")
	require.NotNil(t, part)
	assert.Equal(t, uimsg.StateInputAvailable, part.State, "no timeout resolves a confirmation")
	assert.Equal(t, "Check the weather?", part.InputString("message"))
	assert.Len(t, f.requests(), 1)

	require.NoError(t, s.AddToolResult("c1", tools.ConfirmYes))
	waitRequests(t, f, 2)
	waitReady(t, s)
	assert.Equal(t, "Checking now", lastMessage(t, s).Text())

	// Resolving again is a no-op.
	err := s.AddToolResult("c1", tools.ConfirmNo)
	assert.ErrorIs(t, err, uimsg.ErrTerminalPart)
	assert.Equal(t, tools.ConfirmYes, lastMessage(t, s).FindTool("c1").OutputText())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.requests(), 2)
}

func TestAddToolError_Continues(t *testing.T) {
	f := &fakeTransport{scripts: []script{
		{chunks: clientToolResponse(tools.ConfirmationToolName, "c1", `{"message":"ok?"}`)},
		{chunks: continuationResponse("Understood")},
	}}
	s := NewSession(f)
	defer s.Close()

	require.NoError(t, s.SendMessage("go"))
	waitReady(t, s)
	require.NoError(t, s.AddToolError("c1", "user closed the dialog"))
	waitRequests(t, f, 2)

	part := f.requests()[1][1].FindTool("c1")
	require.NotNil(t, part)
	assert.Equal(t, uimsg.StateOutputError, part.State)
	assert.Equal(t, "user closed the dialog", part.ErrorText)
}

func TestServerExecutedTools_NoContinuation(t *testing.T) {
	f := &fakeTransport{scripts: []script{{chunks: []uimsg.Chunk{
		{Type: uimsg.ChunkStart, MessageID: "m"},
		{Type: uimsg.ChunkStartStep},
		{Type: uimsg.ChunkToolInputStart, ToolCallID: "w1", ToolName: tools.WeatherToolName, ProviderExecuted: true},
		{Type: uimsg.ChunkToolInputAvailable, ToolCallID: "w1", ToolName: tools.WeatherToolName, Input: json.RawMessage(`{"city":"Boston"}`), ProviderExecuted: true},
		{Type: uimsg.ChunkToolOutput, ToolCallID: "w1", Output: json.RawMessage(`"sunny"`), ProviderExecuted: true},
		{Type: uimsg.ChunkFinishStep},
		{Type: uimsg.ChunkStartStep},
		{Type: uimsg.ChunkTextStart, ID: "t"},
		{Type: uimsg.ChunkTextDelta, ID: "t", Delta: "It is sunny."},
		{Type: uimsg.ChunkTextEnd, ID: "t"},
		{Type: uimsg.ChunkFinishStep},
		{Type: uimsg.ChunkFinish, FinishReason: "stop"},
	}}}}
	var calls atomic.Int32
	handler := ToolHandlerFunc(func(ToolCall) { calls.Add(1) })
	s := NewSession(f, handler)
	defer s.Close()

	require.NoError(t, s.SendMessage("weather in Boston"))
	waitRequests(t, f, 1)
	waitReady(t, s)
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, f.requests(), 1)
	assert.Zero(t, calls.Load(), "handlers never see server tools")
	assert.Equal(t, "sunny", lastMessage(t, s).FindTool("w1").OutputText())
}

func TestServerInputError_NoContinuation(t *testing.T) {
	// The server rejected a client tool's input, fed the error to the model
	// and finished the turn itself.
	f := &fakeTransport{scripts: []script{{chunks: []uimsg.Chunk{
		{Type: uimsg.ChunkStart, MessageID: "m"},
		{Type: uimsg.ChunkStartStep},
		{Type: uimsg.ChunkToolInputStart, ToolCallID: "c1", ToolName: tools.ConfirmationToolName},
		{Type: uimsg.ChunkToolInputDelta, ToolCallID: "c1", InputTextDelta: "{}"},
		{Type: uimsg.ChunkToolInputError, ToolCallID: "c1", ToolName: tools.ConfirmationToolName, Input: json.RawMessage(`{}`), ErrorText: "message: required", ProviderExecuted: true},
		{Type: uimsg.ChunkFinishStep},
		{Type: uimsg.ChunkStartStep},
		{Type: uimsg.ChunkTextStart, ID: "t"},
		{Type: uimsg.ChunkTextDelta, ID: "t", Delta: "sorry"},
		{Type: uimsg.ChunkTextEnd, ID: "t"},
		{Type: uimsg.ChunkFinishStep},
		{Type: uimsg.ChunkFinish, FinishReason: "stop"},
	}}}}
	var calls atomic.Int32
	s := NewSession(f, ToolHandlerFunc(func(ToolCall) { calls.Add(1) }))
	defer s.Close()

	require.NoError(t, s.SendMessage("go"))
	waitRequests(t, f, 1)
	waitReady(t, s)
	time.Sleep(50 * time.Millisecond)

	part := lastMessage(t, s).FindTool("c1")
	require.NotNil(t, part)
	assert.Equal(t, uimsg.StateOutputError, part.State)
	assert.True(t, part.ProviderExecuted)
	assert.Equal(t, StatusReady, s.Status())
	assert.Len(t, f.requests(), 1, "no continuation for a server-resolved error")
	assert.Zero(t, calls.Load())
}

func TestDispatch_OncePerCall(t *testing.T) {
	chunks := clientToolResponse(tools.ConfirmationToolName, "c1", `{"message":"a"}`)
	// A repeated input-available for the same call.
	dup := chunks[4]
	chunks = append(chunks[:5], append([]uimsg.Chunk{dup}, chunks[5:]...)...)

	f := &fakeTransport{scripts: []script{{chunks: chunks}}}
	var calls atomic.Int32
	s := NewSession(f, ToolHandlerFunc(func(call ToolCall) {
		assert.Equal(t, "a", call.Input["message"])
		calls.Add(1)
	}))
	defer s.Close()

	require.NoError(t, s.SendMessage("go"))
	waitRequests(t, f, 1)
	waitReady(t, s)
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAddToolResult_UnknownCall(t *testing.T) {
	s := NewSession(&fakeTransport{})
	defer s.Close()
	assert.ErrorIs(t, s.AddToolResult("nope", "x"), uimsg.ErrUnknownToolCall)
}

// =============================================================================
// REGENERATE, SUBSCRIBE, CLOSE
// =============================================================================

func TestRegenerate(t *testing.T) {
	f := &fakeTransport{scripts: []script{
		{chunks: textResponse("first")},
		{chunks: textResponse("second")},
	}}
	s := NewSession(f)
	defer s.Close()

	assert.ErrorIs(t, s.Regenerate(), ErrNothingToRegenerate)

	require.NoError(t, s.SendMessage("hi"))
	waitRequests(t, f, 1)
	waitReady(t, s)

	require.NoError(t, s.Regenerate())
	waitRequests(t, f, 2)
	waitReady(t, s)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[1].Text())
	assert.Len(t, f.requests()[1], 1, "the old reply is not resent")
}

func TestSubscribe(t *testing.T) {
	f := &fakeTransport{scripts: []script{{chunks: textResponse("Hello")}}}
	s := NewSession(f)
	updates := s.Subscribe()

	require.NoError(t, s.SendMessage("hi"))
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after SendMessage")
	}

	require.NoError(t, s.Close())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	f := &fakeTransport{scripts: []script{{chunks: textResponse("x")[:4], hold: hold}}}
	s := NewSession(f)

	require.NoError(t, s.SendMessage("hi"))
	waitRequests(t, f, 1)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return with a stream in flight")
	}

	assert.ErrorIs(t, s.SendMessage("again"), ErrSessionClosed)
	assert.NoError(t, s.Close(), "Close is idempotent")
	assert.Nil(t, s.Messages())
}
