// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/chatrelay/internal/cloud"
	"github.com/jeranaias/chatrelay/internal/stream"
	"github.com/jeranaias/chatrelay/internal/tools"
	"github.com/jeranaias/chatrelay/internal/uimsg"
)

// Finish reasons reported in the finish chunk.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool-calls"
	FinishLength    = "length"
	FinishFilter    = "content-filter"
	FinishError     = "error"
	FinishOther     = "other"
)

// errClientGone is returned when writing to the response fails.
var errClientGone = errors.New("client disconnected")

// CompletionRequest is the body of POST /completion.
type CompletionRequest struct {
	Messages []uimsg.Message `json:"messages"`
}

// turnConfig is the server configuration captured for one request.
type turnConfig struct {
	provider cloud.Provider
	registry *tools.Registry
	executor *tools.Executor
	system   string
	maxSteps int
}

// ============================================================================
// COMPLETION HANDLER
// ============================================================================

// handleCompletion handles POST /completion.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Limit request body size to prevent DoS attacks
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		// Log full details internally, return generic message to client
		slog.Warn("INVALID_REQUEST", "error", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sw, err := stream.NewWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	cfg := s.snapshot()
	last := &req.Messages[len(req.Messages)-1]
	slog.Debug("COMPLETION_START",
		"messages", len(req.Messages),
		"last_role", last.Role,
		"prompt", truncateString(last.Text(), 50),
	)

	t, err := newTurn(r.Context(), cfg, sw, s.metrics, req.Messages)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Tool registry unavailable")
		return
	}

	s.metrics.activeStreams.Inc()
	defer s.metrics.activeStreams.Dec()

	start := time.Now()
	reason, err := t.run()
	if err != nil && !errors.Is(err, errClientGone) {
		slog.Error("COMPLETION_FAILED", "error", err)
	}
	slog.Info("COMPLETION_DONE",
		"finish_reason", reason,
		"steps", t.steps,
		"chunks", sw.Count(),
		"duration", time.Since(start),
	)
	sw.Close()
}

// ============================================================================
// TURN
// ============================================================================

// turn drives one request: up to maxSteps model steps, with server tools
// executed between steps.
type turn struct {
	ctx      context.Context
	cfg      turnConfig
	w        *stream.Writer
	metrics  *Metrics
	history  []cloud.ChatMessage
	toolDefs []cloud.ToolDefinition
	steps    int
}

func newTurn(ctx context.Context, cfg turnConfig, w *stream.Writer, m *Metrics, msgs []uimsg.Message) (*turn, error) {
	defs, err := cfg.registry.Definitions()
	if err != nil {
		return nil, err
	}
	toolDefs := make([]cloud.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		toolDefs = append(toolDefs, cloud.NewFunctionTool(d.Name, d.Description, d.Parameters))
	}

	history := make([]cloud.ChatMessage, 0, len(msgs)+1)
	if cfg.system != "" {
		history = append(history, cloud.NewSystemMessage(cfg.system))
	}
	history = append(history, toProviderMessages(msgs)...)

	return &turn{
		ctx:      ctx,
		cfg:      cfg,
		w:        w,
		metrics:  m,
		history:  history,
		toolDefs: toolDefs,
	}, nil
}

func (t *turn) emit(c uimsg.Chunk) error {
	if err := t.w.Write(c); err != nil {
		return fmt.Errorf("%w: %v", errClientGone, err)
	}
	return nil
}

// run streams the whole turn and returns the finish reason it reported.
func (t *turn) run() (string, error) {
	if err := t.emit(uimsg.Chunk{Type: uimsg.ChunkStart, MessageID: uimsg.NewID()}); err != nil {
		return "", err
	}
	if t.cfg.provider == nil {
		return t.fail(cloud.ErrNotConfigured)
	}

	reason := FinishStop
	for t.steps < t.cfg.maxSteps {
		t.steps++
		t.metrics.steps.Inc()

		if err := t.emit(uimsg.Chunk{Type: uimsg.ChunkStartStep}); err != nil {
			return "", err
		}
		res, err := t.streamStep()
		if errors.Is(err, errClientGone) {
			return "", err
		}
		if err != nil {
			t.metrics.providerErrors.Inc()
			return t.fail(err)
		}

		clientPending, err := t.resolveServerTools(res)
		if err != nil {
			return "", err
		}
		if err := t.emit(uimsg.Chunk{Type: uimsg.ChunkFinishStep}); err != nil {
			return "", err
		}

		reason = mapFinishReason(res.finishReason)
		if len(res.calls) == 0 {
			break
		}
		reason = FinishToolCalls
		if clientPending {
			// The client resolves the rest and sends a continuation.
			break
		}
	}

	return reason, t.emit(uimsg.Chunk{Type: uimsg.ChunkFinish, FinishReason: reason})
}

// fail reports a provider failure to the client and ends the turn.
func (t *turn) fail(err error) (string, error) {
	if t.ctx.Err() != nil {
		return FinishError, errClientGone
	}
	slog.Warn("PROVIDER_ERROR", "error", err, "step", t.steps, "retryable", cloud.IsRetryable(err))
	if werr := t.emit(uimsg.Chunk{Type: uimsg.ChunkError, ErrorText: err.Error()}); werr != nil {
		return "", werr
	}
	return FinishError, t.emit(uimsg.Chunk{Type: uimsg.ChunkFinish, FinishReason: FinishError})
}

// ============================================================================
// STEP STREAMING
// ============================================================================

// pendingCall accumulates one tool call across provider deltas.
type pendingCall struct {
	index   int
	id      string
	name    string
	args    strings.Builder
	started bool
	server  bool
	known   bool

	// inputErr is set when the call was answered with tool-input-error.
	inputErr string
}

// stepResult is what one model step produced.
type stepResult struct {
	text         string
	calls        []*pendingCall
	finishReason string
}

// streamStep runs one provider call and forwards its output as chunks.
func (t *turn) streamStep() (*stepResult, error) {
	var (
		text      strings.Builder
		textID    string
		reasonID  string
		calls     = map[int]*pendingCall{}
		finish    string
		writeErr  error
		stepIndex = t.steps
	)

	onDelta := func(d cloud.Delta) error {
		if d.Reasoning != "" {
			if reasonID == "" {
				reasonID = fmt.Sprintf("reasoning-%d", stepIndex)
				if writeErr = t.emit(uimsg.Chunk{Type: uimsg.ChunkReasoningStart, ID: reasonID}); writeErr != nil {
					return writeErr
				}
			}
			if writeErr = t.emit(uimsg.Chunk{Type: uimsg.ChunkReasoningDelta, ID: reasonID, Delta: d.Reasoning}); writeErr != nil {
				return writeErr
			}
		}

		if d.Content != "" {
			if textID == "" {
				textID = fmt.Sprintf("text-%d", stepIndex)
				if writeErr = t.emit(uimsg.Chunk{Type: uimsg.ChunkTextStart, ID: textID}); writeErr != nil {
					return writeErr
				}
			}
			text.WriteString(d.Content)
			if writeErr = t.emit(uimsg.Chunk{Type: uimsg.ChunkTextDelta, ID: textID, Delta: d.Content}); writeErr != nil {
				return writeErr
			}
		}

		for _, tc := range d.ToolCalls {
			if writeErr = t.onToolDelta(calls, tc); writeErr != nil {
				return writeErr
			}
		}

		if d.FinishReason != "" {
			finish = d.FinishReason
		}
		return nil
	}

	err := t.cfg.provider.Stream(t.ctx, cloud.ChatRequest{
		Messages: t.history,
		Tools:    t.toolDefs,
	}, onDelta)
	if writeErr != nil {
		return nil, writeErr
	}

	if reasonID != "" {
		if werr := t.emit(uimsg.Chunk{Type: uimsg.ChunkReasoningEnd, ID: reasonID}); werr != nil {
			return nil, werr
		}
	}
	if textID != "" {
		if werr := t.emit(uimsg.Chunk{Type: uimsg.ChunkTextEnd, ID: textID}); werr != nil {
			return nil, werr
		}
	}
	if err != nil {
		return nil, err
	}

	res := &stepResult{text: text.String(), finishReason: finish}
	for _, c := range calls {
		res.calls = append(res.calls, c)
	}
	sort.Slice(res.calls, func(i, j int) bool { return res.calls[i].index < res.calls[j].index })

	for _, c := range res.calls {
		if err := t.finishInput(c); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// onToolDelta forwards one tool call fragment. The tool-input-start chunk
// waits until the call's name is known.
func (t *turn) onToolDelta(calls map[int]*pendingCall, tc cloud.ToolCallDelta) error {
	c, ok := calls[tc.Index]
	if !ok {
		c = &pendingCall{index: tc.Index}
		calls[tc.Index] = c
	}
	if c.id == "" && tc.ID != "" {
		c.id = tc.ID
	}
	// Some backends repeat the name on every fragment; the first one wins.
	if c.name == "" && tc.Name != "" {
		c.name = tc.Name
	}

	if !c.started && c.name != "" {
		if c.id == "" {
			c.id = "call_" + uuid.NewString()
		}
		tool := t.cfg.registry.Get(c.name)
		c.known = tool != nil
		c.server = tool == nil || tool.IsServerSide()
		c.started = true
		if err := t.emit(uimsg.Chunk{
			Type:             uimsg.ChunkToolInputStart,
			ToolCallID:       c.id,
			ToolName:         c.name,
			ProviderExecuted: c.server,
		}); err != nil {
			return err
		}
		if c.args.Len() > 0 {
			if err := t.emit(uimsg.Chunk{Type: uimsg.ChunkToolInputDelta, ToolCallID: c.id, InputTextDelta: c.args.String()}); err != nil {
				return err
			}
		}
	}

	if tc.Arguments == "" {
		return nil
	}
	c.args.WriteString(tc.Arguments)
	if !c.started {
		return nil
	}
	return t.emit(uimsg.Chunk{Type: uimsg.ChunkToolInputDelta, ToolCallID: c.id, InputTextDelta: tc.Arguments})
}

// finishInput announces the complete input of a call, or an input error when
// the tool is unknown or the arguments do not fit its schema. Input errors
// are resolved here, so the call is treated as server-side.
func (t *turn) finishInput(c *pendingCall) error {
	if !c.started {
		// A call that never named its tool.
		c.id = "call_" + uuid.NewString()
		c.name = "unknown"
		c.started = true
	}

	raw := strings.TrimSpace(c.args.String())
	if raw == "" {
		raw = "{}"
	}

	var input json.RawMessage
	inputErr := ""
	if json.Valid([]byte(raw)) {
		input = json.RawMessage(raw)
	} else {
		inputErr = fmt.Sprintf("invalid JSON arguments for tool %s", c.name)
	}
	if inputErr == "" {
		if !c.known {
			inputErr = fmt.Sprintf("%v: %s", tools.ErrUnknownTool, c.name)
		} else if !c.server {
			if _, err := t.cfg.registry.Validate(c.name, input); err != nil {
				inputErr = err.Error()
			}
		}
	}

	if inputErr != "" {
		c.server = true
		c.inputErr = inputErr
		t.metrics.toolCalls.WithLabelValues(c.name, "input_error").Inc()
		return t.emit(uimsg.Chunk{
			Type:             uimsg.ChunkToolInputError,
			ToolCallID:       c.id,
			ToolName:         c.name,
			Input:            input,
			ErrorText:        inputErr,
			ProviderExecuted: true,
		})
	}

	// Keep the canonical arguments for the history.
	c.args.Reset()
	c.args.WriteString(raw)
	return t.emit(uimsg.Chunk{
		Type:             uimsg.ChunkToolInputAvailable,
		ToolCallID:       c.id,
		ToolName:         c.name,
		Input:            input,
		ProviderExecuted: c.server,
	})
}

// ============================================================================
// SERVER TOOLS
// ============================================================================

// resolveServerTools executes the server-side calls of a step in request
// order, streams their results and extends the history. It reports whether
// any call is left for the client.
func (t *turn) resolveServerTools(res *stepResult) (bool, error) {
	if len(res.calls) == 0 {
		t.history = append(t.history, cloud.NewAssistantMessage(res.text))
		return false, nil
	}

	assistant := cloud.ChatMessage{Role: cloud.RoleAssistant, Content: res.text}
	var results []cloud.ChatMessage
	clientPending := false

	for _, c := range res.calls {
		assistant.ToolCalls = append(assistant.ToolCalls, cloud.ToolCall{
			ID:       c.id,
			Type:     "function",
			Function: cloud.FunctionCall{Name: c.name, Arguments: c.args.String()},
		})

		if !c.server {
			clientPending = true
			t.metrics.toolCalls.WithLabelValues(c.name, "client").Inc()
			continue
		}
		if c.inputErr != "" {
			results = append(results, cloud.NewToolMessage(c.id, "Error: "+c.inputErr))
			continue
		}

		result := t.cfg.executor.Execute(t.ctx, tools.Call{
			ID:    c.id,
			Name:  c.name,
			Input: json.RawMessage(c.args.String()),
		})
		slog.Debug("TOOL_EXECUTED", "tool", c.name, "call_id", c.id, "success", result.Success(), "duration", result.Duration)

		if result.Success() {
			t.metrics.toolCalls.WithLabelValues(c.name, "ok").Inc()
			results = append(results, cloud.NewToolMessage(c.id, outputContent(result.Output)))
			if err := t.emit(uimsg.Chunk{
				Type:             uimsg.ChunkToolOutput,
				ToolCallID:       c.id,
				Output:           result.Output,
				ProviderExecuted: true,
			}); err != nil {
				return false, err
			}
			continue
		}

		outcome := "error"
		if result.Invalid {
			outcome = "invalid"
		}
		t.metrics.toolCalls.WithLabelValues(c.name, outcome).Inc()
		results = append(results, cloud.NewToolMessage(c.id, "Error: "+result.Error))
		if err := t.emit(uimsg.Chunk{
			Type:             uimsg.ChunkToolOutputError,
			ToolCallID:       c.id,
			ErrorText:        result.Error,
			ProviderExecuted: true,
		}); err != nil {
			return false, err
		}
	}

	t.history = append(t.history, assistant)
	t.history = append(t.history, results...)
	return clientPending, nil
}

// outputContent renders a JSON tool output as model-facing text.
func outputContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// mapFinishReason converts provider finish reasons to stream finish reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "", "stop", "end_turn":
		return FinishStop
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length", "max_tokens":
		return FinishLength
	case "content_filter":
		return FinishFilter
	case "error":
		return FinishError
	default:
		return FinishOther
	}
}
