// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultToolTimeout is the default timeout applied when context has no deadline.
const DefaultToolTimeout = 30 * time.Second

// maxHistorySize bounds the execution history.
const maxHistorySize = 1000

// =============================================================================
// CALLS AND RESULTS
// =============================================================================

// Call is one tool invocation requested by the model.
type Call struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Result holds the outcome of a tool execution.
type Result struct {
	// Output is the JSON-encoded tool output (for successful execution)
	Output json.RawMessage

	// Error is the error message (for failed execution)
	Error string

	// Invalid indicates the input failed schema validation
	Invalid bool

	// Duration is how long execution took
	Duration time.Duration
}

// Success reports whether the tool produced an output.
func (r Result) Success() bool {
	return r.Error == ""
}

// ExecutionRecord tracks the result of a tool execution.
type ExecutionRecord struct {
	ToolName  string
	CallID    string
	Result    Result
	Timestamp time.Time
}

// ExecutionStats provides statistics about tool executions.
type ExecutionStats struct {
	TotalExecutions int
	Successful      int
	Failed          int
	Invalid         int
	TotalDuration   time.Duration
	AvgDuration     time.Duration
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor validates and runs server-side tools. It is safe for concurrent use.
type Executor struct {
	registry *Registry
	timeout  time.Duration

	mu      sync.Mutex
	history []ExecutionRecord
}

// NewExecutor creates a new tool executor with the given registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
		timeout:  DefaultToolTimeout,
	}
}

// WithTimeout sets the timeout applied when the context has no deadline.
func (e *Executor) WithTimeout(timeout time.Duration) *Executor {
	if timeout > 0 {
		e.timeout = timeout
	}
	return e
}

// Registry returns the tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute validates the call input and runs the tool. Failures are reported
// in the Result rather than as a Go error so the caller can forward them to
// the model as a tool error.
func (e *Executor) Execute(ctx context.Context, call Call) Result {
	start := time.Now()
	result := e.execute(ctx, call)
	result.Duration = time.Since(start)

	e.addToHistory(ExecutionRecord{
		ToolName:  call.Name,
		CallID:    call.ID,
		Result:    result,
		Timestamp: start,
	})
	return result
}

func (e *Executor) execute(ctx context.Context, call Call) Result {
	tool := e.registry.Get(call.Name)
	if tool == nil {
		return Result{Error: fmt.Sprintf("%v: %s", ErrUnknownTool, call.Name)}
	}
	if !tool.IsServerSide() {
		return Result{Error: fmt.Sprintf("%v: %s", ErrClientTool, call.Name)}
	}

	input, err := e.registry.Validate(call.Name, call.Input)
	if err != nil {
		return Result{Error: err.Error(), Invalid: true}
	}

	// TOOLS: Add timeout if not in context
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}

	// Buffered so the goroutine can finish after a timeout without leaking.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := tool.Execute(ctx, input)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return Result{Error: out.err.Error()}
		}
		data, err := json.Marshal(out.value)
		if err != nil {
			return Result{Error: "failed to encode tool output: " + err.Error()}
		}
		return Result{Output: data}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Error: "tool execution timed out"}
		}
		return Result{Error: "tool execution cancelled: " + ctx.Err().Error()}
	}
}

// addToHistory adds an execution record to the history.
func (e *Executor) addToHistory(record ExecutionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) >= maxHistorySize {
		e.history = e.history[len(e.history)-maxHistorySize+1:]
	}
	e.history = append(e.history, record)
}

// History returns a copy of the execution history.
func (e *Executor) History() []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]ExecutionRecord, len(e.history))
	copy(result, e.history)
	return result
}

// Stats returns statistics about the execution history.
func (e *Executor) Stats() ExecutionStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := ExecutionStats{TotalExecutions: len(e.history)}
	for _, record := range e.history {
		switch {
		case record.Result.Invalid:
			stats.Invalid++
		case record.Result.Success():
			stats.Successful++
		default:
			stats.Failed++
		}
		stats.TotalDuration += record.Result.Duration
	}

	if stats.TotalExecutions > 0 {
		stats.AvgDuration = stats.TotalDuration / time.Duration(stats.TotalExecutions)
	}
	return stats
}
