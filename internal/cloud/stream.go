// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/chatrelay/internal/stream"
)

// STREAMING: Robust SSE parsing with error handling

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from the OpenRouter streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Role      string `json:"role,omitempty"`
			Reasoning string `json:"reasoning,omitempty"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Type     string `json:"type,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// ToDelta normalises the first choice of the chunk.
func (c *StreamChunk) ToDelta() Delta {
	if len(c.Choices) == 0 {
		return Delta{}
	}
	choice := c.Choices[0]
	d := Delta{
		Content:      choice.Delta.Content,
		Reasoning:    choice.Delta.Reasoning,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Delta.ToolCalls {
		d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return d
}

// StreamError represents an error that occurred during streaming,
// preserving any partial content received before the error.
type StreamError struct {
	Partial string // Content received before error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Stream performs a streaming chat completion request and calls fn for each
// delta. It does not retry; a failure is returned to the caller as is.
func (c *OpenRouterClient) Stream(ctx context.Context, req ChatRequest, fn func(Delta) error) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = true

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamer.Do(httpReq)

	// SECURITY: Clear Authorization header immediately after request to prevent logging
	httpReq.Header.Del("Authorization")

	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	slog.Debug("API_RESPONSE",
		"path", "/chat/completions",
		"status", resp.StatusCode,
		"model", req.Model,
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return c.handleErrorResponse(resp.StatusCode, body)
	}

	return c.processStream(ctx, resp.Body, fn)
}

// processStream reads and processes the SSE stream.
func (c *OpenRouterClient) processStream(ctx context.Context, body io.Reader, fn func(Delta) error) error {
	reader := stream.NewSSEReader(body)
	var partial strings.Builder

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &StreamError{Partial: partial.String(), Err: err}
		}

		if stream.IsDone(data) {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks
			slog.Debug("STREAM_CHUNK_SKIPPED", "error", err)
			continue
		}

		// OpenRouter reports upstream failures after the 200 status line.
		if chunk.Error != nil && chunk.Error.Message != "" {
			return &StreamError{
				Partial: partial.String(),
				Err: &OpenRouterError{
					Code:    chunk.Error.code(),
					Message: chunk.Error.Message,
				},
			}
		}

		delta := chunk.ToDelta()
		if delta.IsEmpty() {
			continue
		}
		partial.WriteString(delta.Content)

		if err := fn(delta); err != nil {
			return err
		}
	}
}

// IsRetryable reports whether err is a transient provider failure that a
// user-initiated re-send may fix.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var orErr *OpenRouterError
	if errors.As(err, &orErr) {
		return orErr.Status >= 500 && orErr.Status < 600
	}
	var streamErr *StreamError
	return errors.As(err, &streamErr)
}
