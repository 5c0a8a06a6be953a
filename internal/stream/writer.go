// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/chatrelay/internal/uimsg"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// ContentType is the media type of the UI message stream.
	ContentType = "text/event-stream"

	// ProtocolHeader identifies the UI message stream protocol version.
	ProtocolHeader = "x-vercel-ai-ui-message-stream"

	// ProtocolVersion is the value sent in ProtocolHeader.
	ProtocolVersion = "v1"
)

var (
	// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
	ErrStreamingUnsupported = errors.New("streaming not supported")

	// ErrEventTooLarge is returned when a single SSE line exceeds MaxEventSize.
	ErrEventTooLarge = errors.New("sse event too large")

	// ErrMalformedChunk is returned when an event payload is not a valid chunk.
	ErrMalformedChunk = errors.New("malformed stream chunk")

	// ErrWriterClosed is returned by Write after Close.
	ErrWriterClosed = errors.New("stream writer closed")
)

// =============================================================================
// WRITER
// =============================================================================

// Writer encodes UI message chunks as SSE events. Every chunk is flushed
// immediately. A Writer is not safe for concurrent use.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	closed  bool
	err     error
	count   int
}

// NewWriter prepares rw for streaming and sets the SSE headers. The status
// line is sent with the first chunk, so callers may still add headers.
func NewWriter(rw http.ResponseWriter) (*Writer, error) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := rw.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(ProtocolHeader, ProtocolVersion)

	return &Writer{w: rw, flusher: flusher}, nil
}

// Write sends one chunk. Once a write fails (usually because the client went
// away) every later call returns the same error.
func (w *Writer) Write(c uimsg.Chunk) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		w.err = fmt.Errorf("failed to write chunk: %w", err)
		return w.err
	}
	w.flusher.Flush()
	w.count++
	return nil
}

// Count returns the number of chunks written.
func (w *Writer) Count() int {
	return w.count
}

// Close writes the [DONE] marker. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", doneMarker); err != nil {
		return fmt.Errorf("failed to write done marker: %w", err)
	}
	w.flusher.Flush()
	return nil
}
