// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeranaias/chatrelay/internal/uimsg"
)

// Reader decodes UI message chunks from an SSE body.
type Reader struct {
	sse  *SSEReader
	done bool
}

// NewReader creates a chunk reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{sse: NewSSEReader(r)}
}

// Next returns the next chunk. It returns io.EOF after the [DONE] marker or
// when the body ends. A body that ends without [DONE] still yields io.EOF;
// callers that care can check Done.
func (r *Reader) Next() (uimsg.Chunk, error) {
	for {
		if r.done {
			return uimsg.Chunk{}, io.EOF
		}

		_, data, err := r.sse.ReadEvent()
		if err != nil {
			return uimsg.Chunk{}, err
		}
		if IsDone(data) {
			r.done = true
			return uimsg.Chunk{}, io.EOF
		}
		if len(data) == 0 {
			continue
		}

		var c uimsg.Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			return uimsg.Chunk{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
		}
		if c.Type == "" {
			return uimsg.Chunk{}, fmt.Errorf("%w: missing type", ErrMalformedChunk)
		}
		return c, nil
	}
}

// Done reports whether the [DONE] marker was seen.
func (r *Reader) Done() bool {
	return r.done
}
