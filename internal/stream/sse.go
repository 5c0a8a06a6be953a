// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"io"
)

// MaxEventSize is the maximum allowed size for a single SSE line (1MB).
const MaxEventSize = 1024 * 1024

// doneMarker terminates OpenAI-style and UI message streams.
var doneMarker = []byte("[DONE]")

// IsDone reports whether an SSE data payload is the end-of-stream marker.
func IsDone(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), doneMarker)
}

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReaderSize(r, 64*1024),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error. Multi-line data fields are
// joined with "\n". Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	var lineSize int

	for {
		fragment, err := s.reader.ReadSlice('\n')
		lineSize += len(fragment)
		if err == bufio.ErrBufferFull {
			if lineSize > MaxEventSize {
				return "", nil, ErrEventTooLarge
			}
			// Keep reading the remainder of a long line. ReadSlice reuses its
			// buffer, so the head is copied before the next read.
			head := append([]byte(nil), fragment...)
			rest, err := s.reader.ReadBytes('\n')
			lineSize += len(rest)
			if lineSize > MaxEventSize {
				return "", nil, ErrEventTooLarge
			}
			if err != nil && err != io.EOF {
				return "", nil, err
			}
			fragment = append(head, rest...)
		} else if err != nil {
			if err == io.EOF {
				if len(bytes.TrimSpace(fragment)) > 0 {
					s.parseField(bytes.TrimRight(fragment, "\r\n"), &eventType, &dataLines)
				}
				// If we have data, return it before EOF
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}
		lineSize = 0

		// Trim trailing newline and carriage return
		line := bytes.TrimRight(fragment, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			eventType = ""
			continue
		}

		s.parseField(line, &eventType, &dataLines)
	}
}

// parseField handles one "field: value" line. Comment lines (":") and
// unknown fields such as id: and retry: are ignored.
func (s *SSEReader) parseField(line []byte, eventType *string, dataLines *[][]byte) {
	switch {
	case bytes.HasPrefix(line, []byte("event:")):
		*eventType = string(bytes.TrimSpace(line[6:]))
	case bytes.HasPrefix(line, []byte("data:")):
		data := line[5:]
		if len(data) > 0 && data[0] == ' ' {
			data = data[1:]
		}
		*dataLines = append(*dataLines, append([]byte(nil), data...))
	}
}
