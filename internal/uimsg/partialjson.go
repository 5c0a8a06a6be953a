// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package uimsg

import (
	"encoding/json"
	"strings"
)

// ParsePartialJSON turns an incomplete JSON document, as produced by a
// streamed tool argument, into the closest valid document. It closes an
// open string, drops a dangling comma, fills a dangling key with null and
// closes open objects and arrays. It returns nil when no repair works.
func ParsePartialJSON(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}

	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(s)
	if inString {
		if escaped {
			// Drop the lone backslash so the closing quote is not escaped.
			repaired := sb.String()
			sb.Reset()
			sb.WriteString(repaired[:len(repaired)-1])
		}
		sb.WriteByte('"')
	}

	repaired := strings.TrimRight(sb.String(), " \t\r\n")
	switch {
	case strings.HasSuffix(repaired, ","):
		repaired = strings.TrimSuffix(repaired, ",")
	case strings.HasSuffix(repaired, ":"):
		repaired += "null"
	}

	sb.Reset()
	sb.WriteString(repaired)
	for i := len(stack) - 1; i >= 0; i-- {
		sb.WriteByte(stack[i])
	}

	out := sb.String()
	if !json.Valid([]byte(out)) {
		return nil
	}
	return json.RawMessage(out)
}
