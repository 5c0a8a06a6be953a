// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestLiveView_NonTTYOnlyCommits(t *testing.T) {
	var buf bytes.Buffer
	v := newLiveView(&buf, false, 80)

	assert.True(t, v.Update("one\n"))
	assert.True(t, v.Update("one\ntwo\n"))
	assert.Empty(t, buf.String())

	v.Commit("one\ntwo\n")
	assert.Equal(t, "one\ntwo\n", buf.String())
}

func TestLiveView_TTYRepaintsInPlace(t *testing.T) {
	var buf bytes.Buffer
	v := newLiveView(&buf, true, 80)
	v.limiter = rate.NewLimiter(rate.Inf, 1)

	v.Update("a\n")
	assert.Equal(t, "a\n", buf.String())
	assert.Equal(t, 1, v.rows)

	buf.Reset()
	v.Update("a\nb\n")
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\x1b["), "previous frame is cleared first")
	assert.True(t, strings.HasSuffix(out, "a\nb\n"))
	assert.Equal(t, 2, v.rows)

	// An unchanged frame is not repainted.
	buf.Reset()
	v.Update("a\nb\n")
	assert.Empty(t, buf.String())

	buf.Reset()
	v.Commit("a\nb\nc\n")
	assert.True(t, strings.HasSuffix(buf.String(), "a\nb\nc\n"))
	assert.Equal(t, 0, v.rows)

	// After a commit nothing is cleared.
	buf.Reset()
	v.Update("d\n")
	assert.Equal(t, "d\n", buf.String())
}

func TestLiveView_Throttled(t *testing.T) {
	var buf bytes.Buffer
	v := newLiveView(&buf, true, 80)
	v.limiter = rate.NewLimiter(rate.Every(RepaintInterval*100), 1)

	assert.True(t, v.Update("first\n"))
	assert.False(t, v.Update("second\n"), "second repaint inside the interval is deferred")
	assert.Equal(t, "first\n", buf.String())
}

func TestScreenRows(t *testing.T) {
	tests := []struct {
		frame string
		width int
		want  int
	}{
		{"", 80, 0},
		{"a\n", 80, 1},
		{"a\nb\n", 80, 2},
		{"a\n\nb\n", 80, 3},
		{strings.Repeat("x", 100) + "\n", 80, 2},
		{strings.Repeat("x", 80) + "\n", 80, 1},
		{"no newline", 80, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, screenRows(tt.frame, tt.width), "frame %q", tt.frame)
	}
}
