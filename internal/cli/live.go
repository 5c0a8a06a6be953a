// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/time/rate"
)

// RepaintInterval is the minimum time between repaints of a streaming message.
const RepaintInterval = 50 * time.Millisecond

// liveView repaints the bottom of the terminal in place while a message
// streams. On a non-terminal writer only committed output is written, so
// piped transcripts contain each block once.
type liveView struct {
	out     *termenv.Output
	tty     bool
	width   int
	limiter *rate.Limiter

	frame string // last painted frame
	rows  int    // screen rows the painted frame occupies
}

func newLiveView(w io.Writer, tty bool, width int) *liveView {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	return &liveView{
		out:     termenv.NewOutput(w),
		tty:     tty,
		width:   width,
		limiter: rate.NewLimiter(rate.Every(RepaintInterval), 1),
	}
}

// Update repaints frame unless the repaint budget is spent. It returns
// false when the repaint was deferred; the caller retries after
// RepaintInterval.
func (v *liveView) Update(frame string) bool {
	if !v.tty || frame == v.frame {
		return true
	}
	if !v.limiter.Allow() {
		return false
	}
	v.paint(frame)
	return true
}

// Commit writes frame permanently. The next Update starts below it.
func (v *liveView) Commit(frame string) {
	if v.tty {
		v.clear()
	}
	v.out.WriteString(frame)
	v.frame = ""
	v.rows = 0
}

func (v *liveView) paint(frame string) {
	v.clear()
	v.out.WriteString(frame)
	v.frame = frame
	v.rows = screenRows(frame, v.width)
}

func (v *liveView) clear() {
	if v.rows > 0 {
		v.out.ClearLines(v.rows)
	}
}

// screenRows counts the terminal rows a frame occupies, including wrapped
// lines. A trailing newline leaves the cursor on a fresh row, which is not
// counted.
func screenRows(frame string, width int) int {
	if frame == "" {
		return 0
	}
	lines := strings.Split(strings.TrimSuffix(frame, "\n"), "\n")
	rows := 0
	for _, line := range lines {
		w := lipgloss.Width(line)
		if w == 0 {
			rows++
			continue
		}
		rows += (w + width - 1) / width
	}
	return rows
}
