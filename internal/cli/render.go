// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/chatrelay/internal/tools"
	"github.com/jeranaias/chatrelay/internal/uimsg"
)

// =============================================================================
// RENDERER
// =============================================================================

// Renderer turns message parts into terminal text.
//
// Text parts are rendered as markdown once they are final; while a message
// is still streaming they are shown as plain text so partial markdown never
// reflows the screen.
type Renderer struct {
	width         int
	showReasoning bool
	md            *glamour.TermRenderer
}

// NewRenderer creates a renderer for the given terminal width. Markdown
// rendering falls back to plain text when glamour cannot be initialised.
func NewRenderer(markdown bool, width int) *Renderer {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	r := &Renderer{width: width}
	if markdown {
		style := glamour.WithAutoStyle()
		if !ColorsEnabled() {
			style = glamour.WithStandardStyle("notty")
		}
		md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
		if err == nil {
			r.md = md
		}
	}
	return r
}

// ShowReasoning reports whether reasoning is expanded.
func (r *Renderer) ShowReasoning() bool { return r.showReasoning }

// SetShowReasoning expands or collapses reasoning.
func (r *Renderer) SetShowReasoning(show bool) { r.showReasoning = show }

// RenderMessage renders a whole finished message.
func (r *Renderer) RenderMessage(m *uimsg.Message) string {
	if m.Role == uimsg.RoleUser {
		return userStyle.Render(m.Role.DisplayName()+": ") + m.Text() + "\n"
	}
	out := r.RenderParts(m.Parts, true)
	if text := m.ErrorText(); text != "" {
		out += r.RenderError(text)
	}
	return out
}

// RenderParts renders parts in order. Every non-empty block ends with a
// newline, so the result can be printed as is.
func (r *Renderer) RenderParts(parts []uimsg.Part, final bool) string {
	var sb strings.Builder
	for i := range parts {
		p := &parts[i]
		var block string
		switch {
		case p.Type == uimsg.PartText:
			block = r.renderText(p.Text, final && p.State != uimsg.StateStreaming)
		case p.Type == uimsg.PartReasoning:
			block = r.renderReasoning(p.Text)
		case p.IsTool():
			block = r.RenderTool(p)
		}
		if block == "" {
			continue
		}
		sb.WriteString(block)
		if !strings.HasSuffix(block, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// RenderError renders an inline error line.
func (r *Renderer) RenderError(text string) string {
	return errorStyle.Render("Error: "+text) + "\n"
}

func (r *Renderer) renderText(text string, final bool) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if final && r.md != nil {
		if rendered, err := r.md.Render(text); err == nil {
			return strings.Trim(rendered, "\n") + "\n"
		}
	}
	return text
}

func (r *Renderer) renderReasoning(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if !r.showReasoning {
		return mutedStyle.Render(fmt.Sprintf("Show reasoning (%d chars)", utf8.RuneCountInString(text)))
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = mutedStyle.Render("│ " + line)
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// TOOL PARTS
// =============================================================================

// RenderTool renders one tool part for its current state.
func (r *Renderer) RenderTool(p *uimsg.Part) string {
	switch p.ToolName() {
	case tools.WeatherToolName:
		city := p.InputString("city")
		switch p.State {
		case uimsg.StateInputStreaming:
			return toolStyle.Render(r.preview("Weather request: ", p.Input))
		case uimsg.StateInputAvailable:
			return toolStyle.Render(fmt.Sprintf("Getting weather information for %s...", city))
		case uimsg.StateOutputAvailable:
			return toolStyle.Render(fmt.Sprintf("Weather in %s: %s", city, p.OutputText()))
		case uimsg.StateOutputError:
			return errorStyle.Render(fmt.Sprintf("Error getting weather for %s: %s", city, p.ErrorText))
		}

	case tools.LocationToolName:
		switch p.State {
		case uimsg.StateInputStreaming:
			return toolStyle.Render("Preparing location request...")
		case uimsg.StateInputAvailable:
			return toolStyle.Render("Getting location...")
		case uimsg.StateOutputAvailable:
			return toolStyle.Render("Location: " + p.OutputText())
		case uimsg.StateOutputError:
			return errorStyle.Render("Error getting location: " + p.ErrorText)
		}

	case tools.ConfirmationToolName:
		switch p.State {
		case uimsg.StateInputStreaming:
			return toolStyle.Render("Loading confirmation request...")
		case uimsg.StateInputAvailable:
			return ConfirmationPrompt(p)
		case uimsg.StateOutputAvailable:
			return toolStyle.Render("Location access allowed: " + p.OutputText())
		case uimsg.StateOutputError:
			return errorStyle.Render("Error: " + p.ErrorText)
		}

	default:
		name := p.ToolName()
		switch p.State {
		case uimsg.StateInputStreaming, uimsg.StateInputAvailable:
			return toolStyle.Render(r.preview(name+": ", p.Input))
		case uimsg.StateOutputAvailable:
			return toolStyle.Render(r.preview(name+" -> ", p.Output))
		case uimsg.StateOutputError:
			return errorStyle.Render("Error: " + p.ErrorText)
		}
	}
	return ""
}

// ConfirmationPrompt renders a pending askForConfirmation question.
func ConfirmationPrompt(p *uimsg.Part) string {
	question := p.InputString("message")
	if question == "" {
		question = "Confirm?"
	}
	return questionStyle.Render(question + " [y/n]")
}

// preview renders raw JSON on one line, truncated to the terminal width.
func (r *Renderer) preview(label string, raw json.RawMessage) string {
	text := "{}"
	if len(raw) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			text = buf.String()
		} else {
			text = string(raw)
		}
	}
	room := r.width - runewidth.StringWidth(label)
	if room < 8 {
		room = 8
	}
	return label + runewidth.Truncate(text, room, "...")
}
