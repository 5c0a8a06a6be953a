// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/chatrelay/internal/tools"
	"github.com/jeranaias/chatrelay/internal/uimsg"
)

func toolPart(name string, state uimsg.State, input, output, errText string) uimsg.Part {
	p := uimsg.NewToolPart(name, "call_1")
	p.State = state
	if input != "" {
		p.Input = json.RawMessage(input)
	}
	if output != "" {
		p.Output = json.RawMessage(output)
	}
	p.ErrorText = errText
	return p
}

func TestRenderTool(t *testing.T) {
	r := NewRenderer(false, 80)

	tests := []struct {
		name string
		part uimsg.Part
		want string
	}{
		{"weather pending", toolPart(tools.WeatherToolName, uimsg.StateInputAvailable, `{"city":"Chicago"}`, "", ""),
			"Getting weather information for Chicago..."},
		{"weather done", toolPart(tools.WeatherToolName, uimsg.StateOutputAvailable, `{"city":"Chicago"}`, `"sunny"`, ""),
			"Weather in Chicago: sunny"},
		{"weather failed", toolPart(tools.WeatherToolName, uimsg.StateOutputError, `{"city":"Chicago"}`, "", "timeout"),
			"Error getting weather for Chicago: timeout"},
		{"weather streaming", toolPart(tools.WeatherToolName, uimsg.StateInputStreaming, `{"city":"Chi"}`, "", ""),
			`Weather request: {"city":"Chi"}`},
		{"location streaming", toolPart(tools.LocationToolName, uimsg.StateInputStreaming, "", "", ""),
			"Preparing location request..."},
		{"location pending", toolPart(tools.LocationToolName, uimsg.StateInputAvailable, `{}`, "", ""),
			"Getting location..."},
		{"location done", toolPart(tools.LocationToolName, uimsg.StateOutputAvailable, `{}`, `"Chicago"`, ""),
			"Location: Chicago"},
		{"location failed", toolPart(tools.LocationToolName, uimsg.StateOutputError, `{}`, "", "denied"),
			"Error getting location: denied"},
		{"confirmation loading", toolPart(tools.ConfirmationToolName, uimsg.StateInputStreaming, "", "", ""),
			"Loading confirmation request..."},
		{"confirmation question", toolPart(tools.ConfirmationToolName, uimsg.StateInputAvailable, `{"message":"Share location?"}`, "", ""),
			"Share location? [y/n]"},
		{"confirmation answered", toolPart(tools.ConfirmationToolName, uimsg.StateOutputAvailable, `{"message":"Share location?"}`, `"Yes, confirmed."`, ""),
			"Location access allowed: Yes, confirmed."},
		{"confirmation failed", toolPart(tools.ConfirmationToolName, uimsg.StateOutputError, "", "", "no terminal"),
			"Error: no terminal"},
		{"unknown tool input", toolPart("lookup", uimsg.StateInputAvailable, `{"q": 1}`, "", ""),
			`lookup: {"q":1}`},
		{"unknown tool output", toolPart("lookup", uimsg.StateOutputAvailable, `{}`, `{"a": [1, 2]}`, ""),
			`lookup -> {"a":[1,2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.RenderTool(&tt.part))
		})
	}
}

func TestRenderTool_PreviewTruncatedByWidth(t *testing.T) {
	r := NewRenderer(false, 40)
	long := `{"city":"` + strings.Repeat("東京", 30) + `"}`
	p := toolPart(tools.WeatherToolName, uimsg.StateInputStreaming, long, "", "")

	got := r.RenderTool(&p)
	assert.True(t, strings.HasPrefix(got, "Weather request: "))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, runewidth.StringWidth(got), 40)
}

func TestRenderParts_Reasoning(t *testing.T) {
	r := NewRenderer(false, 80)
	parts := []uimsg.Part{
		{Type: uimsg.PartReasoning, Text: "think\nmore", State: uimsg.StateDone},
		{Type: uimsg.PartText, Text: "Answer", State: uimsg.StateDone},
	}

	collapsed := r.RenderParts(parts, true)
	assert.Contains(t, collapsed, "Show reasoning (10 chars)")
	assert.NotContains(t, collapsed, "think")
	assert.Contains(t, collapsed, "Answer\n")

	r.SetShowReasoning(true)
	expanded := r.RenderParts(parts, true)
	assert.Contains(t, expanded, "│ think")
	assert.Contains(t, expanded, "│ more")
	assert.NotContains(t, expanded, "Show reasoning")
}

func TestRenderParts_SkipsEmptyAndStepStarts(t *testing.T) {
	r := NewRenderer(false, 80)
	parts := []uimsg.Part{
		{Type: uimsg.PartStepStart},
		{Type: uimsg.PartReasoning, Text: "  "},
		{Type: uimsg.PartText, Text: ""},
		{Type: uimsg.PartText, Text: "Hi", State: uimsg.StateStreaming},
	}
	assert.Equal(t, "Hi\n", r.RenderParts(parts, false))
}

func TestRenderMessage(t *testing.T) {
	r := NewRenderer(false, 80)

	user := uimsg.NewUserMessage("hello")
	assert.Equal(t, "You: hello\n", r.RenderMessage(user))

	assistant := &uimsg.Message{
		Role:     uimsg.RoleAssistant,
		Parts:    []uimsg.Part{{Type: uimsg.PartText, Text: "partial", State: uimsg.StateDone}},
		Metadata: &uimsg.Metadata{ErrorText: "authentication failed"},
	}
	assert.Equal(t, "partial\nError: authentication failed\n", r.RenderMessage(assistant))
}

func TestRenderer_MarkdownFinalOnly(t *testing.T) {
	r := NewRenderer(true, 80)
	parts := []uimsg.Part{{Type: uimsg.PartText, Text: "**bold** text", State: uimsg.StateDone}}

	live := r.RenderParts(parts, false)
	assert.Equal(t, "**bold** text\n", live, "live frames stay plain")

	final := r.RenderParts(parts, true)
	assert.Contains(t, final, "bold")
	assert.NotEqual(t, live, final, "final text goes through glamour")
	assert.True(t, strings.HasSuffix(final, "\n"))
}
