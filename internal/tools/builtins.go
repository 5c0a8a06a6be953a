// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"math/rand/v2"

	"github.com/google/jsonschema-go/jsonschema"
)

// Built-in tool names.
const (
	WeatherToolName      = "getWeatherInformation"
	ConfirmationToolName = "askForConfirmation"
	LocationToolName     = "getLocation"
)

// Results the client sends for askForConfirmation.
const (
	ConfirmYes = "Yes, confirmed."
	ConfirmNo  = "No, denied"
)

// DefaultSystemPrompt is the system instruction sent with every request
// unless the configuration overrides it.
const DefaultSystemPrompt = `You are a helpful assistant.
Before calling getWeatherInformation, use askForConfirmation to ask the user for permission.
If the user asks about the weather without naming a city, call getLocation first.
Keep answers short.`

// WeatherConditions are the possible getWeatherInformation results.
var WeatherConditions = []string{"sunny", "cloudy", "rainy", "snowy", "windy"}

// Cities are the possible getLocation results.
var Cities = []string{"New York", "Los Angeles", "Chicago", "San Francisco"}

// pick returns a random index in [0, n). Tests replace it.
var pick = func(n int) int { return rand.IntN(n) }

// RandomCity returns one of Cities. The chat client uses it to resolve
// getLocation without asking the user.
func RandomCity() string {
	return Cities[pick(len(Cities))]
}

// =============================================================================
// BUILT-IN TOOLS
// =============================================================================

// NewWeatherTool reports the weather in a city. It runs on the server.
func NewWeatherTool() *Tool {
	return &Tool{
		Name:        WeatherToolName,
		Description: "Show the weather in a given city to the user.",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"city": {Type: "string", Description: "The city to get the weather for"},
			},
			Required: []string{"city"},
		},
		Execute: func(ctx context.Context, input map[string]any) (any, error) {
			return WeatherConditions[pick(len(WeatherConditions))], nil
		},
	}
}

// NewConfirmationTool asks the user a yes/no question. It has no executor,
// so the call stays in input-available until the user answers.
func NewConfirmationTool() *Tool {
	return &Tool{
		Name:        ConfirmationToolName,
		Description: "Ask the user for confirmation.",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"message": {Type: "string", Description: "The message to ask for confirmation."},
			},
			Required: []string{"message"},
		},
		RequiresConfirmation: true,
	}
}

// NewLocationTool returns the user's location. The client resolves it
// automatically.
func NewLocationTool() *Tool {
	return &Tool{
		Name:        LocationToolName,
		Description: "Get the user location. Always ask for confirmation before using this tool.",
		Schema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}
}

// Builtins returns new instances of the built-in tools, so each registry
// resolves its own schemas.
func Builtins() []*Tool {
	return []*Tool{NewWeatherTool(), NewConfirmationTool(), NewLocationTool()}
}
