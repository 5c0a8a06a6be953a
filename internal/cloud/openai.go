// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used by OpenAIClient when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIClient talks to any OpenAI-compatible chat completions API.
type OpenAIClient struct {
	api        *openai.Client
	model      string
	configured bool
}

// NewOpenAIClient creates a client for an OpenAI-compatible API. An empty
// baseURL means the official OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	apiKey = strings.TrimSpace(apiKey)
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	cfg.HTTPClient = sharedStreamingClient
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{
		api:        openai.NewClientWithConfig(cfg),
		model:      model,
		configured: apiKey != "",
	}
}

// Model returns the configured model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// IsConfigured returns true if an API key was supplied.
func (c *OpenAIClient) IsConfigured() bool {
	return c.configured
}

// Stream implements Provider.
func (c *OpenAIClient) Stream(ctx context.Context, req ChatRequest, fn func(Delta) error) error {
	if !c.configured {
		return ErrNotConfigured
	}
	if req.Model == "" {
		req.Model = c.model
	}

	start := time.Now()
	s, err := c.api.CreateChatCompletionStream(ctx, toOpenAIRequest(req))
	if err != nil {
		return mapOpenAIError(err)
	}
	defer s.Close()

	slog.Debug("API_RESPONSE", "path", "/chat/completions", "model", req.Model, "duration", time.Since(start))

	var partial strings.Builder
	for {
		resp, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &StreamError{Partial: partial.String(), Err: mapOpenAIError(err)}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := fromOpenAIChoice(resp.Choices[0])
		if delta.IsEmpty() {
			continue
		}
		partial.WriteString(delta.Content)
		if err := fn(delta); err != nil {
			return err
		}
	}
}

// toOpenAIRequest converts a ChatRequest to the SDK request type.
func toOpenAIRequest(req ChatRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Stream:      true,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

// fromOpenAIChoice normalises one streamed choice.
func fromOpenAIChoice(choice openai.ChatCompletionStreamChoice) Delta {
	d := Delta{
		Content:      choice.Delta.Content,
		Reasoning:    choice.Delta.ReasoningContent,
		FinishReason: string(choice.FinishReason),
	}
	for i, tc := range choice.Delta.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return d
}

// ListModels returns the models the API key can use. Names and pricing are
// not reported by the OpenAI API.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{ID: m.ID, Name: m.ID})
	}
	return models, nil
}

// mapOpenAIError converts SDK errors to the package's sentinel errors so
// callers see the same failures regardless of provider.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if sentinel := statusError(apiErr.HTTPStatusCode); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, apiErr.Message)
		}
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &OpenRouterError{Code: code, Message: apiErr.Message, Status: apiErr.HTTPStatusCode}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if sentinel := statusError(reqErr.HTTPStatusCode); sentinel != nil {
			return sentinel
		}
		return &OpenRouterError{Message: reqErr.Error(), Status: reqErr.HTTPStatusCode}
	}
	return err
}
