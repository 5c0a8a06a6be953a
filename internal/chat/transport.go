// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/chatrelay/internal/stream"
	"github.com/jeranaias/chatrelay/internal/uimsg"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEndpointNotConfigured is returned when no base URL was configured.
	ErrEndpointNotConfigured = errors.New("endpoint base URL not set")

	// ErrStreamInterrupted is returned when the body ends before [DONE].
	ErrStreamInterrupted = errors.New("stream ended unexpectedly")
)

// maxErrorBodySize caps how much of a non-200 response is read.
const maxErrorBodySize = 64 * 1024

// HTTPError is a non-200 answer from the completion endpoint.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("endpoint returned status %d", e.Status)
	}
	return fmt.Sprintf("endpoint returned status %d: %s", e.Status, e.Message)
}

// =============================================================================
// TRANSPORT
// =============================================================================

// ChunkStream yields the chunks of one response. Next returns io.EOF at
// the end of a complete stream.
type ChunkStream interface {
	Next() (uimsg.Chunk, error)
	Close() error
}

// Transport sends a conversation to the completion endpoint.
type Transport interface {
	Send(ctx context.Context, messages []uimsg.Message) (ChunkStream, error)
}

// completionRequest mirrors the server's request body.
type completionRequest struct {
	Messages []uimsg.Message `json:"messages"`
}

// HTTPTransport posts to {BaseURL}/completion and decodes the UI message
// stream from the response.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport creates a transport for the given base URL. Requests have
// no overall timeout since a response lasts as long as the model streams;
// cancel the context to stop one.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: baseURL,
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// Endpoint returns the completion URL, or "" when no base URL is set.
func (t *HTTPTransport) Endpoint() string {
	base := strings.TrimSpace(t.BaseURL)
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/completion"
}

// Send posts the history and returns the response stream.
func (t *HTTPTransport) Send(ctx context.Context, messages []uimsg.Message) (ChunkStream, error) {
	endpoint := t.Endpoint()
	if endpoint == "" {
		return nil, ErrEndpointNotConfigured
	}

	body, err := json.Marshal(completionRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", stream.ContentType)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readHTTPError(resp)
	}

	return &httpStream{body: resp.Body, reader: stream.NewReader(resp.Body)}, nil
}

// readHTTPError extracts the server's error message when it sent one.
func readHTTPError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	return &HTTPError{Status: resp.StatusCode, Message: msg}
}

// httpStream adapts a response body to ChunkStream.
type httpStream struct {
	body   io.ReadCloser
	reader *stream.Reader
}

func (s *httpStream) Next() (uimsg.Chunk, error) {
	c, err := s.reader.Next()
	if errors.Is(err, io.EOF) && !s.reader.Done() {
		return c, ErrStreamInterrupted
	}
	return c, err
}

func (s *httpStream) Close() error {
	return s.body.Close()
}
