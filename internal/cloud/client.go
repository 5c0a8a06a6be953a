// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// CLOUD: Secure logging and validation

package cloud

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for OpenRouter API.
const (
	// DefaultOpenRouterURL is the base URL for OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "google/gemini-2.0-flash-001"

	// DefaultTimeout is the default timeout for non-streaming API requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// maxErrorBodySize caps how much of an error body is read.
	maxErrorBodySize = 64 * 1024
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// SECURITY: TLS verification required for production
	defaultTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	// sharedStreamingClient is used for streaming requests (no timeout, context-controlled).
	sharedStreamingClient = &http.Client{Transport: defaultTransport}
)

// Error variables for common OpenRouter errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("model provider API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// OpenRouterError represents an error from the OpenRouter API.
type OpenRouterError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *OpenRouterError) Error() string {
	if e.Status == 0 {
		if e.Code != "" {
			return fmt.Sprintf("OpenRouter error [%s]: %s", e.Code, e.Message)
		}
		return "OpenRouter error: " + e.Message
	}
	if e.Code != "" {
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
}

// Pricing represents the pricing information for a model.
type Pricing struct {
	Prompt     string `json:"prompt"`     // Cost per token for prompts
	Completion string `json:"completion"` // Cost per token for completions
}

// ModelInfo represents information about an available model.
type ModelInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ContextSize int     `json:"context_length"`
	Pricing     Pricing `json:"pricing"`
}

// modelsResponse is the internal response structure for listing models.
type modelsResponse struct {
	Data []struct {
		ID            string   `json:"id"`
		Name          string   `json:"name"`
		ContextLength int      `json:"context_length"`
		Pricing       *Pricing `json:"pricing"`
	} `json:"data"`
}

// apiError is the error object OpenRouter returns, both as an HTTP error body
// and inside a stream chunk. The code is a number or a string.
type apiError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

func (e apiError) code() string {
	return strings.Trim(string(e.Code), `"`)
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error apiError `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// OpenRouterClient is a client for communicating with the OpenRouter API.
// It is safe for concurrent use once configured.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	model      string
	siteURL    string
	siteName   string
	httpClient *http.Client
	streamer   *http.Client
}

// NewOpenRouterClient creates a new OpenRouter client with the given API key.
//
// If the API key is empty, the client will still be created but requests
// will fail with ErrNotConfigured.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultOpenRouterURL,
		model:   DefaultModel,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: defaultTransport,
		},
		streamer: sharedStreamingClient,
		siteName: "chatrelay",
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *OpenRouterClient) WithBaseURL(url string) *OpenRouterClient {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithModel sets the model identifier.
func (c *OpenRouterClient) WithModel(model string) *OpenRouterClient {
	if model != "" {
		c.model = model
	}
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *OpenRouterClient) WithTimeout(timeout time.Duration) *OpenRouterClient {
	c.httpClient.Timeout = timeout
	return c
}

// WithSiteURL sets the site URL for OpenRouter attribution.
func (c *OpenRouterClient) WithSiteURL(url string) *OpenRouterClient {
	c.siteURL = url
	return c
}

// WithSiteName sets the site name for OpenRouter attribution.
func (c *OpenRouterClient) WithSiteName(name string) *OpenRouterClient {
	c.siteName = name
	return c
}

// Model returns the configured model.
func (c *OpenRouterClient) Model() string {
	return c.model
}

// IsConfigured returns true if the client has an API key configured.
func (c *OpenRouterClient) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key.
// CLOUD: Secure logging - use fingerprint instead of exposing key fragments.
func (c *OpenRouterClient) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// setHeaders sets the required headers for OpenRouter API requests.
func (c *OpenRouterClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chatrelay/"+Version)

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// Version is reported in the User-Agent header. Set at build time by main.
var Version = "dev"

// =============================================================================
// ERROR MAPPING
// =============================================================================

// handleErrorResponse converts HTTP error responses to appropriate Go errors.
func (c *OpenRouterClient) handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		orErr := &OpenRouterError{
			Code:    apiErr.Error.code(),
			Message: apiErr.Error.Message,
			Status:  statusCode,
		}
		if sentinel := statusError(statusCode); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, orErr.Message)
		}
		return orErr
	}

	// Fallback for unparseable error responses
	if sentinel := statusError(statusCode); sentinel != nil {
		return sentinel
	}
	return &OpenRouterError{
		Message: strings.TrimSpace(string(body)),
		Status:  statusCode,
	}
}

// statusError maps well-known HTTP statuses to sentinel errors.
func statusError(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// =============================================================================
// MODELS
// =============================================================================

// ListModels retrieves the list of available models from OpenRouter.
func (c *OpenRouterClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Models endpoint doesn't require auth
	req.Header.Set("User-Agent", "chatrelay/"+Version)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	slog.Debug("API_RESPONSE", "path", "/models", "status", resp.StatusCode, "duration", time.Since(start))

	// SECURITY: Limit response size to prevent memory exhaustion
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, body)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	models := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		info := ModelInfo{ID: m.ID, Name: m.Name, ContextSize: m.ContextLength}
		if m.Pricing != nil {
			info.Pricing = *m.Pricing
		}
		models = append(models, info)
	}
	return models, nil
}
