// Package ollama implements a typed HTTP client for the upstream
// inference server's management API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the upstream server's native API. All methods take a
// context so callers control cancellation independently of the client
// timeouts.
type Client struct {
	baseURL string
	httpc   *http.Client
	genc    *http.Client
}

// New creates a client for the given base URL. timeout bounds probe and
// model-list calls; genTimeout bounds generation calls, which can run
// far longer than anything else.
func New(baseURL string, timeout, genTimeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		genc:    &http.Client{Timeout: genTimeout},
	}
}

// BaseURL returns the upstream base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping reports whether the upstream server answers its model listing
// endpoint with 200. Error statuses and transport failures both count
// as "down".
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Model is one installed model as reported by the upstream server.
type Model struct {
	Name       string       `json:"name"`
	Size       int64        `json:"size"`
	ModifiedAt string       `json:"modified_at"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails carries the subset of model metadata the monitor records.
type ModelDetails struct {
	ParameterSize string `json:"parameter_size"`
	Family        string `json:"family"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// ListModels fetches the set of models installed on the upstream server.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing models: upstream returned %d", resp.StatusCode)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	return tags.Models, nil
}

// GenerateResult is the outcome of a non-streaming generation call.
type GenerateResult struct {
	Response        string `json:"response"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`

	// StatusCode is the upstream HTTP status; set even when the call
	// did not produce a usable body.
	StatusCode int `json:"-"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Generate runs a single non-streaming completion against the named
// model. A non-200 upstream status is returned as an error alongside a
// result carrying the status code.
func (c *Client) Generate(ctx context.Context, model, prompt string) (GenerateResult, error) {
	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.genc.Do(req)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("calling generate: %w", err)
	}
	defer resp.Body.Close()

	result := GenerateResult{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return result, fmt.Errorf("generate: upstream returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decoding generate response: %w", err)
	}
	return result, nil
}
