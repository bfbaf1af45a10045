// Package enrich runs the three LLM-backed workers: title classification,
// per-posting structured extraction, and per-company profile extraction. All
// three share the worker loop and the 24 h retry window; at most one worker
// of each kind runs, so the selection predicate alone prevents concurrent
// attempts on an entity.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrRateLimited marks a vendor 429; the job enricher retries these
// in-invocation with backoff.
var ErrRateLimited = errors.New("llm rate limited")

// PromptRef pins a server-side prompt by id and version.
type PromptRef struct {
	ID      string
	Version string
}

// LLM produces one completion for a prompt and an input payload. The returned
// string is the first output_text block of the response.
type LLM interface {
	Generate(ctx context.Context, prompt PromptRef, input string) (string, error)
}

// Client calls a responses-style LLM API with server-side prompts.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds an LLM client. The timeout bounds one whole call.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// responsesRequest mirrors the vendor's responses request body.
type responsesRequest struct {
	Prompt promptSpec `json:"prompt"`
	Input  string     `json:"input"`
}

type promptSpec struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// responsesEnvelope mirrors the relevant fields of the vendor response.
type responsesEnvelope struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends the input through the pinned prompt and returns the first
// output_text content block.
func (c *Client) Generate(ctx context.Context, prompt PromptRef, input string) (string, error) {
	body, err := json.Marshal(responsesRequest{
		Prompt: promptSpec{ID: prompt.ID, Version: prompt.Version},
		Input:  input,
	})
	if err != nil {
		return "", fmt.Errorf("marshal llm request: %w", err)
	}

	url := c.baseURL + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("llm returned 429: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm returned HTTP %d: %s", resp.StatusCode, string(respBytes))
	}

	var envelope responsesEnvelope
	if err := json.Unmarshal(respBytes, &envelope); err != nil {
		return "", fmt.Errorf("parse llm response: %w", err)
	}
	if envelope.Error != nil {
		return "", fmt.Errorf("llm error (%s): %s", envelope.Error.Type, envelope.Error.Message)
	}

	for _, out := range envelope.Output {
		for _, content := range out.Content {
			if content.Type == "output_text" {
				return content.Text, nil
			}
		}
	}
	return "", fmt.Errorf("llm response has no output_text block")
}
