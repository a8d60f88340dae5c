package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/serenemind/serenemind-backend/internal/model"
)

// OllamaProvider talks to an Ollama-compatible generation API.
type OllamaProvider struct {
	client *resty.Client
	model  string
}

// NewOllama builds a provider against baseURL with a per-attempt timeout.
// Retrying is the queue worker's job, so the client itself never retries.
func NewOllama(baseURL, modelName string, timeout time.Duration) *OllamaProvider {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &OllamaProvider{client: c, model: modelName}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Complete performs a single-shot completion.
func (p *OllamaProvider) Complete(ctx context.Context, prompt string, params Params) (string, error) {
	var out generateResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Model:  p.model,
			Prompt: prompt,
			Stream: false,
			Options: generateOptions{
				Temperature: params.Temperature,
				TopP:        params.TopP,
			},
		}).
		SetResult(&out).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("provider request: %w: %w", model.ErrUpstreamUnavailable, err)
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("provider error: %s: %w", out.Error, model.ErrUpstreamUnavailable)
	}
	return out.Response, nil
}

// Stream performs a chunked completion, calling onDelta per chunk and
// returning the assembled text once the done signal arrives.
func (p *OllamaProvider) Stream(ctx context.Context, prompt string, params Params, onDelta func(string)) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetBody(generateRequest{
			Model:  p.model,
			Prompt: prompt,
			Stream: true,
			Options: generateOptions{
				Temperature: params.Temperature,
				TopP:        params.TopP,
			},
		}).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("provider stream: %w: %w", model.ErrUpstreamUnavailable, err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return "", err
	}

	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", fmt.Errorf("provider stream decode: %w: %w", model.ErrUpstreamUnavailable, err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("provider stream error: %s: %w", chunk.Error, model.ErrUpstreamUnavailable)
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			if onDelta != nil {
				onDelta(chunk.Response)
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("provider stream read: %w: %w", model.ErrUpstreamUnavailable, err)
	}
	return full.String(), nil
}

// HealthPing checks the provider's tag listing endpoint.
func (p *OllamaProvider) HealthPing(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/api/tags")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("provider status %d", resp.StatusCode())
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the retry taxonomy: 429 and
// quota-shaped 403s are retried with backoff, other failures get the single
// fixed-delay retry.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("provider status %d: %w", code, model.ErrUpstreamQuota)
	case code == http.StatusForbidden:
		return fmt.Errorf("provider status %d: %w", code, model.ErrUpstreamQuota)
	default:
		return fmt.Errorf("provider status %d: %w", code, model.ErrUpstreamUnavailable)
	}
}
