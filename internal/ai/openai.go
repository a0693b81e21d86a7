package ai

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
)

const openAIBaseURL = "https://api.openai.com/v1"

type OpenAIClient struct {
	config  *ClientConfig
	baseURL string
	http    *http.Client
	// stream requests outlive the embedding timeout; deadlines come from ctx.
	streamHTTP *http.Client
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.AnswerModel == "" {
		config.AnswerModel = "gpt-4o-mini"
	}
	if config.Dim == 0 {
		switch config.EmbedModel {
		case "text-embedding-ada-002":
			// ada has a fixed output size
			config.Dim = 1536
		default:
			// 3-series models honor a requested dimension
			config.Dim = 768
		}
	}

	// Create HTTP client with optional TLS skip verification
	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("OPENQUEST_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &OpenAIClient{
		config:  config,
		baseURL: openAIBaseURL,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		streamHTTP: &http.Client{
			Transport: transport,
		},
	}
}

// EmbedBatch sends all texts in one embeddings request. The response rows
// carry an index field and are placed back in input order.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.config.EmbedAPIKey == "" {
		return nil, apperr.New(apperr.Unauthorized, "EMBEDDING_API_KEY unset")
	}

	payload := map[string]any{
		"input": texts,
		"model": c.config.EmbedModel,
	}
	if strings.HasPrefix(c.config.EmbedModel, "text-embedding-3") {
		payload["dimensions"] = c.config.Dim
	}

	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "build embeddings request")
	}
	c.setHeaders(req, c.config.EmbedAPIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(transportKind(ctx), err, "openai embeddings request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp, "openai embeddings")
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, err, "decode embeddings response")
	}
	if len(out.Data) != len(texts) {
		return nil, apperr.New(apperr.UpstreamUnavailable, "embedding count mismatch: sent %d, got %d", len(texts), len(out.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, apperr.New(apperr.UpstreamUnavailable, "embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, apperr.New(apperr.UpstreamUnavailable, "empty embedding at index %d", i)
		}
	}
	return vectors, nil
}

// StreamAnswer runs a streaming chat completion and forwards each content
// delta to onToken.
func (c *OpenAIClient) StreamAnswer(ctx context.Context, system, user string, onToken func(string)) (string, error) {
	if c.config.LLMAPIKey == "" {
		return "", apperr.New(apperr.Unauthorized, "LLM_API_KEY unset")
	}

	payload := map[string]any{
		"model": c.config.AnswerModel,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.2,
		"stream":      true,
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "build chat request")
	}
	c.setHeaders(req, c.config.LLMAPIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return "", apperr.Wrap(transportKind(ctx), err, "openai chat request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp, "openai chat")
	}

	var answer strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Tolerate unknown frames; providers add fields without notice.
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			answer.WriteString(choice.Delta.Content)
			if onToken != nil {
				onToken(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", apperr.Wrap(transportKind(ctx), err, "read chat stream")
	}

	if answer.Len() == 0 {
		return "", apperr.New(apperr.UpstreamUnavailable, "model returned no content")
	}
	return answer.String(), nil
}

func (c *OpenAIClient) EmbeddingModel() string { return c.config.EmbedModel }

func (c *OpenAIClient) AnswerModel() string { return c.config.AnswerModel }

func (c *OpenAIClient) Dim() int { return c.config.Dim }

func (c *OpenAIClient) DevOnly() bool { return false }

func (c *OpenAIClient) Close() error { return nil }

// setHeaders sets common headers for OpenAI requests
func (c *OpenAIClient) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

// apiError drains an error response into a tagged error.
func (c *OpenAIClient) apiError(resp *http.Response, op string) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&e)
	msg := e.Error.Message
	if msg == "" {
		msg = resp.Status
	}
	return apperr.New(statusKind(resp.StatusCode), "%s: %s", op, msg)
}

// statusKind maps an upstream HTTP status to an error kind.
func statusKind(code int) apperr.Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return apperr.RateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.Unauthorized
	case code >= 500:
		return apperr.UpstreamUnavailable
	case code >= 400:
		return apperr.BadInput
	default:
		return apperr.Internal
	}
}

// transportKind classifies a transport-level failure, favoring cancellation
// when the request context was the cause.
func transportKind(ctx context.Context) apperr.Kind {
	if ctx.Err() != nil {
		return apperr.Cancelled
	}
	return apperr.UpstreamUnavailable
}
