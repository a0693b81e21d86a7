package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
)

// GoogleClient talks to the Gemini API through the genai SDK. Embedding and
// generation may run under different API keys, so the client holds one genai
// handle per key.
type GoogleClient struct {
	config *ClientConfig
	embed  *genai.Client
	gen    *genai.Client
}

// NewGoogleClient creates a new client for the Google Gemini API. When a
// project ID is configured the Vertex AI backend is used instead of the
// public Gemini API.
func NewGoogleClient(ctx context.Context, config *ClientConfig) (*GoogleClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-004"
	}
	if config.AnswerModel == "" {
		config.AnswerModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.ProjectID != "" && config.Location == "" {
		config.Location = "us-central1"
	}

	embedClient, err := newGenAIClient(ctx, config, config.EmbedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding client: %w", err)
	}

	genClient := embedClient
	if config.LLMAPIKey != "" && config.LLMAPIKey != config.EmbedAPIKey {
		genClient, err = newGenAIClient(ctx, config, config.LLMAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini generation client: %w", err)
		}
	}

	return &GoogleClient{
		config: config,
		embed:  embedClient,
		gen:    genClient,
	}, nil
}

func newGenAIClient(ctx context.Context, config *ClientConfig, apiKey string) (*genai.Client, error) {
	cc := genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Backend = genai.BackendVertexAI
		cc.Project = config.ProjectID
		cc.Location = config.Location
	}
	if strings.TrimSpace(apiKey) != "" {
		cc.APIKey = apiKey
	}
	return genai.NewClient(ctx, &cc)
}

// Close the client when done
func (c *GoogleClient) Close() error {
	return nil
}

// EmbedBatch embeds every text in one EmbedContent call. The response carries
// one embedding per input content, in input order.
func (c *GoogleClient) EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		part := genai.NewPartFromText(text)
		contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
	}

	cfg := genai.EmbedContentConfig{
		TaskType: string(task),
	}
	if c.config.Dim > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(c.config.Dim))
	}

	res, err := c.embed.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, apperr.Wrap(classifyGeminiErr(ctx, err), err, "embedding failed")
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		got := 0
		if res != nil {
			got = len(res.Embeddings)
		}
		return nil, apperr.New(apperr.UpstreamUnavailable, "embedding count mismatch: sent %d, got %d", len(texts), got)
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, apperr.New(apperr.UpstreamUnavailable, "empty embedding at index %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// StreamAnswer generates an answer with GenerateContentStream and forwards
// each text delta to onToken as it arrives.
func (c *GoogleClient) StreamAnswer(ctx context.Context, system, user string, onToken func(string)) (string, error) {
	sys := genai.Text(system)
	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   2048,
		SystemInstruction: sys[0],
	}

	var answer strings.Builder
	stream := c.gen.Models.GenerateContentStream(ctx, c.config.AnswerModel, genai.Text(user), &cfg)
	for resp, err := range stream {
		if err != nil {
			return "", apperr.Wrap(classifyGeminiErr(ctx, err), err, "generation failed")
		}
		if resp == nil {
			continue
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				answer.WriteString(part.Text)
				if onToken != nil {
					onToken(part.Text)
				}
			}
		}
	}

	if answer.Len() == 0 {
		return "", apperr.New(apperr.UpstreamUnavailable, "model returned no content")
	}
	return answer.String(), nil
}

func (c *GoogleClient) EmbeddingModel() string { return c.config.EmbedModel }

func (c *GoogleClient) AnswerModel() string { return c.config.AnswerModel }

func (c *GoogleClient) Dim() int { return c.config.Dim }

func (c *GoogleClient) DevOnly() bool { return false }

// classifyGeminiErr maps a genai error to an error kind. The SDK surfaces
// HTTP failures as formatted messages rather than typed errors, so the match
// is on status markers in the text.
func classifyGeminiErr(ctx context.Context, err error) apperr.Kind {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Cancelled
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return apperr.RateLimited
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "UNAUTHENTICATED") || strings.Contains(msg, "PERMISSION_DENIED") ||
		strings.Contains(msg, "API key"):
		return apperr.Unauthorized
	case strings.Contains(msg, "400") || strings.Contains(msg, "INVALID_ARGUMENT"):
		return apperr.BadInput
	default:
		return apperr.UpstreamUnavailable
	}
}
