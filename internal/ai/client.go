// Package ai abstracts the embedding and answer-generation backends so the
// rest of the engine never talks to a model provider directly.
package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
)

// TaskType tells the embedding backend how the vector will be used. Document
// and query vectors are produced with different task hints so that retrieval
// quality does not degrade on asymmetric models.
type TaskType string

const (
	TaskDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskQuery    TaskType = "RETRIEVAL_QUERY"
)

// Client provides embeddings and streaming answer generation.
type Client interface {
	// EmbedBatch returns one vector per input text, in input order. A single
	// call maps to a single provider request; callers own batching and retry.
	EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error)

	// StreamAnswer generates an answer for the user prompt under the system
	// prompt, invoking onToken for every text delta when onToken is non-nil.
	// The full accumulated answer is returned once the stream ends.
	StreamAnswer(ctx context.Context, system, user string, onToken func(text string)) (string, error)

	// EmbeddingModel is the identifier recorded next to stored vectors.
	EmbeddingModel() string

	// AnswerModel is the identifier of the generation model.
	AnswerModel() string

	// Dim returns the embedding dimension.
	Dim() int

	// DevOnly reports whether the vectors are development stand-ins that must
	// never overwrite an index built by a hosted model.
	DevOnly() bool

	Close() error
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
	ProviderOpenAI Provider = "openai"
	ProviderStub   Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	Provider    Provider
	EmbedAPIKey string
	LLMAPIKey   string
	EmbedModel  string
	AnswerModel string
	Dim         int
	ProjectID   string
	Location    string
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	if strings.TrimSpace(config.LLMAPIKey) == "" {
		config.LLMAPIKey = config.EmbedAPIKey
	}

	switch config.Provider {
	case ProviderLocal:
		return NewLocalClient(), nil
	case ProviderGoogle:
		return NewGoogleClient(ctx, config)
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a stub implementation of the Client interface for testing
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// EmbedBatch returns zero vectors of the configured dimension.
func (s *StubClient) EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Cancelled, err, "embedding aborted")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

// StreamAnswer emits a fixed answer as a single token.
func (s *StubClient) StreamAnswer(ctx context.Context, system, user string, onToken func(string)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.Wrap(apperr.Cancelled, err, "generation aborted")
	}
	const answer = "Stub answer."
	if onToken != nil {
		onToken(answer)
	}
	return answer, nil
}

func (s *StubClient) EmbeddingModel() string { return "stub" }

func (s *StubClient) AnswerModel() string { return "stub" }

// Dim returns the embedding dimension
func (s *StubClient) Dim() int { return s.dim }

func (s *StubClient) DevOnly() bool { return true }

func (s *StubClient) Close() error { return nil }
