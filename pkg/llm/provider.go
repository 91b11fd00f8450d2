package llm

import (
	"context"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// Provider generates text given a conversation. Implementations own their
// HTTP clients and are safe for concurrent use.
type Provider interface {
	// Generate sends the conversation and returns the complete response.
	Generate(ctx context.Context, messages []models.Message, opts ...GenerateOption) (*models.LLMResponse, error)

	// Model returns the configured model identifier.
	Model() string
}

// StreamingProvider is implemented by providers that can deliver the response
// incrementally. onChunk is called for every content delta; returning an
// error from it aborts the stream.
type StreamingProvider interface {
	Provider
	GenerateStream(ctx context.Context, messages []models.Message, onChunk func(chunk string) error, opts ...GenerateOption) (*models.LLMResponse, error)
}

// GenerateOptions carries per-call overrides of the provider defaults.
type GenerateOptions struct {
	Temperature *float64
	MaxTokens   *int
}

// GenerateOption mutates GenerateOptions.
type GenerateOption func(*GenerateOptions)

// WithTemperature overrides the configured temperature for one call.
func WithTemperature(t float64) GenerateOption {
	return func(o *GenerateOptions) { o.Temperature = &t }
}

// WithMaxTokens overrides the configured completion budget for one call.
func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxTokens = &n }
}

func applyOptions(opts []GenerateOption) GenerateOptions {
	var options GenerateOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
