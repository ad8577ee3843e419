// Package llm defines the model-call boundary between the pipeline core
// and external language model services. It abstracts the provider API so
// pipeline nodes can call a model without coupling to a specific vendor.
package llm

import "context"

// Request describes one model call.
type Request struct {
	// SystemPrompt is optional instruction text applied to the whole call.
	SystemPrompt string

	// UserPrompt is the rendered prompt for this call.
	UserPrompt string

	// Model names the provider model to use.
	Model string

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int

	// Temperature controls sampling randomness. Zero means provider default.
	Temperature float64
}

// Caller performs a single model call, returning the raw response text.
type Caller interface {
	Call(ctx context.Context, req Request) (string, error)
}

// CallerFunc adapts a plain function to the Caller interface.
type CallerFunc func(ctx context.Context, req Request) (string, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
