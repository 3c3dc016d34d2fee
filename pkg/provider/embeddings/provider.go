// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// An embeddings provider maps text to a dense float32 vector. The memory
// layer embeds each conversational exchange as it is recorded and embeds
// recall queries at lookup time; both sides of a similarity comparison must
// therefore come from the same provider instance.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// Every vector returned by one Provider instance has length Dimensions().
type Provider interface {
	// Embed computes the embedding vector for text. Returns a float32 slice
	// of length Dimensions(), or an error if the request fails or ctx is
	// cancelled. Text is passed through verbatim; any model-specific prompt
	// formatting is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces. Constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g., "text-embedding-3-small"). Useful for logging and for
	// verifying consistent model usage across restarts.
	ModelID() string
}
