// Package mock provides a test double for the embeddings package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
//
// By default it returns a deterministic vector derived from the input text
// so similarity tests can distinguish inputs without a live backend.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector length reported by Dimensions and used for the
	// default deterministic vectors. Zero defaults to 4.
	Dim int

	// Err, if non-nil, is returned as the error from Embed.
	Err error

	// EmbedFunc, if non-nil, overrides the default behaviour entirely.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedCalls records the text of every Embed call.
	EmbedCalls []string
}

// Embed records the call and returns a deterministic vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	fn := p.EmbedFunc
	err := p.Err
	dim := p.dim()
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}

	// Cheap text-dependent vector: byte sums folded across the dimensions.
	vec := make([]float32, dim)
	for i := 0; i < len(text); i++ {
		vec[i%dim] += float32(text[i]) / 255
	}
	return vec, nil
}

// Dimensions returns the configured vector length.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim()
}

// ModelID returns a fixed identifier for the mock.
func (p *Provider) ModelID() string { return "mock-embeddings" }

// CallCount returns the number of Embed calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
}

func (p *Provider) dim() int {
	if p.Dim <= 0 {
		return 4
	}
	return p.Dim
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
