// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (a local Coqui server, the
// ElevenLabs API) behind one batch contract: hand it a reply text, get a
// playable clip back. The session layer arms its playback window from the
// clip's resolved duration, so providers should preserve whatever format
// information the backend reports — return clips built with [audio.FromWAV]
// or [audio.PCM] rather than bare byte payloads.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/voxloop/voxloop/pkg/audio"
)

// Voice identifies a voice profile offered by a provider.
type Voice struct {
	// ID is the provider-assigned identifier used in synthesis requests.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the backend this voice belongs to (e.g., "coqui").
	Provider string

	// Metadata carries provider-specific voice attributes.
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as speech using the given voice. An empty
	// voice ID selects the provider's default voice where the backend
	// supports one.
	//
	// Returns an error if the backend cannot be reached, rejects the text,
	// or ctx is cancelled first.
	Synthesize(ctx context.Context, text string, voice Voice) (audio.Clip, error)

	// Voices returns the provider's current voice catalogue. The list may
	// change between calls if the underlying service adds or removes voices.
	Voices(ctx context.Context) ([]Voice, error)
}
