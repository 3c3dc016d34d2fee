// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription engine (a local whisper.cpp server,
// the in-process whisper.cpp bindings, or a hosted API) behind one batch
// contract: hand it a complete utterance clip, get text back. The session
// layer owns utterance segmentation, so providers never see partial audio
// and never need streaming state.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/voxloop/voxloop/pkg/audio"
)

// Result is a committed transcription of one utterance.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the provider detected or was configured with,
	// as a BCP-47 tag. May be empty when the provider does not report it.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple utterances may be
// transcribed in parallel.
type Provider interface {
	// Transcribe converts one complete utterance to text. The clip carries
	// 16-bit little-endian PCM; implementations consult the clip's metadata
	// for sample rate and channel count and fall back to 16 kHz mono when it
	// is absent.
	//
	// Returns an error if the backend cannot be reached, rejects the audio,
	// or ctx is cancelled first.
	Transcribe(ctx context.Context, clip audio.Clip) (Result, error)
}
