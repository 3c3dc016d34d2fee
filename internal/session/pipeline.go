package session

import (
	"context"

	"github.com/voxloop/voxloop/pkg/audio"
)

// Reply is the outcome of one pipeline invocation: what the user said, what
// the system answered, and optionally the synthesized audio for playback.
type Reply struct {
	// Transcript is the recognized user utterance.
	Transcript string

	// ResponseText is the generated answer.
	ResponseText string

	// Audio is the synthesized reply. A zero-value (empty) clip means the
	// pipeline produced a text-only reply and the session returns straight
	// to listening.
	Audio audio.Clip
}

// HasAudio reports whether the reply carries playable audio.
func (r *Reply) HasAudio() bool {
	return !r.Audio.Empty()
}

// Processor is the external reply pipeline: transcription, response
// generation, and synthesis behind one narrow contract. Process may block
// for an unbounded duration; the Coordinator invokes it on its own goroutine
// and never blocks the poll loop on it.
//
// generation is the tag of the invocation. Implementations should carry it
// into log entries so late results can be correlated with the discard
// decision, but must not interpret it otherwise.
type Processor interface {
	Process(ctx context.Context, clip audio.Clip, generation uint64) (*Reply, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, clip audio.Clip, generation uint64) (*Reply, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, clip audio.Clip, generation uint64) (*Reply, error) {
	return f(ctx, clip, generation)
}
