package session

import (
	"fmt"
	"time"
)

// State is the canonical interaction state of a voice session. Exactly one
// value holds at a time; it is owned by the Coordinator and mutated only
// inside its transition paths.
type State int

const (
	// StateIdle means the session is stopped; the detector is paused and no
	// chunks are processed until a start request arrives.
	StateIdle State = iota

	// StateListening means the detector is watching the chunk stream for a
	// speech boundary.
	StateListening

	// StateRecording means an utterance is in progress and chunks are being
	// accumulated for the pipeline.
	StateRecording

	// StateProcessing means a pipeline invocation is outstanding for the
	// recorded utterance. The detector is paused.
	StateProcessing

	// StateSpeaking means a reply is (assumed to be) playing back. The
	// detector stays paused until the playback window expires, which is
	// what keeps the synthesized audio from being re-detected.
	StateSpeaking
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// statusLabel renders the UI-facing status string for a state, including the
// remaining playback time while speaking.
func statusLabel(s State, remaining time.Duration) string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateRecording:
		return "RECORDING"
	case StateProcessing:
		return "PROCESSING"
	case StateSpeaking:
		return fmt.Sprintf("SPEAKING (%.1fs left)", remaining.Seconds())
	default:
		return "UNKNOWN"
	}
}
