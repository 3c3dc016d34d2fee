// Package vad implements chunk-based voice activity detection with explicit
// speech-boundary events and a pause gate.
//
// The detector consumes fixed-duration PCM chunks and emits SpeechStarted /
// SpeechEnded events based on consecutive-chunk counting. While paused,
// Ingest is a pure no-op: no counter moves and no event fires. The session
// coordinator pauses the detector for the whole processing-and-playback
// window, which is what keeps the system's own synthesized speech from being
// re-detected as a new utterance.
//
// A Detector is not safe for concurrent use; the coordinator serializes all
// access behind its own lock.
package vad

import "log/slog"

// Event is the detector's per-chunk verdict.
type Event int

const (
	// EventNone means the chunk produced no boundary.
	EventNone Event = iota

	// EventSpeechStarted fires once enough consecutive speech chunks have
	// been seen since the last boundary.
	EventSpeechStarted

	// EventSpeechEnded fires once enough consecutive silence chunks have
	// been seen after a start, subject to the minimum-recording floor.
	EventSpeechEnded
)

// String returns the event name for logging.
func (e Event) String() string {
	switch e {
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	default:
		return "none"
	}
}

// Classifier decides whether a single PCM chunk contains speech.
// Implementations must be deterministic per chunk; the Detector owns all
// cross-chunk state.
type Classifier interface {
	IsSpeech(pcm []byte) bool
}

// Config holds the boundary-detection thresholds, all expressed in chunks.
type Config struct {
	// SpeechThreshold is the number of consecutive speech chunks required to
	// emit SpeechStarted. Default: 2.
	SpeechThreshold int

	// SilenceThreshold is the number of consecutive silence chunks after a
	// start required to emit SpeechEnded. Default: 33 (~1 s at 30 ms chunks).
	SilenceThreshold int

	// MinRecordingChunks is the minimum total chunks between SpeechStarted
	// and SpeechEnded. It prevents a short utterance from being cut off by a
	// single quiet chunk. Default: 7.
	MinRecordingChunks int
}

func (c *Config) applyDefaults() {
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 2
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 33
	}
	if c.MinRecordingChunks <= 0 {
		c.MinRecordingChunks = 7
	}
}

// Detector tracks speech boundaries across a chunk stream.
type Detector struct {
	classifier Classifier
	cfg        Config

	paused bool

	// Boundary counters, reset on every emitted event and on Resume.
	consecSpeech  int
	consecSilence int
	started       bool
	chunksInTurn  int // chunks seen since SpeechStarted
}

// New creates a Detector using classifier for per-chunk speech decisions.
func New(classifier Classifier, cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{classifier: classifier, cfg: cfg}
}

// Ingest classifies one chunk and returns the boundary event it produced, if
// any. While the detector is paused, Ingest returns EventNone without
// touching any state.
func (d *Detector) Ingest(chunk []byte) Event {
	if d.paused {
		return EventNone
	}

	if d.started {
		d.chunksInTurn++
		if d.classifier.IsSpeech(chunk) {
			d.consecSilence = 0
			return EventNone
		}
		d.consecSilence++
		if d.consecSilence >= d.cfg.SilenceThreshold && d.chunksInTurn >= d.cfg.MinRecordingChunks {
			d.reset()
			return EventSpeechEnded
		}
		return EventNone
	}

	if d.classifier.IsSpeech(chunk) {
		d.consecSpeech++
		if d.consecSpeech >= d.cfg.SpeechThreshold {
			d.reset()
			d.started = true
			return EventSpeechStarted
		}
	} else {
		d.consecSpeech = 0
	}
	return EventNone
}

// InSpeech reports whether the detector is between a SpeechStarted and the
// matching SpeechEnded.
func (d *Detector) InSpeech() bool {
	return d.started
}

// Pause gates the detector. Subsequent Ingest calls are no-ops until Resume.
func (d *Detector) Pause() {
	if !d.paused {
		slog.Debug("vad paused")
	}
	d.paused = true
}

// Resume clears the pause gate and resets all counters to a clean boundary
// state. Chunks ingested while paused were dropped, not buffered; nothing is
// replayed.
func (d *Detector) Resume() {
	if d.paused {
		slog.Debug("vad resumed")
	}
	d.paused = false
	d.reset()
}

// Paused reports whether the pause gate is set.
func (d *Detector) Paused() bool {
	return d.paused
}

// reset returns all boundary counters to their initial state.
func (d *Detector) reset() {
	d.consecSpeech = 0
	d.consecSilence = 0
	d.chunksInTurn = 0
	d.started = false
}
