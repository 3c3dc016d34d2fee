// Package session implements the voice interaction concurrency coordinator:
// the state machine that arbitrates turn-taking between a human speaker and
// the synthesized reply, and that keeps the system from transcribing its own
// speech output.
//
// The Coordinator owns the canonical session State, the processing lock with
// its generation counter, and the playback window. All mutation is
// serialized behind a single mutex; the audio-chunk producer and the UI poll
// loop are simply two concurrent callers of that mutex. The only operation
// allowed to block for an unbounded time — the external reply pipeline — runs
// on its own goroutine and reports back through a delivery path that
// revalidates the generation tag before touching any state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/vad"
	"github.com/voxloop/voxloop/pkg/audio"
)

// ErrInvalidTransition is returned when an event arrives in a state that has
// no edge for it. This is a contract violation — it means the detector was
// not paused or resumed where it should have been — so it is surfaced rather
// than absorbed.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// ErrLockHeld is returned when a speech boundary tries to start a second
// pipeline invocation while one is already outstanding. The in-flight
// invocation continues undisturbed; the new trigger is rejected.
var ErrLockHeld = errors.New("session: processing lock already held")

// VoiceGate is the boundary-detection surface the Coordinator drives. It is
// satisfied by *vad.Detector; tests substitute counting gates to verify the
// pause/resume balance.
type VoiceGate interface {
	Ingest(chunk []byte) vad.Event
	Pause()
	Resume()
}

var _ VoiceGate = (*vad.Detector)(nil)

// Config holds the Coordinator's tunables.
type Config struct {
	// SampleRate and Channels describe the PCM format of submitted chunks.
	// Defaults: 16000 Hz, mono.
	SampleRate int
	Channels   int

	// PrerollChunks is how many chunks preceding SpeechStarted are kept and
	// prepended to the recording, so the detection latency does not clip the
	// first syllables. Default: 50 (~1.5 s at 30 ms chunks).
	PrerollChunks int

	// MaxRecordingChunks caps a single utterance. When the cap is hit the
	// recording is force-closed as if the detector had ended it, keeping an
	// open microphone next to a stereo from growing the buffer without
	// bound. Default: 1000 (~30 s).
	MaxRecordingChunks int

	// SafetyBuffer is added to every resolved playback duration before the
	// detector is resumed. Default: 1 s.
	SafetyBuffer time.Duration
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.PrerollChunks <= 0 {
		c.PrerollChunks = 50
	}
	if c.MaxRecordingChunks <= 0 {
		c.MaxRecordingChunks = 1000
	}
	if c.SafetyBuffer <= 0 {
		c.SafetyBuffer = time.Second
	}
}

// Coordinator is the session state machine. All exported methods are safe
// for concurrent use.
type Coordinator struct {
	cfg       Config
	gate      VoiceGate
	timer     *PlaybackTimer
	resolver  *audio.Resolver
	processor Processor

	metrics *observe.Metrics
	onReply func(Reply)
	onError func(error)

	// ctx bounds all pipeline invocations; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	generation uint64
	lockHeld   bool

	preroll   [][]byte
	recording [][]byte
}

// Option configures a Coordinator during construction.
type Option func(*Coordinator)

// WithMetrics records state transitions, stale discards, and pipeline
// latency on the given instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithReplyHandler sets the callback invoked (outside the coordinator lock)
// with every accepted pipeline reply. This is where the app plays audio and
// renders text.
func WithReplyHandler(fn func(Reply)) Option {
	return func(c *Coordinator) { c.onReply = fn }
}

// WithErrorHandler sets the callback invoked (outside the coordinator lock)
// with surfaced pipeline errors.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Coordinator) { c.onError = fn }
}

// New creates a Coordinator in the Listening state. The gate is expected to
// start unpaused; the Coordinator takes sole ownership of Pause/Resume from
// here on — no other code path may call them.
func New(gate VoiceGate, timer *PlaybackTimer, resolver *audio.Resolver, processor Processor, cfg Config, opts ...Option) *Coordinator {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:       cfg,
		gate:      gate,
		timer:     timer,
		resolver:  resolver,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateListening,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close cancels any outstanding pipeline invocation and stops the session.
func (c *Coordinator) Close() {
	c.RequestStop()
	c.cancel()
}

// ─── chunk ingestion ─────────────────────────────────────────────────────────

// SubmitChunk feeds one captured audio chunk into the session. Chunks are
// dropped while a reply is being computed or played; in Idle they reach the
// paused detector, which ignores them.
func (c *Coordinator) SubmitChunk(chunk []byte) error {
	c.mu.Lock()

	switch c.state {
	case StateProcessing, StateSpeaking:
		// The detector is paused here anyway, but dropping early avoids
		// buffering audio that can never become part of an utterance.
		c.mu.Unlock()
		return nil

	case StateIdle:
		c.gate.Ingest(chunk) // no-op against the paused gate
		c.mu.Unlock()
		return nil

	case StateListening:
		c.pushPreroll(chunk)
		ev := c.gate.Ingest(chunk)
		switch ev {
		case vad.EventSpeechStarted:
			c.recordBoundary("speech_started")
			c.setState(StateRecording)
			// Seed the recording with the pre-roll so detection latency
			// does not clip the first syllables.
			c.recording = append(c.recording[:0], c.preroll...)
		case vad.EventSpeechEnded:
			c.mu.Unlock()
			return fmt.Errorf("%w: speech ended while listening", ErrInvalidTransition)
		}
		c.mu.Unlock()
		return nil

	case StateRecording:
		c.recording = append(c.recording, chunk)
		ev := c.gate.Ingest(chunk)
		if ev == vad.EventSpeechEnded {
			c.recordBoundary("speech_ended")
		}
		forced := len(c.recording) >= c.cfg.MaxRecordingChunks
		if ev != vad.EventSpeechEnded && forced {
			slog.Warn("recording cap reached, forcing utterance end", "chunks", len(c.recording))
		}
		if ev == vad.EventSpeechEnded || forced {
			err := c.beginProcessingLocked()
			c.mu.Unlock()
			return err
		}
		if ev == vad.EventSpeechStarted {
			c.mu.Unlock()
			return fmt.Errorf("%w: speech started while recording", ErrInvalidTransition)
		}
		c.mu.Unlock()
		return nil
	}

	c.mu.Unlock()
	return fmt.Errorf("%w: chunk in state %s", ErrInvalidTransition, c.state)
}

// pushPreroll appends chunk to the pre-roll ring, evicting the oldest entry
// once the ring is full. Must be called with c.mu held.
func (c *Coordinator) pushPreroll(chunk []byte) {
	if len(c.preroll) == c.cfg.PrerollChunks {
		copy(c.preroll, c.preroll[1:])
		c.preroll[len(c.preroll)-1] = chunk
		return
	}
	c.preroll = append(c.preroll, chunk)
}

// beginProcessingLocked acquires the processing lock, pauses the gate, and
// launches the pipeline invocation. Must be called with c.mu held; this is
// the only path that enters Processing.
func (c *Coordinator) beginProcessingLocked() error {
	if c.lockHeld {
		// Can only happen if the gate was not actually paused — a second
		// boundary must never preempt the in-flight invocation.
		slog.Error("speech boundary while processing lock held, rejecting", "generation", c.generation)
		return ErrLockHeld
	}

	c.lockHeld = true
	c.generation++
	gen := c.generation

	c.gate.Pause()
	c.setState(StateProcessing)

	var pcm []byte
	for _, chunk := range c.recording {
		pcm = append(pcm, chunk...)
	}
	clip := audio.PCM(pcm, c.cfg.SampleRate, c.cfg.Channels)
	c.recording = nil
	c.preroll = c.preroll[:0]

	go c.invoke(gen, clip)
	return nil
}

// invoke runs the pipeline outside the lock and delivers the result.
func (c *Coordinator) invoke(gen uint64, clip audio.Clip) {
	start := time.Now()
	reply, err := c.processor.Process(c.ctx, clip, gen)
	if c.metrics != nil {
		c.metrics.RecordPipeline(c.ctx, time.Since(start), err)
	}
	if err != nil {
		c.deliverFailure(gen, err)
		return
	}
	c.deliverReply(gen, reply)
}

// ─── pipeline delivery ───────────────────────────────────────────────────────

// staleLocked reports whether a result tagged gen must be discarded. Must be
// called with c.mu held.
func (c *Coordinator) staleLocked(gen uint64) bool {
	return !c.lockHeld || gen != c.generation || c.state != StateProcessing
}

func (c *Coordinator) deliverReply(gen uint64, reply *Reply) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.discardLocked(gen, "completed")
		c.mu.Unlock()
		return
	}
	c.lockHeld = false

	if !reply.HasAudio() {
		c.toListeningLocked()
		c.mu.Unlock()
		c.emitReply(reply)
		return
	}

	duration, confidence := c.resolver.Resolve(reply.Audio)
	if err := c.timer.Arm(duration, c.cfg.SafetyBuffer); err != nil {
		// An unexpired window here means a previous Speaking episode was
		// not torn down; reclaim it rather than wedging the session.
		slog.Error("playback timer still armed on new reply, re-arming", "err", err)
		c.timer.Cancel()
		_ = c.timer.Arm(duration, c.cfg.SafetyBuffer)
	}
	c.setState(StateSpeaking)
	if c.metrics != nil {
		c.metrics.PlaybackWindow.Record(c.ctx, (duration + c.cfg.SafetyBuffer).Seconds())
	}
	slog.Info("reply ready, playback window armed",
		"generation", gen,
		"duration", duration,
		"confidence", confidence.String(),
		"buffer", c.cfg.SafetyBuffer,
	)
	c.mu.Unlock()
	c.emitReply(reply)
}

func (c *Coordinator) deliverFailure(gen uint64, err error) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.discardLocked(gen, "failed")
		c.mu.Unlock()
		return
	}
	c.lockHeld = false
	c.toListeningLocked()
	c.mu.Unlock()

	slog.Error("pipeline failed, back to listening", "generation", gen, "err", err)
	if c.onError != nil {
		c.onError(err)
	}
}

// discardLocked logs and counts a stale pipeline result. Must be called with
// c.mu held.
func (c *Coordinator) discardLocked(gen uint64, kind string) {
	slog.Info("stale pipeline result discarded",
		"kind", kind,
		"generation", gen,
		"current_generation", c.generation,
		"state", c.state.String(),
	)
	if c.metrics != nil {
		c.metrics.RecordStaleResult(c.ctx)
	}
}

func (c *Coordinator) emitReply(reply *Reply) {
	if c.onReply != nil {
		c.onReply(*reply)
	}
}

// ─── poll loop ───────────────────────────────────────────────────────────────

// Tick drives all time-based transitions. The poll loop calls it at a fixed
// interval (≤100 ms), which bounds how late a playback expiry can be
// observed: within one tick of the window's end time.
func (c *Coordinator) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateSpeaking && c.timer.Finished() {
		c.timer.Cancel()
		c.toListeningLocked()
	}
}

// ─── control surface ─────────────────────────────────────────────────────────

// RequestStop forces the session to Idle from any state: the gate is paused,
// the playback window cleared, and the processing lock released. A pipeline
// result that arrives afterward fails the generation check and is discarded;
// the Coordinator never waits for the invocation to terminate.
func (c *Coordinator) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return
	}
	c.gate.Pause()
	c.timer.Cancel()
	c.lockHeld = false
	c.recording = nil
	c.preroll = c.preroll[:0]
	c.setState(StateIdle)
}

// RequestStart leaves Idle and resumes listening. Calling it in any other
// state is a contract violation and is rejected.
func (c *Coordinator) RequestStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("%w: start requested while %s", ErrInvalidTransition, c.state)
	}
	c.gate.Resume()
	c.setState(StateListening)
	return nil
}

// ─── read surface ────────────────────────────────────────────────────────────

// State returns the current session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemainingPlayback returns how much of the playback window is left. Zero
// when not speaking.
func (c *Coordinator) RemainingPlayback() time.Duration {
	return c.timer.Remaining()
}

// StatusLabel returns the UI-facing status string for the current state.
func (c *Coordinator) StatusLabel() string {
	c.mu.Lock()
	s := c.state
	c.mu.Unlock()
	return statusLabel(s, c.timer.Remaining())
}

// ─── transition helpers ──────────────────────────────────────────────────────

// toListeningLocked is the single edge back to Listening from Processing or
// Speaking. Routing every such exit through here is what makes "gate left
// permanently paused" structurally unreachable: each exit resumes exactly
// once. Must be called with c.mu held.
func (c *Coordinator) toListeningLocked() {
	c.gate.Resume()
	c.setState(StateListening)
}

// recordBoundary counts one detector boundary event.
func (c *Coordinator) recordBoundary(event string) {
	if c.metrics != nil {
		c.metrics.RecordBoundary(c.ctx, event)
	}
}

// setState records the transition. Must be called with c.mu held.
func (c *Coordinator) setState(next State) {
	prev := c.state
	c.state = next
	slog.Debug("session transition", "from", prev.String(), "to", next.String())
	if c.metrics != nil {
		c.metrics.RecordTransition(c.ctx, prev.String(), next.String())
	}
}
