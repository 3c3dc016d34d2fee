// Package pipeline implements the cascaded reply pipeline behind the session
// coordinator: transcription, response generation, and synthesis composed
// into one [session.Processor].
//
// The pipeline is strictly batch: it receives one complete utterance clip,
// produces one reply, and carries the coordinator's generation tag through
// its log entries so late results can be correlated with the discard
// decision. Conversation memory reads and writes are best effort — a storage
// failure degrades recall but never blocks a reply.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/session"
	"github.com/voxloop/voxloop/internal/voicecmd"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/memory"
	"github.com/voxloop/voxloop/pkg/provider/embeddings"
	"github.com/voxloop/voxloop/pkg/provider/llm"
	"github.com/voxloop/voxloop/pkg/provider/stt"
	"github.com/voxloop/voxloop/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ session.Processor = (*Pipeline)(nil)

// Config tunes the pipeline. The zero value is usable with defaults applied.
type Config struct {
	// SessionID groups the exchanges of this process lifetime in memory.
	// Empty generates a random ID.
	SessionID string

	// SystemPrompt steers the response generator.
	SystemPrompt string

	// Voice selects the synthesis voice.
	Voice tts.Voice

	// MinClipDuration drops utterances shorter than this before any
	// provider call. Breath noises and chair squeaks that slip past the
	// detector land here. Default: 500ms.
	MinClipDuration time.Duration

	// HistoryLimit caps the number of past exchanges included in the
	// prompt. Default: 10.
	HistoryLimit int

	// RecallTopK is the number of semantically similar past exchanges
	// retrieved for prompt context. Zero disables recall.
	RecallTopK int

	// Temperature and MaxTokens pass through to the response generator.
	Temperature float64
	MaxTokens   int
}

func (c *Config) applyDefaults() {
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.MinClipDuration <= 0 {
		c.MinClipDuration = 500 * time.Millisecond
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
}

// Option is a functional option for the Pipeline.
type Option func(*Pipeline)

// WithMemory attaches a conversation memory store and the embeddings
// provider used to index and recall exchanges. Either may be nil: a store
// without embedder records exchanges but disables similarity recall.
func WithMemory(store memory.Store, embedder embeddings.Provider) Option {
	return func(p *Pipeline) {
		p.store = store
		p.embedder = embedder
	}
}

// WithCommandMatcher attaches a spoken-command matcher. Matched transcripts
// short-circuit the pipeline: onCommand is invoked and no reply is
// generated.
func WithCommandMatcher(m *voicecmd.Matcher, onCommand func(voicecmd.Command)) Option {
	return func(p *Pipeline) {
		p.commands = m
		p.onCommand = onCommand
	}
}

// WithMetrics attaches a metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline is the STT → LLM → TTS cascade. Safe for concurrent use, though
// the coordinator runs at most one invocation at a time.
type Pipeline struct {
	cfg Config

	transcriber stt.Provider
	responder   llm.Provider
	synthesizer tts.Provider

	store    memory.Store
	embedder embeddings.Provider

	commands  *voicecmd.Matcher
	onCommand func(voicecmd.Command)

	metrics *observe.Metrics
}

// New assembles a Pipeline from the three providers. Wrap providers in
// resilience fallback groups before passing them in when failover is wanted.
func New(transcriber stt.Provider, responder llm.Provider, synthesizer tts.Provider, cfg Config, opts ...Option) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		cfg:         cfg,
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
		metrics:     observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SessionID returns the memory session identifier in use.
func (p *Pipeline) SessionID() string { return p.cfg.SessionID }

// Process implements [session.Processor].
func (p *Pipeline) Process(ctx context.Context, clip audio.Clip, generation uint64) (*session.Reply, error) {
	// Breath noises and chair squeaks that slip past the detector are not
	// an error condition: drop them silently, as if nothing was heard.
	if d := clipDuration(clip); d < p.cfg.MinClipDuration {
		slog.Debug("dropping short utterance",
			"generation", generation,
			"duration", d,
			"min", p.cfg.MinClipDuration)
		return &session.Reply{}, nil
	}

	transcript, err := p.transcribe(ctx, clip, generation)
	if err != nil {
		return nil, err
	}
	if transcript == "" {
		slog.Debug("empty transcript, skipping reply", "generation", generation)
		return &session.Reply{}, nil
	}

	if p.commands != nil {
		if cmd, score := p.commands.Match(transcript); cmd != voicecmd.CommandNone {
			slog.Info("voice command detected",
				"generation", generation,
				"command", cmd.String(),
				"score", score,
				"transcript", transcript)
			if p.onCommand != nil {
				p.onCommand(cmd)
			}
			return &session.Reply{Transcript: transcript}, nil
		}
	}

	responseText, err := p.respond(ctx, transcript, generation)
	if err != nil {
		return nil, err
	}

	reply := &session.Reply{
		Transcript:   transcript,
		ResponseText: responseText,
	}

	// Synthesis failure degrades to a text-only reply rather than losing
	// the generated answer.
	speech, err := p.synthesize(ctx, responseText, generation)
	if err != nil {
		slog.Warn("synthesis failed, replying text-only",
			"generation", generation,
			"error", err)
	} else {
		reply.Audio = speech
	}

	p.recordExchange(ctx, transcript, responseText, generation)
	return reply, nil
}

// transcribe runs the STT stage with timing and provider metrics.
func (p *Pipeline) transcribe(ctx context.Context, clip audio.Clip, generation uint64) (string, error) {
	start := time.Now()
	res, err := p.transcriber.Transcribe(ctx, clip)
	elapsed := time.Since(start)

	p.metrics.STTDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "stt", "transcribe")
		return "", fmt.Errorf("pipeline: transcribe: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, "stt", "transcribe", "ok")

	transcript := strings.TrimSpace(res.Text)
	slog.Debug("transcription complete",
		"generation", generation,
		"duration", elapsed,
		"chars", len(transcript))
	return transcript, nil
}

// respond runs the LLM stage: history and recall context assembly plus the
// completion call.
func (p *Pipeline) respond(ctx context.Context, transcript string, generation uint64) (string, error) {
	req := llm.Request{
		SystemPrompt: p.buildSystemPrompt(ctx, transcript),
		Messages:     p.buildMessages(ctx, transcript),
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := p.responder.Complete(ctx, req)
	elapsed := time.Since(start)

	p.metrics.LLMDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "llm", "complete")
		return "", fmt.Errorf("pipeline: complete: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, "llm", "complete", "ok")

	slog.Debug("response generated",
		"generation", generation,
		"duration", elapsed,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return strings.TrimSpace(resp.Content), nil
}

// synthesize runs the TTS stage.
func (p *Pipeline) synthesize(ctx context.Context, text string, generation uint64) (audio.Clip, error) {
	if text == "" {
		return audio.Clip{}, nil
	}

	start := time.Now()
	clip, err := p.synthesizer.Synthesize(ctx, text, p.cfg.Voice)
	elapsed := time.Since(start)

	p.metrics.TTSDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return audio.Clip{}, fmt.Errorf("pipeline: synthesize: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "ok")

	slog.Debug("synthesis complete",
		"generation", generation,
		"duration", elapsed,
		"bytes", len(clip.Data))
	return clip, nil
}

// buildSystemPrompt appends semantically recalled exchanges to the base
// system prompt. Recall requires both a store and an embedder.
func (p *Pipeline) buildSystemPrompt(ctx context.Context, transcript string) string {
	prompt := p.cfg.SystemPrompt
	if p.store == nil || p.embedder == nil || p.cfg.RecallTopK <= 0 {
		return prompt
	}

	vec, err := p.embedder.Embed(ctx, transcript)
	if err != nil {
		slog.Warn("recall embedding failed", "error", err)
		return prompt
	}
	similar, err := p.store.SearchSimilar(ctx, vec, p.cfg.RecallTopK, p.cfg.SessionID)
	if err != nil {
		slog.Warn("similarity recall failed", "error", err)
		return prompt
	}
	if len(similar) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nRelevant earlier exchanges:\n")
	for _, s := range similar {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", s.Exchange.UserText, s.Exchange.ReplyText)
	}
	return b.String()
}

// buildMessages assembles the recent-history window plus the current
// utterance.
func (p *Pipeline) buildMessages(ctx context.Context, transcript string) []llm.Message {
	var messages []llm.Message

	if p.store != nil {
		recent, err := p.store.Recent(ctx, p.cfg.SessionID, p.cfg.HistoryLimit)
		if err != nil {
			slog.Warn("history fetch failed", "error", err)
		} else {
			for _, ex := range recent {
				messages = append(messages,
					llm.Message{Role: llm.RoleUser, Content: ex.UserText},
					llm.Message{Role: llm.RoleAssistant, Content: ex.ReplyText},
				)
			}
		}
	}

	return append(messages, llm.Message{Role: llm.RoleUser, Content: transcript})
}

// recordExchange persists the completed turn, best effort.
func (p *Pipeline) recordExchange(ctx context.Context, transcript, responseText string, generation uint64) {
	if p.store == nil {
		return
	}

	ex := memory.Exchange{
		ID:        uuid.NewString(),
		SessionID: p.cfg.SessionID,
		UserText:  transcript,
		ReplyText: responseText,
		Timestamp: time.Now(),
	}
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, transcript+"\n"+responseText)
		if err != nil {
			slog.Warn("exchange embedding failed", "generation", generation, "error", err)
		} else {
			ex.Embedding = vec
		}
	}
	if err := p.store.RecordExchange(ctx, ex); err != nil {
		slog.Warn("exchange record failed", "generation", generation, "error", err)
	}
}

// clipDuration estimates the clip length from its PCM byte count, falling
// back to 16 kHz mono when the clip carries no metadata.
func clipDuration(clip audio.Clip) time.Duration {
	sr := clip.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	ch := clip.Channels
	if ch <= 0 {
		ch = 1
	}
	frames := len(clip.Data) / (2 * ch)
	return time.Duration(frames) * time.Second / time.Duration(sr)
}
