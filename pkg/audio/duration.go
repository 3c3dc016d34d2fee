package audio

import (
	"log/slog"
	"time"
)

// Confidence grades how trustworthy a resolved duration is.
type Confidence int

const (
	// ConfidenceLow marks a duration produced by the byte-rate heuristic
	// rather than parsed structural data.
	ConfidenceLow Confidence = iota

	// ConfidenceHigh marks a duration computed from sample counts, either
	// from clip metadata or a parsed container header.
	ConfidenceHigh
)

// String returns the human-readable name of the confidence grade.
func (c Confidence) String() string {
	if c == ConfidenceHigh {
		return "high"
	}
	return "low"
}

// DurationStrategy is one step of the resolver's ordered fallback chain.
// Resolve reports (duration, true) when the strategy can produce a duration
// for the clip and (0, false) when it cannot; strategies never fail hard.
type DurationStrategy interface {
	Resolve(clip Clip) (time.Duration, bool)
}

// ResolverConfig tunes a Resolver. Zero-valued fields take defaults matching
// the system's 16 kHz mono capture format.
type ResolverConfig struct {
	// MinDuration is the floor applied to every resolved duration.
	// Default: 1s.
	MinDuration time.Duration

	// MaxDuration is the ceiling applied to every resolved duration, even
	// high-confidence ones, since malformed headers can declare implausible
	// sample counts. Default: 120s.
	MaxDuration time.Duration

	// ReferenceSampleRate and ReferenceChannels define the assumed byte rate
	// (rate × 2 bytes × channels) used by the last-resort estimate.
	// Defaults: 16000 Hz, 1 channel.
	ReferenceSampleRate int
	ReferenceChannels   int
}

func (c *ResolverConfig) applyDefaults() {
	if c.MinDuration <= 0 {
		c.MinDuration = time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 2 * time.Minute
	}
	if c.ReferenceSampleRate <= 0 {
		c.ReferenceSampleRate = 16000
	}
	if c.ReferenceChannels <= 0 {
		c.ReferenceChannels = 1
	}
}

// Resolver computes a trustworthy playback duration for an arbitrary clip.
// It never fails: strategies are tried in order and the final byte-rate
// strategy always succeeds, so Resolve always returns a usable value.
//
// Resolver is read-only after construction and safe for concurrent use.
type Resolver struct {
	strategies []DurationStrategy
	lowFrom    int // index of the first low-confidence strategy
	min, max   time.Duration
}

// NewResolver builds a Resolver with the standard chain: clip metadata,
// WAV header parse, byte-rate estimate.
func NewResolver(cfg ResolverConfig) *Resolver {
	cfg.applyDefaults()
	return &Resolver{
		strategies: []DurationStrategy{
			metadataStrategy{},
			headerStrategy{},
			byteRateStrategy{byteRate: cfg.ReferenceSampleRate * bytesPerSample * cfg.ReferenceChannels},
		},
		lowFrom: 2,
		min:     cfg.MinDuration,
		max:     cfg.MaxDuration,
	}
}

// Resolve returns the playback duration of clip and the confidence of the
// estimate. The result is always clamped to [MinDuration, MaxDuration].
func (r *Resolver) Resolve(clip Clip) (time.Duration, Confidence) {
	for i, s := range r.strategies {
		d, ok := s.Resolve(clip)
		if !ok {
			continue
		}
		conf := ConfidenceHigh
		if i >= r.lowFrom {
			conf = ConfidenceLow
		}
		return r.clamp(d), conf
	}
	// Unreachable with the standard chain, but keep a safe floor in case a
	// caller constructed a Resolver with custom strategies.
	return r.min, ConfidenceLow
}

func (r *Resolver) clamp(d time.Duration) time.Duration {
	if d < r.min {
		return r.min
	}
	if d > r.max {
		return r.max
	}
	return d
}

// ─── strategies ──────────────────────────────────────────────────────────────

// metadataStrategy computes duration from the clip's structural metadata.
type metadataStrategy struct{}

func (metadataStrategy) Resolve(clip Clip) (time.Duration, bool) {
	if !clip.HasMetadata() {
		return 0, false
	}
	return clip.metadataDuration(), true
}

// headerStrategy parses a RIFF/WAV container header out of the raw bytes and
// computes duration from the recovered frame count and sample rate.
type headerStrategy struct{}

func (headerStrategy) Resolve(clip Clip) (time.Duration, bool) {
	info, err := parseWAV(clip.Data)
	if err != nil {
		return 0, false
	}
	frames := info.frameCount()
	if info.sampleRate <= 0 || frames <= 0 {
		slog.Debug("wav header parsed but degenerate", "sample_rate", info.sampleRate, "frames", frames)
		return 0, false
	}
	return time.Duration(float64(frames) / float64(info.sampleRate) * float64(time.Second)), true
}

// byteRateStrategy estimates duration from the payload length and an assumed
// byte rate. It always succeeds, terminating the chain.
type byteRateStrategy struct {
	byteRate int
}

func (s byteRateStrategy) Resolve(clip Clip) (time.Duration, bool) {
	return time.Duration(float64(len(clip.Data)) / float64(s.byteRate) * float64(time.Second)), true
}
