// Package audio provides the audio value types shared across the voxloop
// pipeline: immutable clips, duration resolution, WAV container handling,
// and PCM format conditioning.
//
// All audio in this package is 16-bit signed little-endian PCM unless a
// function documents otherwise.
package audio

import "time"

// bytesPerSample is fixed at 2 for 16-bit PCM.
const bytesPerSample = 2

// Clip is an immutable audio value passed from the reply pipeline to the
// duration resolver and the playback layer. The byte payload is never
// mutated after construction; treat Data as read-only.
//
// SampleRate, FrameCount, and Channels form the optional structural
// metadata. When all three are set the clip's duration can be computed
// exactly; when they are zero the duration resolver falls back to container
// header parsing and finally to a byte-rate estimate.
type Clip struct {
	// Data is the raw audio payload. It may be bare PCM or a full container
	// (e.g. a RIFF/WAV file as returned by a TTS server).
	Data []byte

	// SampleRate in Hz. Zero when unknown.
	SampleRate int

	// FrameCount is the number of sample frames in Data. Zero when unknown.
	FrameCount int

	// Channels is the channel count. Zero when unknown.
	Channels int
}

// PCM constructs a Clip from bare 16-bit PCM data with full structural
// metadata derived from the byte length.
func PCM(data []byte, sampleRate, channels int) Clip {
	c := Clip{
		Data:       data,
		SampleRate: sampleRate,
		Channels:   channels,
	}
	if sampleRate > 0 && channels > 0 {
		c.FrameCount = len(data) / (bytesPerSample * channels)
	}
	return c
}

// HasMetadata reports whether the clip carries enough structural metadata to
// compute its duration exactly.
func (c Clip) HasMetadata() bool {
	return c.SampleRate > 0 && c.FrameCount > 0
}

// Empty reports whether the clip has no payload at all.
func (c Clip) Empty() bool {
	return len(c.Data) == 0
}

// metadataDuration computes the exact duration from structural metadata.
// Callers must check HasMetadata first.
func (c Clip) metadataDuration() time.Duration {
	return time.Duration(float64(c.FrameCount) / float64(c.SampleRate) * float64(time.Second))
}
