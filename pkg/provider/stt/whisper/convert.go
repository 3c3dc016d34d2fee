package whisper

import "encoding/binary"

// int16Scale normalises s16le samples into the [-1.0, 1.0) float range the
// whisper bindings expect.
const int16Scale = 1.0 / 32768.0

// pcmToFloat32 converts 16-bit signed little-endian PCM to normalised
// float32 samples. A trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) * int16Scale
	}
	return samples
}

// pcmToFloat32Mono converts interleaved multi-channel s16le PCM to mono
// float32 by averaging each frame's channels. With one channel it is the
// plain conversion.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}

	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range mono {
		var sum int32
		base := i * channels * 2
		for ch := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[base+ch*2:])))
		}
		mono[i] = float32(sum) / float32(channels) * int16Scale
	}
	return mono
}
