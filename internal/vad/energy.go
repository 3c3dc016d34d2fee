package vad

import (
	"encoding/binary"
	"math"
)

// Sensitivity levels select how aggressively the energy classifier filters
// out non-speech, mirroring the 0–3 scale of the WebRTC VAD: 0 passes almost
// anything above the noise floor, 3 only accepts clearly voiced audio.
const (
	SensitivityMin = 0
	SensitivityMax = 3
)

// rmsThresholds maps sensitivity level to the normalized RMS level
// ([0,1] of int16 full scale) above which a chunk counts as speech.
// Values calibrated against 16 kHz mono capture at typical microphone gain.
var rmsThresholds = [4]float64{0.006, 0.010, 0.015, 0.025}

// maxVoicedZCR is the zero-crossing-rate ceiling for voiced audio. Broadband
// hiss and keyboard clatter cross zero far more often per sample than voiced
// speech does, so chunks above this rate are rejected regardless of energy.
const maxVoicedZCR = 0.35

// EnergyClassifier classifies chunks by RMS energy with a zero-crossing-rate
// veto. It is stateless and safe for concurrent use.
type EnergyClassifier struct {
	threshold float64
}

var _ Classifier = (*EnergyClassifier)(nil)

// NewEnergyClassifier creates a classifier at the given sensitivity level.
// Out-of-range levels are clamped to [SensitivityMin, SensitivityMax].
func NewEnergyClassifier(sensitivity int) *EnergyClassifier {
	if sensitivity < SensitivityMin {
		sensitivity = SensitivityMin
	}
	if sensitivity > SensitivityMax {
		sensitivity = SensitivityMax
	}
	return &EnergyClassifier{threshold: rmsThresholds[sensitivity]}
}

// IsSpeech reports whether the 16-bit little-endian PCM chunk looks like
// speech. Odd trailing bytes are ignored.
func (c *EnergyClassifier) IsSpeech(pcm []byte) bool {
	samples := len(pcm) / 2
	if samples == 0 {
		return false
	}

	var (
		sumSquares float64
		crossings  int
		prevNeg    bool
	)
	for i := 0; i < samples; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s) / 32768.0
		sumSquares += v * v

		neg := s < 0
		if i > 0 && neg != prevNeg {
			crossings++
		}
		prevNeg = neg
	}

	rms := math.Sqrt(sumSquares / float64(samples))
	if rms < c.threshold {
		return false
	}

	zcr := float64(crossings) / float64(samples)
	return zcr <= maxVoicedZCR
}
