package vad

import (
	"encoding/binary"
	"math"
	"testing"
)

// tone generates one 30 ms chunk of a sine wave at the given frequency and
// amplitude (fraction of int16 full scale), 16 kHz mono s16le.
func tone(freq float64, amplitude float64) []byte {
	const samples = 480 // 30 ms @ 16 kHz
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/16000.0)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

func TestEnergyClassifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		sensitivity int
		chunk       []byte
		want        bool
	}{
		{"silence is never speech", 0, make([]byte, 960), false},
		{"loud voiced tone passes at max sensitivity", 3, tone(200, 0.5), true},
		{"quiet tone passes at min sensitivity", 0, tone(200, 0.01), true},
		{"quiet tone rejected at max sensitivity", 3, tone(200, 0.01), false},
		{"high-frequency hiss rejected despite energy", 0, tone(7000, 0.5), false},
		{"empty chunk", 2, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewEnergyClassifier(tt.sensitivity)
			if got := c.IsSpeech(tt.chunk); got != tt.want {
				t.Fatalf("IsSpeech = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSensitivityClamping(t *testing.T) {
	t.Parallel()

	low := NewEnergyClassifier(-5)
	if low.threshold != rmsThresholds[SensitivityMin] {
		t.Fatalf("negative sensitivity not clamped to min")
	}
	high := NewEnergyClassifier(99)
	if high.threshold != rmsThresholds[SensitivityMax] {
		t.Fatalf("oversized sensitivity not clamped to max")
	}
}
