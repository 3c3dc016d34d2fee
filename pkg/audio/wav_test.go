package audio

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 32000) // 1s @ 16 kHz mono
	wav := EncodeWAV(pcm, 16000, 1)

	info, err := parseWAV(wav)
	if err != nil {
		t.Fatalf("parseWAV: %v", err)
	}
	if info.sampleRate != 16000 || info.channels != 1 || info.bitsPerSample != 16 {
		t.Fatalf("unexpected fmt fields: %+v", info)
	}
	if got := info.frameCount(); got != 16000 {
		t.Fatalf("want 16000 frames, got %d", got)
	}
}

func TestParseWAVSkipsExtraChunks(t *testing.T) {
	t.Parallel()

	// Build RIFF + fmt + LIST (junk) + data by hand, the way some TTS
	// servers emit metadata between fmt and data.
	pcm := make([]byte, 3200)
	base := EncodeWAV(pcm, 16000, 1)

	list := make([]byte, 8+10)
	copy(list[0:4], "LIST")
	binary.LittleEndian.PutUint32(list[4:8], 10)

	wav := make([]byte, 0, len(base)+len(list))
	wav = append(wav, base[:36]...) // RIFF descriptor + fmt chunk
	wav = append(wav, list...)
	wav = append(wav, base[36:]...) // data chunk

	info, err := parseWAV(wav)
	if err != nil {
		t.Fatalf("parseWAV: %v", err)
	}
	if info.dataBytes != len(pcm) {
		t.Fatalf("want %d data bytes, got %d", len(pcm), info.dataBytes)
	}
}

func TestParseWAVTruncatedData(t *testing.T) {
	t.Parallel()

	// A streamed WAV can declare more data than was delivered; the parser
	// accepts what is present.
	wav := EncodeWAV(make([]byte, 6400), 16000, 1)
	truncated := wav[:len(wav)-3200]

	info, err := parseWAV(truncated)
	if err != nil {
		t.Fatalf("parseWAV: %v", err)
	}
	if info.dataBytes != 3200 {
		t.Fatalf("want 3200 remaining data bytes, got %d", info.dataBytes)
	}
}

func TestParseWAVRejectsNonWAV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte("RIFF")},
		{"wrong magic", []byte("OggS\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parseWAV(tt.data); !errors.Is(err, errNotWAV) {
				t.Fatalf("want errNotWAV, got %v", err)
			}
		})
	}
}

func TestPCMClipMetadata(t *testing.T) {
	t.Parallel()

	c := PCM(make([]byte, 96000), 16000, 1)
	if !c.HasMetadata() {
		t.Fatal("PCM clip should carry metadata")
	}
	if c.FrameCount != 48000 {
		t.Fatalf("want 48000 frames, got %d", c.FrameCount)
	}
}
