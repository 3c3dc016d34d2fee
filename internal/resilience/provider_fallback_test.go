package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/llm"
	llmmock "github.com/voxloop/voxloop/pkg/provider/llm/mock"
	"github.com/voxloop/voxloop/pkg/provider/stt"
	sttmock "github.com/voxloop/voxloop/pkg/provider/stt/mock"
	"github.com/voxloop/voxloop/pkg/provider/tts"
	ttsmock "github.com/voxloop/voxloop/pkg/provider/tts/mock"
)

func TestSTTFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errTest}
	backup := &sttmock.Provider{Result: stt.Result{Text: "hello from backup"}}

	f := NewSTTFallback(primary, "whisper-server", FallbackConfig{})
	f.AddFallback("whisper-native", backup)

	res, err := f.Transcribe(context.Background(), audio.PCM(make([]byte, 3200), 16000, 1))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello from backup" {
		t.Errorf("Text = %q", res.Text)
	}
	if primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("calls = primary %d / backup %d, want 1/1", primary.CallCount(), backup.CallCount())
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()

	f := NewSTTFallback(&sttmock.Provider{Err: errTest}, "only", FallbackConfig{})
	if _, err := f.Transcribe(context.Background(), audio.Clip{Data: []byte{1}}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	t.Parallel()

	clip := audio.PCM(make([]byte, 32000), 16000, 1)
	primary := &ttsmock.Provider{Err: errTest}
	backup := &ttsmock.Provider{Clip: clip}

	f := NewTTSFallback(primary, "coqui", FallbackConfig{})
	f.AddFallback("elevenlabs", backup)

	got, err := f.Synthesize(context.Background(), "hi", tts.Voice{ID: "v"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.FrameCount != clip.FrameCount {
		t.Errorf("FrameCount = %d, want %d", got.FrameCount, clip.FrameCount)
	}
	if backup.CallCount() != 1 {
		t.Errorf("backup calls = %d, want 1", backup.CallCount())
	}
}

func TestTTSFallback_Voices(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{VoiceList: []tts.Voice{{ID: "a"}}}
	f := NewTTSFallback(primary, "coqui", FallbackConfig{})

	voices, err := f.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "a" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestLLMFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Err: errTest}
	backup := &llmmock.Provider{Response: &llm.Response{Content: "fallback reply"}}

	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("ollama", backup)

	resp, err := f.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "fallback reply" {
		t.Errorf("Content = %q", resp.Content)
	}
}
