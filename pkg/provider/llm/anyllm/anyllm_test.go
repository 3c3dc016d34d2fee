package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxloop/voxloop/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("empty providerName should fail")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("empty model should fail")
	}
	if _, err := New("not-a-provider", "m", anyllmlib.WithAPIKey("k")); err == nil {
		t.Error("unsupported provider should fail")
	}
}

func TestNew_SupportedProviders(t *testing.T) {
	t.Parallel()

	// Providers that only need an API key to construct a backend.
	for _, name := range []string{"openai", "anthropic", "deepseek", "mistral", "groq"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p, err := New(name, "some-model", anyllmlib.WithAPIKey("test-key"))
			if err != nil {
				t.Fatalf("New(%q): %v", name, err)
			}
			if p.model != "some-model" {
				t.Errorf("model = %q, want some-model", p.model)
			}
		})
	}
}

func TestNew_CaseInsensitive(t *testing.T) {
	t.Parallel()

	if _, err := New("OpenAI", "m", anyllmlib.WithAPIKey("k")); err != nil {
		t.Fatalf("mixed-case provider name should work: %v", err)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}

	req := llm.Request{
		SystemPrompt: "You are a helpful voice assistant.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "What time is it?"},
			{Role: llm.RoleAssistant, Content: "I cannot check clocks."},
			{Role: llm.RoleUser, Content: "Fine."},
		},
		Temperature: 0.7,
		MaxTokens:   256,
	}

	params := p.buildParams(req)

	if params.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("got %d messages, want 4 (system + 3)", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].Content != req.SystemPrompt {
		t.Errorf("first message should carry the system prompt, got %+v", params.Messages[0])
	}
	if params.Messages[3].Content != "Fine." {
		t.Errorf("last message = %+v", params.Messages[3])
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v, want 256", params.MaxTokens)
	}
}

func TestBuildParams_Defaults(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	params := p.buildParams(llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})

	if len(params.Messages) != 1 {
		t.Fatalf("got %d messages, want 1 (no system prompt)", len(params.Messages))
	}
	if params.Temperature != nil {
		t.Errorf("Temperature should stay nil when unset, got %v", *params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("MaxTokens should stay nil when unset, got %v", *params.MaxTokens)
	}
}
