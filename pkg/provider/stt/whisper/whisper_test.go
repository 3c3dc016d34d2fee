package whisper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxloop/voxloop/pkg/audio"
)

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotLanguage, gotModel string
	var gotWAVLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")

		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		buf := make([]byte, 1<<20)
		n, _ := f.Read(buf)
		gotWAVLen = n
		if n < 44 || string(buf[0:4]) != "RIFF" {
			t.Errorf("uploaded file is not a WAV container")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "  turn on the lights  "}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("en"), WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clip := audio.PCM(make([]byte, 3200), 16000, 1)
	res, err := p.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "turn on the lights" {
		t.Errorf("Text = %q, want trimmed transcript", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	if gotLanguage != "en" || gotModel != "base.en" {
		t.Errorf("hint fields = (%q, %q), want (en, base.en)", gotLanguage, gotModel)
	}
	if gotWAVLen != 44+3200 {
		t.Errorf("uploaded WAV length = %d, want %d", gotWAVLen, 44+3200)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	_, err := p.Transcribe(context.Background(), audio.PCM(make([]byte, 320), 16000, 1))
	if err == nil || !strings.Contains(err.Error(), "HTTP 500") {
		t.Fatalf("err = %v, want HTTP 500 error", err)
	}
}

func TestTranscribe_EmptyClip(t *testing.T) {
	t.Parallel()

	p, _ := New("http://localhost:1")
	if _, err := p.Transcribe(context.Background(), audio.Clip{}); err == nil {
		t.Fatal("empty clip should fail without a network call")
	}
}

func TestTranscribe_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Transcribe(context.Background(), audio.PCM(make([]byte, 320), 16000, 1)); err == nil {
		t.Fatal("malformed response should fail")
	}
}
