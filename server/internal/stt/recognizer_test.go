package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fraud-call/server/internal/config"
)

func TestTextRecognizer(t *testing.T) {
	r := NewTextRecognizer(strings.NewReader("yes it's me\n\n   \nno\n"), nil)

	tests := []string{"yes it's me", Silence, Silence, "no", Silence}
	for i, want := range tests {
		got, err := r.Listen(context.Background())
		if err != nil {
			t.Fatalf("Listen %d: %v", i, err)
		}
		if got != want {
			t.Errorf("Listen %d: expected %q, got %q", i, want, got)
		}
	}
}

func TestChannelRecognizer(t *testing.T) {
	in := make(chan string, 3)
	in <- "  hello  "
	in <- ""
	close(in)

	r := NewChannelRecognizer(in)

	if got, _ := r.Listen(context.Background()); got != "hello" {
		t.Fatalf("expected trimmed text, got %q", got)
	}
	if got, _ := r.Listen(context.Background()); got != Silence {
		t.Fatalf("expected silence for empty input, got %q", got)
	}
	// 通道关闭后继续按 Silence 处理。
	if got, _ := r.Listen(context.Background()); got != Silence {
		t.Fatalf("expected silence after close, got %q", got)
	}
}

func TestChannelRecognizer_ContextCancel(t *testing.T) {
	r := NewChannelRecognizer(make(chan string))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Listen(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

type staticAudio []byte

func (s staticAudio) Capture(context.Context) ([]byte, error) { return s, nil }

func TestOpenAIRecognizer_Listen(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "gpt-4o-mini-transcribe" {
			t.Errorf("unexpected model field: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  I did not make that payment  "}`))
	}))
	defer ts.Close()

	r := NewOpenAIRecognizer(config.STTConfig{
		APIURL: ts.URL,
		APIKey: "dummy",
		Model:  "gpt-4o-mini-transcribe",
	}, staticAudio("fake-wav"))

	got, err := r.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	if got != "I did not make that payment" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestOpenAIRecognizer_EmptyAudioIsSilence(t *testing.T) {
	r := NewOpenAIRecognizer(config.STTConfig{APIURL: "http://unused", APIKey: "x"}, staticAudio(nil))

	got, err := r.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	if got != Silence {
		t.Fatalf("expected silence, got %q", got)
	}
}
