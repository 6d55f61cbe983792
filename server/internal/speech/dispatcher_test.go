package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fraud-call/server/internal/llm"
)

// recordingSynth 记录合成顺序的测试用合成器。
type recordingSynth struct {
	mu       sync.Mutex
	segments []string
	delay    time.Duration
	failOn   string
}

func (r *recordingSynth) Synthesize(_ context.Context, text string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && strings.Contains(text, r.failOn) {
		return errors.New("synth backend down")
	}
	r.segments = append(r.segments, text)
	return nil
}

func (r *recordingSynth) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.segments))
	copy(out, r.segments)
	return out
}

func fragmentStream(texts ...string) <-chan llm.Fragment {
	ch := make(chan llm.Fragment)
	go func() {
		defer close(ch)
		for _, t := range texts {
			ch <- llm.Fragment{Text: t}
		}
	}()
	return ch
}

func TestDispatcher_SentenceOrdering(t *testing.T) {
	synth := &recordingSynth{delay: 5 * time.Millisecond}
	d, err := NewDispatcher(ModeSentence, synth, 4, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	// 片段边界故意不和句子边界对齐。
	text, err := d.Speak(context.Background(), fragmentStream(
		"Thank you for con", "firming. We will block", " the card now. Is there anything", " else",
	))
	if err != nil {
		t.Fatalf("Speak error: %v", err)
	}

	if text != "Thank you for confirming. We will block the card now. Is there anything else" {
		t.Fatalf("unexpected full text: %q", text)
	}

	want := []string{
		"Thank you for confirming.",
		"We will block the card now.",
		"Is there anything else",
	}
	got := synth.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected %d segments, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestDispatcher_SlowSynthDoesNotReorder(t *testing.T) {
	// 合成明显慢于生成：生产方会先把队列填起来，消费方仍须按序处理。
	synth := &recordingSynth{delay: 20 * time.Millisecond}
	d, err := NewDispatcher(ModeSentence, synth, 2, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	_, err = d.Speak(context.Background(), fragmentStream(
		"One. ", "Two. ", "Three. ", "Four. ", "Five.",
	))
	if err != nil {
		t.Fatalf("Speak error: %v", err)
	}

	want := []string{"One.", "Two.", "Three.", "Four.", "Five."}
	got := synth.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected %d segments, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestDispatcher_WholeMode(t *testing.T) {
	synth := &recordingSynth{}
	d, err := NewDispatcher(ModeWhole, synth, 4, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	text, err := d.Speak(context.Background(), fragmentStream("Hello. ", "Goodbye."))
	if err != nil {
		t.Fatalf("Speak error: %v", err)
	}
	if text != "Hello. Goodbye." {
		t.Fatalf("unexpected text: %q", text)
	}

	got := synth.recorded()
	if len(got) != 1 || got[0] != "Hello. Goodbye." {
		t.Fatalf("expected single whole-utterance synthesis, got %v", got)
	}
}

func TestDispatcher_TextMode(t *testing.T) {
	d, err := NewDispatcher(ModeText, nil, 4, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	text, err := d.Speak(context.Background(), fragmentStream("Just ", "logging."))
	if err != nil {
		t.Fatalf("Speak error: %v", err)
	}
	if text != "Just logging." {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestDispatcher_StreamErrorKeepsPartialText(t *testing.T) {
	ch := make(chan llm.Fragment)
	go func() {
		defer close(ch)
		ch <- llm.Fragment{Text: "Partial sentence. And then "}
		ch <- llm.Fragment{Err: errors.New("upstream reset")}
	}()

	synth := &recordingSynth{}
	d, err := NewDispatcher(ModeSentence, synth, 4, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	text, err := d.Speak(context.Background(), ch)
	if err == nil {
		t.Fatal("expected stream error")
	}
	// 出错前拿到的文本不回收，照样返回给调用方写历史。
	if text != "Partial sentence. And then" {
		t.Fatalf("unexpected partial text: %q", text)
	}
	// 出错前已完整的句子应当已被播报。
	got := synth.recorded()
	if len(got) != 1 || got[0] != "Partial sentence." {
		t.Fatalf("expected dispatched sentence before failure, got %v", got)
	}
}

func TestDispatcher_SynthFailureStillReturnsFullText(t *testing.T) {
	synth := &recordingSynth{failOn: "second"}
	d, err := NewDispatcher(ModeSentence, synth, 4, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	text, err := d.Speak(context.Background(), fragmentStream("The first. The second. The third."))
	if err == nil {
		t.Fatal("expected synth error to surface")
	}
	if text != "The first. The second. The third." {
		t.Fatalf("full text must survive synth failure, got %q", text)
	}
}
