package speech

import (
	"reflect"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name      string
		buffer    string
		complete  []string
		remainder string
	}{
		{
			name:      "no terminator",
			buffer:    "Hello there",
			complete:  nil,
			remainder: "Hello there",
		},
		{
			name:      "single complete sentence",
			buffer:    "Hello there. And some",
			complete:  []string{"Hello there."},
			remainder: "And some",
		},
		{
			name:      "multiple sentences",
			buffer:    "First one. Second one! Third",
			complete:  []string{"First one.", "Second one!"},
			remainder: "Third",
		},
		{
			name:      "amount is not a boundary",
			buffer:    "You spent $12.50 at the store. Did you",
			complete:  []string{"You spent $12.50 at the store."},
			remainder: "Did you",
		},
		{
			name:      "question at end of buffer",
			buffer:    "Did you authorise it?",
			complete:  []string{"Did you authorise it?"},
			remainder: "",
		},
		{
			name:      "ellipsis kept together",
			buffer:    "Let me check... One moment",
			complete:  []string{"Let me check..."},
			remainder: "One moment",
		},
		{
			name:      "closing quote joins sentence",
			buffer:    `He said "no." Then hung`,
			complete:  []string{`He said "no."`},
			remainder: "Then hung",
		},
		{
			name:      "cjk terminators",
			buffer:    "好的。请稍等",
			complete:  []string{"好的。"},
			remainder: "请稍等",
		},
		{
			name:      "version number not split",
			buffer:    "app v1.2b is fine",
			complete:  nil,
			remainder: "app v1.2b is fine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, remainder := SplitSentences(tt.buffer)
			if !reflect.DeepEqual(complete, tt.complete) {
				t.Errorf("complete: expected %v, got %v", tt.complete, complete)
			}
			if remainder != tt.remainder {
				t.Errorf("remainder: expected %q, got %q", tt.remainder, remainder)
			}
		})
	}
}

func TestSplitSentences_Incremental(t *testing.T) {
	// 模拟流式累积：片段逐步补全缓冲，最终切出的句子顺序必须与原文一致。
	fragments := []string{"Hel", "lo. How ", "are you? I", " am fine."}

	var buffer string
	var got []string
	for _, f := range fragments {
		buffer += f
		complete, rest := SplitSentences(buffer)
		got = append(got, complete...)
		buffer = rest
	}
	if buffer != "" {
		got = append(got, buffer)
	}

	want := []string{"Hello.", "How are you?", "I am fine."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
