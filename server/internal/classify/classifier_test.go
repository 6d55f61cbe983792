package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"fraud-call/server/internal/llm"
	"fraud-call/server/internal/model"
)

// scriptedLLM 按脚本回答的 LLM，记录收到的 prompt。
type scriptedLLM struct {
	responses []string
	err       error
	prompts   []string
}

func (s *scriptedLLM) Complete(_ context.Context, messages []llm.Message, _ *llm.JSONSchema) (string, error) {
	s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "REPEAT", nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) Stream(context.Context, []llm.Message) (<-chan llm.Fragment, error) {
	return nil, errors.New("not implemented")
}

func TestClassify_NormalizesOracleOutput(t *testing.T) {
	tests := []struct {
		name  string
		stage model.Stage
		raw   string
		want  model.Label
	}{
		{"plain yes", model.StageGreeting, "YES", model.LabelYes},
		{"lowercase", model.StageGreeting, "yes", model.LabelYes},
		{"padded", model.StageTxConfirmation, "  FRAUD \n", model.LabelFraud},
		{"legacy space form", model.StageTxConfirmation, "NOT FRAUD", model.LabelNotFraud},
		{"exit label", model.StageInvestigation, "CALL_BACK_LATER", model.LabelCallBackLater},
		{"sweep uses tx vocab", model.StageSecondarySweep, "NOT FRAUD", model.LabelNotFraud},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&scriptedLLM{responses: []string{tt.raw}}, 5, nil)
			got := c.Classify(context.Background(), "whatever", model.NewConversation(), "ctx", tt.stage)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestClassify_ClosedWorldCoercion(t *testing.T) {
	// 词表之外的任何输出都必须收敛成 REPEAT。
	for _, raw := range []string{"MAYBE", "FRAUD", "garbage text", ""} {
		c := NewClassifier(&scriptedLLM{responses: []string{raw}}, 5, nil)
		got := c.Classify(context.Background(), "hm", model.NewConversation(), "ctx", model.StageGreeting)
		// FRAUD 不在身份核实阶段的词表里，同样要收敛。
		if raw == "MAYBE" || raw == "FRAUD" || raw == "garbage text" || raw == "" {
			if got != model.LabelRepeat {
				t.Errorf("raw %q: expected REPEAT, got %s", raw, got)
			}
		}
	}
}

func TestClassify_OracleFailureIsRepeat(t *testing.T) {
	c := NewClassifier(&scriptedLLM{err: errors.New("transport down")}, 5, nil)
	got := c.Classify(context.Background(), "yes", model.NewConversation(), "ctx", model.StageGreeting)
	if got != model.LabelRepeat {
		t.Fatalf("expected REPEAT on oracle failure, got %s", got)
	}
}

func TestClassify_HistoryWindowTruncated(t *testing.T) {
	conv := model.NewConversation()
	for i := 0; i < 12; i++ {
		conv.Append("user", fmt.Sprintf("utterance number %d.", i), time.Now())
	}

	mock := &scriptedLLM{responses: []string{"YES"}}
	c := NewClassifier(mock, 5, nil)
	c.Classify(context.Background(), "it's me", conv, "ctx", model.StageGreeting)

	if len(mock.prompts) != 1 {
		t.Fatalf("expected 1 oracle call, got %d", len(mock.prompts))
	}
	prompt := mock.prompts[0]
	// 身份核实阶段窗口是 4：第 8 条之前的发言不应出现。
	if strings.Contains(prompt, "utterance number 7.") {
		t.Error("prompt contains history beyond the window")
	}
	if !strings.Contains(prompt, "utterance number 11.") {
		t.Error("prompt is missing the most recent turn")
	}
}

func TestAcceptedLabels_IncludeUniversalExits(t *testing.T) {
	for _, stage := range []model.Stage{
		model.StageGreeting, model.StageTxConfirmation,
		model.StageInvestigation, model.StageSecondarySweep, model.StageHelpOffer,
	} {
		labels := AcceptedLabels(stage)
		found := map[model.Label]bool{}
		for _, l := range labels {
			found[l] = true
		}
		for _, exit := range []model.Label{
			model.LabelEnd, model.LabelCantTalk, model.LabelCallBackLater, model.LabelNoCallBack,
		} {
			if !found[exit] {
				t.Errorf("stage %s missing universal exit %s", stage, exit)
			}
		}
	}
}
