package call

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"fraud-call/server/internal/llm"
	"fraud-call/server/internal/model"
	"fraud-call/server/internal/store"
	"fraud-call/server/internal/stt"
)

// Generator 流式生成坐席台词，由 llm.Client 满足。
type Generator interface {
	Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Fragment, error)
}

// Classifier 给客户发言打标签，由 classify.Classifier 满足。
type Classifier interface {
	Classify(ctx context.Context, utterance string, history *model.Conversation, systemContext string, stage model.Stage) model.Label
}

// Speaker 把片段流播报出去并返回完整文本，由 speech.Dispatcher 满足。
type Speaker interface {
	Speak(ctx context.Context, fragments <-chan llm.Fragment) (string, error)
}

// TurnExecutor 跑一个对话轮次：说一句、听一句、打标签、按额度重试。
//
// 副作用契约：每句坐席台词和客户发言在轮次返回前都已追加进对话历史并
// 落库，无论轮次以何种方式结束——终结阶段用的 transcript 必须和实际
// 说过的话一致。
type TurnExecutor struct {
	gen        Generator
	classifier Classifier
	speaker    Speaker
	input      stt.Recognizer
	conv       *model.Conversation
	convStore  store.Conversations
	alertID    int64
	now        func() time.Time
	logger     *log.Logger
}

// NewTurnExecutor 创建轮次执行器。now 为 nil 时用 time.Now。
func NewTurnExecutor(
	gen Generator,
	classifier Classifier,
	speaker Speaker,
	input stt.Recognizer,
	conv *model.Conversation,
	convStore store.Conversations,
	alertID int64,
	now func() time.Time,
	logger *log.Logger,
) *TurnExecutor {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TurnExecutor{
		gen:        gen,
		classifier: classifier,
		speaker:    speaker,
		input:      input,
		conv:       conv,
		convStore:  convStore,
		alertID:    alertID,
		now:        now,
		logger:     logger,
	}
}

// Say 让坐席按指令说一句话：生成流经语音管线播报，完整文本进历史。
//
// 生成/合成失败时已拿到的部分文本照样进历史（fail forward），错误上抛
// 由状态机决定是否强制收尾。
func (t *TurnExecutor) Say(ctx context.Context, instruction, systemContext string) (string, error) {
	messages := t.buildMessages(instruction, systemContext)

	fragments, err := t.gen.Stream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("start generation: %w", err)
	}

	text, speakErr := t.speaker.Speak(ctx, fragments)
	if text != "" {
		t.append("assistant", text)
	}
	if speakErr != nil {
		return text, fmt.Errorf("speak: %w", speakErr)
	}
	return text, nil
}

// RunTurn 跑一个完整轮次。
//
// 返回客户最后一句原话、归一化标签、重试额度是否耗尽。retryBudget>0 时
// 可重试标签（REPEAT/OFFTOPIC/CLARIFY，含被收敛的未知标签）会在本轮内
// 重问；额度耗尽返回本地合成的 NO_ANSWER，提示状态机强制走终止转移。
// retryBudget==0 表示单发单收，循环策略由调用方掌握。
func (t *TurnExecutor) RunTurn(
	ctx context.Context,
	instruction, systemContext string,
	stage model.Stage,
	retryBudget int,
) (string, model.Label, bool, error) {
	attempts := 0
	for {
		if strings.TrimSpace(instruction) != "" {
			if _, err := t.Say(ctx, instruction, systemContext); err != nil {
				return "", model.LabelRepeat, false, err
			}
		}

		utterance, err := t.input.Listen(ctx)
		if err != nil {
			return "", model.LabelRepeat, false, fmt.Errorf("listen: %w", err)
		}

		var label model.Label
		if utterance == "" || utterance == stt.Silence {
			// 静默/空输入直接按 REPEAT 处理，不浪费一次分类调用。
			label = model.LabelRepeat
		} else {
			t.append("user", utterance)
			label = t.classifier.Classify(ctx, utterance, t.conv, systemContext, stage)
		}

		if retryBudget > 0 && label.IsRetryable() {
			attempts++
			if attempts >= retryBudget {
				t.logger.Printf("[Turn] stage=%s retries exhausted after %d attempts", stage, attempts)
				return utterance, model.LabelNoAnswer, true, nil
			}
			continue
		}
		return utterance, label, false, nil
	}
}

// buildMessages 组装生成请求：系统上下文 + 完整历史 + 本轮指令。
func (t *TurnExecutor) buildMessages(instruction, systemContext string) []llm.Message {
	history := t.conv.Messages()
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemContext})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: instruction})
	return messages
}

// append 同时写入内存历史和外部通话记录。落库失败只记日志：
// 审计记录丢一条不值得中断正在进行的通话。
func (t *TurnExecutor) append(role, text string) {
	msg := t.conv.Append(role, text, t.now())
	if t.convStore == nil {
		return
	}
	if err := t.convStore.Append(context.Background(), t.alertID, msg); err != nil {
		t.logger.Printf("[Turn] ⚠️ persist %s message failed: %v", role, err)
	}
}
