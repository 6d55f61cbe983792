package classify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"fraud-call/server/internal/llm"
	"fraud-call/server/internal/model"
)

// Classifier 把客户的一句话交给外部 LLM 打标签。
//
// 契约：
//   - 纯查询，不重试——重试是状态机的策略，不是适配器的事；
//   - 任何传输/格式错误，或模型回了词表之外的东西，一律收敛成 REPEAT，
//     分类失败绝不能中断通话；
//   - 送给模型的历史截断到最近几轮，控制 prompt 体积。
type Classifier struct {
	llm    llm.Client
	window int
	logger *log.Logger
}

// NewClassifier 创建分类器。window<=0 时用默认的 5 条。
func NewClassifier(client llm.Client, window int, logger *log.Logger) *Classifier {
	if window <= 0 {
		window = 5
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Classifier{llm: client, window: window, logger: logger}
}

// stageVocab 每个对话阶段的分类词表和标签说明。
type stageVocab struct {
	labels []model.Label
	rubric string
	// 身份核实阶段历史窗口更小：此时还没聊出多少上下文。
	window int
}

// exitRubric 四个全局退出标签的说明，每个阶段的词表都带上。
const exitRubric = `- END: The customer is closing the conversation (e.g., says 'all clear', 'no questions', 'thank you').
- CANT_TALK: The customer says they cannot talk right now.
- CALL_BACK_LATER: The customer agrees to be called later.
- NO_CALL_BACK: The customer says they do not want to be called later.`

var exitLabels = []model.Label{model.LabelEnd, model.LabelCantTalk, model.LabelCallBackLater, model.LabelNoCallBack}

var vocabs = map[model.Stage]stageVocab{
	model.StageGreeting: {
		labels: append([]model.Label{
			model.LabelYes, model.LabelNo, model.LabelRepeat, model.LabelOfftopic, model.LabelClarify,
		}, exitLabels...),
		rubric: `- YES: Customer confirmed their identity (e.g., 'Yes, it's me', 'That's correct').
- NO: The person answering is NOT the customer (e.g., 'No, I'm his wife', 'This is not him').
- REPEAT: The customer's answer is unclear or unintelligible; ask to repeat.
- OFFTOPIC: The customer is talking about something unrelated to identity verification.
- CLARIFY: The customer is asking for clarification (e.g., 'Who are you?', 'Why are you calling me?').
` + exitRubric,
		window: 4,
	},
	model.StageTxConfirmation: {
		labels: append([]model.Label{
			model.LabelOK, model.LabelFraud, model.LabelNotFraud,
			model.LabelRepeat, model.LabelOfftopic,
		}, exitLabels...),
		rubric: `- OK: The reply is clear and relevant to the transaction verification. Also, if the customer asks for clarification about security, phishing, fraud, or similar terms, classify as OK.
- FRAUD: Customer explicitly indicates the transaction was NOT made by them and is clearly fraudulent.
- NOT_FRAUD: Customer explicitly indicates the transaction was made by them.
- REPEAT: The reply is unclear or ambiguous.
- OFFTOPIC: The reply is not relevant to the conversation.
` + exitRubric,
	},
	model.StageInvestigation: {
		labels: append([]model.Label{
			model.LabelInfoComplete, model.LabelInfoIncomplete,
			model.LabelRepeat, model.LabelOfftopic,
		}, exitLabels...),
		rubric: `- INFO_COMPLETE: Customer has given all necessary info OR has said they don't know anything else.
- INFO_INCOMPLETE: Customer is giving relevant info but missing key details like data inserted in a phishing form.
- REPEAT: Reply is unclear, they ask to repeat.
- OFFTOPIC: Reply not related to the fraud investigation.
` + exitRubric,
	},
	model.StageHelpOffer: {
		labels: append([]model.Label{
			model.LabelYes, model.LabelNo,
			model.LabelRepeat, model.LabelOfftopic, model.LabelClarify,
		}, exitLabels...),
		rubric: `- YES: They want further help or have another request.
- NO: They do not need further help.
- REPEAT: They ask to repeat the question.
- OFFTOPIC: Answer is unrelated.
- CLARIFY: They are asking what kind of help is available.
` + exitRubric,
	},
}

// vocabFor 取阶段词表。SECONDARY_TX_SWEEP 复用交易确认词表。
func vocabFor(stage model.Stage) (stageVocab, bool) {
	if stage == model.StageSecondarySweep {
		stage = model.StageTxConfirmation
	}
	v, ok := vocabs[stage]
	return v, ok
}

// AcceptedLabels 返回某阶段可能产出的全部标签（含全局退出标签）。
// 分类结果保证落在这个集合内。
func AcceptedLabels(stage model.Stage) []model.Label {
	v, ok := vocabFor(stage)
	if !ok {
		return nil
	}
	out := make([]model.Label, len(v.labels))
	copy(out, v.labels)
	return out
}

// Classify 给一句客户发言打标签。utterance 必须非空：空输入该在上游直接
// 按 REPEAT 处理，不浪费一次外部调用。
func (c *Classifier) Classify(ctx context.Context, utterance string, history *model.Conversation, systemContext string, stage model.Stage) model.Label {
	vocab, ok := vocabFor(stage)
	if !ok {
		c.logger.Printf("[Classify] ⚠️ no vocabulary for stage %s, treating as REPEAT", stage)
		return model.LabelRepeat
	}

	window := c.window
	if vocab.window > 0 && vocab.window < window {
		window = vocab.window
	}

	prompt := buildPrompt(utterance, history.Window(window), systemContext, vocab)

	raw, err := c.llm.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		c.logger.Printf("[Classify] ⚠️ oracle failed: %v, treating as REPEAT", err)
		return model.LabelRepeat
	}

	label := model.ParseLabel(raw).Coerce(vocab.labels)
	c.logger.Printf("[Classify] stage=%s label=%s", stage, label)
	return label
}

// buildPrompt 组装单轮分类 prompt：系统上下文 + 最近对话 + 客户原话 + 词表。
func buildPrompt(utterance string, recent []model.Message, systemContext string, vocab stageVocab) string {
	var history strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&history, "%s: %s\n", m.Role, m.Content)
	}

	names := make([]string, len(vocab.labels))
	for i, l := range vocab.labels {
		names[i] = string(l)
	}

	return fmt.Sprintf(`System context:
%s

Recent conversation:
%s
Customer just said (in their language): '%s'

Classify the customer's reply as one of the following categories:
%s

Reply with only ONE word from: %s.
Example of valid reply: %s`,
		systemContext, history.String(), utterance,
		vocab.rubric, strings.Join(names, ", "), names[0])
}
