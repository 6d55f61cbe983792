package finalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"fraud-call/server/internal/llm"
	"fraud-call/server/internal/model"
	"fraud-call/server/internal/store"
)

// Finalizer 在通话结束后跑一次收尾：生成分析师总结、决定并落实安全动作。
//
// 契约：Finalize 永不失败。LLM 调不通就用兜底总结，输出解析不了就把
// 原文当总结。安全动作和告警备注写入失败只记日志，不影响返回的决定。
type Finalizer struct {
	llm    llm.Client
	store  *store.Store
	logger *log.Logger
}

// NewFinalizer 创建收尾器。
func NewFinalizer(client llm.Client, st *store.Store, logger *log.Logger) *Finalizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Finalizer{llm: client, store: st, logger: logger}
}

// decisionSchema 约束 LLM 输出为 {summary, actions} 结构。
var decisionSchema = &llm.JSONSchema{
	Name: "call_decision",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"actions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "string",
					"enum": []string{"WHITELIST", "BLOCK_CARD", "RESET_PASSWORD"},
				},
			},
		},
		"required":             []string{"summary", "actions"},
		"additionalProperties": false,
	},
	Strict: true,
}

const fallbackSummary = "Automatic summary unavailable. Review the call transcript manually."

// Finalize 生成总结、落实动作并关闭告警。decision 始终可用。
func (f *Finalizer) Finalize(ctx context.Context, session *model.CallSession, conv *model.Conversation) model.ActionDecision {
	decision := f.decide(ctx, conv)

	if f.store != nil {
		f.apply(ctx, session, decision)
		if err := f.store.Alerts.SetAnalystNotes(ctx, session.Alert.ID, decision.Summary); err != nil {
			f.logger.Printf("[Finalize] ⚠️ save analyst notes alert=%d: %v", session.Alert.ID, err)
		}
	}

	f.logger.Printf("[Finalize] alert=%d actions=%v", session.Alert.ID, decision.Actions)
	return decision
}

// decide 请 LLM 通读 transcript 并产出总结与动作。
func (f *Finalizer) decide(ctx context.Context, conv *model.Conversation) model.ActionDecision {
	prompt := buildAnalystPrompt(conv)
	raw, err := f.llm.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}}, decisionSchema)
	if err != nil {
		f.logger.Printf("[Finalize] ⚠️ decision call failed: %v", err)
		return model.ActionDecision{Summary: fallbackSummary}
	}
	return parseDecision(raw, f.logger)
}

// buildAnalystPrompt 把通话历史拼成逐行 transcript 喂给分析 prompt。
func buildAnalystPrompt(conv *model.Conversation) string {
	var transcript strings.Builder
	for _, m := range conv.Messages() {
		fmt.Fprintf(&transcript, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
	}

	return fmt.Sprintf(`You are a fraud prevention analyst assistant.
Analyze the following conversation history between assistant and customer:

%s
Tasks:
1. Provide a clear, concise summary of the discussion and the outcome.
2. Decide which actions must be taken, from this list:
   - WHITELIST: The customer confirmed the alerted transaction as legitimate (no fraudulent transactions).
   - BLOCK_CARD: Fraudulent transactions and card data are compromised. (only if customer confirmed fraud)
   - RESET_PASSWORD: Customer credentials (password, online banking login) suspected to be compromised (only if customer confirmed fraud).
   Multiple actions can apply together. If no action is necessary return an empty actions list.
3. Return the result in JSON with two fields:
   {
      "summary": "short text summary for analyst",
      "actions": ["WHITELIST" | "BLOCK_CARD" | "RESET_PASSWORD", ...]
   }`, transcript.String())
}

// parseDecision 解析 {summary, actions}。解析不动时把原文整个当总结、
// 动作置空，保证通话记录不丢。
func parseDecision(raw string, logger *log.Logger) model.ActionDecision {
	var payload struct {
		Summary string   `json:"summary"`
		Actions []string `json:"actions"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		logger.Printf("[Finalize] ⚠️ unparsable decision, keeping raw text: %v", err)
		return model.ActionDecision{Summary: raw}
	}

	decision := model.ActionDecision{Summary: payload.Summary}
	for _, a := range payload.Actions {
		action, ok := model.ParseAction(strings.ToUpper(strings.TrimSpace(a)))
		if !ok {
			logger.Printf("[Finalize] ⚠️ ignoring unknown action %q", a)
			continue
		}
		decision.Actions = append(decision.Actions, action)
	}
	return decision
}

// stripFences 去掉模型偶尔包在 JSON 外面的 markdown 代码栅栏。
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// apply 把决定的安全动作落到对应名单。
func (f *Finalizer) apply(ctx context.Context, session *model.CallSession, decision model.ActionDecision) {
	card := session.AlertedTx.CardNumber
	for _, action := range decision.Actions {
		var err error
		switch action {
		case model.ActionWhitelist:
			err = f.store.Whitelist.Add(ctx, card)
		case model.ActionBlockCard:
			err = f.store.Blocked.Add(ctx, card)
		case model.ActionResetPassword:
			err = f.store.PasswordResets.Add(ctx, card, "compromised credentials")
		}
		if err != nil {
			f.logger.Printf("[Finalize] ⚠️ apply %s for card %s: %v", action, card, err)
		}
	}
}
