package model

import "time"

// Transaction 表示一笔银行卡交易记录。
type Transaction struct {
	ID           int64     `json:"id"`
	CardNumber   string    `json:"card_number"`
	Amount       float64   `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	FraudScore   float64   `json:"fraud_score"`
	IsFraud      bool      `json:"is_fraud"`
	AlertID      int64     `json:"alert_id,omitempty"`
	MerchantID   string    `json:"merchant_id"`
	MerchantName string    `json:"merchant_name"`
	MCC          string    `json:"mcc"`
	Country      string    `json:"country"`

	// 持卡人姓名，通话开场白需要用到。
	CustomerFirstName string `json:"customer_first_name"`
	CustomerLastName  string `json:"customer_last_name"`
}

// Alert 表示一条反欺诈告警，分析师在仪表盘上看到的就是它。
type Alert struct {
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
	// open / closed。
	Status string `json:"status"`
	// AnalystNotes 由 finalize 阶段写入的通话总结。
	AnalystNotes string `json:"analyst_notes,omitempty"`
}

// Message 表示通话记录中的一条发言。
type Message struct {
	// Role 只能是 "assistant" 或 "user"。
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation 是一通电话的完整对话历史。
//
// 契约：append-only。所有组件共享同一个实例，只能通过 Append 写入，
// 不允许重排或删除——它既是 LLM 的上下文，也是落库的审计记录。
type Conversation struct {
	messages []Message
}

// NewConversation 创建一个空的对话历史。
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append 追加一条发言并返回它。顺序即发生顺序。
func (c *Conversation) Append(role, content string, ts time.Time) Message {
	msg := Message{Role: role, Content: content, Timestamp: ts}
	c.messages = append(c.messages, msg)
	return msg
}

// Messages 返回全部发言的副本，避免调用方改到内部切片。
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Window 返回最近 n 条发言，用于限制分类 prompt 的大小。
func (c *Conversation) Window(n int) []Message {
	start := len(c.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(c.messages)-start)
	copy(out, c.messages[start:])
	return out
}

// Len 返回发言条数。
func (c *Conversation) Len() int {
	return len(c.messages)
}

// CallSession 保存一通电话的状态，由状态机独占持有。
type CallSession struct {
	// 唯一标识一通电话。
	SessionID string `json:"session_id"`
	// 关联的告警。
	Alert *Alert `json:"alert"`
	// 触发告警的那笔交易。
	AlertedTx *Transaction `json:"alerted_tx"`
	// 需要在 SECONDARY_TX_SWEEP 阶段逐笔核对的近期交易。
	RecentTxs []*Transaction `json:"recent_txs"`

	// 当前所处的对话阶段。
	Stage Stage `json:"stage"`
	// 通话是否已进入终止流程。
	Ended bool `json:"ended"`
	// StartedAt 记录通话开始时间。
	StartedAt time.Time `json:"started_at"`
}

// ActionDecision 是 finalize 的产物：给分析师的总结加一组安全动作。
// 一通电话只生成一次，生成后不再修改。
type ActionDecision struct {
	Summary string   `json:"summary"`
	Actions []Action `json:"actions"`
}

// Action 是 finalize 可以决定的安全动作。
type Action string

const (
	ActionWhitelist     Action = "WHITELIST"
	ActionBlockCard     Action = "BLOCK_CARD"
	ActionResetPassword Action = "RESET_PASSWORD"
)

// ParseAction 把 LLM 返回的动作名归一化成已知动作；未知返回 false。
func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case ActionWhitelist, ActionBlockCard, ActionResetPassword:
		return Action(raw), true
	}
	return "", false
}
