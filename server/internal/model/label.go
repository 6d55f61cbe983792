package model

import "strings"

// Label 是对一句客户发言的归一化分类结果。
type Label string

const (
	LabelYes            Label = "YES"
	LabelNo             Label = "NO"
	LabelOK             Label = "OK"
	LabelFraud          Label = "FRAUD"
	LabelNotFraud       Label = "NOT_FRAUD"
	LabelRepeat         Label = "REPEAT"
	LabelOfftopic       Label = "OFFTOPIC"
	LabelClarify        Label = "CLARIFY"
	LabelEnd            Label = "END"
	LabelCantTalk       Label = "CANT_TALK"
	LabelCallBackLater  Label = "CALL_BACK_LATER"
	LabelNoCallBack     Label = "NO_CALL_BACK"
	LabelInfoComplete   Label = "INFO_COMPLETE"
	LabelInfoIncomplete Label = "INFO_INCOMPLETE"

	// LabelNoAnswer 不是分类器的输出：重试额度耗尽时由轮次执行器本地合成，
	// 通知状态机强制走终止转移。
	LabelNoAnswer Label = "NO_ANSWER"
)

// universalExits 在任何阶段都生效的四个退出标签，优先于阶段自己的转移表。
var universalExits = map[Label]bool{
	LabelEnd:           true,
	LabelCallBackLater: true,
	LabelNoCallBack:    true,
	LabelCantTalk:      true,
}

// IsUniversalExit 判断标签是否为全局退出标签。
func (l Label) IsUniversalExit() bool {
	return universalExits[l]
}

// IsRetryable 判断标签是否属于可重试类（不推进阶段，消耗重试额度）。
func (l Label) IsRetryable() bool {
	return l == LabelRepeat || l == LabelOfftopic || l == LabelClarify
}

// ParseLabel 把分类器的原始输出归一化：去空白、转大写、空格转下划线。
// 模型偶尔会回 "NOT FRAUD" 这种带空格的写法。
func ParseLabel(raw string) Label {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	return Label(s)
}

// Coerce 执行闭世界收敛：标签不在 accepting 集合内时一律按 REPEAT 处理，
// 保证状态机永远不会收到无法处理的值。
func (l Label) Coerce(accepting []Label) Label {
	for _, a := range accepting {
		if l == a {
			return l
		}
	}
	return LabelRepeat
}

// Stage 是通话状态机中的一个阶段。
type Stage string

const (
	StageGreeting       Stage = "GREETING_VERIFICATION"
	StageTxConfirmation Stage = "TRANSACTION_CONFIRMATION"
	StageInvestigation  Stage = "INVESTIGATION"
	StageSecondarySweep Stage = "SECONDARY_TX_SWEEP"
	StageHelpOffer      Stage = "HELP_OFFER"
	StageWrapUp         Stage = "WRAP_UP"
)
