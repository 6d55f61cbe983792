package call

import (
	"context"
	"log"

	"fraud-call/server/internal/config"
	"fraud-call/server/internal/model"
	"fraud-call/server/internal/store"
)

// Finalizer 在通话结束后生成总结并落实安全动作，永不失败。
type Finalizer interface {
	Finalize(ctx context.Context, session *model.CallSession, conv *model.Conversation) model.ActionDecision
}

// Engine 驱动一通反欺诈核实电话走完整个阶段图。
//
// 阶段图：GREETING_VERIFICATION -> TRANSACTION_CONFIRMATION ->
// {INVESTIGATION -> SECONDARY_TX_SWEEP} -> HELP_OFFER -> WRAP_UP。
// 四个全局退出标签在任何阶段都直接切到 WRAP_UP。无论走到哪条路径，
// finalize 都且只执行一次。
type Engine struct {
	cfg       config.CallConfig
	turns     *TurnExecutor
	session   *model.CallSession
	conv      *model.Conversation
	txStore   store.Transactions
	finalizer Finalizer
	logger    *log.Logger

	sysGreeting string
	sysTx       string

	// observer 每次阶段推进时回调，给 API 层一个并发安全的状态快照口。
	observer func(stage model.Stage, ended bool)
}

// NewEngine 组装状态机。session 的阶段必须是 GREETING_VERIFICATION。
func NewEngine(
	cfg config.CallConfig,
	turns *TurnExecutor,
	session *model.CallSession,
	conv *model.Conversation,
	txStore store.Transactions,
	finalizer Finalizer,
	logger *log.Logger,
) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		cfg:         cfg,
		turns:       turns,
		session:     session,
		conv:        conv,
		txStore:     txStore,
		finalizer:   finalizer,
		logger:      logger,
		sysGreeting: GreetingSystemPrompt(session.AlertedTx),
		sysTx:       TransactionSystemPrompt(session.AlertedTx, session.RecentTxs),
	}
}

// SetStageObserver 注册阶段变化回调。必须在 Run 之前调用。
func (e *Engine) SetStageObserver(fn func(stage model.Stage, ended bool)) {
	e.observer = fn
}

func (e *Engine) notifyStage() {
	if e.observer != nil {
		e.observer(e.session.Stage, e.session.Ended)
	}
}

// Run 执行整通电话并返回 finalize 的决定。
//
// 任何阶段的硬失败（生成流起不来、输入通道断了）都不跳过收尾：记录
// 错误、切到 WRAP_UP，finalize 照常基于已有 transcript 运行。返回的
// error 是第一个硬失败，decision 始终有效。
func (e *Engine) Run(ctx context.Context) (model.ActionDecision, error) {
	e.logger.Printf("[Call] 📞 session %s started, alert=%d tx=%d", e.session.SessionID, e.session.Alert.ID, e.session.AlertedTx.ID)

	var runErr error
	e.notifyStage()
	for e.session.Stage != model.StageWrapUp {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		var err error
		switch e.session.Stage {
		case model.StageGreeting:
			err = e.runGreeting(ctx)
		case model.StageTxConfirmation:
			err = e.runTxConfirmation(ctx)
		case model.StageInvestigation:
			err = e.runInvestigation(ctx)
		case model.StageSecondarySweep:
			err = e.runSecondarySweep(ctx)
		case model.StageHelpOffer:
			err = e.runHelpOffer(ctx)
		default:
			e.logger.Printf("[Call] ⚠️ unknown stage %q, forcing wrap-up", e.session.Stage)
			e.session.Stage = model.StageWrapUp
		}
		if err != nil {
			e.logger.Printf("[Call] ⚠️ stage %s failed: %v", e.session.Stage, err)
			if runErr == nil {
				runErr = err
			}
			e.session.Stage = model.StageWrapUp
		}
		e.notifyStage()
	}

	e.session.Ended = true
	e.notifyStage()
	decision := e.finalizer.Finalize(ctx, e.session, e.conv)
	e.logger.Printf("[Call] session %s finished, %d action(s) decided", e.session.SessionID, len(decision.Actions))
	return decision, runErr
}

// runGreeting 问候并核实身份。YES 进入交易确认，NO / 核实失败各有
// 专属收尾台词，之后直接 WRAP_UP。
func (e *Engine) runGreeting(ctx context.Context) error {
	_, label, _, err := e.turns.RunTurn(ctx,
		greetingInstruction(e.session.AlertedTx), e.sysGreeting,
		model.StageGreeting, e.cfg.GreetingRetries)
	if err != nil {
		return err
	}

	switch {
	case label.IsUniversalExit():
		e.closeWith(ctx, label, e.sysGreeting)
	case label == model.LabelYes:
		e.session.Stage = model.StageTxConfirmation
	case label == model.LabelNo:
		e.sayClosing(ctx, wrongPersonInstruction, e.sysGreeting)
	default:
		// NO_ANSWER 或其他无法核身的结果。
		e.sayClosing(ctx, cannotVerifyInstruction, e.sysGreeting)
	}
	return nil
}

// runTxConfirmation 请客户确认告警交易。OK 先答疑再重新确认一次，
// FRAUD 打标并转调查，NOT_FRAUD 摘标并转协助。
func (e *Engine) runTxConfirmation(ctx context.Context) error {
	_, label, _, err := e.turns.RunTurn(ctx,
		txConfirmInstruction(e.session.AlertedTx), e.sysTx,
		model.StageTxConfirmation, e.cfg.TxConfirmRetries)
	if err != nil {
		return err
	}
	if label.IsUniversalExit() {
		e.closeWith(ctx, label, e.sysTx)
		return nil
	}

	if label == model.LabelOK {
		if _, err := e.turns.Say(ctx, clarifyInstruction, e.sysTx); err != nil {
			return err
		}
		_, label, _, err = e.turns.RunTurn(ctx,
			reconfirmInstruction, e.sysTx,
			model.StageTxConfirmation, e.cfg.TxReconfirmRetries)
		if err != nil {
			return err
		}
		if label.IsUniversalExit() {
			e.closeWith(ctx, label, e.sysTx)
			return nil
		}
	}

	switch label {
	case model.LabelFraud:
		e.setFraudFlag(ctx, e.session.AlertedTx.ID, true)
		e.session.Stage = model.StageInvestigation
	case model.LabelNotFraud:
		e.setFraudFlag(ctx, e.session.AlertedTx.ID, false)
		e.session.Stage = model.StageHelpOffer
	default:
		// 确认不出结果（NO_ANSWER、二次 OK 等）就不动欺诈标记，转协助阶段。
		e.session.Stage = model.StageHelpOffer
	}
	return nil
}

// runInvestigation 追问钓鱼线索直到 INFO_COMPLETE，受安全上限保护：
// 分类器一直不给完整信号时也能在有限轮内脱出，转入 SECONDARY_TX_SWEEP。
func (e *Engine) runInvestigation(ctx context.Context) error {
	for turn := 0; ; turn++ {
		if turn >= e.cfg.InvestigationMaxTurns {
			e.logger.Printf("[Call] investigation hit turn cap (%d), moving on", e.cfg.InvestigationMaxTurns)
			break
		}

		_, label, _, err := e.turns.RunTurn(ctx,
			investigationInstruction, e.sysTx,
			model.StageInvestigation, 0)
		if err != nil {
			return err
		}
		if label.IsUniversalExit() {
			e.closeWith(ctx, label, e.sysTx)
			return nil
		}
		if label == model.LabelInfoComplete {
			break
		}
		// INFO_INCOMPLETE / REPEAT / OFFTOPIC：继续追问。
	}
	e.session.Stage = model.StageSecondarySweep
	return nil
}

// runSecondarySweep 逐笔核对其余近期交易，FRAUD / NOT_FRAUD 即时落库。
// 核不出结果的单笔只跳过，不影响后续交易。
func (e *Engine) runSecondarySweep(ctx context.Context) error {
	for _, tx := range e.session.RecentTxs {
		if tx.ID == e.session.AlertedTx.ID {
			continue
		}

		_, label, _, err := e.turns.RunTurn(ctx,
			sweepInstruction(tx), e.sysTx,
			model.StageSecondarySweep, e.cfg.SweepRetries)
		if err != nil {
			return err
		}
		if label.IsUniversalExit() {
			e.closeWith(ctx, label, e.sysTx)
			return nil
		}

		switch label {
		case model.LabelFraud:
			e.setFraudFlag(ctx, tx.ID, true)
		case model.LabelNotFraud:
			e.setFraudFlag(ctx, tx.ID, false)
		}
	}
	e.session.Stage = model.StageHelpOffer
	return nil
}

// runHelpOffer 收尾前的自由协助循环。YES 进入答疑子轮次，NO 结束；
// 连续可重试结果累计到额度上限后按 END 收尾。
func (e *Engine) runHelpOffer(ctx context.Context) error {
	attempts := 0
	for {
		instruction := helpOfferInstruction
		if attempts > 0 {
			instruction = helpRepeatInstruction
		}

		_, label, _, err := e.turns.RunTurn(ctx,
			instruction, e.sysTx,
			model.StageHelpOffer, 0)
		if err != nil {
			return err
		}
		if label.IsUniversalExit() {
			e.closeWith(ctx, label, e.sysTx)
			return nil
		}

		switch label {
		case model.LabelYes:
			_, follow, _, err := e.turns.RunTurn(ctx,
				helpHandleInstruction, e.sysTx,
				model.StageHelpOffer, 0)
			if err != nil {
				return err
			}
			switch {
			case follow.IsUniversalExit():
				e.closeWith(ctx, follow, e.sysTx)
				return nil
			case follow == model.LabelNo:
				e.closeWith(ctx, model.LabelEnd, e.sysTx)
				return nil
			case follow.IsRetryable():
				attempts++
				if attempts >= e.cfg.HelpOfferRetries {
					e.closeWith(ctx, model.LabelEnd, e.sysTx)
					return nil
				}
			default:
				// 又是一个实质请求，重置计数继续服务。
				attempts = 1
			}

		case model.LabelNo:
			e.closeWith(ctx, model.LabelEnd, e.sysTx)
			return nil

		default:
			attempts++
			if attempts >= e.cfg.HelpOfferRetries {
				e.closeWith(ctx, model.LabelEnd, e.sysTx)
				return nil
			}
		}
	}
}

// closeWith 说出退出标签对应的收尾台词并切到 WRAP_UP。
// 收尾台词说不出来也不回滚：finalize 必须照常执行。
func (e *Engine) closeWith(ctx context.Context, label model.Label, systemContext string) {
	instruction, ok := closingInstructions[label]
	if !ok {
		instruction = closingInstructions[model.LabelEnd]
	}
	e.sayClosing(ctx, instruction, systemContext)
}

func (e *Engine) sayClosing(ctx context.Context, instruction, systemContext string) {
	if _, err := e.turns.Say(ctx, instruction, systemContext); err != nil {
		e.logger.Printf("[Call] ⚠️ closing line failed: %v", err)
	}
	e.session.Stage = model.StageWrapUp
}

func (e *Engine) setFraudFlag(ctx context.Context, txID int64, isFraud bool) {
	if e.txStore == nil {
		return
	}
	if err := e.txStore.SetFraudFlag(ctx, txID, isFraud); err != nil {
		e.logger.Printf("[Call] ⚠️ set fraud flag tx=%d: %v", txID, err)
	}
	for _, tx := range e.session.RecentTxs {
		if tx.ID == txID {
			tx.IsFraud = isFraud
		}
	}
	if e.session.AlertedTx.ID == txID {
		e.session.AlertedTx.IsFraud = isFraud
	}
}
