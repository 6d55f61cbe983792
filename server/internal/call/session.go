package call

import (
	"time"

	"github.com/google/uuid"

	"fraud-call/server/internal/model"
)

// NewSession 为一条告警开一通新电话，起始阶段固定为问候核身。
func NewSession(alert *model.Alert, alertedTx *model.Transaction, recentTxs []*model.Transaction) *model.CallSession {
	return &model.CallSession{
		SessionID: uuid.NewString(),
		Alert:     alert,
		AlertedTx: alertedTx,
		RecentTxs: recentTxs,
		Stage:     model.StageGreeting,
		StartedAt: time.Now(),
	}
}
