package store

import (
	"context"
	"errors"

	"fraud-call/server/internal/model"
)

var ErrNotFound = errors.New("not found")

// Transactions 交易记录存取。
type Transactions interface {
	Get(ctx context.Context, id int64) (*model.Transaction, error)
	List(ctx context.Context) ([]*model.Transaction, error)
	Create(ctx context.Context, tx *model.Transaction) error
	// SetFraudFlag 更新某笔交易的欺诈标记（SECONDARY_TX_SWEEP 的落点）。
	SetFraudFlag(ctx context.Context, id int64, isFraud bool) error
	// RecentByCard 返回某张卡最近的交易，按时间倒序。
	RecentByCard(ctx context.Context, cardNumber string, limit int) ([]*model.Transaction, error)
}

// Alerts 告警存取。
type Alerts interface {
	Get(ctx context.Context, id int64) (*model.Alert, error)
	List(ctx context.Context, status string) ([]*model.Alert, error)
	Create(ctx context.Context, alert *model.Alert) error
	// SetAnalystNotes 写入 finalize 产出的通话总结并关闭告警。
	SetAnalystNotes(ctx context.Context, id int64, notes string) error
}

// Conversations 通话记录存取：按告警维度 append-only。
type Conversations interface {
	Append(ctx context.Context, alertID int64, msg model.Message) error
	List(ctx context.Context, alertID int64) ([]model.Message, error)
}

// CardList 卡号名单（白名单 / 冻结名单共用同一接口）。
type CardList interface {
	Add(ctx context.Context, cardNumber string) error
	Contains(ctx context.Context, cardNumber string) (bool, error)
	Remove(ctx context.Context, cardNumber string) error
}

// PasswordResets 密码重置登记。
type PasswordResets interface {
	Add(ctx context.Context, cardNumber, reason string) error
	Has(ctx context.Context, cardNumber string) (bool, error)
}

// Store 聚合所有持久化接口，方便整体注入。
type Store struct {
	Transactions   Transactions
	Alerts         Alerts
	Conversations  Conversations
	Whitelist      CardList
	Blocked        CardList
	PasswordResets PasswordResets
}
