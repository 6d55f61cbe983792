package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"fraud-call/server/internal/model"
)

// Memory 是基于内存的全量存储实现。
// 实现简单、调试方便；重启即丢数据，多实例部署需要换成 DB/Redis。
type Memory struct {
	mu sync.RWMutex

	txs      map[int64]*model.Transaction
	alerts   map[int64]*model.Alert
	convs    map[int64][]model.Message
	nextTxID int64
	nextAlID int64

	whitelist      *memoryCardList
	blocked        *memoryCardList
	passwordResets map[string]string // card -> reason
}

// NewMemory 创建内存存储。
func NewMemory() *Memory {
	return &Memory{
		txs:            make(map[int64]*model.Transaction),
		alerts:         make(map[int64]*model.Alert),
		convs:          make(map[int64][]model.Message),
		nextTxID:       1,
		nextAlID:       1,
		whitelist:      newMemoryCardList(),
		blocked:        newMemoryCardList(),
		passwordResets: make(map[string]string),
	}
}

// AsStore 把 Memory 装配成聚合 Store。
func (m *Memory) AsStore() *Store {
	return &Store{
		Transactions:   m,
		Alerts:         &memoryAlerts{m},
		Conversations:  &memoryConversations{m},
		Whitelist:      m.whitelist,
		Blocked:        m.blocked,
		PasswordResets: &memoryResets{m},
	}
}

// --- Transactions ---

// Get 按 ID 取交易。
func (m *Memory) Get(_ context.Context, id int64) (*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

// List 返回全部交易。
func (m *Memory) List(_ context.Context) ([]*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create 新建交易，ID 为空时自动分配。
func (m *Memory) Create(_ context.Context, tx *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == 0 {
		tx.ID = m.nextTxID
	}
	if tx.ID >= m.nextTxID {
		m.nextTxID = tx.ID + 1
	}
	cp := *tx
	m.txs[tx.ID] = &cp
	return nil
}

// SetFraudFlag 更新欺诈标记。
func (m *Memory) SetFraudFlag(_ context.Context, id int64, isFraud bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return ErrNotFound
	}
	tx.IsFraud = isFraud
	return nil
}

// RecentByCard 返回某张卡最近的交易（时间倒序）。
func (m *Memory) RecentByCard(_ context.Context, cardNumber string, limit int) ([]*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Transaction
	for _, tx := range m.txs {
		if tx.CardNumber == cardNumber {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Alerts ---

type memoryAlerts struct{ m *Memory }

func (m *memoryAlerts) Get(_ context.Context, id int64) (*model.Alert, error) {
	m.m.mu.RLock()
	defer m.m.mu.RUnlock()
	a, ok := m.m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memoryAlerts) List(_ context.Context, status string) ([]*model.Alert, error) {
	m.m.mu.RLock()
	defer m.m.mu.RUnlock()
	out := make([]*model.Alert, 0, len(m.m.alerts))
	for _, a := range m.m.alerts {
		if status != "" && a.Status != status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryAlerts) Create(_ context.Context, alert *model.Alert) error {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()
	if alert.ID == 0 {
		alert.ID = m.m.nextAlID
	}
	if alert.ID >= m.m.nextAlID {
		m.m.nextAlID = alert.ID + 1
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	if alert.Status == "" {
		alert.Status = "open"
	}
	cp := *alert
	m.m.alerts[alert.ID] = &cp
	return nil
}

func (m *memoryAlerts) SetAnalystNotes(_ context.Context, id int64, notes string) error {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()
	a, ok := m.m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.AnalystNotes = notes
	a.Status = "closed"
	return nil
}

// --- Conversations ---

type memoryConversations struct{ m *Memory }

// Append 追加一条通话发言。顺序即写入顺序，不做去重。
func (m *memoryConversations) Append(_ context.Context, alertID int64, msg model.Message) error {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()
	m.m.convs[alertID] = append(m.m.convs[alertID], msg)
	return nil
}

// List 返回某条告警的完整通话记录（副本）。
func (m *memoryConversations) List(_ context.Context, alertID int64) ([]model.Message, error) {
	m.m.mu.RLock()
	defer m.m.mu.RUnlock()
	msgs := m.m.convs[alertID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// --- Card lists ---

type memoryCardList struct {
	mu    sync.RWMutex
	cards map[string]time.Time
}

func newMemoryCardList() *memoryCardList {
	return &memoryCardList{cards: make(map[string]time.Time)}
}

func (l *memoryCardList) Add(_ context.Context, cardNumber string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cards[cardNumber] = time.Now()
	return nil
}

func (l *memoryCardList) Contains(_ context.Context, cardNumber string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.cards[cardNumber]
	return ok, nil
}

func (l *memoryCardList) Remove(_ context.Context, cardNumber string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cards, cardNumber)
	return nil
}

// CleanupExpired 移除超过 maxAge 的白名单条目，返回清掉的数量。
// 白名单是临时放行，放太久等于放弃风控。
func (l *memoryCardList) CleanupExpired(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for card, at := range l.cards {
		if at.Before(cutoff) {
			delete(l.cards, card)
			n++
		}
	}
	return n
}

// --- Password resets ---

type memoryResets struct{ m *Memory }

func (m *memoryResets) Add(_ context.Context, cardNumber, reason string) error {
	m.m.mu.Lock()
	defer m.m.mu.Unlock()
	m.m.passwordResets[cardNumber] = reason
	return nil
}

func (m *memoryResets) Has(_ context.Context, cardNumber string) (bool, error) {
	m.m.mu.RLock()
	defer m.m.mu.RUnlock()
	_, ok := m.m.passwordResets[cardNumber]
	return ok, nil
}
