package api

import (
	"context"
	"errors"
	"sync"

	"fraud-call/server/internal/model"
	"fraud-call/server/internal/store"
)

// activeCall 一通电话在 API 层的句柄：输入通道、transcript 源和最终结果。
type activeCall struct {
	session *model.CallSession
	conv    *model.Conversation
	input   chan string
	feed    *transcriptFeed

	mu       sync.Mutex
	stage    model.Stage
	ended    bool
	done     bool
	decision model.ActionDecision

	doneCh chan struct{}
}

// setStage 由状态机的 observer 回调，保持并发可读的阶段快照。
func (a *activeCall) setStage(stage model.Stage, ended bool) {
	a.mu.Lock()
	a.stage = stage
	a.ended = ended
	a.mu.Unlock()
}

// status 返回阶段快照。
func (a *activeCall) status() (model.Stage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage, a.ended
}

var errCallEnded = errors.New("call already ended")

// push 把客户文本喂给状态机。通话已结束或输入积压时拒绝。
func (a *activeCall) push(text string) error {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return errCallEnded
	}
	a.mu.Unlock()

	select {
	case a.input <- text:
		return nil
	default:
		return errors.New("input backlog full, agent still speaking")
	}
}

// finish 记录最终结果并广播结束信号。幂等无害，但状态机只会调一次。
func (a *activeCall) finish(decision model.ActionDecision, _ error) {
	a.mu.Lock()
	if !a.done {
		a.done = true
		a.decision = decision
		close(a.doneCh)
	}
	a.mu.Unlock()
	a.feed.CloseSubscribers()
}

// result 返回最终决定；通话未结束时 done 为 false。
func (a *activeCall) result() (model.ActionDecision, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.decision, a.done
}

// transcriptFeed 包装 store.Conversations：照常落库，同时把每条消息
// 广播给 WebSocket 订阅者。Subscribe 原子地返回历史快照和增量通道，
// 订阅者不会漏消息，也不会重复收到快照里已有的条目。
type transcriptFeed struct {
	inner store.Conversations

	mu      sync.Mutex
	history []model.Message
	subs    map[chan model.Message]struct{}
	closed  bool
}

func newTranscriptFeed(inner store.Conversations) *transcriptFeed {
	return &transcriptFeed{
		inner: inner,
		subs:  make(map[chan model.Message]struct{}),
	}
}

// Append 落库后广播。慢订阅者的缓冲满了就丢给它的那一条：
// 实时流允许掉帧，落库记录才是权威。
func (f *transcriptFeed) Append(ctx context.Context, alertID int64, msg model.Message) error {
	var innerErr error
	if f.inner != nil {
		innerErr = f.inner.Append(ctx, alertID, msg)
	}

	f.mu.Lock()
	f.history = append(f.history, msg)
	for sub := range f.subs {
		select {
		case sub <- msg:
		default:
		}
	}
	f.mu.Unlock()
	return innerErr
}

// List 透传给底层存储。
func (f *transcriptFeed) List(ctx context.Context, alertID int64) ([]model.Message, error) {
	if f.inner == nil {
		return f.Snapshot(), nil
	}
	return f.inner.List(ctx, alertID)
}

// Snapshot 返回当前历史的副本。
func (f *transcriptFeed) Snapshot() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, len(f.history))
	copy(out, f.history)
	return out
}

// Subscribe 返回当前历史快照和后续增量通道。
func (f *transcriptFeed) Subscribe() ([]model.Message, chan model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	backlog := make([]model.Message, len(f.history))
	copy(backlog, f.history)

	ch := make(chan model.Message, 64)
	if f.closed {
		close(ch)
		return backlog, ch
	}
	f.subs[ch] = struct{}{}
	return backlog, ch
}

// Unsubscribe 退订。重复退订安全。
func (f *transcriptFeed) Unsubscribe(ch chan model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

// CloseSubscribers 通话结束后关掉所有订阅通道。
func (f *transcriptFeed) CloseSubscribers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
