package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fraud-call/server/internal/config"
	"fraud-call/server/internal/llm"
	"fraud-call/server/internal/model"
	"fraud-call/server/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedLLM 按脚本回放 Complete 结果；Stream 每次返回一句固定台词。
type scriptedLLM struct {
	mu        sync.Mutex
	completes []string
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []llm.Message, schema *llm.JSONSchema) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.completes) == 0 {
		return "", errors.New("script exhausted")
	}
	out := s.completes[0]
	s.completes = s.completes[1:]
	return out, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Fragment, error) {
	ch := make(chan llm.Fragment, 1)
	ch <- llm.Fragment{Text: "Hello, this is Agata from SAS BANK."}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, client llm.Client) (*Server, *store.Store) {
	t.Helper()
	mem := store.NewMemory()
	st := mem.AsStore()
	if err := store.Seed(context.Background(), st); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg := config.Default()
	logger := log.New(io.Discard, "", 0)
	return NewServer(cfg, st, client, logger), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{})
	w := doJSON(t, srv.Routes(), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAlertsAndTransactions(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{})
	handler := srv.Routes()

	w := doJSON(t, handler, http.MethodGet, "/api/alerts?status=open", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("alerts status = %d", w.Code)
	}
	var alerts []model.Alert
	if err := json.Unmarshal(w.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("open alerts = %d, want 1 from seed", len(alerts))
	}

	w = doJSON(t, handler, http.MethodGet, "/api/transactions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transactions status = %d", w.Code)
	}
	var txs []model.Transaction
	if err := json.Unmarshal(w.Body.Bytes(), &txs); err != nil {
		t.Fatalf("decode txs: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("transactions = %d, want 3 from seed", len(txs))
	}

	w = doJSON(t, handler, http.MethodGet, "/api/alerts/999", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing alert status = %d, want 404", w.Code)
	}
}

func TestCallNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{})
	handler := srv.Routes()

	w := doJSON(t, handler, http.MethodGet, "/api/calls/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	w = doJSON(t, handler, http.MethodPost, "/api/calls/nope/input", callInputRequest{Text: "hi"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("input status = %d, want 404", w.Code)
	}
}

func TestStartCallAndDriveToCompletion(t *testing.T) {
	// 客户第一句就说没空：CANT_TALK 收尾，然后 finalize。
	client := &scriptedLLM{completes: []string{
		"CANT_TALK",
		`{"summary": "Customer could not talk, call back later.", "actions": []}`,
	}}
	srv, st := newTestServer(t, client)
	handler := srv.Routes()

	alerts, err := st.Alerts.List(context.Background(), "open")
	if err != nil || len(alerts) != 1 {
		t.Fatalf("seed alerts: %v (%d)", err, len(alerts))
	}
	alertID := alerts[0].ID

	w := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/alerts/%d/call", alertID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start call status = %d: %s", w.Code, w.Body.String())
	}
	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if started.SessionID == "" {
		t.Fatal("empty session id")
	}

	w = doJSON(t, handler, http.MethodPost, "/api/calls/"+started.SessionID+"/input",
		callInputRequest{Text: "Sorry, I'm in a meeting, can't talk."})
	if w.Code != http.StatusOK {
		t.Fatalf("input status = %d: %s", w.Code, w.Body.String())
	}

	status := waitForCallEnd(t, handler, started.SessionID)
	if status["summary"] != "Customer could not talk, call back later." {
		t.Fatalf("summary = %v", status["summary"])
	}

	// transcript：问候 + 客户一句 + 收尾台词。
	w = doJSON(t, handler, http.MethodGet, "/api/calls/"+started.SessionID+"/transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transcript status = %d", w.Code)
	}
	var msgs []model.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(msgs))
	}

	// 告警被 finalize 关闭。
	alert, err := st.Alerts.Get(context.Background(), alertID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if alert.Status != "closed" {
		t.Errorf("alert status = %q, want closed", alert.Status)
	}

	// 通话结束后再喂输入要被拒绝。
	w = doJSON(t, handler, http.MethodPost, "/api/calls/"+started.SessionID+"/input",
		callInputRequest{Text: "hello?"})
	if w.Code != http.StatusConflict {
		t.Errorf("post-call input status = %d, want 409", w.Code)
	}
}

func waitForCallEnd(t *testing.T, handler http.Handler, sessionID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(t, handler, http.MethodGet, "/api/calls/"+sessionID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status endpoint = %d", w.Code)
		}
		var status map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		// summary 只在 finalize 完成后才出现，以它为准。
		if _, done := status["summary"]; done {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("call did not end in time")
	return nil
}

func TestCallAudioRequiresSTT(t *testing.T) {
	// 默认配置不开 STT，音频端点直接拒绝。
	srv, _ := newTestServer(t, &scriptedLLM{})
	handler := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/calls/nope/audio", bytes.NewReader([]byte{0x00, 0x01}))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestTranscriptFeedSubscribe(t *testing.T) {
	feed := newTranscriptFeed(nil)
	ctx := context.Background()
	now := time.Now()

	_ = feed.Append(ctx, 1, model.Message{Role: "assistant", Content: "first", Timestamp: now})

	backlog, sub := feed.Subscribe()
	if len(backlog) != 1 || backlog[0].Content != "first" {
		t.Fatalf("backlog = %+v", backlog)
	}

	_ = feed.Append(ctx, 1, model.Message{Role: "user", Content: "second", Timestamp: now})
	select {
	case msg := <-sub:
		if msg.Content != "second" {
			t.Fatalf("got %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}

	feed.CloseSubscribers()
	if _, open := <-sub; open {
		t.Fatal("subscription should be closed")
	}
	// 关闭后再退订不允许 panic。
	feed.Unsubscribe(sub)
}
