package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fraud-call/server/internal/call"
	"fraud-call/server/internal/classify"
	"fraud-call/server/internal/config"
	"fraud-call/server/internal/finalize"
	"fraud-call/server/internal/llm"
	"fraud-call/server/internal/model"
	"fraud-call/server/internal/speech"
	"fraud-call/server/internal/store"
	"fraud-call/server/internal/stt"
)

// recentTxLimit SECONDARY_TX_SWEEP 最多核对的近期交易数（含告警交易）。
const recentTxLimit = 5

// Server 对外暴露告警数据和通话控制的 HTTP 层。
//
// 一通电话由状态机 goroutine 独立驱动；HTTP 只负责喂入客户文本、
// 读取 transcript 和最终结果。WebSocket 推送实时 transcript。
type Server struct {
	cfg    *config.Config
	store  *store.Store
	llm    llm.Client
	logger *log.Logger

	// calls 活跃与已结束的通话 (sessionID -> activeCall)。
	calls   map[string]*activeCall
	callsMu sync.RWMutex

	upgrader websocket.Upgrader
}

// NewServer 创建 API 服务。
func NewServer(cfg *config.Config, st *store.Store, client llm.Client, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:    cfg,
		store:  st,
		llm:    client,
		logger: logger,
		calls:  make(map[string]*activeCall),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 分析师仪表盘是内部工具，开发期放开跨域。
				return true
			},
		},
	}
}

// Routes 装配全部路由。
func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	engine.GET("/healthz", s.handleHealthz)

	engine.GET("/api/alerts", s.handleAlerts)
	engine.GET("/api/alerts/:id", s.handleAlert)
	engine.GET("/api/alerts/:id/conversation", s.handleAlertConversation)
	engine.GET("/api/transactions", s.handleTransactions)

	engine.POST("/api/alerts/:id/call", s.handleStartCall)
	engine.GET("/api/calls/:sid", s.handleCallStatus)
	engine.POST("/api/calls/:sid/input", s.handleCallInput)
	engine.POST("/api/calls/:sid/audio", s.handleCallAudio)
	engine.GET("/api/calls/:sid/transcript", s.handleCallTranscript)
	engine.GET("/api/calls/:sid/stream", s.handleCallStream)

	return engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleAlerts 返回告警列表，?status=open|closed 可过滤。
func (s *Server) handleAlerts(c *gin.Context) {
	alerts, err := s.store.Alerts.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list alerts failed"})
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (s *Server) handleAlert(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	alert, err := s.store.Alerts.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load alert failed"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

// handleAlertConversation 返回某条告警落库的完整通话记录。
func (s *Server) handleAlertConversation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	msgs, err := s.store.Conversations.List(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load conversation failed"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleTransactions(c *gin.Context) {
	txs, err := s.store.Transactions.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}
	c.JSON(http.StatusOK, txs)
}

// handleStartCall 为一条告警发起核实电话。
//
// 状态机在独立 goroutine 里运行；客户侧文本随后通过 /input 喂入。
func (s *Server) handleStartCall(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	ctx := c.Request.Context()
	alert, err := s.store.Alerts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load alert failed"})
		return
	}
	alertedTx, err := s.store.Transactions.Get(ctx, alert.TransactionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load alerted transaction failed"})
		return
	}
	recent, err := s.store.Transactions.RecentByCard(ctx, alertedTx.CardNumber, recentTxLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load recent transactions failed"})
		return
	}

	ac, err := s.startCall(alert, alertedTx, recent)
	if err != nil {
		s.logger.Printf("[API] ❌ start call for alert %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "start call failed"})
		return
	}

	s.logger.Printf("[API] 📞 call %s started for alert %d", ac.session.SessionID, id)
	stage, _ := ac.status()
	c.JSON(http.StatusOK, gin.H{
		"session_id": ac.session.SessionID,
		"stage":      stage,
	})
}

// startCall 装配一通电话的全部组件并启动状态机 goroutine。
func (s *Server) startCall(alert *model.Alert, alertedTx *model.Transaction, recent []*model.Transaction) (*activeCall, error) {
	// HTTP 通话走纯文本：语音在客户端侧，服务端没有音频出口。
	dispatcher, err := speech.NewDispatcher(speech.ModeText, nil, s.cfg.Speech.QueueCapacity, s.logger)
	if err != nil {
		return nil, err
	}

	session := call.NewSession(alert, alertedTx, recent)
	conv := model.NewConversation()
	input := make(chan string, 4)
	feed := newTranscriptFeed(s.store.Conversations)

	classifier := classify.NewClassifier(s.llm, s.cfg.Call.HistoryWindow, s.logger)
	turns := call.NewTurnExecutor(
		s.llm, classifier, dispatcher,
		stt.NewChannelRecognizer(input),
		conv, feed, alert.ID, nil, s.logger,
	)
	finalizer := finalize.NewFinalizer(s.llm, s.store, s.logger)
	engine := call.NewEngine(s.cfg.Call, turns, session, conv, s.store.Transactions, finalizer, s.logger)

	ac := &activeCall{
		session: session,
		conv:    conv,
		input:   input,
		feed:    feed,
		stage:   session.Stage,
		doneCh:  make(chan struct{}),
	}
	engine.SetStageObserver(ac.setStage)

	s.callsMu.Lock()
	s.calls[session.SessionID] = ac
	s.callsMu.Unlock()

	go func() {
		decision, runErr := engine.Run(context.Background())
		ac.finish(decision, runErr)
		if runErr != nil {
			s.logger.Printf("[API] ⚠️ call %s ended with error: %v", session.SessionID, runErr)
		}
	}()
	return ac, nil
}

func (s *Server) findCall(sessionID string) (*activeCall, bool) {
	s.callsMu.RLock()
	defer s.callsMu.RUnlock()
	ac, ok := s.calls[sessionID]
	return ac, ok
}

type callInputRequest struct {
	Text string `json:"text"`
}

// handleCallInput 把客户的一句话喂给正在进行的通话。
func (s *Server) handleCallInput(c *gin.Context) {
	ac, ok := s.findCall(c.Param("sid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	var req callInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if err := ac.push(req.Text); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// maxAudioBytes 单段客户语音的上限（10MB，几十秒的 WAV 绰绰有余）。
const maxAudioBytes = 10 << 20

// handleCallAudio 收一段客户语音，转写后喂给通话。需要开启 STT。
func (s *Server) handleCallAudio(c *gin.Context) {
	if !s.cfg.STT.Enabled {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stt disabled"})
		return
	}
	ac, ok := s.findCall(c.Param("sid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	audio, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAudioBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read audio failed"})
		return
	}

	rec, err := stt.NewRecognizer(s.cfg.STT, stt.StaticSource(audio))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "init stt failed"})
		return
	}
	text, err := rec.Listen(c.Request.Context())
	if err != nil {
		s.logger.Printf("[API] ⚠️ transcription failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "transcription failed"})
		return
	}

	// 转写为空也照样推进：静默在轮次里按 REPEAT 处理。
	if err := ac.push(text); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcript": text})
}

// handleCallStatus 返回通话当前阶段；结束后附带总结与动作。
func (s *Server) handleCallStatus(c *gin.Context) {
	ac, ok := s.findCall(c.Param("sid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	stage, ended := ac.status()
	resp := gin.H{
		"session_id": ac.session.SessionID,
		"alert_id":   ac.session.Alert.ID,
		"stage":      stage,
		"ended":      ended,
	}
	if decision, done := ac.result(); done {
		resp["summary"] = decision.Summary
		resp["actions"] = decision.Actions
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCallTranscript(c *gin.Context) {
	ac, ok := s.findCall(c.Param("sid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	// 走 feed 的快照而不是直接读对话对象：通话还在进行时后者属于状态机。
	c.JSON(http.StatusOK, ac.feed.Snapshot())
}

// handleCallStream 把通话 transcript 实时推给 WebSocket 客户端：
// 先补发已有历史，再推增量，通话结束后带上最终结果收尾。
func (s *Server) handleCallStream(c *gin.Context) {
	ac, ok := s.findCall(c.Param("sid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[API] ❌ websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// Subscribe 原子地给出历史快照和增量订阅，补发和推送不重不漏。
	backlog, sub := ac.feed.Subscribe()
	defer ac.feed.Unsubscribe(sub)

	for i := range backlog {
		if err := conn.WriteJSON(streamEvent{Type: "message", Message: &backlog[i]}); err != nil {
			return
		}
	}

	for {
		select {
		case msg, open := <-sub:
			if !open {
				return
			}
			if err := conn.WriteJSON(streamEvent{Type: "message", Message: &msg}); err != nil {
				return
			}
		case <-ac.doneCh:
			// 先把订阅里积压的增量冲掉再收尾。
		flush:
			for {
				select {
				case msg, open := <-sub:
					if !open {
						break flush
					}
					if err := conn.WriteJSON(streamEvent{Type: "message", Message: &msg}); err != nil {
						return
					}
				default:
					break flush
				}
			}
			decision, _ := ac.result()
			_ = conn.WriteJSON(streamEvent{Type: "done", Decision: &decision})
			return
		}
	}
}

// streamEvent WebSocket 推送的消息格式。
type streamEvent struct {
	Type     string                `json:"type"`
	Message  *model.Message        `json:"message,omitempty"`
	Decision *model.ActionDecision `json:"decision,omitempty"`
}
