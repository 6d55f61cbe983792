package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"fraud-call/server/internal/api"
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

// whitelistTTL 白名单条目的有效期，过期自动清理。
const whitelistTTL = 30 * time.Minute

func main() {
	// 参数用 flag，敏感信息（OPENAI_API_KEY / ANTHROPIC_API_KEY /
	// ELEVENLABS_API_KEY）走环境变量，不进配置文件。
	configPath := flag.String("config", "", "config file path (yaml), defaults apply when empty")
	addr := flag.String("addr", "", "http listen address, overrides config when set")
	interactive := flag.Bool("interactive", false, "run a single call on stdin/stdout instead of serving http")
	alertID := flag.Int64("alert", 0, "alert to call in interactive mode, 0 picks the first open alert")
	audioOut := flag.String("audio-out", "call_audio.pcm", "pcm sink for synthesized speech in interactive mode")
	flag.Parse()

	logger := log.Default()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("init llm client: %v", err)
	}

	ctx := context.Background()
	st := buildStore(ctx, cfg, logger)

	if err := store.Seed(ctx, st); err != nil {
		logger.Fatalf("seed store: %v", err)
	}

	startWhitelistJanitor(st, logger)

	if *interactive {
		runInteractiveCall(ctx, cfg, st, client, *alertID, *audioOut, logger)
		return
	}

	server := api.NewServer(cfg, st, client, logger)
	listen := *addr
	if listen == "" {
		listen = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	logger.Printf("fraudcall server listening on %s", listen)
	if err := http.ListenAndServe(listen, server.Routes()); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

// buildStore 装配存储层。交易/告警/名单始终在内存，通话记录可切 Redis。
func buildStore(ctx context.Context, cfg *config.Config, logger *log.Logger) *store.Store {
	mem := store.NewMemory()
	st := mem.AsStore()

	if cfg.Store.Conversations != "redis" {
		return st
	}

	convs := store.NewRedisConversations(cfg.Redis)
	if err := convs.Ping(ctx); err != nil {
		logger.Fatalf("redis unreachable at %s: %v", cfg.Redis.Addr, err)
	}
	logger.Printf("conversation store: redis (%s)", cfg.Redis.Addr)
	st.Conversations = convs
	return st
}

// startWhitelistJanitor 周期清理过期白名单。临时放行放太久等于放弃风控。
func startWhitelistJanitor(st *store.Store, logger *log.Logger) {
	janitor, ok := st.Whitelist.(interface {
		CleanupExpired(maxAge time.Duration) int
	})
	if !ok {
		return
	}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if n := janitor.CleanupExpired(whitelistTTL); n > 0 {
				logger.Printf("[Janitor] removed %d expired whitelist entr(ies)", n)
			}
		}
	}()
}

// runInteractiveCall 在终端里跑一整通电话：stdout 是坐席，stdin 是客户。
func runInteractiveCall(ctx context.Context, cfg *config.Config, st *store.Store, client llm.Client, alertID int64, audioOut string, logger *log.Logger) {
	alert := pickAlert(ctx, st, alertID, logger)
	alertedTx, err := st.Transactions.Get(ctx, alert.TransactionID)
	if err != nil {
		logger.Fatalf("load alerted transaction: %v", err)
	}
	recent, err := st.Transactions.RecentByCard(ctx, alertedTx.CardNumber, 5)
	if err != nil {
		logger.Fatalf("load recent transactions: %v", err)
	}

	dispatcher, cleanup := buildDispatcher(cfg, audioOut, logger)
	defer cleanup()

	input := buildRecognizer(cfg, logger)

	session := call.NewSession(alert, alertedTx, recent)
	conv := model.NewConversation()
	classifier := classify.NewClassifier(client, cfg.Call.HistoryWindow, logger)
	turns := call.NewTurnExecutor(client, classifier, dispatcher, input, conv, st.Conversations, alert.ID, nil, logger)
	finalizer := finalize.NewFinalizer(client, st, logger)
	engine := call.NewEngine(cfg.Call, turns, session, conv, st.Transactions, finalizer, logger)

	decision, err := engine.Run(ctx)
	if err != nil {
		logger.Printf("call ended with error: %v", err)
	}

	fmt.Println("\n===== FINAL CALL SUMMARY =====")
	fmt.Println(decision.Summary)
	fmt.Printf("Actions decided: %v\n", decision.Actions)
	fmt.Println("================================")
}

func pickAlert(ctx context.Context, st *store.Store, alertID int64, logger *log.Logger) *model.Alert {
	if alertID != 0 {
		alert, err := st.Alerts.Get(ctx, alertID)
		if err != nil {
			logger.Fatalf("load alert %d: %v", alertID, err)
		}
		return alert
	}
	open, err := st.Alerts.List(ctx, "open")
	if err != nil || len(open) == 0 {
		logger.Fatalf("no open alerts to call (%v)", err)
	}
	return open[0]
}

// buildDispatcher 按配置装配语音管线；合成 PCM 落到文件。
func buildDispatcher(cfg *config.Config, audioOut string, logger *log.Logger) (*speech.Dispatcher, func()) {
	mode := speech.Mode(cfg.Speech.Backend)
	if mode == speech.ModeText {
		d, err := speech.NewDispatcher(speech.ModeText, nil, cfg.Speech.QueueCapacity, logger)
		if err != nil {
			logger.Fatalf("init dispatcher: %v", err)
		}
		return d, func() {}
	}

	sink, err := os.Create(audioOut)
	if err != nil {
		logger.Fatalf("open audio sink %s: %v", audioOut, err)
	}
	synth, err := speech.NewSynthesizer(cfg.Speech, sink)
	if err != nil {
		logger.Fatalf("init synthesizer: %v", err)
	}
	d, err := speech.NewDispatcher(mode, synth, cfg.Speech.QueueCapacity, logger)
	if err != nil {
		logger.Fatalf("init dispatcher: %v", err)
	}
	logger.Printf("synthesized audio goes to %s", audioOut)
	return d, func() { _ = sink.Close() }
}

// buildRecognizer 客户侧输入。交互模式下没有麦克风采集源，STT 打开也
// 只能退回终端输入；语音转写走 API 层的通道桥接。
func buildRecognizer(cfg *config.Config, logger *log.Logger) stt.Recognizer {
	if cfg.STT.Enabled {
		logger.Printf("⚠️ stt enabled but no capture source in interactive mode, falling back to text input")
	}
	return stt.NewTextRecognizer(os.Stdin, func() {
		fmt.Print("Customer says: ")
	})
}
