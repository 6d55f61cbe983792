package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Speech  SpeechConfig  `yaml:"speech"`
	STT     STTConfig     `yaml:"stt"`
	Call    CallConfig    `yaml:"call"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LLMConfig LLM 配置：同一个客户端既做分类/终结，也做流式生成。
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai" or "anthropic"
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// SpeechConfig 语音播报配置。
type SpeechConfig struct {
	// Backend 决定播报方式：text | whole | sentence
	Backend string `yaml:"backend"`
	// Provider 语音合成提供商：openai | elevenlabs
	Provider string `yaml:"provider"`
	// QueueCapacity 句子队列容量，生成快于合成时的背压上限。
	QueueCapacity int `yaml:"queue_capacity"`

	OpenAI     TTSProviderConfig `yaml:"openai"`
	ElevenLabs TTSProviderConfig `yaml:"elevenlabs"`
}

// TTSProviderConfig 语音合成提供商配置
type TTSProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	APIURL  string `yaml:"api_url"`
	Model   string `yaml:"model"`
	VoiceID string `yaml:"voice_id"`
}

// STTConfig 语音识别配置。Enabled=false 时走纯文本输入。
type STTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "openai" or "elevenlabs"
	APIKey   string `yaml:"api_key"`
	APIURL   string `yaml:"api_url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// CallConfig 通话策略配置：各阶段重试额度与调查阶段的安全上限。
type CallConfig struct {
	GreetingRetries    int `yaml:"greeting_retries"`
	TxConfirmRetries   int `yaml:"tx_confirm_retries"`
	TxReconfirmRetries int `yaml:"tx_reconfirm_retries"`
	SweepRetries       int `yaml:"sweep_retries"`
	HelpOfferRetries   int `yaml:"help_offer_retries"`
	// InvestigationMaxTurns 调查循环的安全上限：原流程依赖分类器最终给出
	// INFO_COMPLETE，没有硬上限，这里必须有一个可配置的兜底。
	InvestigationMaxTurns int `yaml:"investigation_max_turns"`
	// HistoryWindow 分类时带入的最近对话条数。
	HistoryWindow int `yaml:"history_window"`
}

// StoreConfig 持久化选择：conversations 可切到 redis。
type StoreConfig struct {
	Conversations string `yaml:"conversations"` // "memory" or "redis"
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 从环境变量覆盖敏感信息
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAI.APIKey = key
		cfg.Speech.OpenAI.APIKey = key
		if cfg.STT.Provider == "openai" {
			cfg.STT.APIKey = key
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Anthropic.APIKey = key
	}
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		cfg.Speech.ElevenLabs.APIKey = key
		if cfg.STT.Provider == "elevenlabs" {
			cfg.STT.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default 返回带默认策略值的配置，文件里没写的字段用它兜底。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LLM: LLMConfig{
			Provider: "openai",
			OpenAI: LLMProviderConfig{
				APIURL:      "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				Temperature: 0.7,
				MaxTokens:   1024,
			},
			Anthropic: LLMProviderConfig{
				APIURL:      "https://api.anthropic.com/v1",
				Model:       "claude-3-5-haiku-latest",
				Temperature: 0.7,
				MaxTokens:   1024,
			},
		},
		Speech: SpeechConfig{
			Backend:       "text",
			Provider:      "openai",
			QueueCapacity: 16,
			OpenAI: TTSProviderConfig{
				APIURL:  "https://api.openai.com/v1",
				Model:   "gpt-4o-mini-tts",
				VoiceID: "shimmer",
			},
			ElevenLabs: TTSProviderConfig{
				APIURL:  "https://api.elevenlabs.io/v1",
				Model:   "eleven_turbo_v2_5",
				VoiceID: "21m00Tcm4TlvDq8ikWAM",
			},
		},
		STT: STTConfig{
			Enabled:  false,
			Provider: "openai",
			APIURL:   "https://api.openai.com/v1",
			Model:    "gpt-4o-mini-transcribe",
		},
		Call: CallConfig{
			GreetingRetries:       2,
			TxConfirmRetries:      3,
			TxReconfirmRetries:    2,
			SweepRetries:          1,
			HelpOfferRetries:      3,
			InvestigationMaxTurns: 6,
			HistoryWindow:         5,
		},
		Store: StoreConfig{
			Conversations: "memory",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}
	switch c.Speech.Backend {
	case "text", "whole", "sentence":
	default:
		return fmt.Errorf("unsupported speech backend: %s", c.Speech.Backend)
	}
	if c.Speech.QueueCapacity <= 0 {
		return fmt.Errorf("speech queue_capacity must be positive")
	}
	if c.Call.InvestigationMaxTurns <= 0 {
		return fmt.Errorf("call investigation_max_turns must be positive")
	}
	if c.Store.Conversations == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr required for redis conversation store")
	}
	return nil
}
