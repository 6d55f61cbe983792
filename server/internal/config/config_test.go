package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  port: 9090
llm:
  provider: anthropic
speech:
  backend: sentence
  queue_capacity: 4
call:
  greeting_retries: 5
  investigation_max_turns: 3
store:
  conversations: redis
redis:
  addr: "redis-host:6379"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %s", cfg.LLM.Provider)
	}
	if cfg.Speech.Backend != "sentence" || cfg.Speech.QueueCapacity != 4 {
		t.Errorf("speech = %+v", cfg.Speech)
	}
	if cfg.Call.GreetingRetries != 5 {
		t.Errorf("greeting retries = %d", cfg.Call.GreetingRetries)
	}
	if cfg.Call.InvestigationMaxTurns != 3 {
		t.Errorf("investigation max turns = %d", cfg.Call.InvestigationMaxTurns)
	}
	// 文件里没写的字段保持默认。
	if cfg.Call.TxConfirmRetries != 3 {
		t.Errorf("tx confirm retries = %d, want default 3", cfg.Call.TxConfirmRetries)
	}
	if cfg.Store.Conversations != "redis" || cfg.Redis.Addr != "redis-host:6379" {
		t.Errorf("store = %+v redis = %+v", cfg.Store, cfg.Redis)
	}
}

func TestLoadEnvOverridesAPIKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  provider: openai\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("llm api key = %q", cfg.LLM.OpenAI.APIKey)
	}
	if cfg.Speech.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("tts api key = %q", cfg.Speech.OpenAI.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad llm provider", func(c *Config) { c.LLM.Provider = "grok" }},
		{"bad speech backend", func(c *Config) { c.Speech.Backend = "midi" }},
		{"zero queue capacity", func(c *Config) { c.Speech.QueueCapacity = 0 }},
		{"zero investigation cap", func(c *Config) { c.Call.InvestigationMaxTurns = 0 }},
		{"redis store without addr", func(c *Config) {
			c.Store.Conversations = "redis"
			c.Redis.Addr = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
