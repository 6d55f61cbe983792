package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fraud-call/server/internal/config"
)

// Synthesizer 语音合成接口：把一段文本变成音频并送往播放端。
// 一次 Synthesize 调用对应一个 Segment，必须同步完成，队列消费方靠这一点
// 保证播报顺序。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) error
}

// NewSynthesizer 按配置创建语音合成后端。
func NewSynthesizer(cfg config.SpeechConfig, sink io.Writer) (Synthesizer, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAISynthesizer(cfg.OpenAI, sink), nil
	case "elevenlabs":
		return NewElevenLabsSynthesizer(cfg.ElevenLabs, sink), nil
	default:
		return nil, fmt.Errorf("unsupported speech provider: %s", cfg.Provider)
	}
}

// OpenAISynthesizer 调 OpenAI speech 接口，PCM 结果写入 sink。
type OpenAISynthesizer struct {
	config     config.TTSProviderConfig
	httpClient *http.Client
	sink       io.Writer
}

// NewOpenAISynthesizer 创建 OpenAI 语音合成客户端。
func NewOpenAISynthesizer(cfg config.TTSProviderConfig, sink io.Writer) *OpenAISynthesizer {
	return &OpenAISynthesizer{
		config:     cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		sink:       sink,
	}
}

// Synthesize 合成一段文本。
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) error {
	reqBody := map[string]any{
		"model":           s.config.Model,
		"voice":           s.config.VoiceID,
		"input":           text,
		"response_format": "pcm",
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("TTS error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return copyPCM(s.sink, resp.Body)
}

// ElevenLabsSynthesizer 调 ElevenLabs 流式接口，PCM 结果写入 sink。
type ElevenLabsSynthesizer struct {
	config     config.TTSProviderConfig
	httpClient *http.Client
	sink       io.Writer
}

// NewElevenLabsSynthesizer 创建 ElevenLabs 语音合成客户端。
func NewElevenLabsSynthesizer(cfg config.TTSProviderConfig, sink io.Writer) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		config:     cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		sink:       sink,
	}
}

// Synthesize 合成一段文本。
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=pcm_22050",
		s.config.APIURL, url.PathEscape(s.config.VoiceID))

	reqBody := map[string]any{
		"text":     text,
		"model_id": s.config.Model,
		"voice_settings": map[string]any{
			"stability":        0.35,
			"similarity_boost": 0.75,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("TTS error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return copyPCM(s.sink, resp.Body)
}

// copyPCM 把音频流写入 sink，写入时按 int16 帧对齐（每帧 2 字节），
// 网络分块不会恰好落在帧边界上。
func copyPCM(sink io.Writer, r io.Reader) error {
	var leftover []byte
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(leftover, buf[:n]...)
			frames := len(data) / 2 * 2
			if frames > 0 {
				if _, werr := sink.Write(data[:frames]); werr != nil {
					return fmt.Errorf("write audio: %w", werr)
				}
			}
			leftover = append([]byte(nil), data[frames:]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read audio stream: %w", err)
		}
	}

	// 末尾残留的孤立字节直接丢弃，不构成完整采样。
	return nil
}
