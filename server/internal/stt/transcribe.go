package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"fraud-call/server/internal/config"
)

// AudioSource 提供一段已采集的通话音频（WAV）。采集与 VAD 属于电话接入层，
// 不在本服务内实现。
type AudioSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// StaticSource 一段已经就位的音频。API 层把请求体里的整段语音交给
// 转写器时用它。
type StaticSource []byte

// Capture 原样返回持有的音频。
func (s StaticSource) Capture(context.Context) ([]byte, error) {
	return []byte(s), nil
}

// NewRecognizer 按配置创建语音识别后端。
func NewRecognizer(cfg config.STTConfig, source AudioSource) (Recognizer, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIRecognizer(cfg, source), nil
	case "elevenlabs":
		return NewElevenLabsRecognizer(cfg, source), nil
	default:
		return nil, fmt.Errorf("unsupported stt provider: %s", cfg.Provider)
	}
}

// OpenAIRecognizer 用 OpenAI transcription 接口做语音转写。
type OpenAIRecognizer struct {
	config     config.STTConfig
	source     AudioSource
	httpClient *http.Client
}

// NewOpenAIRecognizer 创建 OpenAI 语音识别客户端。
func NewOpenAIRecognizer(cfg config.STTConfig, source AudioSource) *OpenAIRecognizer {
	return &OpenAIRecognizer{
		config:     cfg,
		source:     source,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Listen 采集并转写一段客户语音；识别为空时返回 Silence。
func (r *OpenAIRecognizer) Listen(ctx context.Context) (string, error) {
	audio, err := r.source.Capture(ctx)
	if err != nil {
		return "", fmt.Errorf("capture audio: %w", err)
	}
	if len(audio) == 0 {
		return Silence, nil
	}

	fields := map[string]string{"model": r.config.Model}
	if r.config.Language != "" {
		fields["language"] = r.config.Language
	}
	body, contentType, err := multipartAudio(audio, fields)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.config.APIURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+r.config.APIKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("STT error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return Silence, nil
	}
	return text, nil
}

// ElevenLabsRecognizer 用 ElevenLabs scribe 接口做语音转写。
type ElevenLabsRecognizer struct {
	config     config.STTConfig
	source     AudioSource
	httpClient *http.Client
}

// NewElevenLabsRecognizer 创建 ElevenLabs 语音识别客户端。
func NewElevenLabsRecognizer(cfg config.STTConfig, source AudioSource) *ElevenLabsRecognizer {
	return &ElevenLabsRecognizer{
		config:     cfg,
		source:     source,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Listen 采集并转写一段客户语音；识别为空时返回 Silence。
func (r *ElevenLabsRecognizer) Listen(ctx context.Context) (string, error) {
	audio, err := r.source.Capture(ctx)
	if err != nil {
		return "", fmt.Errorf("capture audio: %w", err)
	}
	if len(audio) == 0 {
		return Silence, nil
	}

	body, contentType, err := multipartAudio(audio, map[string]string{"model_id": r.config.Model})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.config.APIURL+"/speech-to-text", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("xi-api-key", r.config.APIKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("STT error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return Silence, nil
	}
	return text, nil
}

// multipartAudio 组装带 WAV 文件和表单字段的 multipart 请求体。
func multipartAudio(audio []byte, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}
