package stt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Silence 识别器听不到有效语音时返回的哨兵值。
// 轮次执行器把它和空输入同等对待：按 REPEAT 处理，不浪费一次分类调用。
const Silence = "silence"

// Recognizer 获取客户的下一句话。语音识别和直接文本输入实现同一接口，
// 状态机不区分来源。
type Recognizer interface {
	Listen(ctx context.Context) (string, error)
}

// TextRecognizer 从 Reader 逐行读取客户输入（交互式文本通话）。
type TextRecognizer struct {
	scanner *bufio.Scanner
	prompt  func()
}

// NewTextRecognizer 创建文本输入识别器。prompt 在每次等待输入前调用，
// 可以为 nil。
func NewTextRecognizer(r io.Reader, prompt func()) *TextRecognizer {
	return &TextRecognizer{scanner: bufio.NewScanner(r), prompt: prompt}
}

// Listen 读取一行输入；流结束按 Silence 处理。
func (t *TextRecognizer) Listen(_ context.Context) (string, error) {
	if t.prompt != nil {
		t.prompt()
	}
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return Silence, nil
	}
	text := strings.TrimSpace(t.scanner.Text())
	if text == "" {
		return Silence, nil
	}
	return text, nil
}

// ChannelRecognizer 从通道取输入，API 层把 HTTP 请求里的客户文本
// 桥接给正在进行的通话就靠它。
type ChannelRecognizer struct {
	in <-chan string
}

// NewChannelRecognizer 创建通道输入识别器。
func NewChannelRecognizer(in <-chan string) *ChannelRecognizer {
	return &ChannelRecognizer{in: in}
}

// Listen 阻塞等待下一条输入；通道关闭按 Silence 处理。
func (c *ChannelRecognizer) Listen(ctx context.Context) (string, error) {
	select {
	case text, ok := <-c.in:
		if !ok {
			return Silence, nil
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return Silence, nil
		}
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
