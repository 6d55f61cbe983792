package speech

import (
	"context"
	"fmt"
	"log"
	"strings"

	"fraud-call/server/internal/llm"
)

// Mode 决定生成文本如何变成语音。
type Mode string

const (
	// ModeText 不合成，只把文本打到日志（调试/纯文本通话）。
	ModeText Mode = "text"
	// ModeWhole 等整段文本生成完，一次性交给合成。
	ModeWhole Mode = "whole"
	// ModeSentence 按句切分、边生成边合成。
	ModeSentence Mode = "sentence"
)

// Dispatcher 把 LLM 的片段流变成有序的语音输出。
//
// ModeSentence 下生产者（生成+切句）和消费者（合成）并发运行，中间是
// 有界 FIFO 队列：早句的合成和晚句的生成重叠，但 Segment 严格按入队
// 顺序合成，入队后不会被重排或丢弃。Speak 在两侧都结束后才返回，
// 因为完整文本还要进对话历史和分类上下文。
type Dispatcher struct {
	mode     Mode
	synth    Synthesizer
	queueCap int
	logger   *log.Logger
}

// NewDispatcher 创建语音分发器。mode 为 ModeText 时 synth 可以为 nil。
func NewDispatcher(mode Mode, synth Synthesizer, queueCap int, logger *log.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	switch mode {
	case ModeText:
	case ModeWhole, ModeSentence:
		if synth == nil {
			return nil, fmt.Errorf("mode %s requires a synthesizer", mode)
		}
	default:
		return nil, fmt.Errorf("unsupported speech mode: %s", mode)
	}
	if queueCap <= 0 {
		queueCap = 16
	}
	return &Dispatcher{mode: mode, synth: synth, queueCap: queueCap, logger: logger}, nil
}

// Speak 消费片段流并播报，返回完整文本。
//
// 失败语义：生成或合成中途出错时返回已经拿到的文本和错误，已播报的内容
// 不回收——调用方照常把部分文本写进对话历史（fail forward）。
func (d *Dispatcher) Speak(ctx context.Context, fragments <-chan llm.Fragment) (string, error) {
	switch d.mode {
	case ModeText:
		return d.speakText(fragments)
	case ModeWhole:
		return d.speakWhole(ctx, fragments)
	default:
		return d.speakSentences(ctx, fragments)
	}
}

// speakText 只记录文本，不做合成。
func (d *Dispatcher) speakText(fragments <-chan llm.Fragment) (string, error) {
	var full strings.Builder
	for f := range fragments {
		if f.Err != nil {
			return strings.TrimSpace(full.String()), fmt.Errorf("generation stream: %w", f.Err)
		}
		full.WriteString(f.Text)
	}
	d.logger.Printf("[Speech] (text) %s", strings.TrimSpace(full.String()))
	return strings.TrimSpace(full.String()), nil
}

// speakWhole 先攒全量文本，再一次性合成。
func (d *Dispatcher) speakWhole(ctx context.Context, fragments <-chan llm.Fragment) (string, error) {
	var full strings.Builder
	for f := range fragments {
		if f.Err != nil {
			return strings.TrimSpace(full.String()), fmt.Errorf("generation stream: %w", f.Err)
		}
		full.WriteString(f.Text)
	}

	text := strings.TrimSpace(full.String())
	if text == "" {
		return "", nil
	}
	if err := d.synth.Synthesize(ctx, text); err != nil {
		return text, fmt.Errorf("synthesize: %w", err)
	}
	return text, nil
}

// speakSentences 增量合成：片段进来就切句，完整句推入有界队列，
// 单个消费者按 FIFO 顺序同步合成。关闭队列即 end-of-utterance 信号，
// 消费者处理完剩余 Segment 后退出，不会泄漏。
func (d *Dispatcher) speakSentences(ctx context.Context, fragments <-chan llm.Fragment) (string, error) {
	segments := make(chan string, d.queueCap)
	done := make(chan error, 1)

	go func() {
		var firstErr error
		for seg := range segments {
			// 即使之前某句合成失败，也把队列消费完，保证生产方不被卡死。
			if firstErr != nil {
				continue
			}
			if err := d.synth.Synthesize(ctx, seg); err != nil {
				d.logger.Printf("[Speech] ⚠️ synthesize failed: %v", err)
				firstErr = err
			}
		}
		done <- firstErr
	}()

	var full strings.Builder
	var buffer string
	var streamErr error

	for f := range fragments {
		if f.Err != nil {
			streamErr = f.Err
			break
		}
		full.WriteString(f.Text)
		buffer += f.Text

		complete, rest := SplitSentences(buffer)
		buffer = rest
		for _, sentence := range complete {
			select {
			case segments <- sentence:
			case <-ctx.Done():
				close(segments)
				<-done
				return strings.TrimSpace(full.String()), ctx.Err()
			}
		}
	}

	// 流结束后把未完结的尾句也播出去。
	if tail := strings.TrimSpace(buffer); tail != "" && streamErr == nil {
		select {
		case segments <- tail:
		case <-ctx.Done():
		}
	}

	close(segments)
	synthErr := <-done

	text := strings.TrimSpace(full.String())
	if streamErr != nil {
		return text, fmt.Errorf("generation stream: %w", streamErr)
	}
	if synthErr != nil {
		return text, fmt.Errorf("synthesize: %w", synthErr)
	}
	return text, nil
}
