package llm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// scanSSE 逐行解析 Server-Sent Events 流，把每个 data 段交给 handle。
// handle 返回 true 表示流正常结束，返回 error 表示异常终止。
func scanSSE(r io.Reader, handle func(data string) (done bool, err error)) error {
	scanner := bufio.NewScanner(r)
	// 单个 delta 事件可能超过默认的 64KB 行上限。
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			// event: 行等元信息直接跳过，data 行才承载内容。
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		done, err := handle(data)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
