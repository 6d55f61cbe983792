package speech

import (
	"strings"
	"unicode"
)

// sentenceEnders 句子终结符。通话内容以英文为主，但客户可能切换语言，
// 所以同时认全角标点。
var sentenceEnders = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true,
	'…': true,
}

// trailingRunes 句尾可以跟着的引号/括号，归入前一句。
var trailingRunes = map[rune]bool{
	'"': true, '\'': true, ')': true, '”': true, '’': true, '）': true,
}

// SplitSentences 把滚动缓冲切成完整句子和未完结的尾部。
//
// 规则：
//   - 终结符后必须是空白、句尾引号或缓冲结尾才算句界；
//   - 句点两侧都是数字时不切（金额 "$12.50"、日期等）；
//   - 尾部 remainder 可能还会被后续片段补全，调用方继续累积。
func SplitSentences(buffer string) (complete []string, remainder string) {
	runes := []rune(buffer)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !sentenceEnders[runes[i]] {
			continue
		}

		// 小数点保护：前后都是数字说明在数值中间。
		if runes[i] == '.' &&
			i > 0 && unicode.IsDigit(runes[i-1]) &&
			i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
			continue
		}

		// 吃掉连续终结符（"?!"、"..."）和句尾引号。
		end := i + 1
		for end < len(runes) && (sentenceEnders[runes[end]] || trailingRunes[runes[end]]) {
			end++
		}

		// 终结符后紧跟非空白字符时不算句界（如 "v1.2" 的场景）。
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			i = end - 1
			continue
		}

		sentence := strings.TrimSpace(string(runes[start:end]))
		if sentence != "" {
			complete = append(complete, sentence)
		}
		start = end
		i = end - 1
	}

	return complete, strings.TrimLeftFunc(string(runes[start:]), unicode.IsSpace)
}
