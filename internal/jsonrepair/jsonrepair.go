// Package jsonrepair 提供对提取产物中 JSON-like 文本的分级修复。
//
// 修复按阶段递进：直接解析 → 轻量清洗 → 智能补全，任一阶段可解析即停止，
// 解析结果统一以 2 空格缩进重新序列化，保证规范化幂等。
package jsonrepair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Stage 标识修复成功所处的阶段
type Stage int

const (
	StageDirect Stage = iota // 原文直接可解析
	StageSanitize            // 轻量清洗后可解析
	StageSmartFill           // 智能补全后可解析
)

// String 返回阶段名称
func (s Stage) String() string {
	switch s {
	case StageDirect:
		return "direct"
	case StageSanitize:
		return "sanitize"
	case StageSmartFill:
		return "smart_fill"
	default:
		return "unknown"
	}
}

// ParseError JSON 修复彻底失败时的错误，尽量携带出错位置
type ParseError struct {
	Line   int
	Column int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("JSON 无法解析（第 %d 行第 %d 列）: %s", e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("JSON 无法解析: %s", e.Reason)
}

// Normalize 对代码块文本做分级修复并返回规范化后的 JSON 文本。
// 返回值依次为：规范化文本、成功阶段、错误（所有阶段均失败时非 nil）。
func Normalize(block string) (string, Stage, error) {
	trimmed := strings.TrimSpace(block)
	if trimmed == "" {
		return "", StageDirect, &ParseError{Reason: "内容为空"}
	}

	if out, ok := reindent(trimmed); ok {
		return out, StageDirect, nil
	}

	sanitized := Sanitize(trimmed)
	if out, ok := reindent(sanitized); ok {
		return out, StageSanitize, nil
	}

	filled := SmartFill(sanitized)
	if out, ok := reindent(filled); ok {
		return out, StageSmartFill, nil
	}

	return "", StageSmartFill, locate(trimmed)
}

// reindent 校验并以稳定的 2 空格缩进重排 JSON
func reindent(s string) (string, bool) {
	data := []byte(s)
	if !json.Valid(data) {
		return "", false
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return "", false
	}

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return "", false
	}
	return out.String(), true
}

// locate 解析一次以提取出错行列
func locate(s string) *ParseError {
	var v interface{}
	err := json.Unmarshal([]byte(s), &v)
	if err == nil {
		return &ParseError{Reason: "未知原因"}
	}

	if syntaxErr, ok := err.(*json.SyntaxError); ok {
		prefix := s[:min(int(syntaxErr.Offset), len(s))]
		line := strings.Count(prefix, "\n") + 1
		column := len(prefix) - strings.LastIndex(prefix, "\n")
		return &ParseError{Line: line, Column: column, Reason: syntaxErr.Error()}
	}
	return &ParseError{Reason: err.Error()}
}

var (
	nbspRe          = regexp.MustCompile(" ")
	mailtoLinkRe    = regexp.MustCompile(`\[([^\]\s]+@[^\]\s]+)\]\(mailto:[^)]*\)`)
	invalidEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareValueRe     = regexp.MustCompile(`(:\s*)([A-Za-z0-9_./:+-]*[A-Za-z][A-Za-z0-9_./:+-]*)(\s*[,}\]])`)
	numericRe       = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

// Sanitize 对 JSON-like 文本做轻量清洗：
// 弯引号归一、NBSP 去除、邮箱 mailto 链接残留还原、非法转义去除、
// 双重转义引号折叠、尾随逗号去除、含字母的裸值补引号。
func Sanitize(text string) string {
	s := strings.TrimSpace(text)

	// 弯引号 → 直引号
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
	s = replacer.Replace(s)

	s = nbspRe.ReplaceAllString(s, " ")

	// pandoc 会把邮箱值提取为 [user@host](mailto:user@host)
	s = mailtoLinkRe.ReplaceAllString(s, "$1")

	// 双重转义的引号与中括号折叠为本体
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\[`, "[")
	s = strings.ReplaceAll(s, `\]`, "]")

	s = invalidEscapeRe.ReplaceAllString(s, "$1")
	s = trailingCommaRe.ReplaceAllString(s, "$1")

	// 1118xxxx5311 这类掩码值补引号，true/false/null 与纯数字除外
	s = bareValueRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := bareValueRe.FindStringSubmatch(m)
		value := sub[2]
		lower := strings.ToLower(value)
		if lower == "true" || lower == "false" || lower == "null" {
			return m
		}
		if numericRe.MatchString(value) {
			return m
		}
		return sub[1] + `"` + value + `"` + sub[3]
	})

	return s
}

var (
	lineCommentRe  = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	unquotedKeyRe  = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
)

// SmartFill 对清洗后仍不可解析的文本做结构性补全：
// 注释剥离、未引号键补引号、单引号转双引号、相邻值间补逗号、括号配平。
func SmartFill(text string) string {
	s := lineCommentRe.ReplaceAllString(text, "")
	s = blockCommentRe.ReplaceAllString(s, "")
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	s = convertSingleQuotes(s)
	s = insertMissingCommas(s)
	s = balanceBrackets(s)
	return strings.TrimSpace(s)
}

// convertSingleQuotes 把单引号字符串转为双引号字符串（双引号字符串内部不动）
func convertSingleQuotes(s string) string {
	var out strings.Builder
	inDouble := false
	inSingle := false
	escaped := false

	for _, r := range s {
		if escaped {
			out.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && (inDouble || inSingle):
			out.WriteRune(r)
			escaped = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			out.WriteRune(r)
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			out.WriteRune('"')
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}

// insertMissingCommas 在相邻的值/对象边界之间补逗号，逐行处理
func insertMissingCommas(s string) string {
	lines := strings.Split(s, "\n")
	valueEndRe := regexp.MustCompile(`["\d\]}]|true|false|null$`)
	valueStartRe := regexp.MustCompile(`^\s*["{\[]|^\s*-?\d`)

	for i := 0; i < len(lines)-1; i++ {
		cur := strings.TrimRight(lines[i], " \t")
		if cur == "" {
			continue
		}
		next := lines[i+1]
		trimmedNext := strings.TrimSpace(next)
		if trimmedNext == "" || strings.HasPrefix(trimmedNext, "}") || strings.HasPrefix(trimmedNext, "]") {
			continue
		}
		last := cur[len(cur)-1]
		if last == ',' || last == '{' || last == '[' || last == ':' {
			continue
		}
		if valueEndRe.MatchString(cur) && valueStartRe.MatchString(next) {
			lines[i] = cur + ","
		}
	}
	return strings.Join(lines, "\n")
}

// balanceBrackets 用感知字符串的括号栈补齐缺失的闭括号、丢弃多余的闭括号
func balanceBrackets(s string) string {
	var out strings.Builder
	var stack []rune
	inString := false
	escaped := false

	for _, r := range s {
		if escaped {
			out.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && inString:
			out.WriteRune(r)
			escaped = true
		case r == '"':
			inString = !inString
			out.WriteRune(r)
		case inString:
			out.WriteRune(r)
		case r == '{' || r == '[':
			stack = append(stack, r)
			out.WriteRune(r)
		case r == '}' || r == ']':
			if len(stack) == 0 {
				continue // 多余的闭括号直接丢弃
			}
			open := stack[len(stack)-1]
			if (r == '}' && open == '{') || (r == ']' && open == '[') {
				stack = stack[:len(stack)-1]
				out.WriteRune(r)
			}
			// 不匹配的闭括号同样丢弃
		default:
			out.WriteRune(r)
		}
	}

	// 未闭合的括号按栈序补齐
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out.WriteRune('}')
		} else {
			out.WriteRune(']')
		}
	}
	return out.String()
}

// KeyDepth 记录 JSON 示例中一个键及其出现深度（深度优先序）
type KeyDepth struct {
	Key   string
	Depth int
}

// KeyDepthSequence 按深度优先序提取 JSON 文本的键→深度序列。
// 数组只取首元素采样，顶层深度为 0。文本不可解析时返回 nil。
func KeyDepthSequence(block string) []KeyDepth {
	normalized, _, err := Normalize(block)
	if err != nil {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(normalized))
	dec.UseNumber()

	var seq []KeyDepth
	walkValue(dec, 0, &seq)
	return seq
}

// walkValue 消费一个值；对象展开键，数组仅采样首元素
func walkValue(dec *json.Decoder, depth int, seq *[]KeyDepth) {
	tok, err := dec.Token()
	if err != nil {
		return
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return // 标量，无键可采
	}

	switch delim {
	case '{':
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return
			}
			key, _ := keyTok.(string)
			*seq = append(*seq, KeyDepth{Key: key, Depth: depth})
			walkValue(dec, depth+1, seq)
		}
		dec.Token() // 消费 '}'
	case '[':
		first := true
		for dec.More() {
			if first {
				walkValue(dec, depth, seq)
				first = false
			} else {
				skipValue(dec)
			}
		}
		dec.Token() // 消费 ']'
	}
}

// skipValue 丢弃一个完整的值
func skipValue(dec *json.Decoder) {
	tok, err := dec.Token()
	if err != nil {
		return
	}
	if delim, ok := tok.(json.Delim); ok && (delim == '{' || delim == '[') {
		for dec.More() {
			if delim == '{' {
				dec.Token() // 键
			}
			skipValue(dec)
		}
		dec.Token() // 闭定界符
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
