// Package textrepair 提供一组独立、幂等的纯文本修复函数，
// 用于修复提取产物与模型输出中的结构缺陷（表格、标题、JSON、curl 等），
// 按固定顺序组成修复流水线，各函数可单独测试。
package textrepair

import (
	"regexp"
	"strings"
)

// 编号标题行，如 "## 2.1 查询接口"
var numberedHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(\d+(?:\.\d+)*)\s+(.+)$`)

// 任意标题行
var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// 标题上残留的 pandoc 锚点属性，如 {#section-1}
var headingAttrRe = regexp.MustCompile(`\s*\{#[^}]*\}\s*$`)

// 错误码取值：行首可带表格竖线的 4~6 位数字
var errorCodeRe = regexp.MustCompile(`^\s*\|?\s*(\d{4,6})\s*(?:\||\s{2,})`)

// HeadingRef 文档中一条编号标题
type HeadingRef struct {
	ID    string // 数字编号路径，如 "2.1.3"
	Title string // 编号之后的标题文本
	Depth int    // 标题标记深度（# 的个数）
	Line  int    // 所在行号（0 起）
}

// FencedBlock 一个围栏代码块
type FencedBlock struct {
	Lang      string // 围栏语言标记，可能为空
	Content   string // 不含围栏行的内容
	StartLine int    // 开围栏所在行号
	EndLine   int    // 闭围栏所在行号；未闭合时为最后一行
}

// HeadingDepthForID 数字编号路径蕴含的标题深度，如 "2.1.3" → 4，上限 6
func HeadingDepthForID(id string) int {
	depth := strings.Count(id, ".") + 2
	if depth > 6 {
		depth = 6
	}
	return depth
}

// NormalizeHeadingText 标题文本的比较键：去属性、压空白、转小写
func NormalizeHeadingText(heading string) string {
	s := headingAttrRe.ReplaceAllString(heading, "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// StripHeadingAttrs 去除标题文本尾部残留的 {#xxx} 属性
func StripHeadingAttrs(title string) string {
	return strings.TrimSpace(headingAttrRe.ReplaceAllString(title, ""))
}

// isFenceLine 是否围栏行
func isFenceLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// fenceLang 围栏行的语言标记
func fenceLang(line string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "```"))
}

// ScanFencedBlocks 扫描全部围栏代码块
func ScanFencedBlocks(text string) []FencedBlock {
	lines := strings.Split(text, "\n")
	var blocks []FencedBlock

	for i := 0; i < len(lines); i++ {
		if !isFenceLine(lines[i]) {
			continue
		}
		block := FencedBlock{Lang: fenceLang(lines[i]), StartLine: i}
		var content []string
		j := i + 1
		for ; j < len(lines); j++ {
			if isFenceLine(lines[j]) {
				break
			}
			content = append(content, lines[j])
		}
		block.Content = strings.Join(content, "\n")
		if j < len(lines) {
			block.EndLine = j
		} else {
			block.EndLine = len(lines) - 1
		}
		blocks = append(blocks, block)
		i = block.EndLine
	}
	return blocks
}

// ExtractJSONBlocks 提取全部 ```json 围栏块的内容，按出现顺序
func ExtractJSONBlocks(text string) []string {
	var out []string
	for _, b := range ScanFencedBlocks(text) {
		if strings.EqualFold(b.Lang, "json") {
			out = append(out, b.Content)
		}
	}
	return out
}

// RemoveFencedBlocks 去掉全部围栏代码块，留出仅含正文的文本
func RemoveFencedBlocks(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	inFence := false

	for _, line := range lines {
		if isFenceLine(line) {
			inFence = !inFence
			continue
		}
		if !inFence {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// ScanNumberedHeadings 提取围栏外的全部编号标题
func ScanNumberedHeadings(text string) []HeadingRef {
	lines := strings.Split(text, "\n")
	var refs []HeadingRef
	inFence := false

	for i, line := range lines {
		if isFenceLine(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := numberedHeadingRe.FindStringSubmatch(line); m != nil {
			refs = append(refs, HeadingRef{
				ID:    m[2],
				Title: StripHeadingAttrs(m[3]),
				Depth: len(m[1]),
				Line:  i,
			})
		}
	}
	return refs
}

// ExtractErrorCodes 提取文本中的错误码集合（4~6 位数字，出现在表格或对齐列中）
func ExtractErrorCodes(text string) map[string]struct{} {
	codes := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		if m := errorCodeRe.FindStringSubmatch(line); m != nil {
			codes[m[1]] = struct{}{}
		}
	}
	return codes
}

// HasHeadingOutsideCode 围栏外是否存在标题行
func HasHeadingOutsideCode(text string) bool {
	for _, line := range strings.Split(RemoveFencedBlocks(text), "\n") {
		if headingRe.MatchString(line) {
			return true
		}
	}
	return false
}
