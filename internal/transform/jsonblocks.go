package transform

import (
	"regexp"
	"strings"

	"github.com/doc2md/agent/internal/jsonrepair"
)

var jsonFenceRe = regexp.MustCompile("(?s)```json[ \t]*\n(.*?)\n```")

// jsonDowngradeNotice 无法修复的 JSON 块降级为普通代码块时附带的提示
const jsonDowngradeNotice = "> 注意：以下示例无法解析为合法 JSON，已按原文保留。"

// jsonStats JSON 块处理的计数
type jsonStats struct {
	seen       int // 处理过的块数
	repaired   int // 非直接解析、经修复后可用的块数
	downgraded int // 彻底失败、降级为普通块的块数
}

// normalizeJSONBlock 规范化单个 JSON 块。
// 返回替换后的完整围栏文本（含围栏行）与该块的处理结果。
func normalizeJSONBlock(content string) (string, bool, jsonrepair.Stage) {
	normalized, stage, err := jsonrepair.Normalize(content)
	if err != nil {
		return jsonDowngradeNotice + "\n\n```text\n" + strings.TrimSpace(content) + "\n```", false, stage
	}
	return "```json\n" + normalized + "\n```", true, stage
}

// repairOutputJSONBlocks 把输出中的全部 ```json 块过一遍修复流水线：
// 可解析的以规范化形式回写，彻底失败的降级为带提示的普通代码块。
func repairOutputJSONBlocks(text string, stats *jsonStats) string {
	return jsonFenceRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := jsonFenceRe.FindStringSubmatch(m)
		stats.seen++
		replaced, ok, stage := normalizeJSONBlock(sub[1])
		switch {
		case !ok:
			stats.downgraded++
		case stage != jsonrepair.StageDirect:
			stats.repaired++
		}
		return replaced
	})
}

// replaceJSONBlocksWithSource 用源分片自己的 JSON 块（规范化后）回填输出，
// 模型绝不被信任原样复述 JSON。输出块多于源块时多出的保留原样，
// 少于源块时缺的追加到末尾。源块本身无法修复时降级为带提示的普通块。
func replaceJSONBlocksWithSource(sourceChunk, converted string, stats *jsonStats) string {
	sourceMatches := jsonFenceRe.FindAllStringSubmatch(sourceChunk, -1)
	if len(sourceMatches) == 0 {
		return converted
	}

	normalizedSources := make([]string, len(sourceMatches))
	for i, m := range sourceMatches {
		stats.seen++
		replaced, ok, stage := normalizeJSONBlock(strings.TrimSpace(m[1]))
		switch {
		case !ok:
			stats.downgraded++
		case stage != jsonrepair.StageDirect:
			stats.repaired++
		}
		normalizedSources[i] = replaced
	}

	outLocs := jsonFenceRe.FindAllStringIndex(converted, -1)
	if len(outLocs) == 0 {
		appended := strings.Join(normalizedSources, "\n\n")
		if strings.TrimSpace(converted) == "" {
			return appended
		}
		return strings.TrimRight(converted, "\n ") + "\n\n" + appended
	}

	var b strings.Builder
	lastEnd := 0
	for i, loc := range outLocs {
		b.WriteString(converted[lastEnd:loc[0]])
		if i < len(normalizedSources) {
			b.WriteString(normalizedSources[i])
		} else {
			b.WriteString(converted[loc[0]:loc[1]])
		}
		lastEnd = loc[1]
	}
	b.WriteString(converted[lastEnd:])

	if len(outLocs) < len(normalizedSources) {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(normalizedSources[len(outLocs):], "\n\n"))
	}
	return b.String()
}

// countJSONBlocks 统计 ```json 围栏块数量
func countJSONBlocks(text string) int {
	return len(jsonFenceRe.FindAllString(text, -1))
}
