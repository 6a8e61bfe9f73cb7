// Package chunk 把文档正文切成按章节边界对齐的有序工作单元。
// 不变量：所有分片内容按序拼接能精确还原正文（无损切分）。
package chunk

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/doc2md/agent/internal/structure"
	"github.com/doc2md/agent/internal/textrepair"
)

// Job 一个待转换的分片
type Job struct {
	Content          string   // 原文切片
	SectionID        string   // 章节编号，无编号时为合成 id
	SectionHeading   string   // 该分片允许输出的唯一编号标题，可为空
	AllowedHeadings  []string // 0 或 1 个元素
	ContinuationMode bool     // 续写分片：禁止输出任何标题
	ChunkHasHeading  bool     // 原文切片自身是否带标题行
	PreviousHeading  string   // 上一章节标题（给模型的上下文）
	NextHeading      string   // 下一章节标题（给模型的上下文）
}

// 提取产物中的原始一级标题行
var rawHeadingRe = regexp.MustCompile(`^\s*#\s+`)

var anyHeadingInChunkRe = regexp.MustCompile(`(?m)^\s*#\s+`)

// rawSection 按原始一级标题切出的一段
type rawSection struct {
	content     string
	hasHeading  bool
	headingText string
}

// splitRawSections 按提取产物的 # 行切分正文
func splitRawSections(body string) []rawSection {
	lines := strings.Split(body, "\n")
	var groups [][]string
	var current []string

	for _, line := range lines {
		if rawHeadingRe.MatchString(line) {
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = []string{line}
		} else {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	sections := make([]rawSection, 0, len(groups))
	for _, group := range groups {
		sec := rawSection{content: strings.Join(group, "\n")}
		for _, ln := range group {
			if strings.TrimSpace(ln) == "" {
				continue
			}
			if rawHeadingRe.MatchString(ln) {
				sec.hasHeading = true
				sec.headingText = textrepair.StripHeadingAttrs(
					strings.TrimSpace(rawHeadingRe.ReplaceAllString(ln, "")))
			}
			break
		}
		sections = append(sections, sec)
	}
	return sections
}

// SplitBySize 按尺寸预算切分，代码围栏内不切；
// 优先切在标题行，超过预算八成后允许在任意行边界切
func SplitBySize(text string, chunkSize int) []string {
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	var current []string
	currentSize := 0
	inCodeBlock := false
	soft := int(float64(chunkSize) * 0.8)

	for _, line := range strings.Split(text, "\n") {
		lineSize := len(line) + 1

		isFence := strings.HasPrefix(strings.TrimSpace(line), "```")
		closingFence := isFence && inCodeBlock
		if isFence {
			inCodeBlock = !inCodeBlock
		}

		// 闭围栏行必须留在当前分片里，不能成为新分片的开头
		if !inCodeBlock && !closingFence && currentSize+lineSize > chunkSize && currentSize > 0 {
			if strings.HasPrefix(line, "#") || currentSize > soft {
				chunks = append(chunks, strings.Join(current, "\n"))
				current = nil
				currentSize = 0
			}
		}

		current = append(current, line)
		currentSize += lineSize
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}

// Plan 生成有序分片任务：先按章节切，再对超长章节按尺寸继续切。
// 同一章节只有首个分片允许输出标题，后续分片全部进入续写模式。
func Plan(body string, expectedHeadings []string, chunkSize int) []Job {
	sections := splitRawSections(body)
	var jobs []Job
	headingIndex := 0

	for _, sec := range sections {
		var numberedHeading, sectionID, prevHeading, nextHeading string

		if sec.hasHeading {
			if headingIndex < len(expectedHeadings) {
				numberedHeading = expectedHeadings[headingIndex]
			} else {
				numberedHeading = sec.headingText
			}
			sectionID = structure.SectionID(numberedHeading)
			if sectionID == "" {
				sectionID = "section-" + strconv.Itoa(headingIndex+1)
			}
			if headingIndex > 0 {
				prevHeading = expectedHeadings[headingIndex-1]
			}
			if headingIndex+1 < len(expectedHeadings) {
				nextHeading = expectedHeadings[headingIndex+1]
			}
			headingIndex++
		} else {
			sectionID = "preamble-" + strconv.Itoa(len(jobs)+1)
			if headingIndex > 0 {
				prevHeading = expectedHeadings[headingIndex-1]
			}
			if headingIndex < len(expectedHeadings) {
				nextHeading = expectedHeadings[headingIndex]
			}
		}

		pieces := SplitBySize(sec.content, chunkSize)
		for idx, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunkHasHeading := anyHeadingInChunkRe.MatchString(piece)
			var allowed []string
			if numberedHeading != "" {
				allowed = []string{numberedHeading}
			}
			jobs = append(jobs, Job{
				Content:          piece,
				SectionID:        sectionID,
				SectionHeading:   numberedHeading,
				AllowedHeadings:  allowed,
				ContinuationMode: idx > 0 || !chunkHasHeading,
				ChunkHasHeading:  chunkHasHeading,
				PreviousHeading:  prevHeading,
				NextHeading:      nextHeading,
			})
		}
	}
	return jobs
}

// PlanFlat 无章节标记时的纯尺寸切分：各分片独立，不约束标题
func PlanFlat(body string, chunkSize int) []Job {
	var jobs []Job
	for i, piece := range SplitBySize(body, chunkSize) {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		jobs = append(jobs, Job{
			Content:          piece,
			SectionID:        "flat-" + strconv.Itoa(i+1),
			ContinuationMode: false,
			ChunkHasHeading:  anyHeadingInChunkRe.MatchString(piece),
		})
	}
	return jobs
}

