// Package assemble 负责把转换完成的分片组装为最终 Markdown 文档：
// 合并、图片路径修复、版式清理、目录生成与整篇硬校验。
package assemble

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/doc2md/agent/internal/jsonrepair"
	"github.com/doc2md/agent/internal/prompts"
	"github.com/doc2md/agent/internal/structure"
	"github.com/doc2md/agent/internal/textrepair"
	"github.com/doc2md/agent/pkg/providers"
)

// Options 组装行为配置
type Options struct {
	// ImageDir 输出目录下的图片子目录名
	ImageDir string
	// GenerateTOC 是否生成目录
	GenerateTOC bool
	// DeterministicTOC 为 true 时跳过模型、直接用标题生成目录
	DeterministicTOC bool
	// StrictMode 为 true 时执行整篇硬校验
	StrictMode bool
	// MaxReportItems 校验报告中样例条目的上限
	MaxReportItems int
}

// DefaultOptions 返回默认组装配置
func DefaultOptions() Options {
	return Options{
		ImageDir:         "images",
		GenerateTOC:      true,
		DeterministicTOC: true,
		StrictMode:       true,
		MaxReportItems:   8,
	}
}

// Report 组装过程的可观测结果
type Report struct {
	// TOCFallback 模型目录生成失败、已退回确定性目录
	TOCFallback bool
	// TOCFallbackReason 退回原因
	TOCFallbackReason string
	// ValidationIssues 硬校验发现的问题，空表示通过
	ValidationIssues []string
}

// ValidationError 聚合整篇校验的全部问题
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "最终输出校验失败: " + strings.Join(e.Issues, "；")
}

// Assembler 文档组装器。provider 仅在模型目录模式下使用，可为 nil。
type Assembler struct {
	provider providers.Provider
	logger   *zap.Logger
	opts     Options
}

// New 创建组装器
func New(provider providers.Provider, opts Options, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ImageDir == "" {
		opts.ImageDir = "images"
	}
	if opts.MaxReportItems <= 0 {
		opts.MaxReportItems = 8
	}
	return &Assembler{provider: provider, logger: logger, opts: opts}
}

// Assemble 合并分片并输出最终文档。
// rawMD 为预处理后的源文本，用于错误码章节比对；
// expectedHeadings 为结构分析得到的标题清单，用于完整性比对。
// 校验问题记入 Report 由调用方决定是否致命。
func (a *Assembler) Assemble(ctx context.Context, chunks []string, imageMapping map[string]string, rawMD string, expectedHeadings []string) (string, *Report, error) {
	report := &Report{}

	text := strings.Join(chunks, "\n\n")
	text = FixImagePaths(text, imageMapping, a.opts.ImageDir)
	text = textrepair.Repair(text)
	text = SpaceAdjacentBoldLines(text)

	if a.opts.GenerateTOC {
		// 源里残留的旧目录先删掉，统一重新生成
		text = textrepair.RemoveTOC(text)
		toc := a.buildTOC(ctx, text, report)
		if toc != "" {
			text = textrepair.InsertTOC(text, toc)
		}
	}

	text = CleanOutput(text)

	if a.opts.StrictMode {
		report.ValidationIssues = ValidateFinal(rawMD, text, expectedHeadings, a.opts.MaxReportItems)
	}
	return text, report, nil
}

// PostprocessPartial 对中途终止的半成品文本做确定性整理：
// 与完整组装相同的修复与清理，但绝不触发模型调用。
func (a *Assembler) PostprocessPartial(text string, imageMapping map[string]string) string {
	text = FixImagePaths(text, imageMapping, a.opts.ImageDir)
	text = textrepair.Repair(text)
	text = SpaceAdjacentBoldLines(text)

	if a.opts.GenerateTOC {
		text = textrepair.RemoveTOC(text)
		if toc := textrepair.SimpleTOC(text); toc != "" {
			text = textrepair.InsertTOC(text, toc)
		}
	}
	return CleanOutput(text)
}

// buildTOC 生成目录文本。模型模式失败时退回确定性目录并记录原因。
func (a *Assembler) buildTOC(ctx context.Context, text string, report *Report) string {
	if a.opts.DeterministicTOC || a.provider == nil {
		return textrepair.SimpleTOC(text)
	}

	outline := headingOutline(text)
	if outline == "" {
		return ""
	}
	resp, err := a.provider.Invoke(ctx, &providers.Request{
		SystemPrompt: prompts.TocSystem,
		UserPrompt:   prompts.TocUser(outline),
		Metadata:     map[string]string{"operation": "generate_toc"},
	})
	if err != nil {
		a.logger.Warn("模型目录生成失败，退回确定性目录", zap.Error(err))
		report.TOCFallback = true
		report.TOCFallbackReason = err.Error()
		return textrepair.SimpleTOC(text)
	}
	return strings.TrimSpace(textrepair.StripOuterFence(resp.Content))
}

// headingOutline 提取 h2 及以下标题的缩进列表，供模型目录提示词使用
func headingOutline(markdown string) string {
	var lines []string
	for _, line := range strings.Split(markdown, "\n") {
		m := outlineHeadingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := textrepair.StripHeadingAttrs(strings.TrimSpace(m[2]))
		if title == "目录" {
			continue
		}
		lines = append(lines, strings.Repeat("  ", len(m[1])-2)+"- "+title)
	}
	return strings.Join(lines, "\n")
}

var (
	outlineHeadingRe = regexp.MustCompile(`^(#{2,6})\s+(.+)$`)
	adjacentBoldRe   = regexp.MustCompile(`(?m)^(\*\*[^*]+\*\*)\n(\*\*[^*]+\*\*)$`)
	imageRefRe       = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	mediaMediaRe     = regexp.MustCompile(`media/media/(\w+\.\w+)`)
	h1Re             = regexp.MustCompile(`(?m)^#\s+.+$`)
	headingLineRe    = regexp.MustCompile(`^\s*#{1,6}\s+`)
	headingNumberRe  = regexp.MustCompile(`^\d+(?:\.\d+)*\s+`)
)

// SpaceAdjacentBoldLines 在相邻的两行加粗标签之间补空行，避免渲染粘连
func SpaceAdjacentBoldLines(text string) string {
	return adjacentBoldRe.ReplaceAllString(text, "$1\n\n$2")
}

// FixImagePaths 仅在图片语法内部重写路径：先按映射表（长键优先）替换，
// 再做 media/media 折叠、图片目录去重与多余前缀剥除。
func FixImagePaths(markdown string, mapping map[string]string, imageDir string) string {
	markdown = textrepair.StripImageAttrs(markdown)

	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	return imageRefRe.ReplaceAllStringFunc(markdown, func(m string) string {
		sub := imageRefRe.FindStringSubmatch(m)
		alt, path := sub[1], sub[2]

		for _, old := range keys {
			if strings.Contains(path, old) {
				path = strings.ReplaceAll(path, old, mapping[old])
				break
			}
		}

		path = mediaMediaRe.ReplaceAllString(path, imageDir+"/$1")

		doubled := imageDir + "/" + imageDir + "/"
		for strings.Contains(path, doubled) {
			path = strings.ReplaceAll(path, doubled, imageDir+"/")
		}

		if pos := strings.Index(path, imageDir+"/"); pos > 0 {
			path = path[pos:]
		}
		return "![" + alt + "](" + path + ")"
	})
}

// CleanOutput 输出前的最后清理：外层围栏、被拆断的 JSON 围栏与多余空行
func CleanOutput(markdown string) string {
	text := textrepair.StripOuterFence(markdown)
	text = textrepair.MergeBrokenJSONBlocks(text)
	text = textrepair.CollapseBlankRuns(text)
	return strings.TrimSpace(text) + "\n"
}

// ErrorCodeSetsBySection 按出现顺序提取所有「错误码」章节各自的错误码集合
func ErrorCodeSetsBySection(text string) []map[string]struct{} {
	type section struct {
		heading string
		body    []string
	}
	var sections []section
	current := section{}

	for _, line := range strings.Split(text, "\n") {
		if headingLineRe.MatchString(line) {
			if len(current.body) > 0 {
				sections = append(sections, current)
			}
			heading := strings.TrimSpace(headingLineRe.ReplaceAllString(line, ""))
			current = section{heading: textrepair.StripHeadingAttrs(heading), body: []string{line}}
		} else {
			current.body = append(current.body, line)
		}
	}
	if len(current.body) > 0 {
		sections = append(sections, current)
	}

	var sets []map[string]struct{}
	for _, s := range sections {
		plain := strings.TrimSpace(headingNumberRe.ReplaceAllString(s.heading, ""))
		if strings.Contains(plain, "错误码") {
			sets = append(sets, textrepair.ExtractErrorCodes(strings.Join(s.body, "\n")))
		}
	}
	return sets
}

// ValidateFinal 整篇硬校验，返回全部问题（空切片表示通过）：
// 标题多重集完整性、一级标题唯一、错误码章节不扩写、JSON 块可解析。
func ValidateFinal(rawMD, finalMD string, expectedHeadings []string, maxItems int) []string {
	var issues []string

	if len(expectedHeadings) > 0 {
		expected := map[string]int{}
		for _, h := range expectedHeadings {
			expected[structure.NormalizeHeading(h)]++
		}
		actual := map[string]int{}
		for _, ref := range textrepair.ScanNumberedHeadings(finalMD) {
			actual[structure.NormalizeHeading(ref.ID+" "+ref.Title)]++
		}

		var missing, extras []string
		for h, count := range expected {
			for i := 0; i < count-actual[h]; i++ {
				missing = append(missing, h)
			}
		}
		for h, count := range actual {
			for i := 0; i < count-expected[h]; i++ {
				extras = append(extras, h)
			}
		}
		sort.Strings(missing)
		sort.Strings(extras)
		if len(missing) > 0 {
			issues = append(issues, fmt.Sprintf("缺失标题 %d 个，例如: %s",
				len(missing), strings.Join(bounded(missing, maxItems), ", ")))
		}
		if len(extras) > 0 {
			issues = append(issues, fmt.Sprintf("新增/重复标题 %d 个，例如: %s",
				len(extras), strings.Join(bounded(extras, maxItems), ", ")))
		}
	}

	if n := len(h1Re.FindAllString(textrepair.RemoveFencedBlocks(finalMD), -1)); n > 1 {
		issues = append(issues, fmt.Sprintf("文档一级标题重复: %d 个", n))
	}

	rawSets := ErrorCodeSetsBySection(rawMD)
	finalSets := ErrorCodeSetsBySection(finalMD)
	for idx, finalCodes := range finalSets {
		if idx >= len(rawSets) {
			if len(finalCodes) > 0 {
				issues = append(issues, fmt.Sprintf("错误码章节数量超出原文（第 %d 节），新增编码: %s",
					idx+1, strings.Join(bounded(sortedCodes(finalCodes), maxItems), ", ")))
			}
			continue
		}
		rawCodes := rawSets[idx]
		if len(rawCodes) == 0 || len(finalCodes) == 0 {
			continue
		}
		var foreign []string
		for code := range finalCodes {
			if _, ok := rawCodes[code]; !ok {
				foreign = append(foreign, code)
			}
		}
		if len(foreign) > 0 {
			sort.Strings(foreign)
			issues = append(issues, fmt.Sprintf("错误码章节第 %d 节存在原文未出现编码: %s",
				idx+1, strings.Join(bounded(foreign, maxItems), ", ")))
		}
	}

	var invalid []string
	for i, block := range textrepair.ExtractJSONBlocks(finalMD) {
		if _, _, err := jsonrepair.Normalize(block); err != nil {
			invalid = append(invalid, fmt.Sprintf("%d", i+1))
		}
	}
	if len(invalid) > 0 {
		issues = append(issues, fmt.Sprintf("JSON 代码块格式错误: 第 %s 个",
			strings.Join(bounded(invalid, maxItems), ", ")))
	}
	return issues
}

func bounded(items []string, max int) []string {
	if len(items) > max {
		return items[:max]
	}
	return items
}

func sortedCodes(set map[string]struct{}) []string {
	codes := make([]string, 0, len(set))
	for c := range set {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
