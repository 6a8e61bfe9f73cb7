// Package structure 从原始提取文本推导文档结构：
// 优先从检测到的目录区做规则化提取，规则提取一无所获时才回退到模型推测。
// 结构信息构建一次，之后只读。
package structure

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/doc2md/agent/internal/jsonrepair"
	"github.com/doc2md/agent/internal/textrepair"
)

// Section 文档中一个编号章节
type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Depth int    `json:"level"`
}

// DocumentStructure 文档结构描述，构建后只读
type DocumentStructure struct {
	Title          string         `json:"title"`
	DocType        string         `json:"doc_type"`
	HeadingMapping map[string]int `json:"-"` // 章节编号 → 标题深度
	HasTOC         bool           `json:"has_toc"`
	Sections       []Section      `json:"sections"`
}

// 目录行：形如 [1.2 章节标题 [5](#anchor)
var tocLineRe = regexp.MustCompile(`^\[(\d+(?:\.\d+)*\s+.+?)\s+\[\d+\]\(#`)

// 编号标题拆分
var sectionIDRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)\s+(.+)$`)

// 文档标题行：加粗且含"说明书"字样
var boldTitleRe = regexp.MustCompile(`^\*\*(.+?)\*\*$`)

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeHeading 标题比较键：去掉全部空白
func NormalizeHeading(heading string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(heading), "")
}

// SectionID 取编号标题的编号部分，如 "2.1 查询接口" → "2.1"
func SectionID(numberedHeading string) string {
	if m := sectionIDRe.FindStringSubmatch(strings.TrimSpace(numberedHeading)); m != nil {
		return m[1]
	}
	return ""
}

// ExtractExpectedHeadings 从正文开始前的目录区提取编号标题序列
func ExtractExpectedHeadings(rawMD string) []string {
	var headings []string
	for _, line := range strings.Split(rawMD, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "# ") {
			break
		}
		if m := tocLineRe.FindStringSubmatch(stripped); m != nil {
			headings = append(headings, strings.TrimSpace(m[1]))
		}
	}
	return headings
}

// BuildRuleBased 基于目录编号构建结构信息，不让模型自行猜测层级
func BuildRuleBased(rawMD string, expectedHeadings []string) *DocumentStructure {
	title := ""
	lines := strings.Split(rawMD, "\n")
	limit := 30
	if len(lines) < limit {
		limit = len(lines)
	}
	for _, line := range lines[:limit] {
		if m := boldTitleRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if strings.Contains(m[1], "说明书") {
				title = strings.TrimSpace(m[1])
				break
			}
		}
	}

	ds := &DocumentStructure{
		Title:          title,
		DocType:        "api_doc",
		HeadingMapping: make(map[string]int),
		HasTOC:         len(expectedHeadings) > 0,
	}
	for _, heading := range expectedHeadings {
		m := sectionIDRe.FindStringSubmatch(heading)
		if m == nil {
			continue
		}
		id := m[1]
		depth := textrepair.HeadingDepthForID(id)
		ds.HeadingMapping[id] = depth
		ds.Sections = append(ds.Sections, Section{
			ID:    id,
			Title: strings.TrimSpace(m[2]),
			Depth: depth,
		})
	}
	return ds
}

// ParseModelStructure 解析模型结构分析输出（规则提取失败时的回退路径）。
// 输出可能带围栏包裹或轻微损坏，先过 JSON 修复再反序列化。
func ParseModelStructure(modelOutput string) (*DocumentStructure, error) {
	text := textrepair.StripOuterFence(strings.TrimSpace(modelOutput))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	normalized, _, err := jsonrepair.Normalize(text)
	if err != nil {
		return nil, err
	}

	var ds DocumentStructure
	if err := json.Unmarshal([]byte(normalized), &ds); err != nil {
		return nil, err
	}
	if ds.DocType == "" {
		ds.DocType = "api_doc"
	}
	ds.HeadingMapping = make(map[string]int, len(ds.Sections))
	for i, sec := range ds.Sections {
		if sec.Depth <= 0 {
			ds.Sections[i].Depth = textrepair.HeadingDepthForID(sec.ID)
		}
		ds.HeadingMapping[sec.ID] = ds.Sections[i].Depth
	}
	return &ds, nil
}

// 正文起点探测：目录区之后第一个真正的标题
var contentStartRes = []*regexp.Regexp{
	regexp.MustCompile(`\n# .+\{#`), // pandoc 带锚点标题
	regexp.MustCompile(`\n# \d+`),   // 数字编号标题
	regexp.MustCompile(`\n# 引言`),
	regexp.MustCompile(`\n# Introduction`),
}

// FindContentStart 找到正文开始的字节偏移（跳过目录区域），找不到时返回 0
func FindContentStart(rawMD string) int {
	for _, re := range contentStartRes {
		if loc := re.FindStringIndex(rawMD); loc != nil {
			return loc[0]
		}
	}
	return 0
}
