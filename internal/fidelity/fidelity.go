// Package fidelity 实现内容保真度检查：
// 通过词元覆盖率与字符长度比两个启发式指标，发现转换输出悄悄丢弃原文内容的情况。
// 这是一个可调参的闸门，不是正确性证明。
package fidelity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Thresholds 保真度闸门的阈值
type Thresholds struct {
	MinTokenCoverage float64 // 词元覆盖率下限
	MinCharRatio     float64 // 归一化字符长度比下限
	MinTokens        int     // 启用覆盖率检查所需的最小去重词元数
	MaxReportItems   int     // 失败原因里列举缺失词元的上限
}

// DefaultThresholds 缺省阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTokenCoverage: 0.82,
		MinCharRatio:     0.62,
		MinTokens:        20,
		MaxReportItems:   5,
	}
}

// 字符长度比检查只对足够长的原文生效
const minSourceChars = 120

var (
	headingMarkerRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletRe        = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	imageRe         = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe          = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	emphasisRe      = regexp.MustCompile(`[*_]{1,3}`)
	pipeRe          = regexp.MustCompile(`\|`)
	spaceRe         = regexp.MustCompile(`\s+`)

	cjkRunRe    = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{2,}`)
	identRunRe  = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_]*`)
	numberRunRe = regexp.MustCompile(`\d{2,}`)
)

// normalizePlain 去掉 Markdown 装饰，得到可比较的纯文本
func normalizePlain(text string) string {
	s := headingMarkerRe.ReplaceAllString(text, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = imageRe.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1")
	s = emphasisRe.ReplaceAllString(s, "")
	s = pipeRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// contentTokens 提取内容词元：长度 ≥2 的 CJK 连续串、标识符串、长度 ≥2 的数字串
func contentTokens(plain string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, m := range cjkRunRe.FindAllString(plain, -1) {
		tokens[m] = struct{}{}
	}
	for _, m := range identRunRe.FindAllString(plain, -1) {
		tokens[m] = struct{}{}
	}
	for _, m := range numberRunRe.FindAllString(plain, -1) {
		tokens[m] = struct{}{}
	}
	return tokens
}

// Check 比较原文与候选输出，判定内容是否被充分保留。
// 覆盖率按子串存在性计：原文词元只要在候选纯文本的任意位置
// 出现即算覆盖，不要求词边界，也不关心出现次数和顺序。
// 通过时返回 (true, "")；不通过时返回 (false, 带缺失词元样例的原因)。
func Check(source, candidate string, th Thresholds) (bool, string) {
	srcPlain := normalizePlain(source)
	candPlain := normalizePlain(candidate)

	srcTokens := contentTokens(srcPlain)
	if len(srcTokens) >= th.MinTokens {
		var missing []string
		for tok := range srcTokens {
			if !strings.Contains(candPlain, tok) {
				missing = append(missing, tok)
			}
		}
		coverage := 1.0 - float64(len(missing))/float64(len(srcTokens))
		if coverage < th.MinTokenCoverage {
			sort.Strings(missing)
			sample := missing
			if len(sample) > th.MaxReportItems {
				sample = sample[:th.MaxReportItems]
			}
			return false, fmt.Sprintf(
				"内容词元覆盖率 %.2f 低于阈值 %.2f，缺失示例: %s",
				coverage, th.MinTokenCoverage, strings.Join(sample, ", "))
		}
	}

	if len([]rune(srcPlain)) >= minSourceChars {
		ratio := float64(len([]rune(candPlain))) / float64(len([]rune(srcPlain)))
		if ratio < th.MinCharRatio {
			return false, fmt.Sprintf(
				"归一化文本长度比 %.2f 低于阈值 %.2f，疑似丢失正文", ratio, th.MinCharRatio)
		}
	}

	return true, ""
}
