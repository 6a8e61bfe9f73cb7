package textrepair

import (
	"regexp"
	"strings"
)

// 裸编号行，如 "2.1 查询接口"（尚未带 # 标记）
var bareHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[ \t　]+(\S.*)$`)

// 句末终止标点，命中则视为普通句子而非标题
var terminalPunctRe = regexp.MustCompile(`[。．.!！?？]$`)

// PromoteBareHeadings 把围栏与表格之外的裸编号行提升为标题，
// 深度由编号路径决定。守卫条件：有序列表项、句末带终止标点的长句、
// 首段 3 位以上的纯数字编号（多为 ID 而非章节号）均不提升。
func PromoteBareHeadings(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false

	for i, line := range lines {
		if isFenceLine(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "|") || strings.HasPrefix(trimmed, "+") {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		m := bareHeadingRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		id, title := m[1], strings.TrimSpace(m[2])

		firstSeg := id
		if dot := strings.Index(id, "."); dot >= 0 {
			firstSeg = id[:dot]
		}
		if len(firstSeg) >= 3 {
			continue
		}
		if terminalPunctRe.MatchString(title) {
			continue
		}

		depth := HeadingDepthForID(id)
		lines[i] = strings.Repeat("#", depth) + " " + id + " " + title
	}
	return strings.Join(lines, "\n")
}

// NormalizeHeadingDepths 把每条编号标题的 # 深度改写为编号路径蕴含的深度
func NormalizeHeadingDepths(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false

	for i, line := range lines {
		if isFenceLine(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := numberedHeadingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		depth := HeadingDepthForID(m[2])
		if len(m[1]) != depth {
			lines[i] = strings.Repeat("#", depth) + " " + m[2] + " " + m[3]
		}
	}
	return strings.Join(lines, "\n")
}

// StripHeadingsOutsideCode 删除围栏外的所有标题行，返回删除数量。
// 用于续写分片的自动修复：续写分片不允许输出任何标题。
func StripHeadingsOutsideCode(text string) (string, int) {
	lines := strings.Split(text, "\n")
	var kept []string
	inFence := false
	removed := 0

	for _, line := range lines {
		if isFenceLine(line) {
			inFence = !inFence
			kept = append(kept, line)
			continue
		}
		if !inFence && headingRe.MatchString(line) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), removed
}

// ForceFirstHeading 把文本中第一条标题行改写为指定深度与文本的标题；
// 文本没有标题时把它插到最前面。返回改写后的文本与是否发生了改写/插入。
func ForceFirstHeading(text, heading string, depth int) (string, bool) {
	want := strings.Repeat("#", depth) + " " + heading
	lines := strings.Split(text, "\n")
	inFence := false

	for i, line := range lines {
		if isFenceLine(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if headingRe.MatchString(line) {
			if strings.TrimSpace(line) == want {
				return text, false
			}
			lines[i] = want
			return strings.Join(lines, "\n"), true
		}
	}
	return want + "\n\n" + strings.TrimLeft(text, "\n"), true
}
