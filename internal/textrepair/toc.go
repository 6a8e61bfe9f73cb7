package textrepair

import (
	"regexp"
	"strings"
)

// 目录里的链接列表项，如 "- [2.1 查询接口](#21-查询接口)"
var tocItemRe = regexp.MustCompile(`^\s*[-*]\s+\[.+\]\(#.*\)\s*$`)

// 锚点 slug 中保留的字符以外的部分（字母数字、下划线、CJK、空白、连字符以外全部去除）
var anchorStripRe = regexp.MustCompile(`[^\w\x{4e00}-\x{9fff}\s-]`)

// AnchorSlug 由标题文本生成锚点：小写、去标点、空格转连字符
func AnchorSlug(title string) string {
	s := anchorStripRe.ReplaceAllString(strings.ToLower(title), "")
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "-")
}

// SimpleTOC 从文档标题集生成确定性目录（跳过一级标题与目录标题自身）
func SimpleTOC(markdown string) string {
	var items []string
	inFence := false

	for _, line := range strings.Split(markdown, "\n") {
		if isFenceLine(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil || len(m[1]) < 2 {
			continue
		}
		title := StripHeadingAttrs(strings.TrimSpace(m[2]))
		if title == "目录" {
			continue
		}
		indent := strings.Repeat("  ", len(m[1])-2)
		items = append(items, indent+"- ["+title+"](#"+AnchorSlug(title)+")")
	}
	return strings.Join(items, "\n")
}

// RemoveTOC 删除既有目录块：标题"目录"及其后的链接列表项，含紧邻空行
func RemoveTOC(markdown string) string {
	lines := strings.Split(markdown, "\n")
	var kept []string
	inFence := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if isFenceLine(line) {
			inFence = !inFence
			kept = append(kept, line)
			continue
		}
		if inFence {
			kept = append(kept, line)
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil || StripHeadingAttrs(strings.TrimSpace(m[2])) != "目录" {
			kept = append(kept, line)
			continue
		}
		// 吞掉目录标题后的空行与链接列表
		j := i + 1
		for j < len(lines) {
			trimmed := strings.TrimSpace(lines[j])
			if trimmed == "" || tocItemRe.MatchString(lines[j]) {
				j++
				continue
			}
			break
		}
		i = j - 1
	}
	return strings.Join(kept, "\n")
}

// InsertTOC 把目录插入在文档一级标题之后、正文第一个二级及以下标题之前。
// 插入点前已有 --- 分隔线时不再重复生成。
func InsertTOC(markdown, toc string) string {
	lines := strings.Split(markdown, "\n")

	titlePos := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "# ") && !strings.HasPrefix(line, "## ") {
			titlePos = i
			break
		}
	}
	if titlePos < 0 {
		titlePos = 0
	}

	insertPos := titlePos + 1
	subHeadingRe := regexp.MustCompile(`^#{2,6}\s+`)
	for i := titlePos + 1; i < len(lines); i++ {
		if subHeadingRe.MatchString(lines[i]) {
			insertPos = i
			break
		}
	}

	checkPos := insertPos - 1
	for checkPos >= 0 && strings.TrimSpace(lines[checkPos]) == "" {
		checkPos--
	}
	hasSeparator := checkPos >= 0 && strings.TrimSpace(lines[checkPos]) == "---"

	var block string
	if hasSeparator {
		block = "\n## 目录\n\n" + toc + "\n\n---\n"
	} else {
		block = "\n---\n\n## 目录\n\n" + toc + "\n\n---\n"
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insertPos]...)
	out = append(out, block)
	out = append(out, lines[insertPos:]...)
	return strings.Join(out, "\n")
}
